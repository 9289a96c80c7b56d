// Command echo runs the echo example service.
//
//	echo --host 127.0.0.1 --port 6379
//	echo config > echo.yaml
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/CZERTAINLY/Courier/internal/echo"
	"github.com/CZERTAINLY/Courier/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := service.Launch(ctx, os.Args[1:], echo.New); err != nil {
		slog.Error("echo failed", "err", err)
		stop()
		os.Exit(1)
	}
}
