// Command courierctl talks to courier services over the shared Redis backend.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/CZERTAINLY/Courier/internal/channel"
	"github.com/CZERTAINLY/Courier/internal/configuration"
	"github.com/CZERTAINLY/Courier/internal/log"
	"github.com/CZERTAINLY/Courier/internal/presence"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

var (
	flagHost    string // value of --host flag
	flagPort    int    // value of --port flag
	flagVerbose bool   // value of --verbose flag
	flagStrict  bool   // value of --strict flag
	flagNoColor bool   // value of --no-color flag

	rdb *redis.Client
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pf := rootCmd.PersistentFlags()
	pf.BoolP("help", "?", false, "show help message")
	pf.StringVarP(&flagHost, "host", "h", "127.0.0.1", "ip address of the Redis backend")
	pf.IntVarP(&flagPort, "port", "p", 6379, "port of the Redis backend")
	pf.BoolVar(&flagVerbose, "verbose", false, "verbose logging")
	logsCmd.Flags().BoolVar(&flagNoColor, "no-color", false, "print log records without colors")
	sendCmd.Flags().BoolVar(&flagStrict, "strict", false, "fail when no service received the command")

	rootCmd.PersistentPreRunE = connect
	rootCmd.PersistentPostRunE = disconnect

	configCmd.AddCommand(configGetCmd, configSetCmd, configLoadCmd, configSaveCmd)
	rootCmd.AddCommand(sendCmd, publishCmd, namesCmd, resolveCmd, logsCmd, configCmd)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("courierctl failed", "err", err)
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "courierctl",
	Short:         "Control tool of courier services",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <service> <command> [content]",
	Short: "send a command to a service",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var content string
		if len(args) == 3 {
			content = args[2]
		}
		n, err := rdb.Publish(cmd.Context(), channel.Command(args[0], args[1]), content).Result()
		if err != nil {
			return err
		}
		if n == 0 && flagStrict {
			return fmt.Errorf("service %s did not receive the command", args[0])
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
		return err
	},
}

var publishCmd = &cobra.Command{
	Use:   "publish <topic> <payload>",
	Short: "publish a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := rdb.Publish(cmd.Context(), args[0], args[1]).Result()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
		return err
	},
}

var namesCmd = &cobra.Command{
	Use:   "names",
	Short: "list the names of running services",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		names, err := presence.NewRegistry(rdb, 0).Enumerate(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range names {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), name); err != nil {
				return err
			}
		}
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <name>",
	Short: "print the address registered by a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		names := presence.NewRegistry(rdb, 0)
		ok, err := names.Exists(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("service %s is not running", args[0])
		}
		address, err := names.Resolve(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), address)
		return err
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "print log records of all services until interrupted",
	Long: `logs subscribes the log bus. While it runs, newly started services see
a log service and publish their records instead of writing local files.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		sub := rdb.Subscribe(ctx, channel.LogRecord)
		defer func() {
			_ = sub.Close()
		}()
		if _, err := sub.Receive(ctx); err != nil {
			return fmt.Errorf("subscribing %s: %w", channel.LogRecord, err)
		}
		color := useColor()
		for {
			msg, err := sub.ReceiveMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			line := msg.Payload
			if color {
				line = colorize(line)
			}
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), line); err != nil {
				return err
			}
		}
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "read and write configuration items of a unit",
}

var configGetCmd = &cobra.Command{
	Use:   "get <unit> <item>",
	Short: "print a configuration item",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		value, ok, err := configuration.NewClient(args[0], rdb).Get(cmd.Context(), args[1])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("configuration %s/%s is not set", args[0], args[1])
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), value)
		return err
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <unit> <item> <value>",
	Short: "set a configuration item",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return configuration.NewClient(args[0], rdb).Set(cmd.Context(), args[1], args[2])
	},
}

var configLoadCmd = &cobra.Command{
	Use:   "load <unit>",
	Short: "ask the configuration service to load a unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return configuration.NewClient(args[0], rdb).Reload(cmd.Context())
	},
}

var configSaveCmd = &cobra.Command{
	Use:   "save <unit>",
	Short: "ask the configuration service to save a unit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return configuration.NewClient(args[0], rdb).Apply(cmd.Context())
	},
}

func connect(cmd *cobra.Command, _ []string) error {
	slog.SetDefault(log.New(flagVerbose))

	addr := net.JoinHostPort(flagHost, strconv.Itoa(flagPort))
	rdb = redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(cmd.Context()).Err(); err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}
	slog.DebugContext(cmd.Context(), "connected", "backend", addr)
	return nil
}

func disconnect(*cobra.Command, []string) error {
	if rdb == nil {
		return nil
	}
	return rdb.Close()
}
