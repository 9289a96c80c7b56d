package courier_test

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

var (
	echoPath string
	ctlPath  string

	// tmpDir is a function used to create a tempdir
	// -test.keepdir flag says test to use os.MkdirTemp
	// default is t.TempDir, which will be cleaned up
	tmpDir func(t *testing.T) string
)

// TestMain expects binaries built by
//
//	go build -race -cover -covermode=atomic -o echo-ci ./cmd/echo/
//	go build -race -cover -covermode=atomic -o courierctl-ci ./cmd/courierctl/
func TestMain(m *testing.M) {
	var keepTestDir bool
	flag.BoolVar(&keepTestDir, "test.keepdir", false, "use os.TempDir instead of t.TempDir to keep test artifacts")

	flag.Parse()

	if testing.Short() {
		slog.Warn("integration tests with -short are ignored")
		os.Exit(0)
	}

	if !keepTestDir {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			return t.TempDir()
		}
	} else {
		tmpDir = func(t *testing.T) string {
			t.Helper()
			dir, err := os.MkdirTemp("", t.Name()+"*")
			require.NoError(t, err)
			_, err = fmt.Fprintf(t.Output(), "TEMPDIR %s: -test.keepdir used, so it won't be automatically deleted", dir)
			require.NoError(t, err)
			return dir
		}
	}

	for _, bin := range []struct {
		name string
		path *string
	}{
		{"echo-ci", &echoPath},
		{"courierctl-ci", &ctlPath},
	} {
		if !isExecutable(bin.name) {
			slog.Warn("binary not built: integration tests are ignored", "binary", bin.name)
			os.Exit(0)
		}
		var err error
		*bin.path, err = filepath.Abs(bin.name)
		if err != nil {
			slog.Error("can't get abspath", "binary", bin.name, "error", err)
			os.Exit(1)
		}
	}

	coverDir, err := filepath.Abs("coverage")
	if err != nil {
		slog.Error("can't get value for GOCOVERDIR", "error", err)
		os.Exit(1)
	}
	err = rmRfMkdirp(coverDir)
	if err != nil {
		slog.Error("can't reset GOCOVERDIR", "error", err, "coverdir", coverDir)
		os.Exit(1)
	}
	err = os.Setenv("GOCOVERDIR", coverDir)
	if err != nil {
		slog.Error("can't set GOCOVERDIR env variable", "error", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

func TestEchoHelp(t *testing.T) {
	for _, arg := range []string{"--help", "-?"} {
		var stdout bytes.Buffer
		cmd := exec.CommandContext(t.Context(), echoPath, arg)
		cmd.Stdout = &stdout
		require.NoError(t, cmd.Run())
		require.Contains(t, stdout.String(), "--host")
		require.Contains(t, stdout.String(), "--port")
	}
}

func TestEcho(t *testing.T) {
	dir := tmpDir(t)
	mr := miniredis.RunT(t)
	host, port, err := net.SplitHostPort(mr.Addr())
	require.NoError(t, err)

	config := fmt.Sprintf(`
version: 0
service:
  log_dir: %q
runtime:
  poll_timeout: "50ms"
`, dir)
	configPath := filepath.Join(dir, "echo.yaml")
	creat(t, configPath, []byte(config))

	ctx, cancel := context.WithTimeout(t.Context(), 60*time.Second)
	t.Cleanup(cancel)

	var stderr bytes.Buffer
	echo := exec.CommandContext(ctx, echoPath, "--config", configPath, "-h", host, "-p", port)
	echo.Stderr = &stderr
	require.NoError(t, echo.Start())
	done := make(chan error, 1)
	go func() {
		done <- echo.Wait()
	}()

	ctl := func(args ...string) (string, error) {
		var stdout bytes.Buffer
		cmd := exec.CommandContext(ctx, ctlPath, append([]string{"-h", host, "-p", port}, args...)...)
		cmd.Stdout = &stdout
		err := cmd.Run()
		return stdout.String(), err
	}

	require.Eventually(t, func() bool {
		out, err := ctl("names")
		return err == nil && strings.TrimSpace(out) == "echo"
	}, 10*time.Second, 100*time.Millisecond)

	t.Run("configuration", func(t *testing.T) {
		_, err := ctl("config", "set", "echo", "greeting", "ahoy")
		require.NoError(t, err)
		out, err := ctl("config", "get", "echo", "greeting")
		require.NoError(t, err)
		require.Equal(t, "ahoy\n", out)
		_, err = ctl("config", "get", "echo", "nothing")
		require.Error(t, err)
	})

	t.Run("greet", func(t *testing.T) {
		_, err := ctl("send", "--strict", "echo", "greet", "howdy")
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			v, err := mr.Get("echo/greeting")
			return err == nil && v == "howdy"
		}, 5*time.Second, 50*time.Millisecond)
	})

	_, err = ctl("send", "--strict", "echo", "shutdown", "test over")
	require.NoError(t, err)
	select {
	case err := <-done:
		if err != nil {
			t.Logf("%s", stderr.String())
		}
		require.NoError(t, err)
	case <-ctx.Done():
		t.Fatalf("echo did not shut down: %s", stderr.String())
	}

	_, err = ctl("resolve", "echo")
	require.Error(t, err)
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

func rmRfMkdirp(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return nil
}

func creat(t *testing.T, path string, content []byte) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, f.Close())
	}()
	_, err = f.Write(content)
	require.NoError(t, err)
	err = f.Sync()
	require.NoError(t, err)
}
