package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/CZERTAINLY/Courier/internal/log"
	"github.com/CZERTAINLY/Courier/internal/model"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type launchConfig struct {
	flags  []func(*pflag.FlagSet)
	output io.Writer
	init   func(cmd *cobra.Command, cfg model.Config) error
	opts   []Option
}

type LaunchOption func(*launchConfig)

// WithFlags lets the service define its own flags. They are parsed before
// the factory is called.
func WithFlags(fn func(*pflag.FlagSet)) LaunchOption {
	return func(c *launchConfig) {
		c.flags = append(c.flags, fn)
	}
}

// WithOutput redirects usage and the config subcommand, stdout by default.
func WithOutput(w io.Writer) LaunchOption {
	return func(c *launchConfig) {
		c.output = w
	}
}

// WithInit runs fn once the configuration is resolved, before the first
// attempt.
func WithInit(fn func(cmd *cobra.Command, cfg model.Config) error) LaunchOption {
	return func(c *launchConfig) {
		c.init = fn
	}
}

// WithRuntimeOptions are applied to every runtime on top of the config.
func WithRuntimeOptions(opts ...Option) LaunchOption {
	return func(c *launchConfig) {
		c.opts = append(c.opts, opts...)
	}
}

// Launch is the main function of a service binary. It parses args, resolves
// the startup configuration and supervises the service until ctx is
// cancelled or the service shuts down. --help prints usage and returns nil
// without touching the backend.
func Launch(ctx context.Context, args []string, factory Factory, opts ...LaunchOption) error {
	cmd, err := NewCommand(factory, opts...)
	if err != nil {
		return err
	}
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// NewCommand builds the cobra command behind Launch.
func NewCommand(factory Factory, opts ...LaunchOption) (*cobra.Command, error) {
	if factory == nil {
		return nil, errors.New("service factory is nil")
	}
	lc := launchConfig{output: os.Stdout}
	for _, opt := range opts {
		opt(&lc)
	}
	prototype := factory()
	if prototype == nil {
		return nil, errors.New("service factory returned nil")
	}
	name := prototype.Name()
	defaults := model.DefaultConfig()

	var (
		configPath string
		config     model.Config
	)

	root := &cobra.Command{
		Use:          name,
		Short:        fmt.Sprintf("%s service", name),
		SilenceUsage: true,
		// never print messages
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.SetOut(lc.output)
	root.SetErr(lc.output)

	pf := root.PersistentFlags()
	pf.BoolP("help", "?", false, "show help message")
	pf.StringP("host", "h", defaults.Backend.Host, "ip address of the Redis backend")
	pf.IntP("port", "p", defaults.Backend.Port, "port of the Redis backend")
	pf.StringVar(&configPath, "config", "", "config file to load, $"+ConfigEnv+" when empty")
	pf.Bool("verbose", false, "verbose logging")
	for _, fn := range lc.flags {
		fn(root.Flags())
	}

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		var (
			path string
			err  error
		)
		config, path, err = LoadConfig(configPath, cmd.Flags())
		if err != nil {
			for _, d := range model.ConfigErrors(err) {
				slog.Error(d)
			}
			return err
		}

		slog.SetDefault(log.New(config.Service.Verbose))
		slog.DebugContext(cmd.Context(), "config loaded", "path", path, "config", config)
		if lc.init != nil {
			return lc.init(cmd, config)
		}
		return nil
	}

	root.RunE = func(cmd *cobra.Command, _ []string) error {
		ctx := log.ContextAttrs(cmd.Context(), slog.Group("courier",
			slog.Int("pid", os.Getpid()),
		))
		supervisor, err := NewSupervisor(factory, config)
		if err != nil {
			return err
		}
		return supervisor.WithOptions(lc.opts...).Run(ctx)
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "print the effective startup configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return config.WriteYAML(cmd.OutOrStdout())
		},
	}
	root.AddCommand(configCmd)
	return root, nil
}
