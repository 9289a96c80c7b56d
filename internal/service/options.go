package service

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/CZERTAINLY/Courier/internal/model"
	"github.com/CZERTAINLY/Courier/internal/presence"
)

// Options tune a Runtime and the Supervisor hosting it.
type Options struct {
	Address           string // value of the presence record
	PresenceTTL       time.Duration
	HeartbeatInterval time.Duration
	PollTimeout       time.Duration
	RestartDelay      time.Duration
	TickInterval      time.Duration
	Parallelism       int
	Verbose           bool
	LogDir            string
	Console           io.Writer
	InstanceID        string // generated when empty
}

func DefaultOptions() Options {
	return Options{
		PresenceTTL:       presence.DefaultTTL,
		HeartbeatInterval: time.Second,
		PollTimeout:       250 * time.Millisecond,
		RestartDelay:      time.Second,
		TickInterval:      10 * time.Millisecond,
		Parallelism:       8,
	}
}

type Option func(*Options)

// WithOptions replaces all options at once.
func WithOptions(o Options) Option {
	return func(opts *Options) {
		*opts = o
	}
}

func WithAddress(address string) Option {
	return func(o *Options) {
		o.Address = address
	}
}

func WithPresenceTTL(d time.Duration) Option {
	return func(o *Options) {
		o.PresenceTTL = d
	}
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(o *Options) {
		o.HeartbeatInterval = d
	}
}

func WithPollTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.PollTimeout = d
	}
}

func WithParallelism(n int) Option {
	return func(o *Options) {
		o.Parallelism = n
	}
}

func WithLogDir(dir string) Option {
	return func(o *Options) {
		o.LogDir = dir
	}
}

// WithConsole echoes every runtime log record to w.
func WithConsole(w io.Writer) Option {
	return func(o *Options) {
		o.Console = w
	}
}

func WithVerbose(verbose bool) Option {
	return func(o *Options) {
		o.Verbose = verbose
	}
}

func WithInstanceID(id string) Option {
	return func(o *Options) {
		o.InstanceID = id
	}
}

// OptionsFromConfig converts the startup configuration. Durations were
// already checked against the schema, but the config may be built by hand.
func OptionsFromConfig(cfg model.Config) (Options, error) {
	opts := DefaultOptions()
	opts.Address = cfg.Service.Address
	opts.Verbose = cfg.Service.Verbose
	opts.LogDir = cfg.Service.LogDir
	if cfg.Service.Console {
		opts.Console = os.Stderr
	}
	if cfg.Runtime.Parallelism > 0 {
		opts.Parallelism = cfg.Runtime.Parallelism
	}

	durations := []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"runtime.presence_ttl", cfg.Runtime.PresenceTTL, &opts.PresenceTTL},
		{"runtime.heartbeat_interval", cfg.Runtime.HeartbeatInterval, &opts.HeartbeatInterval},
		{"runtime.poll_timeout", cfg.Runtime.PollTimeout, &opts.PollTimeout},
		{"runtime.restart_delay", cfg.Runtime.RestartDelay, &opts.RestartDelay},
		{"runtime.tick_interval", cfg.Runtime.TickInterval, &opts.TickInterval},
	}
	for _, d := range durations {
		if d.value == "" {
			continue
		}
		v, err := time.ParseDuration(d.value)
		if err != nil {
			return Options{}, fmt.Errorf("parsing %s: %w", d.name, err)
		}
		if v < 0 {
			return Options{}, fmt.Errorf("parsing %s: negative duration %s", d.name, d.value)
		}
		*d.dst = v
	}
	// a refresh is due at most one poll after the heartbeat interval
	if opts.HeartbeatInterval+opts.PollTimeout >= opts.PresenceTTL {
		return Options{}, fmt.Errorf("runtime.heartbeat_interval %s plus runtime.poll_timeout %s must stay below runtime.presence_ttl %s",
			opts.HeartbeatInterval, opts.PollTimeout, opts.PresenceTTL)
	}
	return opts, nil
}
