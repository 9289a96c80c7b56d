package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CZERTAINLY/Courier/internal/channel"
	"github.com/CZERTAINLY/Courier/internal/configuration"
	"github.com/CZERTAINLY/Courier/internal/dispatch"
	"github.com/CZERTAINLY/Courier/internal/log"
	"github.com/CZERTAINLY/Courier/internal/presence"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrAlreadyConnected = errors.New("runtime already connected")
	ErrNotConnected     = errors.New("runtime not connected")
	ErrAlreadyInstalled = errors.New("runtime already installed")
	ErrNotInstalled     = errors.New("runtime not installed")
	ErrUninstalled      = errors.New("runtime uninstalled")
	ErrClosed           = errors.New("runtime closed")
)

type State int32

const (
	StateCreated State = iota
	StateConnected
	StateInstalled
	StateRunning
	StatePaused
	StateUninstalled
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConnected:
		return "connected"
	case StateInstalled:
		return "installed"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateUninstalled:
		return "uninstalled"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Runtime hosts one Service on the backend. Connect, Install, Tick,
// Uninstall and Close are meant to be called from one goroutine; the
// messaging helpers and accessors are safe from any goroutine including
// handlers.
type Runtime struct {
	svc      Service
	name     string
	opts     Options
	instance string

	mx    sync.Mutex // serializes lifecycle transitions
	state atomic.Int32

	enabled atomic.Bool
	alive   atomic.Bool

	rdb          *redis.Client
	sub          *redis.PubSub
	sink         *log.Sink
	logger       *slog.Logger
	names        *presence.Registry
	table        *dispatch.Table
	configurator *configuration.Client

	cancel context.CancelFunc
	done   chan struct{}
	fatal  chan error
	closed bool
}

func New(svc Service, opts ...Option) *Runtime {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.InstanceID == "" {
		o.InstanceID = uuid.NewString()
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultOptions().PollTimeout
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultOptions().HeartbeatInterval
	}
	return &Runtime{
		svc:      svc,
		name:     svc.Name(),
		opts:     o,
		instance: o.InstanceID,
		logger:   slog.Default(),
		fatal:    make(chan error, 1),
	}
}

func (r *Runtime) Name() string {
	return r.name
}

func (r *Runtime) InstanceID() string {
	return r.instance
}

func (r *Runtime) State() State {
	s := State(r.state.Load())
	if s == StateRunning && !r.enabled.Load() {
		return StatePaused
	}
	return s
}

// Enabled reports whether the service processes updates.
func (r *Runtime) Enabled() bool {
	return r.enabled.Load()
}

// Logger returns the logger writing to the log bus, or the process logger
// before Connect.
func (r *Runtime) Logger() *slog.Logger {
	return r.logger
}

func (r *Runtime) Names() *presence.Registry {
	return r.names
}

func (r *Runtime) Configurator() *configuration.Client {
	return r.configurator
}

// Client returns the backend client, nil before Connect.
func (r *Runtime) Client() *redis.Client {
	return r.rdb
}

// Connect opens the backend connection, registers the presence record of
// the service and subscribes its command channels.
func (r *Runtime) Connect(ctx context.Context, addr string) error {
	r.mx.Lock()
	if r.closed {
		r.mx.Unlock()
		return ErrClosed
	}
	switch State(r.state.Load()) {
	case StateCreated:
	case StateUninstalled:
		r.mx.Unlock()
		return ErrUninstalled
	default:
		r.mx.Unlock()
		return ErrAlreadyConnected
	}
	if err := r.connect(ctx, addr); err != nil {
		r.mx.Unlock()
		return err
	}
	r.state.Store(int32(StateConnected))
	r.mx.Unlock()

	r.logger.Log(ctx, log.LevelMilestone, "service connected", "backend", addr)
	if c, ok := r.svc.(Connector); ok {
		if err := c.OnConnect(ctx, r); err != nil {
			return fmt.Errorf("connect hook: %w", err)
		}
	}
	return nil
}

func (r *Runtime) connect(ctx context.Context, addr string) (err error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	defer func() {
		if err != nil {
			_ = rdb.Close()
		}
	}()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("connecting to %s: %w", addr, err)
	}

	names := presence.NewRegistry(rdb, r.opts.PresenceTTL)
	if err := names.Register(ctx, r.name, r.opts.Address); err != nil {
		return err
	}

	sub := rdb.Subscribe(ctx)
	if err := sub.PSubscribe(ctx, channel.CommandPattern(r.name)); err != nil {
		_ = sub.Close()
		return fmt.Errorf("subscribing commands of %s: %w", r.name, err)
	}

	sink := log.NewSink(ctx, r.name, rdb, log.SinkOptions{
		Dir:     r.opts.LogDir,
		Console: r.opts.Console,
	})
	r.logger = slog.New(log.NewContextHandler(log.NewSinkHandler(sink, log.Level(r.opts.Verbose))))

	r.rdb = rdb
	r.sub = sub
	r.sink = sink
	r.names = names
	r.table = dispatch.NewTable(r.logger, r.opts.Parallelism)
	r.configurator = configuration.NewClient(r.name, rdb)
	r.addBuiltins()
	return nil
}

// Install enables the service, runs its install hook and starts the
// background consumer.
func (r *Runtime) Install(ctx context.Context) error {
	r.mx.Lock()
	switch State(r.state.Load()) {
	case StateConnected:
	case StateCreated:
		r.mx.Unlock()
		return ErrNotConnected
	case StateUninstalled:
		r.mx.Unlock()
		return ErrUninstalled
	default:
		r.mx.Unlock()
		return ErrAlreadyInstalled
	}
	r.state.Store(int32(StateInstalled))
	r.mx.Unlock()

	r.table.ClearCommands()
	r.addBuiltins()
	r.enabled.Store(true)
	r.alive.Store(true)

	if i, ok := r.svc.(Installer); ok {
		if err := i.OnInstall(ctx, r); err != nil {
			return fmt.Errorf("install hook: %w", err)
		}
	}

	r.mx.Lock()
	defer r.mx.Unlock()
	if State(r.state.Load()) != StateInstalled {
		return ErrUninstalled
	}
	// only Uninstall and Close stop the consumer
	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.consume(cctx, r.done)
	r.state.Store(int32(StateRunning))

	r.logger.Log(ctx, log.LevelMilestone, "service installed")
	return nil
}

// Tick runs one update of the service. It returns false once a shutdown was
// requested. An error means the runtime can't continue.
func (r *Runtime) Tick(ctx context.Context) (bool, error) {
	switch State(r.state.Load()) {
	case StateRunning:
	case StateUninstalled:
		return false, ErrUninstalled
	default:
		return false, ErrNotInstalled
	}

	select {
	case err := <-r.fatal:
		return false, err
	default:
	}

	if r.enabled.Load() {
		if u, ok := r.svc.(Updater); ok {
			if err := u.OnUpdate(ctx, r); err != nil {
				return false, fmt.Errorf("update hook: %w", err)
			}
		}
	}
	return r.alive.Load(), nil
}

// Pause stops updates. Commands and messages are still processed and the
// presence record is still refreshed.
func (r *Runtime) Pause(ctx context.Context) error {
	if !r.enabled.CompareAndSwap(true, false) {
		return nil
	}
	r.logger.Log(ctx, log.LevelMilestone, "service paused")
	if p, ok := r.svc.(Pauser); ok {
		if err := p.OnPause(ctx, r); err != nil {
			return fmt.Errorf("pause hook: %w", err)
		}
	}
	return nil
}

func (r *Runtime) Resume(ctx context.Context) error {
	if !r.enabled.CompareAndSwap(false, true) {
		return nil
	}
	r.logger.Log(ctx, log.LevelMilestone, "service resumed")
	if p, ok := r.svc.(Resumer); ok {
		if err := p.OnResume(ctx, r); err != nil {
			return fmt.Errorf("resume hook: %w", err)
		}
	}
	return nil
}

// Uninstall stops the consumer, waits for it, releases the presence record
// of the service and runs the uninstall hook.
func (r *Runtime) Uninstall(ctx context.Context) error {
	r.mx.Lock()
	switch State(r.state.Load()) {
	case StateInstalled, StateRunning:
	case StateUninstalled:
		r.mx.Unlock()
		return ErrUninstalled
	default:
		r.mx.Unlock()
		return ErrNotInstalled
	}
	r.state.Store(int32(StateUninstalled))
	r.enabled.Store(false)
	r.stopConsumer()
	r.mx.Unlock()

	var errs []error
	if err := r.names.Unregister(ctx, r.name); err != nil {
		errs = append(errs, err)
	}
	if u, ok := r.svc.(Uninstaller); ok {
		if err := u.OnUninstall(ctx, r); err != nil {
			errs = append(errs, fmt.Errorf("uninstall hook: %w", err))
		}
	}
	r.logger.Log(ctx, log.LevelMilestone, "service uninstalled")
	return errors.Join(errs...)
}

// Close stops the consumer when still running and closes the connection.
// The presence record is left to expire. Close is safe to call in any state
// and more than once.
func (r *Runtime) Close() error {
	r.mx.Lock()
	defer r.mx.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.enabled.Store(false)
	r.stopConsumer()

	var errs []error
	if r.sub != nil {
		if err := r.sub.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing subscription: %w", err))
		}
	}
	if r.sink != nil {
		if err := r.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing log sink: %w", err))
		}
	}
	if r.rdb != nil {
		if err := r.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing backend client: %w", err))
		}
	}
	return errors.Join(errs...)
}

// stopConsumer must be called with r.mx held.
func (r *Runtime) stopConsumer() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
	r.cancel = nil
}

func (r *Runtime) addBuiltins() {
	r.table.AddCommand(channel.CommandPause, dispatch.HandlerFunc(func(ctx context.Context, reason string) error {
		r.logger.Log(ctx, log.LevelMilestone, "pause requested", "reason", reason)
		return r.Pause(ctx)
	}))
	r.table.AddCommand(channel.CommandResume, dispatch.HandlerFunc(func(ctx context.Context, reason string) error {
		r.logger.Log(ctx, log.LevelMilestone, "resume requested", "reason", reason)
		return r.Resume(ctx)
	}))
	r.table.AddCommand(channel.CommandShutdown, dispatch.HandlerFunc(func(ctx context.Context, reason string) error {
		r.logger.Log(ctx, log.LevelMilestone, "shutdown requested", "reason", reason)
		r.alive.Store(false)
		return nil
	}))
}

// AddCommand registers the handler of a command of this service, replacing
// a previous one. Install drops every command added before it except the
// built-in ones.
func (r *Runtime) AddCommand(name string, h dispatch.Handler) error {
	if r.table == nil {
		return ErrNotConnected
	}
	r.table.AddCommand(name, h)
	return nil
}

func (r *Runtime) RemoveCommand(name string) {
	if r.table != nil {
		r.table.RemoveCommand(name)
	}
}

// AddSubscription adds a handler of topic. The first handler of a topic
// subscribes it on the backend.
func (r *Runtime) AddSubscription(ctx context.Context, topic string, h dispatch.Handler) error {
	if r.table == nil {
		return ErrNotConnected
	}
	if !r.table.AddSubscription(topic, h) {
		return nil
	}
	if err := r.sub.Subscribe(ctx, topic); err != nil {
		r.table.RemoveSubscription(topic)
		return fmt.Errorf("subscribing %s: %w", topic, err)
	}
	return nil
}

// RemoveSubscription drops every handler of topic and unsubscribes it.
func (r *Runtime) RemoveSubscription(ctx context.Context, topic string) error {
	if r.table == nil {
		return ErrNotConnected
	}
	if !r.table.RemoveSubscription(topic) {
		return nil
	}
	if err := r.sub.Unsubscribe(ctx, topic); err != nil {
		return fmt.Errorf("unsubscribing %s: %w", topic, err)
	}
	return nil
}

// SendCommand sends command with content to the service named service.
// It returns the number of receivers, zero when the service is not running.
func (r *Runtime) SendCommand(ctx context.Context, service, command, content string) (int64, error) {
	return r.Publish(ctx, channel.Command(service, command), content)
}

func (r *Runtime) Publish(ctx context.Context, topic, payload string) (int64, error) {
	if r.rdb == nil {
		return 0, ErrNotConnected
	}
	n, err := r.rdb.Publish(ctx, topic, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return n, nil
}

// SetValue stores value under name. A zero ttl keeps it forever.
func (r *Runtime) SetValue(ctx context.Context, name string, value any, ttl time.Duration) error {
	if r.rdb == nil {
		return ErrNotConnected
	}
	if err := r.rdb.Set(ctx, name, value, ttl).Err(); err != nil {
		return fmt.Errorf("setting value %s: %w", name, err)
	}
	return nil
}

func (r *Runtime) HasValue(ctx context.Context, name string) (bool, error) {
	if r.rdb == nil {
		return false, ErrNotConnected
	}
	n, err := r.rdb.Exists(ctx, name).Result()
	if err != nil {
		return false, fmt.Errorf("checking value %s: %w", name, err)
	}
	return n > 0, nil
}

// GetValue decodes the value stored under name into dst. It reports false
// when no value is stored.
func (r *Runtime) GetValue(ctx context.Context, name string, dst any) (bool, error) {
	if r.rdb == nil {
		return false, ErrNotConnected
	}
	err := r.rdb.Get(ctx, name).Scan(dst)
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("getting value %s: %w", name, err)
	}
	return true, nil
}
