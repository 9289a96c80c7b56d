// Package dispatch routes inbound commands and topic messages to handlers.
//
// A command has at most one handler and runs synchronously on the caller.
// A topic may have any number of handlers; a message on it fans out to all
// of them concurrently, bounded by the table's parallelism, with no ordering
// among them. Registration is rare and takes the write lock; dispatch only
// ever holds the read lock while copying the route out.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/CZERTAINLY/Courier/internal/parallel"
)

// Handler consumes the payload of a command or a message.
type Handler interface {
	Handle(ctx context.Context, payload string) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, payload string) error

func (f HandlerFunc) Handle(ctx context.Context, payload string) error {
	return f(ctx, payload)
}

// PanicError is returned when a handler panicked. The panic is not survived
// inside the runtime: callers escalate it to the supervisor.
type PanicError struct {
	Route string
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("handler %s panicked: %v", e.Route, e.Value)
}

// IsPanic reports whether err carries a recovered handler panic.
func IsPanic(err error) bool {
	var p *PanicError
	return errors.As(err, &p)
}

type Table struct {
	logger      *slog.Logger
	parallelism int

	cmdMx    sync.RWMutex
	commands map[string]Handler

	topicMx sync.RWMutex
	topics  map[string][]Handler
}

// NewTable returns an empty table. parallelism bounds the concurrent
// handler invocations of one message; <= 0 means unbounded.
func NewTable(logger *slog.Logger, parallelism int) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		logger:      logger,
		parallelism: parallelism,
		commands:    make(map[string]Handler),
		topics:      make(map[string][]Handler),
	}
}

// AddCommand registers h for the command name, replacing any previous handler.
func (t *Table) AddCommand(name string, h Handler) {
	t.cmdMx.Lock()
	defer t.cmdMx.Unlock()
	t.commands[name] = h
}

func (t *Table) RemoveCommand(name string) {
	t.cmdMx.Lock()
	defer t.cmdMx.Unlock()
	delete(t.commands, name)
}

// ClearCommands drops every command route.
func (t *Table) ClearCommands() {
	t.cmdMx.Lock()
	defer t.cmdMx.Unlock()
	clear(t.commands)
}

// Commands returns the sorted names of registered commands.
func (t *Table) Commands() []string {
	t.cmdMx.RLock()
	defer t.cmdMx.RUnlock()
	return sortedKeys(t.commands)
}

// AddSubscription appends h to the handlers of topic. It reports whether h
// is the first handler of the topic, so the caller knows to subscribe.
func (t *Table) AddSubscription(topic string, h Handler) bool {
	t.topicMx.Lock()
	defer t.topicMx.Unlock()
	handlers := t.topics[topic]
	t.topics[topic] = append(handlers, h)
	return len(handlers) == 0
}

// RemoveSubscription removes all handlers of topic and reports whether
// there were any.
func (t *Table) RemoveSubscription(topic string) bool {
	t.topicMx.Lock()
	defer t.topicMx.Unlock()
	_, ok := t.topics[topic]
	delete(t.topics, topic)
	return ok
}

// Topics returns the sorted names of subscribed topics.
func (t *Table) Topics() []string {
	t.topicMx.RLock()
	defer t.topicMx.RUnlock()
	return sortedKeys(t.topics)
}

// DispatchCommand calls the handler of the command name. Unknown commands
// and nil handlers are logged and ignored.
func (t *Table) DispatchCommand(ctx context.Context, name, payload string) error {
	t.cmdMx.RLock()
	h, ok := t.commands[name]
	t.cmdMx.RUnlock()

	if !ok {
		t.logger.ErrorContext(ctx, "unknown command received", "command", name)
		return nil
	}
	if !valid(h) {
		t.logger.ErrorContext(ctx, "invalid command handler", "command", name)
		return nil
	}
	return invoke(ctx, "command "+name, h, payload)
}

// DispatchMessage calls every handler of topic, concurrently. A failing or
// panicking handler does not prevent the others from running; all failures
// are joined into the returned error.
func (t *Table) DispatchMessage(ctx context.Context, topic, payload string) error {
	t.topicMx.RLock()
	handlers := append([]Handler(nil), t.topics[topic]...)
	t.topicMx.RUnlock()

	if len(handlers) == 0 {
		t.logger.ErrorContext(ctx, "unknown message received", "topic", topic)
		return nil
	}

	route := "topic " + topic
	return parallel.Each(ctx, t.parallelism, handlers, func(ctx context.Context, h Handler) error {
		if !valid(h) {
			return nil
		}
		return invoke(ctx, route, h, payload)
	})
}

func valid(h Handler) bool {
	if h == nil {
		return false
	}
	if f, ok := h.(HandlerFunc); ok && f == nil {
		return false
	}
	return true
}

func invoke(ctx context.Context, route string, h Handler, payload string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Route: route, Value: r, Stack: debug.Stack()}
		}
	}()
	return h.Handle(ctx, payload)
}

func sortedKeys[V any](m map[string]V) []string {
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}
