package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/CZERTAINLY/Courier/internal/channel"

	"github.com/redis/go-redis/v9"
)

type Severity int

const (
	SeverityMessage Severity = iota
	SeverityMilestone
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityMessage:
		return "Message"
	case SeverityMilestone:
		return "Milestone"
	case SeverityWarning:
		return "Warning"
	case SeverityError:
		return "Error"
	default:
		return "Severity(" + strconv.Itoa(int(s)) + ")"
	}
}

// SeverityOf maps a slog level onto the log bus severities.
func SeverityOf(level slog.Level) Severity {
	switch {
	case level >= slog.LevelError:
		return SeverityError
	case level >= slog.LevelWarn:
		return SeverityWarning
	case level >= LevelMilestone:
		return SeverityMilestone
	default:
		return SeverityMessage
	}
}

// FormatRecord renders one line of the log bus format
//
//	15:04:05|Severity|author|text
func FormatRecord(t time.Time, severity Severity, author, text string) string {
	return t.Format(time.TimeOnly) + "|" + severity.String() + "|" + author + "|" + text
}

type SinkOptions struct {
	// Dir is where the offline log file is created, current directory if empty.
	Dir string
	// Console receives a copy of every record when not nil.
	Console io.Writer
	// Now defaults to time.Now.
	Now func() time.Time
}

// Sink records log lines of one author. It publishes them to the log bus
// while a log service listens there and falls back to an append-only local
// file otherwise. Once offline it stays offline.
type Sink struct {
	author  string
	dir     string
	console io.Writer
	now     func() time.Time

	mx   sync.Mutex
	bus  redis.Cmdable
	path string
	file *os.File
}

// NewSink announces the author on the log bus. When nobody receives the
// announcement, or bus is nil, the sink starts in offline mode.
func NewSink(ctx context.Context, author string, bus redis.Cmdable, opts SinkOptions) *Sink {
	s := &Sink{
		author:  author,
		dir:     opts.Dir,
		console: opts.Console,
		now:     opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if bus == nil {
		s.SwitchToOffline(ctx, "no connection")
		return s
	}

	line := FormatRecord(s.now(), SeverityMessage, author, "Log service client connected.")
	receivers, err := bus.Publish(ctx, channel.LogRecord, line).Result()
	switch {
	case err != nil:
		s.SwitchToOffline(ctx, "publishing to log bus: "+err.Error())
	case receivers < 1:
		s.SwitchToOffline(ctx, "no log service detected")
	default:
		s.bus = bus
	}
	return s
}

func (s *Sink) Author() string {
	return s.author
}

// Online reports whether records go to the log bus.
func (s *Sink) Online() bool {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.bus != nil
}

// Path returns the offline log file path, empty while online.
func (s *Sink) Path() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.path
}

func (s *Sink) Record(ctx context.Context, severity Severity, text string) {
	s.RecordRaw(ctx, FormatRecord(s.now(), severity, s.author, text))
}

// RecordRaw writes an already formatted line. A failing bus switches the
// sink to offline mode and the line is kept in the file. A cancelled ctx
// is not a bus failure.
func (s *Sink) RecordRaw(ctx context.Context, line string) {
	s.mx.Lock()
	bus := s.bus
	s.mx.Unlock()

	if bus != nil {
		err := bus.Publish(ctx, channel.LogRecord, line).Err()
		if err != nil && ctx.Err() != nil {
			// the caller gave up, not the bus
			err = bus.Publish(context.WithoutCancel(ctx), channel.LogRecord, line).Err()
		}
		if err == nil {
			s.echo(line)
			return
		}
		s.SwitchToOffline(ctx, "publishing to log bus: "+err.Error())
	}

	s.mx.Lock()
	err := s.writeFile(line)
	s.mx.Unlock()
	if err != nil {
		slog.ErrorContext(ctx, "writing log file failed", "path", s.Path(), "error", err)
	}
	s.echo(line)
}

// SwitchToOffline stops publishing and starts the local log file.
func (s *Sink) SwitchToOffline(ctx context.Context, reason string) {
	s.mx.Lock()
	if s.path != "" {
		s.bus = nil
		s.mx.Unlock()
		return
	}
	s.bus = nil
	s.path = filepath.Join(s.dir, s.fileName())
	s.mx.Unlock()

	text := "Switch to offline log mode."
	if reason != "" {
		text = "Switch to offline log mode, reason: " + reason
	}
	s.Record(ctx, SeverityMilestone, text)
}

func (s *Sink) fileName() string {
	stamp := s.now().Format("1-2 15:04:05")
	if s.author == "" {
		return stamp + ".log"
	}
	return s.author + " " + stamp + ".log"
}

func (s *Sink) writeFile(line string) error {
	if s.file == nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		s.file = f
	}
	_, err := io.WriteString(s.file, line+"\n")
	return err
}

func (s *Sink) echo(line string) {
	if s.console == nil {
		return
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	_, _ = fmt.Fprintln(s.console, line)
}

// Close closes the offline log file. The sink must not be used afterwards.
func (s *Sink) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.bus = nil
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// SinkHandler is a slog.Handler writing records into a Sink. Attributes are
// appended to the message as key=value pairs.
type SinkHandler struct {
	sink   *Sink
	level  slog.Leveler
	prefix string // dotted group path
	attrs  string // preformatted attributes of WithAttrs
}

func NewSinkHandler(sink *Sink, level slog.Leveler) *SinkHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &SinkHandler{sink: sink, level: level}
}

func (h *SinkHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *SinkHandler) Handle(ctx context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	b.WriteString(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&b, h.prefix, a)
		return true
	})
	h.sink.Record(ctx, SeverityOf(r.Level), b.String())
	return nil
}

func (h *SinkHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	for _, a := range attrs {
		appendAttr(&b, h.prefix, a)
	}
	h2 := *h
	h2.attrs += b.String()
	return &h2
}

func (h *SinkHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.prefix += name + "."
	return &h2
}

func appendAttr(b *strings.Builder, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		if a.Key != "" {
			prefix += a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			appendAttr(b, prefix, ga)
		}
		return
	}
	value := a.Value.String()
	if value == "" || strings.ContainsAny(value, " |=\"\n") {
		value = strconv.Quote(value)
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(value)
}
