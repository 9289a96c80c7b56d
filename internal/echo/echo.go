// Package echo is a small service showing the runtime API. It answers pings,
// greets, and counts the messages published on its sample channel.
package echo

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/CZERTAINLY/Courier/internal/dispatch"
	"github.com/CZERTAINLY/Courier/internal/log"
	"github.com/CZERTAINLY/Courier/internal/service"
)

const (
	Name = "echo"

	// SampleChannel is the topic the service listens on.
	SampleChannel = "sample_channel"
	// GreetingKey stores the last greeting set by the greet command.
	GreetingKey = "echo/greeting"
	// StatsKey stores the Stats snapshot written by the stats command.
	StatsKey = "echo/stats"
	// GreetingItem is the configuration item read on install.
	GreetingItem = "greeting"

	DefaultGreeting = "hello"
)

// Stats is the snapshot the stats command stores under StatsKey.
type Stats struct {
	Greeting string `cbor:"greeting"`
	Updates  int64  `cbor:"updates"`
	Messages int64  `cbor:"messages"`
}

type Service struct {
	updates  atomic.Int64
	messages atomic.Int64

	mx       sync.Mutex
	greeting string
}

// New is a service.Factory.
func New() service.Service {
	return &Service{greeting: DefaultGreeting}
}

func (s *Service) Name() string {
	return Name
}

func (s *Service) OnInstall(ctx context.Context, rt *service.Runtime) error {
	var greeting string
	found, err := rt.Configurator().Scan(ctx, GreetingItem, &greeting)
	if err != nil {
		return err
	}
	if found {
		s.setGreeting(greeting)
	}

	commands := map[string]dispatch.HandlerFunc{
		// ping <sender>: answers with pong to the sender, a bare ping is
		// only logged
		"ping": func(ctx context.Context, sender string) error {
			if sender == "" {
				rt.Logger().InfoContext(ctx, "ping")
				return nil
			}
			_, err := rt.SendCommand(ctx, sender, "pong", Name)
			return err
		},
		"hello": func(ctx context.Context, from string) error {
			rt.Logger().InfoContext(ctx, s.Greeting()+" "+from)
			return nil
		},
		"greet": func(ctx context.Context, greeting string) error {
			if greeting == "" {
				greeting = DefaultGreeting
			}
			s.setGreeting(greeting)
			return rt.SetValue(ctx, GreetingKey, greeting, 0)
		},
		"stats": func(ctx context.Context, _ string) error {
			return rt.SetObject(ctx, StatsKey, s.Stats(), 0)
		},
	}
	for name, h := range commands {
		if err := rt.AddCommand(name, h); err != nil {
			return err
		}
	}

	return rt.AddSubscription(ctx, SampleChannel, dispatch.HandlerFunc(func(ctx context.Context, payload string) error {
		s.messages.Add(1)
		rt.Logger().InfoContext(ctx, "message received", "topic", SampleChannel, "payload", payload)
		return nil
	}))
}

func (s *Service) OnUpdate(context.Context, *service.Runtime) error {
	s.updates.Add(1)
	return nil
}

func (s *Service) OnPause(ctx context.Context, rt *service.Runtime) error {
	rt.Logger().Log(ctx, log.LevelMilestone, "echo paused", "updates", s.Updates())
	return nil
}

func (s *Service) OnResume(ctx context.Context, rt *service.Runtime) error {
	rt.Logger().Log(ctx, log.LevelMilestone, "echo resumed", "updates", s.Updates())
	return nil
}

func (s *Service) OnUninstall(ctx context.Context, rt *service.Runtime) error {
	rt.Logger().InfoContext(ctx, "echo done", "updates", s.Updates(), "messages", s.Messages())
	return nil
}

// Updates returns how many ticks updated the service.
func (s *Service) Updates() int64 {
	return s.updates.Load()
}

// Messages returns how many sample channel messages were received.
func (s *Service) Messages() int64 {
	return s.messages.Load()
}

func (s *Service) Stats() Stats {
	return Stats{
		Greeting: s.Greeting(),
		Updates:  s.Updates(),
		Messages: s.Messages(),
	}
}

func (s *Service) Greeting() string {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.greeting
}

func (s *Service) setGreeting(greeting string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	s.greeting = greeting
}
