package service

import "context"

// Service is the application part of a hosted service. Only Name is
// required; the lifecycle hooks are called when the value implements them.
type Service interface {
	Name() string
}

// Factory builds a fresh Service for every supervised attempt.
type Factory func() Service

// Connector is called once connected, before Install.
type Connector interface {
	OnConnect(ctx context.Context, rt *Runtime) error
}

// Installer is called by Install before the consumer starts. This is the
// place to register commands and subscriptions.
type Installer interface {
	OnInstall(ctx context.Context, rt *Runtime) error
}

type Uninstaller interface {
	OnUninstall(ctx context.Context, rt *Runtime) error
}

// Updater is called on every tick while the service is enabled.
type Updater interface {
	OnUpdate(ctx context.Context, rt *Runtime) error
}

type Pauser interface {
	OnPause(ctx context.Context, rt *Runtime) error
}

type Resumer interface {
	OnResume(ctx context.Context, rt *Runtime) error
}

// Funcs adapts plain functions to a Service with hooks. Nil functions are
// skipped.
type Funcs struct {
	ServiceName string
	Connect     func(ctx context.Context, rt *Runtime) error
	Install     func(ctx context.Context, rt *Runtime) error
	Uninstall   func(ctx context.Context, rt *Runtime) error
	Update      func(ctx context.Context, rt *Runtime) error
	Pause       func(ctx context.Context, rt *Runtime) error
	Resume      func(ctx context.Context, rt *Runtime) error
}

func (f *Funcs) Name() string {
	return f.ServiceName
}

func (f *Funcs) OnConnect(ctx context.Context, rt *Runtime) error {
	return call(ctx, rt, f.Connect)
}

func (f *Funcs) OnInstall(ctx context.Context, rt *Runtime) error {
	return call(ctx, rt, f.Install)
}

func (f *Funcs) OnUninstall(ctx context.Context, rt *Runtime) error {
	return call(ctx, rt, f.Uninstall)
}

func (f *Funcs) OnUpdate(ctx context.Context, rt *Runtime) error {
	return call(ctx, rt, f.Update)
}

func (f *Funcs) OnPause(ctx context.Context, rt *Runtime) error {
	return call(ctx, rt, f.Pause)
}

func (f *Funcs) OnResume(ctx context.Context, rt *Runtime) error {
	return call(ctx, rt, f.Resume)
}

func call(ctx context.Context, rt *Runtime, fn func(context.Context, *Runtime) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, rt)
}
