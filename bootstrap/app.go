package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kbukum/loadguard/component"
	"github.com/kbukum/loadguard/logger"
)

const defaultGracefulTimeout = 15 * time.Second

// App is a process with uniform lifecycle management. C is the typed config.
type App[C Config] struct {
	Name       string
	Version    string
	Cfg        C
	Components *component.Registry
	Logger     *logger.Logger

	gracefulTimeout time.Duration
	signals         []os.Signal
	onStart         []Hook
	onStop          []Hook
}

// NewApp applies defaults to cfg, validates it and initializes the logger.
func NewApp[C Config](cfg C, opts ...Option) (*App[C], error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	o := &appOptions{
		gracefulTimeout: defaultGracefulTimeout,
		signals:         []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
	for _, opt := range opts {
		opt(o)
	}

	base := cfg.GetServiceConfig()
	app := &App[C]{
		Name:            base.Name,
		Version:         base.Version,
		Cfg:             cfg,
		gracefulTimeout: o.gracefulTimeout,
		signals:         o.signals,
		Logger:          o.logger,
	}
	if app.Logger == nil {
		logger.Init(base.Logging)
		app.Logger = logger.GetGlobalLogger()
	}
	app.Components = component.NewRegistry(component.WithRegistryLogger(app.Logger))
	return app, nil
}

// Register adds a component to the registry.
func (a *App[C]) Register(c component.Component) error {
	return a.Components.Register(c)
}

// ReadyCheck reports every component that is not healthy.
func (a *App[C]) ReadyCheck(ctx context.Context) error {
	var unhealthy []string
	for _, h := range a.Components.HealthAll(ctx) {
		if h.Status == component.StatusHealthy {
			continue
		}
		detail := h.Name + "=" + string(h.Status)
		if h.Message != "" {
			detail += "(" + h.Message + ")"
		}
		unhealthy = append(unhealthy, detail)
	}
	if len(unhealthy) > 0 {
		return fmt.Errorf("unhealthy components: %v", unhealthy)
	}
	return nil
}

// RunTask starts the components, runs task and shuts down when it returns.
// A shutdown signal cancels the task's context. The task error wins over a
// shutdown error.
func (a *App[C]) RunTask(ctx context.Context, task func(ctx context.Context) error) error {
	if err := a.startup(ctx); err != nil {
		return err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if len(a.signals) > 0 {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, a.signals...)
		defer signal.Stop(sigCh)

		go func() {
			select {
			case sig := <-sigCh:
				a.Logger.Info("received signal, canceling task", logger.Fields("signal", sig.String()))
				cancel()
			case <-taskCtx.Done():
			}
		}()
	}

	taskErr := task(taskCtx)
	stopErr := a.Shutdown()
	if taskErr != nil {
		return taskErr
	}
	return stopErr
}

func (a *App[C]) startup(ctx context.Context) error {
	start := time.Now()
	a.Logger.Info("starting application", logger.Fields(
		"name", a.Name,
		"version", a.Version,
	))

	if err := a.Components.StartAll(ctx); err != nil {
		return fmt.Errorf("failed to start components: %w", err)
	}
	if err := runHooks(ctx, a.onStart); err != nil {
		a.stopComponents()
		return fmt.Errorf("onStart hook failed: %w", err)
	}
	if err := a.ReadyCheck(ctx); err != nil {
		a.Logger.Warn("ready check reported issues", logger.MergeWithError(logger.Fields("components", len(a.Components.All())), err))
	}

	a.Logger.Info("application ready", logger.DurationFields("startup", time.Since(start)))
	return nil
}

// Shutdown runs the OnStop hooks and stops every component within the
// graceful timeout.
func (a *App[C]) Shutdown() error {
	a.Logger.Info("shutting down application", logger.Fields("timeout", a.gracefulTimeout.String()))

	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()

	var shutdownErr error
	if err := runHooks(ctx, a.onStop); err != nil {
		a.Logger.Error("onStop hook error", logger.ErrorFields("on_stop", err))
		shutdownErr = err
	}
	if err := a.Components.StopAll(ctx); err != nil {
		a.Logger.Error("shutdown completed with errors", logger.ErrorFields("stop_all", err))
		if shutdownErr == nil {
			shutdownErr = err
		}
	}

	a.Logger.Info("application shutdown complete")
	return shutdownErr
}

func (a *App[C]) stopComponents() {
	ctx, cancel := context.WithTimeout(context.Background(), a.gracefulTimeout)
	defer cancel()
	if err := a.Components.StopAll(ctx); err != nil {
		a.Logger.Error("stopping components after failed startup", logger.ErrorFields("stop_all", err))
	}
}
