package component

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kbukum/loadguard/logger"
)

// DefaultStopTimeout bounds each component's Stop when the registry has no
// other limit configured.
const DefaultStopTimeout = 10 * time.Second

type entry struct {
	c       Component
	started bool
}

// Registry owns component lifecycle. Components start in registration order
// and stop in reverse, so a resilience layer registered after the telemetry
// it reports to drains before the exporters shut down.
type Registry struct {
	mu          sync.RWMutex
	entries     []*entry
	byName      map[string]*entry
	log         *logger.Logger
	stopTimeout time.Duration
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the registry logger. The global logger is used
// otherwise.
func WithRegistryLogger(l *logger.Logger) RegistryOption {
	return func(r *Registry) { r.log = l }
}

// WithStopTimeout bounds each component's Stop call.
func WithStopTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) {
		if d > 0 {
			r.stopTimeout = d
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		byName:      make(map[string]*entry),
		stopTimeout: DefaultStopTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.GetGlobalLogger()
	}
	r.log = r.log.WithComponent("registry")
	return r
}

// Register adds c. Names must be unique.
func (r *Registry) Register(c Component) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := c.Name()
	if _, ok := r.byName[name]; ok {
		return fmt.Errorf("component %s already registered", name)
	}
	e := &entry{c: c}
	r.entries = append(r.entries, e)
	r.byName[name] = e

	r.log.Debug("component registered", logger.Fields("component", name))
	return nil
}

// StartAll starts every component in registration order. If one fails, the
// components already started are stopped again, newest first, and the start
// error is returned.
func (r *Registry) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Info("starting components", logger.Fields("count", len(r.entries)))
	for _, e := range r.entries {
		name := e.c.Name()
		if err := e.c.Start(ctx); err != nil {
			r.log.WithError(err).Error("component start failed", logger.Fields("component", name))
			if stopErr := r.stopStarted(ctx); stopErr != nil {
				r.log.WithError(stopErr).Warn("rollback after failed start incomplete")
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		e.started = true
		r.logStarted(e.c)
	}
	return nil
}

func (r *Registry) logStarted(c Component) {
	d, ok := c.(Describable)
	if !ok {
		r.log.Debug("component started", logger.Fields("component", c.Name()))
		return
	}
	desc := d.Describe()
	if desc.Name == "" {
		desc.Name = c.Name()
	}
	r.log.Info("component started", logger.Fields(
		"component", desc.Name,
		"type", desc.Type,
		"details", desc.Details,
	))
}

// StopAll stops every started component in reverse registration order. Each
// Stop gets its own timeout; all stop errors are joined.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.log.Info("stopping components")
	if err := r.stopStarted(ctx); err != nil {
		return fmt.Errorf("shutdown errors: %w", err)
	}
	return nil
}

// stopStarted must be called with r.mu held.
func (r *Registry) stopStarted(ctx context.Context) error {
	var errs []error
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if !e.started {
			continue
		}
		name := e.c.Name()

		stopCtx, cancel := context.WithTimeout(ctx, r.stopTimeout)
		err := e.c.Stop(stopCtx)
		cancel()
		e.started = false

		if err != nil {
			errs = append(errs, fmt.Errorf("failed to stop %s: %w", name, err))
			r.log.WithError(err).Error("component stop failed", logger.Fields("component", name))
			continue
		}
		r.log.Info("component stopped", logger.Fields("component", name))
	}
	return errors.Join(errs...)
}

// HealthAll reports the health of every component in registration order.
func (r *Registry) HealthAll(ctx context.Context) []Health {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Health, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.c.Health(ctx))
	}
	return out
}

// Get returns the component registered under name, or nil.
func (r *Registry) Get(name string) Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if e, ok := r.byName[name]; ok {
		return e.c
	}
	return nil
}

// All returns the components in registration order.
func (r *Registry) All() []Component {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Component, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.c)
	}
	return out
}
