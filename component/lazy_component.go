package component

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/loadguard/logger"
)

// LazyComponent is a Component whose setup runs on Start and whose teardown
// runs on Stop. It suits resources that only exist while the process runs,
// such as telemetry exporters.
type LazyComponent struct {
	name        string
	kind        string
	mu          sync.RWMutex
	initialized bool
	lastError   error
	initializer func(ctx context.Context) error
	healthCheck func(ctx context.Context) error
	closer      func(ctx context.Context) error
}

var (
	_ Component   = (*LazyComponent)(nil)
	_ Describable = (*LazyComponent)(nil)
)

// NewLazyComponent creates a lazy component with the given initializer.
func NewLazyComponent(name string, initializer func(context.Context) error) *LazyComponent {
	return &LazyComponent{
		name:        name,
		initializer: initializer,
	}
}

// Name returns the component name.
func (b *LazyComponent) Name() string {
	return b.name
}

// Start runs the initializer once. A failed initialization is retried on the
// next Start.
func (b *LazyComponent) Start(ctx context.Context) error {
	b.mu.RLock()
	if b.initialized && b.lastError == nil {
		b.mu.RUnlock()
		return nil
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	// Double-check after acquiring write lock
	if b.initialized && b.lastError == nil {
		return nil
	}

	if b.initializer == nil {
		return fmt.Errorf("no initializer for component: %s", b.name)
	}

	logger.Debug("Initializing lazy component", map[string]interface{}{
		"component": b.name,
	})

	if err := b.initializer(ctx); err != nil {
		b.lastError = err
		return fmt.Errorf("failed to initialize %s: %w", b.name, err)
	}

	b.initialized = true
	b.lastError = nil
	return nil
}

// IsInitialized returns whether the component has been successfully initialized.
func (b *LazyComponent) IsInitialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized && b.lastError == nil
}

// Health reports unhealthy until initialized, then defers to the custom check.
func (b *LazyComponent) Health(ctx context.Context) Health {
	h := Health{Name: b.name, Status: StatusHealthy}
	if !b.IsInitialized() {
		h.Status = StatusUnhealthy
		h.Message = "not initialized"
		return h
	}
	if b.healthCheck != nil {
		if err := b.healthCheck(ctx); err != nil {
			h.Status = StatusDegraded
			h.Message = err.Error()
		}
	}
	return h
}

// Stop runs the closer and marks the component as uninitialized.
func (b *LazyComponent) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	wasInitialized := b.initialized
	b.initialized = false
	if b.closer != nil && wasInitialized {
		return b.closer(ctx)
	}
	return nil
}

// Describe reports the component for the startup log.
func (b *LazyComponent) Describe() Description {
	return Description{Name: b.name, Type: b.kind}
}

// WithType sets the component type shown in the startup log.
func (b *LazyComponent) WithType(kind string) *LazyComponent {
	b.kind = kind
	return b
}

// WithHealthCheck sets a custom health check function.
func (b *LazyComponent) WithHealthCheck(fn func(context.Context) error) *LazyComponent {
	b.healthCheck = fn
	return b
}

// WithCloser sets a custom close function.
func (b *LazyComponent) WithCloser(fn func(context.Context) error) *LazyComponent {
	b.closer = fn
	return b
}
