// Package core owns the lifecycle of the long-running parts of the service.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// Module is something the manager starts at boot and stops at shutdown.
type Module interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

type Manager struct {
	modules []Module
	mu      sync.Mutex
	started []Module
}

func NewManager(mods ...Module) *Manager {
	return &Manager{modules: mods}
}

// Add registers a module. Modules cannot be added once started.
func (m *Manager) Add(mod Module) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started != nil {
		return errors.New("core.Manager: cannot add modules after start")
	}
	m.modules = append(m.modules, mod)
	return nil
}

// Start brings modules up in registration order. If one fails, the ones
// already running are stopped in reverse order.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started != nil {
		return errors.New("core.Manager already started")
	}

	started := make([]Module, 0, len(m.modules))
	for _, mod := range m.modules {
		if mod == nil {
			continue
		}
		if err := mod.Start(ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				started[i].Stop(ctx)
			}
			return fmt.Errorf("module %s failed: %w", mod.Name(), err)
		}
		log.Info("module started", "module", mod.Name())
		started = append(started, mod)
	}
	m.started = started
	return nil
}

// Stop shuts running modules down in reverse order.
func (m *Manager) Stop(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.started) - 1; i >= 0; i-- {
		m.started[i].Stop(ctx)
		log.Info("module stopped", "module", m.started[i].Name())
	}
	m.started = nil
}

// Run starts every module, blocks until ctx is done, then stops them with
// at most shutdownTimeout to finish.
func (m *Manager) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	if err := m.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	m.Stop(stopCtx)
	return nil
}
