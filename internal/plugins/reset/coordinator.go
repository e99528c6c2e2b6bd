// Package reset turns the fpl_reset helper into a reset of every resettable
// plugin.
package reset

import (
	"fmt"
	"sync"

	"fpllive/internal/state"
	"fpllive/pkg/plugin"

	"go.uber.org/zap"
)

// Coordinator watches the reset helper and orchestrates resets
type Coordinator struct {
	stateManager *state.Manager
	logger       *zap.Logger
	readOnly     bool
	plugins      []plugin.NamedResettable

	mu           sync.Mutex
	subscription state.Subscription
	resets       int
}

// NewCoordinator creates a new reset coordinator
func NewCoordinator(stateManager *state.Manager, logger *zap.Logger, readOnly bool, plugins []plugin.NamedResettable) *Coordinator {
	return &Coordinator{
		stateManager: stateManager,
		logger:       logger.Named("reset"),
		readOnly:     readOnly,
		plugins:      plugins,
	}
}

// Name implements plugin.Plugin
func (c *Coordinator) Name() string {
	return "reset"
}

// Start begins monitoring the reset helper
func (c *Coordinator) Start() error {
	c.logger.Info("Starting Reset Coordinator",
		zap.Int("plugin_count", len(c.plugins)),
		zap.Bool("read_only", c.readOnly))

	sub, err := c.stateManager.Subscribe(state.KeyReset, c.handleResetChange)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", state.KeyReset, err)
	}

	c.mu.Lock()
	c.subscription = sub
	c.mu.Unlock()
	return nil
}

// Stop cleans up the coordinator
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscription != nil {
		c.subscription.Unsubscribe()
		c.subscription = nil
	}
	c.logger.Info("Reset Coordinator stopped")
}

// Resets returns how many resets have been executed
func (c *Coordinator) Resets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resets
}

func (c *Coordinator) handleResetChange(key string, oldValue, newValue interface{}) {
	on, ok := newValue.(bool)
	if !ok {
		c.logger.Warn("Reset value is not a boolean", zap.Any("value", newValue))
		return
	}
	if !on {
		return
	}

	// Only the caller that flips the helper back off runs the reset.
	swapped, err := c.stateManager.CompareAndSwapBool(state.KeyReset, true, false)
	if err != nil {
		c.logger.Error("Failed to turn reset off", zap.Error(err))
	} else if !swapped {
		c.logger.Debug("Reset already handled")
		return
	}
	if c.readOnly {
		c.logger.Info("READ-ONLY: Would turn reset helper off")
	}

	c.executeReset()
}

// executeReset calls Reset() on all plugins in order and keeps going past failures
func (c *Coordinator) executeReset() {
	c.logger.Info("Reset triggered", zap.Int("plugin_count", len(c.plugins)))

	failed := 0
	for _, p := range c.plugins {
		if err := p.Plugin.Reset(); err != nil {
			c.logger.Error("Failed to reset plugin",
				zap.String("plugin", p.Name),
				zap.Error(err))
			failed++
			continue
		}
		c.logger.Debug("Plugin reset", zap.String("plugin", p.Name))
	}

	c.mu.Lock()
	c.resets++
	c.mu.Unlock()

	c.logger.Info("Reset complete",
		zap.Int("success", len(c.plugins)-failed),
		zap.Int("errors", failed))
}
