// Package plugin provides the plugin contracts and the registry used to
// assemble the service. Plugins register a Factory and receive their
// dependencies through a Context, never through global lookups.
package plugin

import (
	"context"

	"fpllive/internal/shadowstate"
)

// Plugin is the core interface that all plugins must implement.
type Plugin interface {
	// Name returns the unique identifier for this plugin.
	// This name is used for registration and logging.
	Name() string

	// Start begins the plugin's operation.
	// - Sets up subscriptions to state changes
	// - Starts any background goroutines or timers
	// - Returns error if initialization fails
	Start() error

	// Stop gracefully shuts down the plugin.
	// - Unsubscribes from all state changes
	// - Stops timers and goroutines
	Stop()
}

// Resettable is an optional interface for plugins that support the
// system-wide reset. When the reset helper is switched on, the reset
// coordinator calls Reset() on every plugin implementing it.
type Resettable interface {
	// Reset drops cached data and recomputes state from scratch.
	Reset() error
}

// ShadowStateProvider is an optional interface for plugins that record the
// inputs behind their decisions.
type ShadowStateProvider interface {
	GetShadowState() shadowstate.PluginShadowState
}

// Entity is a sensor as the host sees it: a display name, a state string
// and attributes, refreshed by Poll.
type Entity interface {
	FriendlyName() string
	CurrentState() string
	Attributes() map[string]interface{}
	Poll(ctx context.Context) error
}

// Factory creates a plugin instance from a context.
type Factory func(ctx *Context) (Plugin, error)
