package plugin

import (
	"time"

	"fpllive/internal/clock"
	"fpllive/internal/config"
	"fpllive/internal/fpl"
	"fpllive/internal/ha"
	"fpllive/internal/shadowstate"
	"fpllive/internal/state"

	"go.uber.org/zap"
)

// Context provides dependencies to plugins during initialization.
// It wraps the core services needed by all plugins in a single struct
// for cleaner constructor signatures.
type Context struct {
	// HAClient provides access to Home Assistant for service calls,
	// events and entity state subscriptions.
	HAClient ha.HAClient

	// StateManager provides access to the helper entities the sensor
	// publishes to.
	StateManager *state.Manager

	// Provider is the upstream FPL API.
	Provider fpl.API

	// Clock supplies the time in the operating timezone. Tests pass a mock.
	Clock clock.Clock

	// Config is the loaded FPL configuration.
	Config *config.FPLConfig

	// Shadow collects shadow state providers for the API.
	Shadow *shadowstate.Tracker

	// Logger is a structured logger for the plugin to use.
	// Plugins should use logger.Named("pluginname") for namespacing.
	Logger *zap.Logger

	// ReadOnly indicates whether the application is in read-only mode.
	// When true, plugins log what they would do but leave Home Assistant alone.
	ReadOnly bool
}

// Timezone returns the operating timezone
func (c *Context) Timezone() *time.Location {
	if c.Clock == nil {
		return time.UTC
	}
	return c.Clock.Location()
}
