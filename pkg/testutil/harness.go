package testutil

import (
	"fmt"
	"time"

	"fpllive/internal/clock"
	"fpllive/internal/config"
	"fpllive/internal/fpl"
	"fpllive/internal/ha"
	"fpllive/internal/plugins/fplsensor"
	"fpllive/internal/plugins/reset"
	"fpllive/internal/shadowstate"
	"fpllive/internal/state"
	"fpllive/pkg/plugin"

	"go.uber.org/zap"
)

const testToken = "test_token_12345"

// TestEnv is a running sensor wired against a fake Home Assistant and a fake
// FPL API, assembled the same way cmd/main.go assembles the real one.
type TestEnv struct {
	HA     *MockHAServer
	FPL    *FakeFPLServer
	Clock  *clock.MockClock
	Logger *zap.Logger

	Client       *ha.Client
	StateManager *state.Manager
	Shadow       *shadowstate.Tracker
	Sensor       *fplsensor.Sensor
	Reset        *reset.Coordinator
	Plugins      []plugin.Plugin

	computed state.Subscription
}

// NewTestEnv starts both fake servers, connects and syncs the HA client and
// creates the plugins without starting them. start fixes the mock clock and
// the operating timezone.
func NewTestEnv(cfg *config.FPLConfig, start time.Time, readOnly bool) (*TestEnv, error) {
	logger := zap.NewNop()
	env := &TestEnv{
		HA:     NewMockHAServer(testToken, logger),
		FPL:    NewFakeFPLServer(10),
		Clock:  clock.NewMockClock(start),
		Logger: logger,
		Shadow: shadowstate.NewTracker(),
	}

	env.HA.InitializeStates()
	if err := env.HA.Start(); err != nil {
		env.FPL.Close()
		return nil, fmt.Errorf("failed to start mock HA server: %w", err)
	}

	env.Client = ha.NewClient(env.HA.URL(), testToken, logger)
	if err := env.Client.Connect(); err != nil {
		env.Cleanup()
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}

	env.StateManager = state.NewManager(env.Client, logger, readOnly)
	if err := env.StateManager.SyncFromHA(); err != nil {
		env.Cleanup()
		return nil, fmt.Errorf("failed to sync state: %w", err)
	}
	computed, err := env.StateManager.SetupComputedState()
	if err != nil {
		env.Cleanup()
		return nil, fmt.Errorf("failed to set up computed state: %w", err)
	}
	env.computed = computed

	provider := fpl.NewClient(fpl.Config{
		BaseURL:           env.FPL.URL(),
		Timeout:           time.Second,
		RequestsPerSecond: 1000,
		Burst:             100,
	}, logger)

	registry := plugin.NewRegistry(logger)
	if err := fplsensor.Register(registry); err != nil {
		env.Cleanup()
		return nil, err
	}
	plugins, err := registry.CreateAll(&plugin.Context{
		HAClient:     env.Client,
		StateManager: env.StateManager,
		Provider:     provider,
		Clock:        env.Clock,
		Config:       cfg,
		Shadow:       env.Shadow,
		Logger:       logger,
		ReadOnly:     readOnly,
	})
	if err != nil {
		env.Cleanup()
		return nil, fmt.Errorf("failed to create plugins: %w", err)
	}
	for _, p := range plugins {
		if sensor, ok := p.(*fplsensor.Sensor); ok {
			env.Sensor = sensor
		}
	}
	if env.Sensor == nil {
		env.Cleanup()
		return nil, fmt.Errorf("registry did not create %s", fplsensor.PluginName)
	}

	env.Reset = reset.NewCoordinator(env.StateManager, logger, readOnly, plugin.Resettables(plugins))
	env.Plugins = append(plugins, env.Reset)
	return env, nil
}

// Start starts every plugin
func (e *TestEnv) Start() error {
	return plugin.StartAll(e.Plugins)
}

// Cleanup stops all components in reverse order of creation
func (e *TestEnv) Cleanup() {
	if e.Plugins != nil {
		plugin.StopAll(e.Plugins)
	}
	if e.computed != nil {
		e.computed.Unsubscribe()
	}
	if e.Client != nil {
		e.Client.Disconnect()
	}
	e.HA.Stop()
	e.FPL.Close()
}
