package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"fpllive/internal/api"
	"fpllive/internal/clock"
	"fpllive/internal/config"
	"fpllive/internal/fpl"
	"fpllive/internal/ha"
	"fpllive/internal/plugins/fplsensor"
	"fpllive/internal/plugins/reset"
	"fpllive/internal/shadowstate"
	"fpllive/internal/state"
	"fpllive/pkg/plugin"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	defaultAPIPort   = 8081
	defaultConfigDir = "./configs"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env file found, using environment variables")
	}

	haURL := os.Getenv("HA_URL")
	haToken := os.Getenv("HA_TOKEN")
	readOnly := os.Getenv("READ_ONLY") == "true"
	configDir := envOr("CONFIG_DIR", defaultConfigDir)

	apiPort := defaultAPIPort
	if v := os.Getenv("API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			logger.Fatal("Invalid API_PORT", zap.String("value", v), zap.Error(err))
		}
		apiPort = port
	}

	if haURL == "" || haToken == "" {
		logger.Fatal("HA_URL and HA_TOKEN environment variables must be set")
	}

	cfg, err := config.NewLoader(configDir, logger).Load()
	if err != nil {
		logger.Fatal("Failed to load FPL config", zap.Error(err))
	}
	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal("Failed to load timezone", zap.String("timezone", cfg.Timezone), zap.Error(err))
	}

	logger.Info("Starting FPL live-score sensor",
		zap.String("url", haURL),
		zap.Bool("read_only", readOnly),
		zap.String("timezone", loc.String()))

	client := ha.NewClient(haURL, haToken, logger)
	if err := client.Connect(); err != nil {
		logger.Fatal("Failed to connect to Home Assistant", zap.Error(err))
	}
	logger.Info("Connected to Home Assistant")

	stateManager := state.NewManager(client, logger, readOnly)
	if err := stateManager.SyncFromHA(); err != nil {
		logger.Fatal("Failed to sync state from HA", zap.Error(err))
	}
	computed, err := stateManager.SetupComputedState()
	if err != nil {
		logger.Fatal("Failed to set up computed state", zap.Error(err))
	}

	provider := fpl.NewClient(fpl.Config{
		BaseURL:           cfg.Provider.BaseURL,
		Timeout:           cfg.Provider.Timeout,
		RequestsPerSecond: cfg.Provider.RequestsPerSecond,
	}, logger)

	shadowTracker := shadowstate.NewTracker()
	pluginCtx := &plugin.Context{
		HAClient:     client,
		StateManager: stateManager,
		Provider:     provider,
		Clock:        clock.NewRealClock(loc),
		Config:       cfg,
		Shadow:       shadowTracker,
		Logger:       logger,
		ReadOnly:     readOnly,
	}

	registry := plugin.NewRegistry(logger)
	if err := fplsensor.Register(registry); err != nil {
		logger.Fatal("Failed to register FPL sensor", zap.Error(err))
	}

	plugins, err := registry.CreateAll(pluginCtx)
	if err != nil {
		logger.Fatal("Failed to create plugins", zap.Error(err))
	}
	plugins = append(plugins, reset.NewCoordinator(stateManager, logger, readOnly, plugin.Resettables(plugins)))

	if err := plugin.StartAll(plugins); err != nil {
		logger.Fatal("Failed to start plugins", zap.Error(err))
	}

	deps := api.Dependencies{
		StateManager: stateManager,
		Entities:     plugin.Entities(plugins),
		Shadow:       shadowTracker,
	}
	for _, p := range plugins {
		if sensor, ok := p.(*fplsensor.Sensor); ok {
			deps.Status = sensor
		}
	}
	server := api.NewServer(deps, logger, apiPort)
	if err := server.Start(); err != nil {
		logger.Fatal("Failed to start API server", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Application running. Press Ctrl+C to exit.",
		zap.Strings("plugins", registry.Names()),
		zap.Int("api_port", apiPort))

	<-sigChan

	logger.Info("Shutting down gracefully...")
	plugin.StopAll(plugins)
	computed.Unsubscribe()

	if err := multierr.Combine(server.Stop(), client.Disconnect()); err != nil {
		logger.Error("Shutdown finished with errors", zap.Error(err))
		return
	}
	logger.Info("Shutdown complete")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
