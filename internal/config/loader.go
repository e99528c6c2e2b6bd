package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up in the config directory
const FileName = "fpl_config.yaml"

const (
	DefaultFavTeam  = "Man Utd"
	DefaultTimezone = "Europe/Copenhagen"
	maxProviderID   = 20
)

// KnownClubs are the club names the provider uses. Names outside the list
// are accepted with a warning since the league changes every season.
var KnownClubs = []string{
	"Arsenal", "Aston Villa", "Bournemouth", "Brentford", "Brighton",
	"Burnley", "Chelsea", "Crystal Palace", "Everton", "Fulham",
	"Ipswich", "Leeds", "Leicester", "Liverpool", "Luton", "Man City",
	"Man Utd", "Newcastle", "Norwich", "Nott'm Forest", "Sheffield Utd",
	"Southampton", "Spurs", "Sunderland", "Watford", "West Ham", "Wolves",
}

// TeamsConfig holds the three team slots
type TeamsConfig struct {
	Team1 string `yaml:"team_1"`
	Team2 string `yaml:"team_2"`
	Team3 string `yaml:"team_3"`
}

// ProviderConfig tunes the FPL API client
type ProviderConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// FPLConfig is the fpl_config.yaml structure
type FPLConfig struct {
	Teams         TeamsConfig    `yaml:"teams"`
	FavTeam       string         `yaml:"fav_team"`
	UserID        int            `yaml:"user_id"`
	Email         string         `yaml:"email"`
	Password      string         `yaml:"password"`
	Timezone      string         `yaml:"timezone"`
	PollInterval  time.Duration  `yaml:"poll_interval"`
	GoalDetection string         `yaml:"goal_detection"`
	Provider      ProviderConfig `yaml:"provider"`
}

// TrackedTeams returns the configured team slots followed by the favourite
// team, without blanks or duplicates.
func (c *FPLConfig) TrackedTeams() []string {
	seen := make(map[string]bool)
	var teams []string
	for _, team := range []string{c.Teams.Team1, c.Teams.Team2, c.Teams.Team3, c.FavTeam} {
		team = strings.TrimSpace(team)
		key := strings.ToLower(team)
		if team == "" || seen[key] {
			continue
		}
		seen[key] = true
		teams = append(teams, team)
	}
	return teams
}

// Location resolves the configured timezone
func (c *FPLConfig) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// Validate checks the configuration and returns warnings for values that
// are accepted but suspicious.
func (c *FPLConfig) Validate() (warnings []string, err error) {
	teams := c.TrackedTeams()
	if len(teams) == 0 {
		return nil, errors.New("no teams configured")
	}
	for _, team := range teams {
		if id, convErr := strconv.Atoi(team); convErr == nil {
			if id < 1 || id > maxProviderID {
				return nil, fmt.Errorf("team id %d out of range 1-%d", id, maxProviderID)
			}
			continue
		}
		if !isKnownClub(team) {
			warnings = append(warnings, fmt.Sprintf("team %q is not a known club name", team))
		}
	}

	if c.UserID < 0 {
		return nil, fmt.Errorf("user_id must be positive, got %d", c.UserID)
	}
	if c.PollInterval < 0 {
		return nil, fmt.Errorf("poll_interval must not be negative, got %s", c.PollInterval)
	}
	if _, locErr := c.Location(); locErr != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, locErr)
	}
	switch strings.ToLower(c.GoalDetection) {
	case "", "unchanged", "changed":
	default:
		return nil, fmt.Errorf("goal_detection must be \"unchanged\" or \"changed\", got %q", c.GoalDetection)
	}
	if (c.Email == "") != (c.Password == "") {
		warnings = append(warnings, "email and password must be set together; credentials ignored")
	}
	return warnings, nil
}

func isKnownClub(name string) bool {
	for _, club := range KnownClubs {
		if strings.EqualFold(club, name) {
			return true
		}
	}
	return false
}

// Loader reads fpl_config.yaml and applies environment overrides
type Loader struct {
	configDir string
	logger    *zap.Logger
	getenv    func(string) string
	config    *FPLConfig
}

// NewLoader creates a loader for configDir
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger.Named("config"),
		getenv:    os.Getenv,
	}
}

// Load reads the file (a missing file means defaults), applies environment
// overrides and validates the result.
func (l *Loader) Load() (*FPLConfig, error) {
	path := filepath.Join(l.configDir, FileName)
	l.logger.Debug("Loading FPL config", zap.String("path", path))

	cfg := &FPLConfig{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
		}
	case errors.Is(err, os.ErrNotExist):
		l.logger.Info("No config file found, using defaults and environment", zap.String("path", path))
	default:
		return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)

	warnings, err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid FPL config: %w", err)
	}
	for _, w := range warnings {
		l.logger.Warn("FPL config warning", zap.String("warning", w))
	}

	l.config = cfg
	l.logger.Info("FPL config loaded",
		zap.Strings("teams", cfg.TrackedTeams()),
		zap.Int("user_id", cfg.UserID),
		zap.Bool("credentials", cfg.Email != ""),
		zap.String("timezone", cfg.Timezone),
		zap.Duration("poll_interval", cfg.PollInterval))
	return cfg, nil
}

// Config returns the last loaded configuration
func (l *Loader) Config() *FPLConfig {
	return l.config
}

func (l *Loader) applyEnv(cfg *FPLConfig) error {
	strs := map[string]*string{
		"FPL_TEAM_1":         &cfg.Teams.Team1,
		"FPL_TEAM_2":         &cfg.Teams.Team2,
		"FPL_TEAM_3":         &cfg.Teams.Team3,
		"FPL_FAV_TEAM":       &cfg.FavTeam,
		"FPL_EMAIL":          &cfg.Email,
		"FPL_PASSWORD":       &cfg.Password,
		"FPL_GOAL_DETECTION": &cfg.GoalDetection,
		"FPL_BASE_URL":       &cfg.Provider.BaseURL,
		"TIMEZONE":           &cfg.Timezone,
	}
	for name, target := range strs {
		if v := l.getenv(name); v != "" {
			*target = v
		}
	}

	if v := l.getenv("FPL_USER_ID"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid FPL_USER_ID %q: %w", v, err)
		}
		cfg.UserID = id
	}
	if v := l.getenv("FPL_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FPL_POLL_INTERVAL %q: %w", v, err)
		}
		cfg.PollInterval = d
	}
	return nil
}

func applyDefaults(cfg *FPLConfig) {
	if strings.TrimSpace(cfg.FavTeam) == "" {
		cfg.FavTeam = DefaultFavTeam
	}
	if cfg.Timezone == "" {
		cfg.Timezone = DefaultTimezone
	}
}
