// Package fplsensor exposes the live-score poller as the "FPL API" entity:
// it schedules polls, publishes the results to Home Assistant helpers and
// fires an event whenever the new-goal signal is raised.
package fplsensor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"fpllive/internal/clock"
	"fpllive/internal/fpl"
	"fpllive/internal/ha"
	"fpllive/internal/livescore"
	"fpllive/internal/metrics"
	"fpllive/internal/shadowstate"
	"fpllive/internal/state"
	"fpllive/pkg/plugin"
)

const (
	PluginName   = "fplsensor"
	EntityName   = "FPL API"
	EventNewGoal = "fpl_new_goal"

	// MinTimeBetweenUpdates throttles provider access from Poll
	MinTimeBetweenUpdates = 10 * time.Second
)

// Options configures a Sensor
type Options struct {
	Tracked  []livescore.TrackedTeam
	Poller   livescore.Options
	UserID   int
	ReadOnly bool
}

// Health summarises the poller for the status endpoint
type Health struct {
	Day           string    `json:"day"`
	Gameweek      int       `json:"gameweek"`
	TrackedTeams  []string  `json:"trackedTeams"`
	Status        string    `json:"status"`
	LastPoll      time.Time `json:"lastPoll"`
	LastAttempt   time.Time `json:"lastAttempt"`
	NextWake      time.Time `json:"nextWake"`
	LastError     string    `json:"lastError,omitempty"`
	LastErrorText string    `json:"lastErrorText,omitempty"`
}

// Sensor is the FPL live-score entity
type Sensor struct {
	poller       *livescore.Poller
	provider     fpl.API
	haClient     ha.HAClient
	stateManager *state.Manager
	clock        clock.Clock
	logger       *zap.Logger
	readOnly     bool
	userID       int
	throttle     time.Duration
	shadow       *shadowstate.LiveScoreTracker

	// pollMu serializes Poll
	pollMu sync.Mutex

	mu          sync.RWMutex
	lastAttempt time.Time
	result      livescore.PollResult
	lastErr     error
	entry       *fpl.Entry
	entryDay    string
	nextWake    time.Time
	timer       clock.Timer
	gen         int
	ctx         context.Context
	cancel      context.CancelFunc
	running     bool
}

// Register adds the sensor to registry
func Register(registry *plugin.Registry) error {
	return registry.Register(plugin.PluginInfo{
		Name:        PluginName,
		Description: "FPL live-score sensor",
		Priority:    plugin.PriorityDefault,
		Order:       plugin.OrderSensor,
		Factory:     NewPlugin,
	})
}

// NewPlugin is the registry factory. It builds the sensor from the
// configuration carried by ctx.
func NewPlugin(ctx *plugin.Context) (plugin.Plugin, error) {
	if ctx == nil || ctx.Config == nil {
		return nil, errors.New("fplsensor: configuration is required")
	}
	if ctx.Provider == nil || ctx.StateManager == nil || ctx.HAClient == nil || ctx.Clock == nil {
		return nil, errors.New("fplsensor: provider, state manager, HA client and clock are required")
	}

	detection, err := livescore.ParseGoalDetection(ctx.Config.GoalDetection)
	if err != nil {
		return nil, fmt.Errorf("fplsensor: %w", err)
	}

	var tracked []livescore.TrackedTeam
	for _, team := range ctx.Config.TrackedTeams() {
		tracked = append(tracked, livescore.ParseTrackedTeam(team))
	}

	s := New(ctx.Provider, ctx.HAClient, ctx.StateManager, ctx.Clock, ctx.Logger, Options{
		Tracked: tracked,
		Poller: livescore.Options{
			Location:         ctx.Timezone(),
			IntervalOverride: ctx.Config.PollInterval,
			GoalDetection:    detection,
		},
		UserID:   ctx.Config.UserID,
		ReadOnly: ctx.ReadOnly,
	})

	if ctx.Shadow != nil {
		ctx.Shadow.RegisterPluginProvider(PluginName, func() shadowstate.PluginShadowState {
			return s.GetShadowState()
		})
	}
	return s, nil
}

// New creates a sensor. Most callers go through NewPlugin.
func New(provider fpl.API, haClient ha.HAClient, stateManager *state.Manager, clk clock.Clock, logger *zap.Logger, opts Options) *Sensor {
	if opts.Poller.Location == nil {
		opts.Poller.Location = clk.Location()
	}
	logger = logger.Named(PluginName)

	throttle := MinTimeBetweenUpdates
	if o := opts.Poller.IntervalOverride; o > 0 && o < throttle {
		throttle = o
	}

	return &Sensor{
		poller:       livescore.New(provider, opts.Tracked, opts.Poller, logger),
		provider:     provider,
		haClient:     haClient,
		stateManager: stateManager,
		clock:        clk,
		logger:       logger,
		readOnly:     opts.ReadOnly,
		userID:       opts.UserID,
		throttle:     throttle,
		shadow:       shadowstate.NewLiveScoreTracker(PluginName, clk.Now),
	}
}

// Name implements plugin.Plugin
func (s *Sensor) Name() string {
	return PluginName
}

// FriendlyName implements plugin.Entity
func (s *Sensor) FriendlyName() string {
	return EntityName
}

// Start runs the first poll right away and keeps rescheduling itself
func (s *Sensor) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("fplsensor already started")
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	teams := make([]string, 0, len(s.poller.TrackedTeams()))
	for _, team := range s.poller.TrackedTeams() {
		teams = append(teams, team.String())
	}
	s.logger.Info("Starting FPL sensor",
		zap.Strings("tracked_teams", teams),
		zap.Int("user_id", s.userID),
		zap.Duration("throttle", s.throttle),
		zap.Bool("read_only", s.readOnly))

	go s.tick(gen)
	return nil
}

// Stop cancels the pending wake-up and any poll in flight
func (s *Sensor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.cancel()
	s.logger.Info("FPL sensor stopped")
}

// Reset drops the matchday cache and polls again immediately
func (s *Sensor) Reset() error {
	s.logger.Info("Resetting FPL sensor")
	s.poller.Invalidate()

	s.mu.Lock()
	s.lastAttempt = time.Time{}
	s.entryDay = ""
	if !s.running {
		s.mu.Unlock()
		s.shadow.RecordAction("reset", "reset requested while stopped", nil)
		return nil
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	gen := s.gen
	s.mu.Unlock()

	s.shadow.RecordAction("reset", "matchday cache invalidated", nil)
	go s.tick(gen)
	return nil
}

func (s *Sensor) tick(gen int) {
	s.mu.RLock()
	if !s.running || gen != s.gen {
		s.mu.RUnlock()
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	// Errors are logged and published by Poll; the schedule carries on.
	_ = s.Poll(ctx)

	now := s.clock.Now()
	wait := s.poller.NextWake(now, s.currentStatus())

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || gen != s.gen {
		return
	}
	s.nextWake = now.Add(wait)
	s.timer = s.clock.AfterFunc(wait, func() { s.tick(gen) })
	s.logger.Debug("Next poll scheduled",
		zap.Duration("in", wait),
		zap.Time("at", s.nextWake))
}

// Poll runs one poll cycle unless the previous attempt is more recent than
// the throttle, in which case the cached result stands.
func (s *Sensor) Poll(ctx context.Context) error {
	s.pollMu.Lock()
	defer s.pollMu.Unlock()

	now := s.clock.Now()
	s.mu.Lock()
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.throttle {
		since := now.Sub(s.lastAttempt)
		s.mu.Unlock()
		s.logger.Debug("Poll throttled", zap.Duration("since_last", since))
		return nil
	}
	s.lastAttempt = now
	s.mu.Unlock()

	logger := s.logger.With(zap.String("cycle_id", uuid.NewString()))
	result, err := s.poller.Update(ctx, now)
	logPollError(logger, err)

	s.mu.Lock()
	s.lastErr = err
	if err != nil {
		result = s.lastKnown(result, err)
	}
	s.result = result
	s.mu.Unlock()

	if err == nil {
		s.refreshEntry(ctx, logger)
	}
	s.publish(logger, result, err)
	s.recordShadow(now, result, err)
	return err
}

// lastKnown keeps the previous goal signal, tally and status after a failed
// cycle. "No data yet" is the exception: it reports the neutral status.
// Callers hold s.mu.
func (s *Sensor) lastKnown(fallback livescore.PollResult, err error) livescore.PollResult {
	kept := s.result
	if livescore.Classify(err) == livescore.ClassNoData && fallback.Status != livescore.StatusUnknown {
		kept.Status = fallback.Status
	}
	return kept
}

func logPollError(logger *zap.Logger, err error) {
	switch livescore.Classify(err) {
	case livescore.ClassNone:
	case livescore.ClassProviderUnavailable:
		logger.Warn("FPL API unavailable, keeping last known state", zap.Error(err))
	case livescore.ClassParse:
		logger.Error("Unexpected FPL API payload", zap.Error(err))
	case livescore.ClassNoData:
		logger.Info("Nothing to poll yet", zap.Error(err))
	case livescore.ClassCancelled:
		logger.Debug("Poll cancelled", zap.Error(err))
	default:
		logger.Error("Poll failed", zap.Error(err))
	}
}

// refreshEntry fetches the manager summary once per matchday. Failures are
// logged and retried on the next poll.
func (s *Sensor) refreshEntry(ctx context.Context, logger *zap.Logger) {
	if s.userID <= 0 {
		return
	}
	day := s.poller.Day()

	s.mu.RLock()
	fresh := s.entryDay == day
	s.mu.RUnlock()
	if fresh {
		return
	}

	entry, err := s.provider.GetEntry(ctx, s.userID)
	if err != nil {
		logger.Warn("Failed to fetch manager summary",
			zap.Int("user_id", s.userID),
			zap.Error(err))
		return
	}

	s.mu.Lock()
	s.entry = &entry
	s.entryDay = day
	s.mu.Unlock()

	if err := s.stateManager.SetJSON(state.KeyEntrySummary, entrySummary(entry)); err != nil {
		logger.Warn("Failed to store manager summary", zap.Error(err))
	}
	logger.Info("Manager summary refreshed",
		zap.String("team", entry.Name),
		zap.Int("overall_points", entry.SummaryOverallPts))
}

// publish writes the outputs and reports failures as one error. After a
// failed cycle only the status and error class are written; the goal signal
// and tally in HA stay as last published.
func (s *Sensor) publish(logger *zap.Logger, result livescore.PollResult, pollErr error) {
	var errs error
	if pollErr == nil {
		errs = multierr.Append(errs, s.stateManager.SetBool(state.KeyNewGoal, result.NewGoal))
		errs = multierr.Append(errs, s.stateManager.SetJSON(state.KeyMatchTally, result.Tally))
		if gw := s.poller.Cache().ActiveGameweek; gw > 0 {
			errs = multierr.Append(errs, s.stateManager.SetNumber(state.KeyGameweek, float64(gw)))
		}
	}
	if result.Status != livescore.StatusUnknown {
		errs = multierr.Append(errs, s.stateManager.SetString(state.KeyStatus, string(result.Status)))
	}
	errs = multierr.Append(errs, s.stateManager.SetString(state.KeyLastError, string(livescore.Classify(pollErr))))

	if errs != nil {
		metrics.PublishErrorsTotal.Inc()
		logger.Warn("Failed to publish sensor state",
			zap.Int("failures", len(multierr.Errors(errs))),
			zap.Error(errs))
	}

	if pollErr == nil && result.NewGoal {
		s.fireNewGoal(logger, result)
	}
}

func (s *Sensor) fireNewGoal(logger *zap.Logger, result livescore.PollResult) {
	data := map[string]interface{}{
		"entity": EntityName,
		"status": string(result.Status),
		"tally":  result.Tally,
	}
	if s.readOnly {
		logger.Info("READ-ONLY: Would fire event", zap.String("event_type", EventNewGoal))
		return
	}
	if err := s.haClient.FireEvent(EventNewGoal, data); err != nil {
		metrics.PublishErrorsTotal.Inc()
		logger.Warn("Failed to fire new goal event", zap.Error(err))
		return
	}
	logger.Info("New goal signal raised", zap.Strings("fixtures", result.Tally.Labels()))
}

func (s *Sensor) recordShadow(now time.Time, result livescore.PollResult, err error) {
	cache := s.poller.Cache()
	s.shadow.UpdateCurrentInputs(map[string]interface{}{
		"day":           cache.Day,
		"gameweek":      cache.ActiveGameweek,
		"kickoffs":      len(cache.Kickoffs),
		"trackedIds":    len(cache.TrackedIDs),
		"previousPoll":  s.poller.LastPoll(),
		"liveFixtures":  len(result.Tally),
		"goalDetection": string(s.poller.GoalDetection()),
	})

	tally := make(map[string]string, len(result.Tally))
	for label, score := range result.Tally {
		tally[label] = fmt.Sprintf("%d-%d", score.Home, score.Away)
	}

	s.mu.RLock()
	nextWake := s.nextWake
	s.mu.RUnlock()
	s.shadow.RecordPoll(now, result.NewGoal, string(result.Status), tally, string(livescore.Classify(err)), nextWake)

	if err == nil && result.NewGoal {
		s.shadow.RecordAction("goal_signal", "tally comparison raised the signal", map[string]interface{}{
			"fixtures": result.Tally.Labels(),
		})
	}
}

func (s *Sensor) currentStatus() livescore.StatusLabel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result.Status
}

// CurrentState implements plugin.Entity: the last known status label,
// "unknown" until a poll has produced one
func (s *Sensor) CurrentState() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result.Status == livescore.StatusUnknown {
		return "unknown"
	}
	return string(s.result.Status)
}

// NewGoal reports the last known goal signal. Failed polls leave it as is.
func (s *Sensor) NewGoal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result.NewGoal
}

// LastResult returns the last known poll result. plugin.Entity.Poll only
// reports the error, so hosts that need the full outcome read it here.
func (s *Sensor) LastResult() livescore.PollResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := s.result
	result.Tally = make(livescore.MatchGoalTally, len(s.result.Tally))
	for label, score := range s.result.Tally {
		result.Tally[label] = score
	}
	return result
}

// Attributes implements plugin.Entity
func (s *Sensor) Attributes() map[string]interface{} {
	cache := s.poller.Cache()
	now := s.clock.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	teams := make([]string, 0)
	for _, team := range s.poller.TrackedTeams() {
		teams = append(teams, team.String())
	}

	attrs := map[string]interface{}{
		"status":         string(s.result.Status),
		"new_goal":       s.result.NewGoal,
		"tally":          s.result.Tally.Clone(),
		"gameweek":       cache.ActiveGameweek,
		"tracked_teams":  teams,
		"last_error":     string(livescore.Classify(s.lastErr)),
		"friendly_name":  EntityName,
		"goal_detection": string(s.poller.GoalDetection()),
	}
	for _, kickoff := range cache.Kickoffs {
		if kickoff.After(now) {
			attrs["next_kickoff"] = kickoff
			break
		}
	}
	if s.entry != nil {
		for k, v := range entrySummary(*s.entry) {
			attrs[k] = v
		}
	}
	return attrs
}

// Health implements the status endpoint's source
func (s *Sensor) Health() Health {
	cache := s.poller.Cache()

	s.mu.RLock()
	defer s.mu.RUnlock()

	h := Health{
		Day:         cache.Day,
		Gameweek:    cache.ActiveGameweek,
		Status:      string(s.result.Status),
		LastPoll:    s.poller.LastPoll(),
		LastAttempt: s.lastAttempt,
		NextWake:    s.nextWake,
		LastError:   string(livescore.Classify(s.lastErr)),
	}
	for _, team := range s.poller.TrackedTeams() {
		h.TrackedTeams = append(h.TrackedTeams, team.String())
	}
	if s.lastErr != nil {
		h.LastErrorText = s.lastErr.Error()
	}
	return h
}

// GetShadowState implements plugin.ShadowStateProvider
func (s *Sensor) GetShadowState() shadowstate.PluginShadowState {
	return s.shadow.GetState()
}

func entrySummary(entry fpl.Entry) map[string]interface{} {
	return map[string]interface{}{
		"manager":        entry.ManagerName(),
		"team_name":      entry.Name,
		"overall_points": entry.SummaryOverallPts,
		"overall_rank":   entry.SummaryOverallRank,
		"event_points":   entry.SummaryEventPoints,
	}
}

var (
	_ plugin.Plugin              = (*Sensor)(nil)
	_ plugin.Entity              = (*Sensor)(nil)
	_ plugin.Resettable          = (*Sensor)(nil)
	_ plugin.ShadowStateProvider = (*Sensor)(nil)
)
