// Package livescore tracks live Premier League fixtures for a set of teams
// and derives a new-goal signal, a status label and a poll interval hint.
package livescore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"fpllive/internal/fpl"
	"fpllive/internal/metrics"
)

const (
	DefaultLiveInterval     = 10 * time.Second
	DefaultPostGameInterval = time.Hour
	DefaultIdleInterval     = 3 * time.Hour
	DefaultMatchWindow      = 2 * time.Hour
	DefaultTeamCount        = 20

	dayLayout = "2006-01-02"
)

// Provider is the upstream source of teams, gameweeks and fixtures
type Provider interface {
	GetTeam(ctx context.Context, id int) (fpl.Team, error)
	GetGameweeks(ctx context.Context) ([]fpl.Gameweek, error)
	GetFixturesByGameweek(ctx context.Context, gameweek int) ([]fpl.Fixture, error)
}

// Options tunes the poller. Zero values fall back to the defaults above.
type Options struct {
	Location         *time.Location
	LiveInterval     time.Duration
	IntervalOverride time.Duration
	PostGameInterval time.Duration
	IdleInterval     time.Duration
	MatchWindow      time.Duration
	TeamCount        int
	GoalDetection    GoalDetection
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.LiveInterval <= 0 {
		o.LiveInterval = DefaultLiveInterval
	}
	if o.PostGameInterval <= 0 {
		o.PostGameInterval = DefaultPostGameInterval
	}
	if o.IdleInterval <= 0 {
		o.IdleInterval = DefaultIdleInterval
	}
	if o.MatchWindow <= 0 {
		o.MatchWindow = DefaultMatchWindow
	}
	if o.TeamCount <= 0 {
		o.TeamCount = DefaultTeamCount
	}
	if o.GoalDetection == "" {
		o.GoalDetection = DetectUnchanged
	}
	return o
}

// Poller owns the matchday cache and the last goal tally.
// Update is meant to be called serially; the refresh path is additionally
// guarded so concurrent callers never refresh twice.
type Poller struct {
	provider Provider
	tracked  []TrackedTeam
	opts     Options
	logger   *zap.Logger

	refreshGroup singleflight.Group

	mu         sync.RWMutex
	cache      *MatchdayCache
	tally      MatchGoalTally
	lastStatus StatusLabel
	lastPoll   time.Time
}

// New creates a poller for the given tracked teams
func New(provider Provider, tracked []TrackedTeam, opts Options, logger *zap.Logger) *Poller {
	return &Poller{
		provider: provider,
		tracked:  append([]TrackedTeam(nil), tracked...),
		opts:     opts.withDefaults(),
		logger:   logger.Named("livescore"),
		tally:    make(MatchGoalTally),
	}
}

// Update runs one poll cycle at now. On failure the returned result carries
// the last known tally and a status derived from whatever kickoffs are
// cached; the error tells the caller what went wrong (see Classify).
func (p *Poller) Update(ctx context.Context, now time.Time) (result PollResult, err error) {
	now = now.In(p.opts.Location)
	defer func() {
		class := string(Classify(err))
		if class == "" {
			class = "ok"
		}
		metrics.PollsTotal.WithLabelValues(class).Inc()
	}()

	if dayKey(now) != p.Day() {
		if err := p.RefreshDay(ctx, now); err != nil {
			return p.fallbackResult(now, err), err
		}
	}

	cache := p.Cache()
	fixtures, err := p.provider.GetFixturesByGameweek(ctx, cache.ActiveGameweek)
	if err != nil {
		err = fmt.Errorf("fetch live fixtures for gameweek %d: %w", cache.ActiveGameweek, err)
		return p.fallbackResult(now, err), err
	}

	newTally, err := liveTally(fixtures, cache)
	if err != nil {
		return p.fallbackResult(now, err), err
	}

	status := p.statusAt(now, cache.Kickoffs)

	p.mu.Lock()
	newGoal := detectNewGoal(p.tally, newTally, p.opts.GoalDetection)
	p.tally = newTally
	p.lastStatus = status
	p.lastPoll = now
	p.mu.Unlock()

	metrics.LiveFixtures.Set(float64(len(newTally)))
	if newGoal {
		metrics.GoalSignalsTotal.Inc()
	}

	p.logger.Debug("Poll complete",
		zap.Bool("new_goal", newGoal),
		zap.Int("live_fixtures", len(newTally)),
		zap.String("status", string(status)))

	return PollResult{
		NewGoal: newGoal,
		Tally:   newTally.Clone(),
		Status:  status,
	}, nil
}

// RefreshDay rebuilds the matchday cache for now's calendar day. A failure
// leaves the previous cache and day marker untouched.
func (p *Poller) RefreshDay(ctx context.Context, now time.Time) error {
	day := dayKey(now.In(p.opts.Location))

	_, err, _ := p.refreshGroup.Do(day, func() (any, error) {
		if p.Day() == day {
			return nil, nil
		}

		cache, err := p.buildCache(ctx, day)
		if err != nil {
			metrics.DayRefreshesTotal.WithLabelValues(string(Classify(err))).Inc()
			return nil, err
		}

		p.mu.Lock()
		p.cache = cache
		p.tally = make(MatchGoalTally)
		p.mu.Unlock()

		metrics.DayRefreshesTotal.WithLabelValues("ok").Inc()
		p.logger.Info("Matchday cache refreshed",
			zap.String("day", day),
			zap.Int("gameweek", cache.ActiveGameweek),
			zap.Int("tracked_teams", len(cache.TrackedIDs)),
			zap.Int("kickoffs", len(cache.Kickoffs)))
		return nil, nil
	})
	return err
}

func (p *Poller) buildCache(ctx context.Context, day string) (*MatchdayCache, error) {
	idToTeam := make(map[int]string, p.opts.TeamCount)
	for id := 1; id <= p.opts.TeamCount; id++ {
		team, err := p.provider.GetTeam(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("fetch team %d: %w", id, err)
		}
		idToTeam[id] = team.Name
	}

	tracked := p.resolveTracked(idToTeam)
	if len(tracked) == 0 {
		return nil, ErrNoTrackedTeams
	}

	gameweeks, err := p.provider.GetGameweeks(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch gameweeks: %w", err)
	}
	current, ok := fpl.CurrentGameweek(gameweeks)
	if !ok {
		return nil, ErrNoActiveGameweek
	}

	fixtures, err := p.provider.GetFixturesByGameweek(ctx, current.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch fixtures for gameweek %d: %w", current.ID, err)
	}

	var kickoffs []time.Time
	for _, f := range fixtures {
		if f.Started || f.Finished || !f.Involves(tracked) {
			continue
		}
		kickoff, ok, err := f.Kickoff()
		if err != nil {
			return nil, err
		}
		if ok {
			kickoffs = append(kickoffs, kickoff.In(p.opts.Location))
		}
	}
	sort.Slice(kickoffs, func(i, j int) bool { return kickoffs[i].Before(kickoffs[j]) })

	return &MatchdayCache{
		Day:            day,
		IDToTeam:       idToTeam,
		ActiveGameweek: current.ID,
		TrackedIDs:     tracked,
		Kickoffs:       kickoffs,
	}, nil
}

// resolveTracked maps configured teams onto provider ids. Unknown names are
// logged and skipped.
func (p *Poller) resolveTracked(idToTeam map[int]string) map[int]bool {
	teamToID := make(map[string]int, len(idToTeam))
	for id, name := range idToTeam {
		teamToID[strings.ToLower(name)] = id
	}

	ids := make(map[int]bool, len(p.tracked))
	for _, team := range p.tracked {
		if team.ID > 0 {
			if _, ok := idToTeam[team.ID]; ok {
				ids[team.ID] = true
				continue
			}
		} else if id, ok := teamToID[strings.ToLower(team.Name)]; ok {
			ids[id] = true
			continue
		}
		p.logger.Warn("Tracked team not found at provider", zap.String("team", team.String()))
	}
	return ids
}

// NextPollInterval returns how long the scheduler should wait before the
// next Update given the current status.
func (p *Poller) NextPollInterval(status StatusLabel) time.Duration {
	if status == StatusInProgress || status == StatusUnknown {
		interval := p.opts.LiveInterval
		if p.opts.IntervalOverride > 0 && p.opts.IntervalOverride < interval {
			interval = p.opts.IntervalOverride
		}
		return interval
	}
	return p.opts.PostGameInterval
}

// NextWake refines NextPollInterval for the scheduler: outside a live window
// it wakes no later than the next tracked kickoff or local midnight. With no
// kickoffs known it waits the idle interval, bounded the same way.
func (p *Poller) NextWake(now time.Time, status StatusLabel) time.Duration {
	wait := p.NextPollInterval(status)
	if status == StatusInProgress || status == StatusUnknown {
		return wait
	}

	now = now.In(p.opts.Location)
	kickoffs := p.Cache().Kickoffs
	if len(kickoffs) == 0 {
		wait = p.opts.IdleInterval
	}
	for _, kickoff := range kickoffs {
		if kickoff.After(now) {
			if until := kickoff.Sub(now); until < wait {
				wait = until
			}
			break
		}
	}

	y, m, d := now.Date()
	midnight := time.Date(y, m, d+1, 0, 0, 0, 0, p.opts.Location)
	if until := midnight.Sub(now); until < wait {
		wait = until
	}

	if wait < p.opts.LiveInterval {
		wait = p.opts.LiveInterval
	}
	return wait
}

// Status returns the status at now based on the cached kickoffs
func (p *Poller) Status(now time.Time) StatusLabel {
	return p.statusAt(now, p.Cache().Kickoffs)
}

func (p *Poller) statusAt(now time.Time, kickoffs []time.Time) StatusLabel {
	for _, kickoff := range kickoffs {
		if !now.Before(kickoff) && now.Before(kickoff.Add(p.opts.MatchWindow)) {
			return StatusInProgress
		}
	}
	return StatusNoGames
}

// fallbackResult keeps the last known tally and reports a neutral or
// cache-derived status after a failed cycle.
func (p *Poller) fallbackResult(now time.Time, err error) PollResult {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := StatusUnknown
	switch {
	case p.cache != nil:
		status = p.statusAt(now, p.cache.Kickoffs)
	case Classify(err) == ClassNoData:
		status = StatusNoGames
	}
	return PollResult{Tally: p.tally.Clone(), Status: status}
}

// Invalidate drops the matchday cache and tally so the next Update
// refreshes from the provider.
func (p *Poller) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = nil
	p.tally = make(MatchGoalTally)
	p.lastStatus = StatusUnknown
}

// Day returns the calendar day of the last successful refresh
func (p *Poller) Day() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cache == nil {
		return ""
	}
	return p.cache.Day
}

// Cache returns a copy of the matchday cache. Before the first successful
// refresh it is empty.
func (p *Poller) Cache() *MatchdayCache {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cache == nil {
		return &MatchdayCache{}
	}
	return p.cache.clone()
}

// Tally returns a copy of the last stored tally
func (p *Poller) Tally() MatchGoalTally {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.tally.Clone()
}

// LastStatus returns the status computed by the last successful Update
func (p *Poller) LastStatus() StatusLabel {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastStatus
}

// LastPoll returns the time of the last successful Update
func (p *Poller) LastPoll() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPoll
}

// GoalDetection returns the configured comparison mode
func (p *Poller) GoalDetection() GoalDetection {
	return p.opts.GoalDetection
}

// TrackedTeams returns the configured teams
func (p *Poller) TrackedTeams() []TrackedTeam {
	return append([]TrackedTeam(nil), p.tracked...)
}

// liveTally counts goals for started, unfinished fixtures involving a
// tracked team.
func liveTally(fixtures []fpl.Fixture, cache *MatchdayCache) (MatchGoalTally, error) {
	tally := make(MatchGoalTally)
	for _, f := range fixtures {
		if !f.Started || f.Finished || !f.Involves(cache.TrackedIDs) {
			continue
		}

		home, ok := cache.IDToTeam[f.TeamH]
		if !ok {
			return nil, &fpl.ParseError{Endpoint: "fixtures", Err: fmt.Errorf("unknown home team %d in fixture %d", f.TeamH, f.ID)}
		}
		away, ok := cache.IDToTeam[f.TeamA]
		if !ok {
			return nil, &fpl.ParseError{Endpoint: "fixtures", Err: fmt.Errorf("unknown away team %d in fixture %d", f.TeamA, f.ID)}
		}

		var score Score
		for _, stat := range f.Stats {
			if !stat.IsGoal() {
				continue
			}
			score.Home += len(stat.H)
			score.Away += len(stat.A)
		}
		tally[FixtureLabel(home, away)] = score
	}
	return tally, nil
}

// detectNewGoal compares fixtures present in both tallies and OR-reduces
// the per-fixture comparison selected by mode.
func detectNewGoal(previous, current MatchGoalTally, mode GoalDetection) bool {
	for label, before := range previous {
		now, ok := current[label]
		if !ok {
			continue
		}
		if mode == DetectChanged {
			if now != before {
				return true
			}
			continue
		}
		if now == before {
			return true
		}
	}
	return false
}

func dayKey(t time.Time) string {
	return t.Format(dayLayout)
}
