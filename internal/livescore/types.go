package livescore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"fpllive/internal/fpl"
)

// StatusLabel is the human-readable match state shown by the sensor
type StatusLabel string

const (
	StatusUnknown    StatusLabel = ""
	StatusNoGames    StatusLabel = "No games playing"
	StatusInProgress StatusLabel = "In Progress"
)

// GoalDetection selects how consecutive tallies are compared
type GoalDetection string

const (
	// DetectUnchanged raises the signal when an overlapping fixture's tally
	// is equal to the previous one. This is the historical behaviour of the
	// sensor and remains the default.
	DetectUnchanged GoalDetection = "unchanged"

	// DetectChanged raises the signal when an overlapping fixture's tally
	// differs from the previous one.
	DetectChanged GoalDetection = "changed"
)

// ParseGoalDetection maps a config value to a GoalDetection. Empty means default.
func ParseGoalDetection(s string) (GoalDetection, error) {
	switch GoalDetection(strings.ToLower(strings.TrimSpace(s))) {
	case "", DetectUnchanged:
		return DetectUnchanged, nil
	case DetectChanged:
		return DetectChanged, nil
	default:
		return "", fmt.Errorf("unknown goal detection mode %q", s)
	}
}

// Score is the goal count per side of a fixture, own goals included
type Score struct {
	Home int `json:"home_goals"`
	Away int `json:"away_goals"`
}

// MatchGoalTally maps a fixture label ("Home v. Away") to its score
type MatchGoalTally map[string]Score

// Clone returns an independent copy of the tally
func (t MatchGoalTally) Clone() MatchGoalTally {
	out := make(MatchGoalTally, len(t))
	for label, score := range t {
		out[label] = score
	}
	return out
}

// Labels returns the fixture labels in sorted order
func (t MatchGoalTally) Labels() []string {
	labels := make([]string, 0, len(t))
	for label := range t {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// FixtureLabel builds the tally key for a fixture
func FixtureLabel(home, away string) string {
	return home + " v. " + away
}

// PollResult is the outcome of one Update
type PollResult struct {
	NewGoal bool
	Tally   MatchGoalTally
	Status  StatusLabel
}

// TrackedTeam is a team the deployment monitors, given either by provider
// id or by name.
type TrackedTeam struct {
	ID   int
	Name string
}

// ParseTrackedTeam accepts a numeric provider id or a team name
func ParseTrackedTeam(s string) TrackedTeam {
	s = strings.TrimSpace(s)
	if id, err := strconv.Atoi(s); err == nil && id > 0 {
		return TrackedTeam{ID: id}
	}
	return TrackedTeam{Name: s}
}

func (t TrackedTeam) String() string {
	if t.Name != "" {
		return t.Name
	}
	return "#" + strconv.Itoa(t.ID)
}

// MatchdayCache holds the day-scoped data fetched by RefreshDay
type MatchdayCache struct {
	Day            string
	IDToTeam       map[int]string
	ActiveGameweek int
	TrackedIDs     map[int]bool
	Kickoffs       []time.Time
}

func (c *MatchdayCache) clone() *MatchdayCache {
	if c == nil {
		return nil
	}
	out := &MatchdayCache{
		Day:            c.Day,
		IDToTeam:       make(map[int]string, len(c.IDToTeam)),
		ActiveGameweek: c.ActiveGameweek,
		TrackedIDs:     make(map[int]bool, len(c.TrackedIDs)),
		Kickoffs:       append([]time.Time(nil), c.Kickoffs...),
	}
	for id, name := range c.IDToTeam {
		out.IDToTeam[id] = name
	}
	for id := range c.TrackedIDs {
		out.TrackedIDs[id] = true
	}
	return out
}

// Errors signalling that the provider has nothing to poll yet. Both are
// recoverable and yield a neutral status.
var (
	ErrNoActiveGameweek = errors.New("no active gameweek")
	ErrNoTrackedTeams   = errors.New("no tracked team could be resolved")
)

// ErrorClass groups poll failures by how the caller should react
type ErrorClass string

const (
	ClassNone                ErrorClass = ""
	ClassProviderUnavailable ErrorClass = "provider_unavailable"
	ClassParse               ErrorClass = "parse_error"
	ClassNoData              ErrorClass = "no_data"
	ClassCancelled           ErrorClass = "cancelled"
	ClassUnknown             ErrorClass = "error"
)

// Classify maps an error returned by Update or RefreshDay to its class
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrNoActiveGameweek), errors.Is(err, ErrNoTrackedTeams):
		return ClassNoData
	case errors.Is(err, fpl.ErrProviderUnavailable):
		return ClassProviderUnavailable
	case fpl.IsParseError(err):
		return ClassParse
	case errors.Is(err, context.Canceled):
		return ClassCancelled
	default:
		return ClassUnknown
	}
}
