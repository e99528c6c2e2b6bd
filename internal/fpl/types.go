package fpl

import (
	"strings"
	"time"
)

// Team is a Premier League club as listed by the provider
type Team struct {
	ID        int    `json:"id"`
	Code      int    `json:"code"`
	Name      string `json:"name"`
	ShortName string `json:"short_name"`
}

// Gameweek is a provider-defined round of fixtures ("event" in the API)
type Gameweek struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	DeadlineTime string `json:"deadline_time"`
	IsPrevious   bool   `json:"is_previous"`
	IsCurrent    bool   `json:"is_current"`
	IsNext       bool   `json:"is_next"`
	Finished     bool   `json:"finished"`
}

// Fixture is a single match between two teams
type Fixture struct {
	ID          int    `json:"id"`
	Code        int    `json:"code"`
	Event       *int   `json:"event"`
	TeamH       int    `json:"team_h"`
	TeamA       int    `json:"team_a"`
	TeamHScore  *int   `json:"team_h_score"`
	TeamAScore  *int   `json:"team_a_score"`
	KickoffTime string `json:"kickoff_time"`
	Minutes     int    `json:"minutes"`
	Started     bool   `json:"started"`
	Finished    bool   `json:"finished"`
	Stats       []Stat `json:"stats"`
}

// Stat groups per-player events of one type (goals_scored, own_goals, ...)
// for each side of a fixture.
type Stat struct {
	Identifier string      `json:"identifier"`
	A          []StatValue `json:"a"`
	H          []StatValue `json:"h"`
}

// StatValue is one player's entry in a Stat
type StatValue struct {
	Value   int `json:"value"`
	Element int `json:"element"`
}

// IsGoal reports whether the stat counts towards the score line.
// Own goals are included.
func (s Stat) IsGoal() bool {
	return strings.Contains(s.Identifier, "goal")
}

// Involves reports whether either side of the fixture is in ids
func (f Fixture) Involves(ids map[int]bool) bool {
	return ids[f.TeamH] || ids[f.TeamA]
}

// Kickoff parses the UTC kickoff time. Fixtures without a confirmed date
// have an empty kickoff and report ok=false.
func (f Fixture) Kickoff() (t time.Time, ok bool, err error) {
	if f.KickoffTime == "" {
		return time.Time{}, false, nil
	}
	t, err = time.Parse(time.RFC3339, f.KickoffTime)
	if err != nil {
		return time.Time{}, false, &ParseError{Endpoint: "fixtures", Err: err}
	}
	return t.UTC(), true, nil
}

// Entry is the public summary of a manager's FPL team
type Entry struct {
	ID                 int    `json:"id"`
	Name               string `json:"name"`
	PlayerFirstName    string `json:"player_first_name"`
	PlayerLastName     string `json:"player_last_name"`
	SummaryOverallPts  int    `json:"summary_overall_points"`
	SummaryOverallRank int    `json:"summary_overall_rank"`
	SummaryEventPoints int    `json:"summary_event_points"`
	CurrentEvent       int    `json:"current_event"`
}

// ManagerName joins the manager's first and last name
func (e Entry) ManagerName() string {
	return strings.TrimSpace(e.PlayerFirstName + " " + e.PlayerLastName)
}

// bootstrap is the subset of bootstrap-static we read
type bootstrap struct {
	Events []Gameweek `json:"events"`
	Teams  []Team     `json:"teams"`
}

// CurrentGameweek returns the gameweek flagged current, if any
func CurrentGameweek(gameweeks []Gameweek) (Gameweek, bool) {
	for _, gw := range gameweeks {
		if gw.IsCurrent {
			return gw, true
		}
	}
	return Gameweek{}, false
}
