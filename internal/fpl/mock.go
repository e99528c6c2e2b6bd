package fpl

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider serves canned FPL data for testing
type MockProvider struct {
	mu        sync.Mutex
	teams     map[int]Team
	gameweeks []Gameweek
	fixtures  map[int][]Fixture
	entries   map[int]Entry

	// err, when set, is returned by every call. failTeam fails only GetTeam
	// for that id.
	err      error
	failTeam int

	teamCalls     int
	fixtureCalls  int
	gameweekCalls int
	entryCalls    int

	// block, when set, is waited on at the start of GetTeam
	block chan struct{}
}

// NewMockProvider creates an empty mock provider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		teams:    make(map[int]Team),
		fixtures: make(map[int][]Fixture),
		entries:  make(map[int]Entry),
	}
}

// NewPremierLeagueMock returns a mock with 20 clubs registered under their
// usual ids and the given gameweek flagged current.
func NewPremierLeagueMock(currentGameweek int) *MockProvider {
	m := NewMockProvider()
	for i, name := range []string{
		"Arsenal", "Aston Villa", "Bournemouth", "Chelsea", "Brentford",
		"Brighton", "Crystal Palace", "Everton", "Fulham", "Ipswich",
		"Leicester", "Liverpool", "Man City", "Man Utd", "Newcastle",
		"Nott'm Forest", "Southampton", "Spurs", "West Ham", "Wolves",
	} {
		m.SetTeam(Team{ID: i + 1, Name: name})
	}
	m.SetGameweeks([]Gameweek{
		{ID: currentGameweek - 1, IsPrevious: true, Finished: true},
		{ID: currentGameweek, IsCurrent: true},
		{ID: currentGameweek + 1, IsNext: true},
	})
	return m
}

// SetTeam registers a team
func (m *MockProvider) SetTeam(team Team) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teams[team.ID] = team
}

// SetGameweeks replaces the gameweek listing
func (m *MockProvider) SetGameweeks(gameweeks []Gameweek) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gameweeks = gameweeks
}

// SetFixtures replaces the fixtures of a gameweek
func (m *MockProvider) SetFixtures(gameweek int, fixtures []Fixture) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixtures[gameweek] = fixtures
}

// SetEntry registers a manager entry
func (m *MockProvider) SetEntry(entry Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.ID] = entry
}

// SetError makes every call fail with err. Pass nil to recover.
func (m *MockProvider) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// FailTeam makes GetTeam fail for id with ErrProviderUnavailable. Zero disables.
func (m *MockProvider) FailTeam(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTeam = id
}

// Block makes GetTeam wait until the returned function is called
func (m *MockProvider) Block() (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.block = ch
	m.mu.Unlock()
	return func() { close(ch) }
}

// GetTeam returns a registered team
func (m *MockProvider) GetTeam(ctx context.Context, id int) (Team, error) {
	m.mu.Lock()
	block := m.block
	m.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return Team{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.teamCalls++

	if m.err != nil {
		return Team{}, m.err
	}
	if m.failTeam == id {
		return Team{}, fmt.Errorf("%w: team %d", ErrProviderUnavailable, id)
	}
	team, ok := m.teams[id]
	if !ok {
		return Team{}, &ParseError{Endpoint: "bootstrap", Err: fmt.Errorf("team %d not listed", id)}
	}
	return team, nil
}

// GetGameweeks returns the gameweek listing
func (m *MockProvider) GetGameweeks(ctx context.Context) ([]Gameweek, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gameweekCalls++

	if m.err != nil {
		return nil, m.err
	}
	return append([]Gameweek(nil), m.gameweeks...), nil
}

// GetFixturesByGameweek returns the fixtures of a gameweek
func (m *MockProvider) GetFixturesByGameweek(ctx context.Context, gameweek int) ([]Fixture, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fixtureCalls++

	if m.err != nil {
		return nil, m.err
	}
	return append([]Fixture(nil), m.fixtures[gameweek]...), nil
}

// GetEntry returns a registered manager entry
func (m *MockProvider) GetEntry(ctx context.Context, entryID int) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entryCalls++

	if m.err != nil {
		return Entry{}, m.err
	}
	entry, ok := m.entries[entryID]
	if !ok {
		return Entry{}, fmt.Errorf("%w: entry %d returned status 404", ErrProviderUnavailable, entryID)
	}
	return entry, nil
}

// TeamCalls returns how many times GetTeam was called
func (m *MockProvider) TeamCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.teamCalls
}

// FixtureCalls returns how many times GetFixturesByGameweek was called
func (m *MockProvider) FixtureCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fixtureCalls
}

// GameweekCalls returns how many times GetGameweeks was called
func (m *MockProvider) GameweekCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gameweekCalls
}

// EntryCalls returns how many times GetEntry was called
func (m *MockProvider) EntryCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entryCalls
}

// Goals builds a goal stat with one scorer entry per count on each side
func Goals(identifier string, home, away int) Stat {
	stat := Stat{Identifier: identifier, H: []StatValue{}, A: []StatValue{}}
	for i := 0; i < home; i++ {
		stat.H = append(stat.H, StatValue{Value: 1, Element: 100 + i})
	}
	for i := 0; i < away; i++ {
		stat.A = append(stat.A, StatValue{Value: 1, Element: 200 + i})
	}
	return stat
}
