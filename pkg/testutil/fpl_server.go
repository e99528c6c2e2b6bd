package testutil

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"fpllive/internal/fpl"
)

// PremierLeagueClubs are the 20 clubs served by FakeFPLServer, in id order
var PremierLeagueClubs = []string{
	"Arsenal", "Aston Villa", "Bournemouth", "Chelsea", "Brentford",
	"Brighton", "Crystal Palace", "Everton", "Fulham", "Ipswich",
	"Leicester", "Liverpool", "Man City", "Man Utd", "Newcastle",
	"Nott'm Forest", "Southampton", "Spurs", "West Ham", "Wolves",
}

// FakeFPLServer serves bootstrap-static, fixtures and entry documents over HTTP
type FakeFPLServer struct {
	server *httptest.Server

	mu        sync.Mutex
	gameweeks []fpl.Gameweek
	fixtures  map[int][]fpl.Fixture
	entries   map[int]fpl.Entry
	status    int

	requests atomic.Int64
}

// NewFakeFPLServer starts a server with currentGameweek flagged current
func NewFakeFPLServer(currentGameweek int) *FakeFPLServer {
	f := &FakeFPLServer{
		gameweeks: []fpl.Gameweek{
			{ID: currentGameweek - 1, IsPrevious: true, Finished: true},
			{ID: currentGameweek, IsCurrent: true},
			{ID: currentGameweek + 1, IsNext: true},
		},
		fixtures: make(map[int][]fpl.Fixture),
		entries:  make(map[int]fpl.Entry),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

// URL is the API base URL
func (f *FakeFPLServer) URL() string {
	return f.server.URL + "/"
}

// Close shuts the server down
func (f *FakeFPLServer) Close() {
	f.server.Close()
}

// SetFixtures replaces the fixtures of a gameweek
func (f *FakeFPLServer) SetFixtures(gameweek int, fixtures []fpl.Fixture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixtures[gameweek] = fixtures
}

// SetEntry registers a manager entry
func (f *FakeFPLServer) SetEntry(entry fpl.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[entry.ID] = entry
}

// FailWith makes every request answer status. Zero restores normal service.
func (f *FakeFPLServer) FailWith(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
}

// Requests counts requests served, failed ones included
func (f *FakeFPLServer) Requests() int64 {
	return f.requests.Load()
}

func (f *FakeFPLServer) handle(w http.ResponseWriter, r *http.Request) {
	f.requests.Add(1)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.status != 0 {
		http.Error(w, http.StatusText(f.status), f.status)
		return
	}

	switch path := r.URL.Path; {
	case path == "/bootstrap-static/":
		teams := make([]fpl.Team, 0, len(PremierLeagueClubs))
		for i, name := range PremierLeagueClubs {
			teams = append(teams, fpl.Team{ID: i + 1, Name: name})
		}
		writeDocument(w, map[string]interface{}{"events": f.gameweeks, "teams": teams})

	case path == "/fixtures/":
		gameweek, err := strconv.Atoi(r.URL.Query().Get("event"))
		if err != nil {
			http.Error(w, "bad event", http.StatusBadRequest)
			return
		}
		fixtures := f.fixtures[gameweek]
		if fixtures == nil {
			fixtures = []fpl.Fixture{}
		}
		writeDocument(w, fixtures)

	case strings.HasPrefix(path, "/entry/"):
		id, err := strconv.Atoi(strings.Trim(strings.TrimPrefix(path, "/entry/"), "/"))
		entry, ok := f.entries[id]
		if err != nil || !ok {
			http.NotFound(w, r)
			return
		}
		writeDocument(w, entry)

	default:
		http.NotFound(w, r)
	}
}

func writeDocument(w http.ResponseWriter, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}
