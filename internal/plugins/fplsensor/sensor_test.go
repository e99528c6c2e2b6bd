package fplsensor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
	_ "time/tzdata"

	"fpllive/internal/clock"
	"fpllive/internal/config"
	"fpllive/internal/fpl"
	"fpllive/internal/ha"
	"fpllive/internal/livescore"
	"fpllive/internal/shadowstate"
	"fpllive/internal/state"
	"fpllive/pkg/plugin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const gameweek = 10

var copenhagen = func() *time.Location {
	loc, err := time.LoadLocation("Europe/Copenhagen")
	if err != nil {
		panic(err)
	}
	return loc
}()

// Arsenal v Chelsea kicks off 16:00 local. The day cache only keeps kick-offs
// of fixtures that have not started, so tests refresh at preMatch and then
// move to matchTime.
var (
	preMatch  = time.Date(2024, 10, 26, 15, 50, 0, 0, copenhagen)
	kickoff   = time.Date(2024, 10, 26, 16, 0, 0, 0, copenhagen)
	matchTime = kickoff.Add(10 * time.Minute)
)

func arsenalChelsea(started bool, stats ...fpl.Stat) fpl.Fixture {
	return fpl.Fixture{
		ID:          91,
		TeamH:       1,
		TeamA:       4,
		KickoffTime: "2024-10-26T14:00:00Z",
		Started:     started,
		Stats:       stats,
	}
}

type fixture struct {
	sensor   *Sensor
	provider *fpl.MockProvider
	ha       *ha.MockClient
	manager  *state.Manager
	clock    *clock.MockClock
}

func newFixture(t *testing.T, start time.Time, readOnly bool, opts Options) *fixture {
	t.Helper()

	provider := fpl.NewPremierLeagueMock(gameweek)
	provider.SetFixtures(gameweek, []fpl.Fixture{arsenalChelsea(false)})

	mockClient := ha.NewMockClient()
	mockClient.SetState("input_boolean.fpl_new_goal", "off", nil)
	mockClient.SetState("input_text.fpl_status", "", nil)
	mockClient.SetState("input_text.fpl_match_tally", "{}", nil)
	mockClient.SetState("input_text.fpl_last_error", "", nil)
	mockClient.SetState("input_number.fpl_gameweek", "0", nil)
	require.NoError(t, mockClient.Connect())

	manager := state.NewManager(mockClient, zap.NewNop(), readOnly)
	require.NoError(t, manager.SyncFromHA())

	if opts.Tracked == nil {
		opts.Tracked = []livescore.TrackedTeam{{Name: "Arsenal"}}
	}
	opts.ReadOnly = readOnly

	mockClock := clock.NewMockClock(start)
	sensor := New(provider, mockClient, manager, mockClock, zap.NewNop(), opts)

	return &fixture{sensor: sensor, provider: provider, ha: mockClient, manager: manager, clock: mockClock}
}

// kickOff polls once before kick-off so the day cache holds the kick-off,
// then starts the match with stats (1-0 by default) and moves to matchTime.
func (f *fixture) kickOff(t *testing.T, stats ...fpl.Stat) {
	t.Helper()
	require.NoError(t, f.sensor.Poll(context.Background()))
	if len(stats) == 0 {
		stats = []fpl.Stat{fpl.Goals("goals_scored", 1, 0)}
	}
	f.provider.SetFixtures(gameweek, []fpl.Fixture{arsenalChelsea(true, stats...)})
	f.clock.Set(matchTime)
}

func haState(t *testing.T, client *ha.MockClient, entityID string) string {
	t.Helper()
	s, err := client.GetState(entityID)
	require.NoError(t, err)
	return s.State
}

func TestSensor_PollPublishesOutputs(t *testing.T) {
	f := newFixture(t, preMatch, false, Options{})

	require.NoError(t, f.sensor.Poll(context.Background()))
	assert.Equal(t, "No games playing", haState(t, f.ha, "input_text.fpl_status"))
	assert.Equal(t, "{}", haState(t, f.ha, "input_text.fpl_match_tally"))

	f.provider.SetFixtures(gameweek, []fpl.Fixture{arsenalChelsea(true, fpl.Goals("goals_scored", 1, 0))})
	f.clock.Set(matchTime)
	require.NoError(t, f.sensor.Poll(context.Background()))

	assert.Equal(t, "In Progress", haState(t, f.ha, "input_text.fpl_status"))
	assert.Equal(t, "off", haState(t, f.ha, "input_boolean.fpl_new_goal"))
	assert.Equal(t, "10", haState(t, f.ha, "input_number.fpl_gameweek"))
	assert.Equal(t, "", haState(t, f.ha, "input_text.fpl_last_error"))
	assert.JSONEq(t, `{"Arsenal v. Chelsea":{"home_goals":1,"away_goals":0}}`,
		haState(t, f.ha, "input_text.fpl_match_tally"))

	assert.Equal(t, "In Progress", f.sensor.CurrentState())
	assert.False(t, f.sensor.NewGoal())
	assert.Empty(t, f.ha.GetFiredEvents(), "first live poll has no previous tally")
}

func TestSensor_UnchangedTallyFiresEvent(t *testing.T) {
	f := newFixture(t, preMatch, false, Options{})
	ctx := context.Background()
	f.kickOff(t)

	require.NoError(t, f.sensor.Poll(ctx))
	f.clock.Advance(MinTimeBetweenUpdates)
	require.NoError(t, f.sensor.Poll(ctx))

	assert.True(t, f.sensor.NewGoal())
	assert.Equal(t, "on", haState(t, f.ha, "input_boolean.fpl_new_goal"))

	events := f.ha.GetFiredEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventNewGoal, events[0].EventType)
	assert.Equal(t, "In Progress", events[0].Data["status"])
	tally, ok := events[0].Data["tally"].(livescore.MatchGoalTally)
	require.True(t, ok)
	assert.Equal(t, livescore.Score{Home: 1, Away: 0}, tally["Arsenal v. Chelsea"])
}

func TestSensor_ChangedTallyLowersSignal(t *testing.T) {
	f := newFixture(t, preMatch, false, Options{})
	ctx := context.Background()
	f.kickOff(t)

	require.NoError(t, f.sensor.Poll(ctx))
	f.provider.SetFixtures(gameweek, []fpl.Fixture{arsenalChelsea(true,
		fpl.Goals("goals_scored", 1, 0),
		fpl.Goals("own_goals", 0, 1),
	)})
	f.clock.Advance(MinTimeBetweenUpdates)
	require.NoError(t, f.sensor.Poll(ctx))

	assert.False(t, f.sensor.NewGoal())
	assert.Empty(t, f.ha.GetFiredEvents())
	assert.JSONEq(t, `{"Arsenal v. Chelsea":{"home_goals":1,"away_goals":1}}`,
		haState(t, f.ha, "input_text.fpl_match_tally"))
}

func TestSensor_PollIsThrottled(t *testing.T) {
	f := newFixture(t, matchTime, false, Options{})
	ctx := context.Background()

	require.NoError(t, f.sensor.Poll(ctx))
	calls := f.provider.FixtureCalls()

	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.sensor.Poll(ctx))
	assert.Equal(t, calls, f.provider.FixtureCalls(), "second poll inside the throttle window")

	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.sensor.Poll(ctx))
	assert.Equal(t, calls+1, f.provider.FixtureCalls())
}

func TestSensor_IntervalOverrideShortensThrottle(t *testing.T) {
	f := newFixture(t, matchTime, false, Options{
		Poller: livescore.Options{IntervalOverride: 5 * time.Second},
	})
	ctx := context.Background()

	require.NoError(t, f.sensor.Poll(ctx))
	calls := f.provider.FixtureCalls()

	f.clock.Advance(5 * time.Second)
	require.NoError(t, f.sensor.Poll(ctx))
	assert.Equal(t, calls+1, f.provider.FixtureCalls())
}

func TestSensor_ProviderOutagePublishesErrorClass(t *testing.T) {
	f := newFixture(t, matchTime, false, Options{})
	f.provider.SetError(fmt.Errorf("%w: status 503", fpl.ErrProviderUnavailable))

	err := f.sensor.Poll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, fpl.ErrProviderUnavailable))

	assert.Equal(t, "provider_unavailable", haState(t, f.ha, "input_text.fpl_last_error"))
	assert.Equal(t, "off", haState(t, f.ha, "input_boolean.fpl_new_goal"))
	assert.Equal(t, "", haState(t, f.ha, "input_text.fpl_status"), "unknown status is not published")

	health := f.sensor.Health()
	assert.Equal(t, "provider_unavailable", health.LastError)
	assert.Contains(t, health.LastErrorText, "503")
}

func TestSensor_RecoversAfterOutage(t *testing.T) {
	f := newFixture(t, preMatch, false, Options{})
	ctx := context.Background()
	f.kickOff(t)

	f.provider.SetError(fmt.Errorf("%w: timeout", fpl.ErrProviderUnavailable))
	require.Error(t, f.sensor.Poll(ctx))

	f.provider.SetError(nil)
	f.clock.Advance(MinTimeBetweenUpdates)
	require.NoError(t, f.sensor.Poll(ctx))

	assert.Equal(t, "", haState(t, f.ha, "input_text.fpl_last_error"))
	assert.Equal(t, "In Progress", haState(t, f.ha, "input_text.fpl_status"))
}

func TestSensor_FailedPollKeepsLastKnownState(t *testing.T) {
	f := newFixture(t, preMatch, false, Options{})
	ctx := context.Background()
	f.kickOff(t)

	require.NoError(t, f.sensor.Poll(ctx))
	f.clock.Advance(MinTimeBetweenUpdates)
	require.NoError(t, f.sensor.Poll(ctx))
	require.True(t, f.sensor.NewGoal())
	require.Len(t, f.ha.GetFiredEvents(), 1)

	f.provider.SetError(fmt.Errorf("%w: status 502", fpl.ErrProviderUnavailable))
	f.clock.Advance(MinTimeBetweenUpdates)
	require.Error(t, f.sensor.Poll(ctx))

	assert.True(t, f.sensor.NewGoal())
	assert.Equal(t, "In Progress", f.sensor.CurrentState())
	assert.Equal(t, "on", haState(t, f.ha, "input_boolean.fpl_new_goal"))
	assert.Equal(t, "In Progress", haState(t, f.ha, "input_text.fpl_status"))
	assert.JSONEq(t, `{"Arsenal v. Chelsea":{"home_goals":1,"away_goals":0}}`,
		haState(t, f.ha, "input_text.fpl_match_tally"))
	assert.Equal(t, "provider_unavailable", haState(t, f.ha, "input_text.fpl_last_error"))
	assert.Len(t, f.ha.GetFiredEvents(), 1, "a failed poll never fires the event")
	assert.Equal(t, "provider_unavailable", f.sensor.Attributes()["last_error"])

	last := f.sensor.LastResult()
	assert.True(t, last.NewGoal)
	assert.Equal(t, livescore.StatusInProgress, last.Status)
	assert.Len(t, last.Tally, 1)
}

func TestSensor_NoDataReportsNeutralStatus(t *testing.T) {
	f := newFixture(t, preMatch, false, Options{})
	f.provider.SetGameweeks([]fpl.Gameweek{{ID: gameweek, Finished: true}})

	err := f.sensor.Poll(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, livescore.ErrNoActiveGameweek))

	assert.Equal(t, "No games playing", f.sensor.CurrentState())
	assert.Equal(t, "No games playing", haState(t, f.ha, "input_text.fpl_status"))
	assert.Equal(t, "no_data", haState(t, f.ha, "input_text.fpl_last_error"))
}

func TestSensor_ReadOnlyNeverWritesToHA(t *testing.T) {
	f := newFixture(t, preMatch, true, Options{})
	f.ha.ClearServiceCalls()
	ctx := context.Background()
	f.kickOff(t)

	require.NoError(t, f.sensor.Poll(ctx))
	f.clock.Advance(MinTimeBetweenUpdates)
	require.NoError(t, f.sensor.Poll(ctx))

	assert.True(t, f.sensor.NewGoal())
	assert.Empty(t, f.ha.GetServiceCalls())
	assert.Empty(t, f.ha.GetFiredEvents())

	newGoal, err := f.manager.GetBool(state.KeyNewGoal)
	require.NoError(t, err)
	assert.True(t, newGoal, "local cache still follows the sensor")
}

func TestSensor_EntrySummaryOncePerDay(t *testing.T) {
	f := newFixture(t, matchTime, false, Options{UserID: 42})
	f.provider.SetEntry(fpl.Entry{
		ID:                 42,
		Name:               "Dane Gang",
		PlayerFirstName:    "Sune",
		PlayerLastName:     "Jensen",
		SummaryOverallPts:  512,
		SummaryOverallRank: 120345,
	})
	ctx := context.Background()

	require.NoError(t, f.sensor.Poll(ctx))
	f.clock.Advance(MinTimeBetweenUpdates)
	require.NoError(t, f.sensor.Poll(ctx))
	assert.Equal(t, 1, f.provider.EntryCalls())

	attrs := f.sensor.Attributes()
	assert.Equal(t, "Dane Gang", attrs["team_name"])
	assert.Equal(t, "Sune Jensen", attrs["manager"])
	assert.Equal(t, 512, attrs["overall_points"])

	var summary map[string]interface{}
	require.NoError(t, f.manager.GetJSON(state.KeyEntrySummary, &summary))
	assert.Equal(t, "Dane Gang", summary["team_name"])
}

func TestSensor_EntryFailureDoesNotFailPoll(t *testing.T) {
	f := newFixture(t, matchTime, false, Options{UserID: 7})

	require.NoError(t, f.sensor.Poll(context.Background()))
	assert.Equal(t, 1, f.provider.EntryCalls())
	assert.NotContains(t, f.sensor.Attributes(), "team_name")
}

func TestSensor_AttributesBeforeKickoff(t *testing.T) {
	morning := time.Date(2024, 10, 26, 11, 0, 0, 0, copenhagen)
	f := newFixture(t, morning, false, Options{})
	f.provider.SetFixtures(gameweek, []fpl.Fixture{arsenalChelsea(false)})

	require.NoError(t, f.sensor.Poll(context.Background()))

	attrs := f.sensor.Attributes()
	assert.Equal(t, "No games playing", attrs["status"])
	assert.Equal(t, 10, attrs["gameweek"])
	assert.Equal(t, []string{"Arsenal"}, attrs["tracked_teams"])
	assert.Equal(t, "unchanged", attrs["goal_detection"])

	kickoff, ok := attrs["next_kickoff"].(time.Time)
	require.True(t, ok)
	assert.True(t, kickoff.Equal(time.Date(2024, 10, 26, 16, 0, 0, 0, copenhagen)))
}

func TestSensor_StartSchedulesPollsUntilStopped(t *testing.T) {
	f := newFixture(t, preMatch, false, Options{})

	require.NoError(t, f.sensor.Start())
	assert.Error(t, f.sensor.Start(), "double start")

	// Day refresh plus live fetch, then sleep until kick-off
	assert.Eventually(t, func() bool { return f.provider.FixtureCalls() == 2 }, time.Second, 5*time.Millisecond)
	f.clock.BlockUntil(1)
	assert.Eventually(t, func() bool {
		return f.sensor.Health().NextWake.Equal(kickoff)
	}, time.Second, 5*time.Millisecond)

	f.provider.SetFixtures(gameweek, []fpl.Fixture{arsenalChelsea(true)})
	f.clock.Advance(kickoff.Sub(preMatch))
	assert.Eventually(t, func() bool { return f.provider.FixtureCalls() == 3 }, time.Second, 5*time.Millisecond)
	f.clock.BlockUntil(1)
	assert.Eventually(t, func() bool {
		return f.sensor.Health().NextWake.Equal(kickoff.Add(livescore.DefaultLiveInterval))
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "In Progress", f.sensor.CurrentState())

	f.clock.Advance(livescore.DefaultLiveInterval)
	assert.Eventually(t, func() bool { return f.provider.FixtureCalls() == 4 }, time.Second, 5*time.Millisecond)
	f.clock.BlockUntil(1)

	f.sensor.Stop()
	f.clock.Advance(livescore.DefaultLiveInterval)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 4, f.provider.FixtureCalls())
}

func TestSensor_IdleScheduleWakesAtKickoff(t *testing.T) {
	morning := time.Date(2024, 10, 26, 15, 0, 0, 0, copenhagen)
	f := newFixture(t, morning, false, Options{})
	f.provider.SetFixtures(gameweek, []fpl.Fixture{arsenalChelsea(false)})

	require.NoError(t, f.sensor.Start())
	defer f.sensor.Stop()

	f.clock.BlockUntil(1)
	assert.Eventually(t, func() bool {
		return f.sensor.Health().NextWake.Equal(time.Date(2024, 10, 26, 16, 0, 0, 0, copenhagen))
	}, time.Second, 5*time.Millisecond)
}

func TestSensor_ResetForcesRefresh(t *testing.T) {
	f := newFixture(t, matchTime, false, Options{})

	require.NoError(t, f.sensor.Start())
	defer f.sensor.Stop()

	assert.Eventually(t, func() bool { return f.provider.TeamCalls() == 20 }, time.Second, 5*time.Millisecond)
	f.clock.BlockUntil(1)

	require.NoError(t, f.sensor.Reset())
	assert.Eventually(t, func() bool { return f.provider.TeamCalls() == 40 }, time.Second, 5*time.Millisecond)

	actions := f.sensor.shadow.GetState().Outputs.RecentActions
	require.NotEmpty(t, actions)
	assert.Equal(t, "reset", actions[0].ActionType)
}

func TestSensor_ShadowStateRecordsPolls(t *testing.T) {
	f := newFixture(t, preMatch, false, Options{})
	ctx := context.Background()
	f.kickOff(t)

	require.NoError(t, f.sensor.Poll(ctx))
	f.clock.Advance(MinTimeBetweenUpdates)
	require.NoError(t, f.sensor.Poll(ctx))

	shadow, ok := f.sensor.GetShadowState().(*shadowstate.LiveScoreShadowState)
	require.True(t, ok)
	assert.True(t, shadow.Outputs.NewGoal)
	assert.Equal(t, "1-0", shadow.Outputs.Tally["Arsenal v. Chelsea"])
	assert.Equal(t, 10, shadow.Inputs.Current["gameweek"])
	require.Len(t, shadow.Outputs.RecentActions, 1)
	assert.Equal(t, "goal_signal", shadow.Outputs.RecentActions[0].ActionType)
}

func TestNewPlugin(t *testing.T) {
	mockClient := ha.NewMockClient()
	require.NoError(t, mockClient.Connect())
	manager := state.NewManager(mockClient, zap.NewNop(), false)
	tracker := shadowstate.NewTracker()

	ctx := &plugin.Context{
		HAClient:     mockClient,
		StateManager: manager,
		Provider:     fpl.NewPremierLeagueMock(gameweek),
		Clock:        clock.NewMockClock(matchTime),
		Shadow:       tracker,
		Logger:       zap.NewNop(),
		Config: &config.FPLConfig{
			Teams:         config.TeamsConfig{Team1: "Arsenal", Team2: "4"},
			FavTeam:       "Man Utd",
			GoalDetection: "changed",
			Timezone:      "Europe/Copenhagen",
		},
	}

	p, err := NewPlugin(ctx)
	require.NoError(t, err)
	assert.Equal(t, PluginName, p.Name())

	sensor, ok := p.(*Sensor)
	require.True(t, ok)
	assert.Equal(t, EntityName, sensor.FriendlyName())
	assert.Equal(t, livescore.DetectChanged, sensor.poller.GoalDetection())
	assert.Equal(t, []string{"Arsenal", "#4", "Man Utd"}, sensor.Health().TrackedTeams)

	_, ok = tracker.GetPluginState(PluginName)
	assert.True(t, ok)

	ctx.Config.GoalDetection = "sometimes"
	_, err = NewPlugin(ctx)
	assert.Error(t, err)

	_, err = NewPlugin(&plugin.Context{})
	assert.Error(t, err)
}

func TestRegister(t *testing.T) {
	registry := plugin.NewRegistry(zap.NewNop())
	require.NoError(t, Register(registry))

	info := registry.Get(PluginName)
	require.NotNil(t, info)
	assert.Equal(t, plugin.OrderSensor, info.Order)
}
