package shadowstate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2024, 10, 26, 16, 30, 0, 0, time.UTC)
}

func TestTracker_RegisterAndGet(t *testing.T) {
	tracker := NewTracker()
	lt := NewLiveScoreTracker("fplsensor", fixedNow)
	tracker.RegisterPluginProvider("fplsensor", func() PluginShadowState { return lt.GetState() })

	state, ok := tracker.GetPluginState("fplsensor")
	require.True(t, ok)
	assert.Equal(t, "fplsensor", state.GetMetadata().PluginName)

	_, ok = tracker.GetPluginState("missing")
	assert.False(t, ok)

	all := tracker.GetAllPluginStates()
	assert.Len(t, all, 1)
}

func TestLiveScoreTracker_RecordPoll(t *testing.T) {
	lt := NewLiveScoreTracker("fplsensor", fixedNow)
	wake := fixedNow().Add(10 * time.Second)

	lt.RecordPoll(fixedNow(), true, "In Progress", map[string]string{"Arsenal v. Chelsea": "1-1"}, "", wake)

	state := lt.GetState()
	outputs := state.GetOutputs().(LiveScoreOutputs)
	assert.True(t, outputs.NewGoal)
	assert.Equal(t, "In Progress", outputs.Status)
	assert.Equal(t, "1-1", outputs.Tally["Arsenal v. Chelsea"])
	assert.Equal(t, wake, outputs.NextWake)
	assert.Equal(t, fixedNow(), state.Metadata.LastUpdated)
}

func TestLiveScoreTracker_RecordActionSnapshotsInputs(t *testing.T) {
	lt := NewLiveScoreTracker("fplsensor", fixedNow)

	lt.UpdateCurrentInputs(map[string]interface{}{"gameweek": 10})
	lt.RecordAction("goal_signal", "tally unchanged between polls", nil)
	lt.UpdateCurrentInputs(map[string]interface{}{"gameweek": 11})

	state := lt.GetState()
	assert.Equal(t, 11, state.GetCurrentInputs()["gameweek"])
	assert.Equal(t, 10, state.GetLastActionInputs()["gameweek"])
	require.Len(t, state.Outputs.RecentActions, 1)
	assert.Equal(t, "goal_signal", state.Outputs.RecentActions[0].ActionType)
}

func TestLiveScoreTracker_RecentActionsBounded(t *testing.T) {
	lt := NewLiveScoreTracker("fplsensor", fixedNow)
	for i := 0; i < maxRecentActions+5; i++ {
		lt.RecordAction("poll", fmt.Sprintf("poll %d", i), nil)
	}

	actions := lt.GetState().Outputs.RecentActions
	require.Len(t, actions, maxRecentActions)
	assert.Equal(t, "poll 5", actions[0].Reason)
}

func TestLiveScoreTracker_GetStateIsCopy(t *testing.T) {
	lt := NewLiveScoreTracker("fplsensor", fixedNow)
	lt.RecordPoll(fixedNow(), false, "No games playing", map[string]string{"A v. B": "0-0"}, "", fixedNow())

	state := lt.GetState()
	state.Outputs.Tally["A v. B"] = "9-9"
	state.Inputs.Current["x"] = 1

	fresh := lt.GetState()
	assert.Equal(t, "0-0", fresh.Outputs.Tally["A v. B"])
	assert.NotContains(t, fresh.Inputs.Current, "x")
}
