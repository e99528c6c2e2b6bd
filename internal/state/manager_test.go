package state

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"fpllive/internal/ha"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newSyncedManager(t *testing.T, readOnly bool, states map[string]string) (*Manager, *ha.MockClient) {
	t.Helper()
	mockClient := ha.NewMockClient()
	for entityID, value := range states {
		mockClient.SetState(entityID, value, nil)
	}
	require.NoError(t, mockClient.Connect())

	manager := NewManager(mockClient, zap.NewNop(), readOnly)
	require.NoError(t, manager.SyncFromHA())
	return manager, mockClient
}

func TestNewManager(t *testing.T) {
	manager := NewManager(ha.NewMockClient(), zap.NewNop(), false)
	assert.Equal(t, len(AllVariables), len(manager.variables))
	assert.False(t, manager.IsReadOnly())
}

func TestManager_SyncFromHA(t *testing.T) {
	manager, _ := newSyncedManager(t, false, map[string]string{
		"input_boolean.fpl_new_goal": "on",
		"input_number.fpl_gameweek":  "10",
		"input_text.fpl_status":      "In Progress",
		"input_text.fpl_match_tally": `{"Arsenal v. Chelsea":{"home_goals":1,"away_goals":0}}`,
	})

	newGoal, err := manager.GetBool(KeyNewGoal)
	require.NoError(t, err)
	assert.True(t, newGoal)

	gameweek, err := manager.GetNumber(KeyGameweek)
	require.NoError(t, err)
	assert.Equal(t, 10.0, gameweek)

	status, err := manager.GetString(KeyStatus)
	require.NoError(t, err)
	assert.Equal(t, "In Progress", status)

	var tally map[string]map[string]int
	require.NoError(t, manager.GetJSON(KeyMatchTally, &tally))
	assert.Equal(t, 1, tally["Arsenal v. Chelsea"]["home_goals"])

	// Missing entity falls back to its default
	lastError, err := manager.GetString(KeyLastError)
	require.NoError(t, err)
	assert.Empty(t, lastError)
}

func TestManager_TypeChecks(t *testing.T) {
	manager, _ := newSyncedManager(t, false, nil)

	_, err := manager.GetBool(KeyStatus)
	assert.Error(t, err)

	err = manager.SetString(KeyNewGoal, "on")
	assert.Error(t, err)

	_, err = manager.GetString("nonexistent")
	assert.Error(t, err)
}

func TestManager_SetPushesToHA(t *testing.T) {
	manager, mockClient := newSyncedManager(t, false, nil)

	require.NoError(t, manager.SetBool(KeyNewGoal, true))
	require.NoError(t, manager.SetString(KeyStatus, "In Progress"))
	require.NoError(t, manager.SetNumber(KeyGameweek, 11))
	require.NoError(t, manager.SetJSON(KeyMatchTally, map[string]map[string]int{
		"Arsenal v. Chelsea": {"home_goals": 1, "away_goals": 1},
	}))

	state, err := mockClient.GetState("input_boolean.fpl_new_goal")
	require.NoError(t, err)
	assert.Equal(t, "on", state.State)

	state, err = mockClient.GetState("input_text.fpl_status")
	require.NoError(t, err)
	assert.Equal(t, "In Progress", state.State)

	state, err = mockClient.GetState("input_number.fpl_gameweek")
	require.NoError(t, err)
	assert.Equal(t, "11", state.State)

	state, err = mockClient.GetState("input_text.fpl_match_tally")
	require.NoError(t, err)
	assert.JSONEq(t, `{"Arsenal v. Chelsea":{"home_goals":1,"away_goals":1}}`, state.State)
}

func TestManager_ReadOnlyKeepsWritesLocal(t *testing.T) {
	manager, mockClient := newSyncedManager(t, true, nil)
	mockClient.ClearServiceCalls()

	require.NoError(t, manager.SetBool(KeyNewGoal, true))
	require.NoError(t, manager.SetString(KeyStatus, "In Progress"))

	value, err := manager.GetBool(KeyNewGoal)
	require.NoError(t, err)
	assert.True(t, value)
	assert.Empty(t, mockClient.GetServiceCalls())
}

func TestManager_LocalOnlyNeverSynced(t *testing.T) {
	manager, mockClient := newSyncedManager(t, false, nil)
	mockClient.ClearServiceCalls()

	require.NoError(t, manager.SetJSON(KeyEntrySummary, map[string]interface{}{"team_name": "Dane Gang"}))

	var summary map[string]string
	require.NoError(t, manager.GetJSON(KeyEntrySummary, &summary))
	assert.Equal(t, "Dane Gang", summary["team_name"])
	assert.Empty(t, mockClient.GetServiceCalls())
}

func TestManager_RollbackOnPushFailure(t *testing.T) {
	manager, mockClient := newSyncedManager(t, false, map[string]string{
		"input_text.fpl_status": "No games playing",
	})

	mockClient.FailNext(errors.New("connection lost"))
	err := manager.SetString(KeyStatus, "In Progress")
	require.Error(t, err)

	status, err := manager.GetString(KeyStatus)
	require.NoError(t, err)
	assert.Equal(t, "No games playing", status)
}

func TestManager_CompareAndSwapBool(t *testing.T) {
	manager, _ := newSyncedManager(t, false, map[string]string{
		"input_boolean.fpl_reset": "on",
	})

	swapped, err := manager.CompareAndSwapBool(KeyReset, true, false)
	require.NoError(t, err)
	assert.True(t, swapped)

	swapped, err = manager.CompareAndSwapBool(KeyReset, true, false)
	require.NoError(t, err)
	assert.False(t, swapped)
}

func TestManager_SubscribeFollowsHA(t *testing.T) {
	manager, mockClient := newSyncedManager(t, false, map[string]string{
		"input_boolean.fpl_reset": "off",
	})

	var calls atomic.Int32
	sub, err := manager.Subscribe(KeyReset, func(key string, oldValue, newValue interface{}) {
		assert.Equal(t, KeyReset, key)
		assert.Equal(t, true, newValue)
		calls.Add(1)
	})
	require.NoError(t, err)

	mockClient.SetState("input_boolean.fpl_reset", "on", nil)
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)

	// Same value again does not notify
	mockClient.SetState("input_boolean.fpl_reset", "on", nil)

	sub.Unsubscribe()
	mockClient.SetState("input_boolean.fpl_reset", "off", nil)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEntityName(t *testing.T) {
	assert.Equal(t, "fpl_new_goal", entityName("input_boolean.fpl_new_goal"))
	assert.Equal(t, "plain", entityName("plain"))
}
