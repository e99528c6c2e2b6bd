package reset

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"fpllive/internal/ha"
	"fpllive/internal/state"
	"fpllive/pkg/plugin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockResettable counts Reset() calls
type mockResettable struct {
	calls atomic.Int32
	err   error
}

func (m *mockResettable) Reset() error {
	m.calls.Add(1)
	return m.err
}

func createTestManager(t *testing.T, readOnly bool) (*state.Manager, *ha.MockClient) {
	t.Helper()
	mockClient := ha.NewMockClient()
	mockClient.SetState("input_boolean.fpl_reset", "off", nil)
	require.NoError(t, mockClient.Connect())

	manager := state.NewManager(mockClient, zap.NewNop(), readOnly)
	require.NoError(t, manager.SyncFromHA())
	return manager, mockClient
}

func TestCoordinator_ResetTrigger(t *testing.T) {
	manager, mockClient := createTestManager(t, false)
	first, second := &mockResettable{}, &mockResettable{}

	coordinator := NewCoordinator(manager, zap.NewNop(), false, []plugin.NamedResettable{
		{Name: "fplsensor", Plugin: first},
		{Name: "other", Plugin: second},
	})
	require.NoError(t, coordinator.Start())
	defer coordinator.Stop()

	mockClient.SetState("input_boolean.fpl_reset", "on", nil)

	assert.Eventually(t, func() bool { return coordinator.Resets() == 1 }, time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, first.calls.Load())
	assert.EqualValues(t, 1, second.calls.Load())

	haState, err := mockClient.GetState("input_boolean.fpl_reset")
	require.NoError(t, err)
	assert.Equal(t, "off", haState.State, "helper turned back off")

	reset, err := manager.GetBool(state.KeyReset)
	require.NoError(t, err)
	assert.False(t, reset)
}

func TestCoordinator_ContinuesPastFailures(t *testing.T) {
	manager, mockClient := createTestManager(t, false)
	failing := &mockResettable{err: errors.New("reset failed")}
	healthy := &mockResettable{}

	coordinator := NewCoordinator(manager, zap.NewNop(), false, []plugin.NamedResettable{
		{Name: "failing", Plugin: failing},
		{Name: "healthy", Plugin: healthy},
	})
	require.NoError(t, coordinator.Start())
	defer coordinator.Stop()

	mockClient.SetState("input_boolean.fpl_reset", "on", nil)

	assert.Eventually(t, func() bool { return coordinator.Resets() == 1 }, time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, failing.calls.Load())
	assert.EqualValues(t, 1, healthy.calls.Load())
}

func TestCoordinator_IgnoresTurningOff(t *testing.T) {
	manager, mockClient := createTestManager(t, false)
	mockClient.SetState("input_boolean.fpl_reset", "on", nil)
	require.NoError(t, manager.SyncFromHA())

	p := &mockResettable{}
	coordinator := NewCoordinator(manager, zap.NewNop(), false, []plugin.NamedResettable{{Name: "p", Plugin: p}})
	require.NoError(t, coordinator.Start())
	defer coordinator.Stop()

	mockClient.SetState("input_boolean.fpl_reset", "off", nil)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, coordinator.Resets())
	assert.Zero(t, p.calls.Load())
}

func TestCoordinator_ReadOnlyStillResets(t *testing.T) {
	manager, mockClient := createTestManager(t, true)
	p := &mockResettable{}

	coordinator := NewCoordinator(manager, zap.NewNop(), true, []plugin.NamedResettable{{Name: "p", Plugin: p}})
	require.NoError(t, coordinator.Start())
	defer coordinator.Stop()

	mockClient.ClearServiceCalls()
	mockClient.SetState("input_boolean.fpl_reset", "on", nil)

	assert.Eventually(t, func() bool { return coordinator.Resets() == 1 }, time.Second, 10*time.Millisecond)
	assert.Empty(t, mockClient.ServiceCallsFor("input_boolean.fpl_reset"), "read-only mode never writes to HA")
}

func TestCoordinator_StopUnsubscribes(t *testing.T) {
	manager, mockClient := createTestManager(t, false)
	p := &mockResettable{}

	coordinator := NewCoordinator(manager, zap.NewNop(), false, []plugin.NamedResettable{{Name: "p", Plugin: p}})
	require.NoError(t, coordinator.Start())
	coordinator.Stop()

	mockClient.SetState("input_boolean.fpl_reset", "on", nil)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, p.calls.Load())
	assert.Equal(t, "reset", coordinator.Name())
}
