package state

import (
	"testing"
	"time"

	"fpllive/internal/ha"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestComputedState_InitialMatchLive(t *testing.T) {
	testCases := []struct {
		status   string
		expected bool
	}{
		{status: "In Progress", expected: true},
		{status: "No games playing", expected: false},
		{status: "", expected: false},
	}

	for _, tc := range testCases {
		t.Run(tc.status, func(t *testing.T) {
			mockClient := ha.NewMockClient()
			mockClient.SetState("input_text.fpl_status", tc.status, nil)
			mockClient.SetState("input_boolean.fpl_match_live", "off", nil)
			mockClient.Connect()

			manager := NewManager(mockClient, zap.NewNop(), false)
			require.NoError(t, manager.SyncFromHA())

			sub, err := manager.SetupComputedState()
			require.NoError(t, err)
			defer sub.Unsubscribe()

			live, err := manager.GetBool(KeyMatchLive)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, live)
		})
	}
}

func TestComputedState_FollowsStatus(t *testing.T) {
	mockClient := ha.NewMockClient()
	mockClient.SetState("input_text.fpl_status", "No games playing", nil)
	mockClient.Connect()

	manager := NewManager(mockClient, zap.NewNop(), false)
	require.NoError(t, manager.SyncFromHA())

	sub, err := manager.SetupComputedState()
	require.NoError(t, err)
	defer sub.Unsubscribe()

	require.NoError(t, manager.SetString(KeyStatus, "In Progress"))
	assert.Eventually(t, func() bool {
		live, _ := manager.GetBool(KeyMatchLive)
		return live
	}, time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		state, err := mockClient.GetState("input_boolean.fpl_match_live")
		return err == nil && state.State == "on"
	}, time.Second, 10*time.Millisecond)

	// A change made in Home Assistant is followed as well
	mockClient.SetState("input_text.fpl_status", "No games playing", nil)
	assert.Eventually(t, func() bool {
		live, _ := manager.GetBool(KeyMatchLive)
		return !live
	}, time.Second, 10*time.Millisecond)
}
