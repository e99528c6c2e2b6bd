package state

import "go.uber.org/zap"

// liveStatus is the status label that marks a tracked fixture in play
const liveStatus = "In Progress"

// SetupComputedState keeps derived variables in step with their inputs:
//   - fplMatchLive = fplStatus == "In Progress"
func (m *Manager) SetupComputedState() (Subscription, error) {
	if err := m.recomputeMatchLive(); err != nil {
		return nil, err
	}

	sub, err := m.Subscribe(KeyStatus, func(key string, oldValue, newValue interface{}) {
		if err := m.recomputeMatchLive(); err != nil {
			m.logger.Error("Failed to recompute fplMatchLive",
				zap.String("trigger", key),
				zap.Error(err))
		}
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Computed state initialized",
		zap.Strings("variables", []string{KeyMatchLive}))
	return sub, nil
}

func (m *Manager) recomputeMatchLive() error {
	status, err := m.GetString(KeyStatus)
	if err != nil {
		return err
	}
	live := status == liveStatus

	current, err := m.GetBool(KeyMatchLive)
	if err == nil && current == live {
		return nil
	}
	return m.SetBool(KeyMatchLive, live)
}
