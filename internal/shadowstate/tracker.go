package shadowstate

import (
	"sync"
	"time"
)

// maxRecentActions bounds LiveScoreOutputs.RecentActions
const maxRecentActions = 20

// Tracker holds the shadow state providers of all plugins
type Tracker struct {
	mu        sync.RWMutex
	providers map[string]func() PluginShadowState
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{providers: make(map[string]func() PluginShadowState)}
}

// RegisterPluginProvider registers a function returning a plugin's current shadow state
func (t *Tracker) RegisterPluginProvider(pluginName string, provider func() PluginShadowState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.providers[pluginName] = provider
}

// GetPluginState returns one plugin's shadow state
func (t *Tracker) GetPluginState(pluginName string) (PluginShadowState, bool) {
	t.mu.RLock()
	provider, ok := t.providers[pluginName]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return provider(), true
}

// GetAllPluginStates returns every registered plugin's shadow state
func (t *Tracker) GetAllPluginStates() map[string]PluginShadowState {
	t.mu.RLock()
	providers := make(map[string]func() PluginShadowState, len(t.providers))
	for name, provider := range t.providers {
		providers[name] = provider
	}
	t.mu.RUnlock()

	states := make(map[string]PluginShadowState, len(providers))
	for name, provider := range providers {
		states[name] = provider()
	}
	return states
}

// LiveScoreTracker maintains the FPL sensor's shadow state
type LiveScoreTracker struct {
	mu    sync.RWMutex
	state *LiveScoreShadowState
	now   func() time.Time
}

// NewLiveScoreTracker creates a tracker; now supplies timestamps
func NewLiveScoreTracker(pluginName string, now func() time.Time) *LiveScoreTracker {
	if now == nil {
		now = time.Now
	}
	return &LiveScoreTracker{
		state: NewLiveScoreShadowState(pluginName),
		now:   now,
	}
}

// UpdateCurrentInputs merges inputs into the current input snapshot
func (lt *LiveScoreTracker) UpdateCurrentInputs(inputs map[string]interface{}) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	for key, value := range inputs {
		lt.state.Inputs.Current[key] = value
	}
	lt.state.Metadata.LastUpdated = lt.now()
}

// RecordPoll stores the outcome of one poll
func (lt *LiveScoreTracker) RecordPoll(at time.Time, newGoal bool, status string, tally map[string]string, errorClass string, nextWake time.Time) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	lt.state.Outputs.NewGoal = newGoal
	lt.state.Outputs.Status = status
	lt.state.Outputs.Tally = copyStrings(tally)
	lt.state.Outputs.LastPoll = at
	lt.state.Outputs.NextWake = nextWake
	lt.state.Outputs.LastErrorClass = errorClass
	lt.state.Metadata.LastUpdated = lt.now()
}

// RecordAction appends an action and snapshots the inputs that led to it
func (lt *LiveScoreTracker) RecordAction(actionType, reason string, details map[string]interface{}) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	now := lt.now()
	lt.state.Inputs.AtLastAction = copyValues(lt.state.Inputs.Current)
	lt.state.Outputs.RecentActions = append(lt.state.Outputs.RecentActions, ActionRecord{
		Timestamp:  now,
		ActionType: actionType,
		Reason:     reason,
		Details:    details,
	})
	if n := len(lt.state.Outputs.RecentActions); n > maxRecentActions {
		lt.state.Outputs.RecentActions = lt.state.Outputs.RecentActions[n-maxRecentActions:]
	}
	lt.state.Metadata.LastUpdated = now
}

// GetState returns a deep copy of the shadow state
func (lt *LiveScoreTracker) GetState() *LiveScoreShadowState {
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	out := *lt.state
	out.Inputs = Inputs{
		Current:      copyValues(lt.state.Inputs.Current),
		AtLastAction: copyValues(lt.state.Inputs.AtLastAction),
	}
	out.Outputs.Tally = copyStrings(lt.state.Outputs.Tally)
	out.Outputs.RecentActions = append([]ActionRecord(nil), lt.state.Outputs.RecentActions...)
	return &out
}

func copyValues(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
