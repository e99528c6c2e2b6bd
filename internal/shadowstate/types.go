// Package shadowstate records the inputs and outputs behind each decision a
// plugin makes so they can be inspected over the API.
package shadowstate

import "time"

// PluginShadowState is implemented by every plugin's shadow state
type PluginShadowState interface {
	GetCurrentInputs() map[string]interface{}
	GetLastActionInputs() map[string]interface{}
	GetOutputs() interface{}
	GetMetadata() StateMetadata
}

// StateMetadata describes a shadow state snapshot
type StateMetadata struct {
	LastUpdated time.Time `json:"lastUpdated"`
	PluginName  string    `json:"pluginName"`
}

// ActionRecord is one action taken by a plugin
type ActionRecord struct {
	Timestamp  time.Time              `json:"timestamp"`
	ActionType string                 `json:"actionType"`
	Reason     string                 `json:"reason"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Inputs holds the latest inputs and those seen when the last action fired
type Inputs struct {
	Current      map[string]interface{} `json:"current"`
	AtLastAction map[string]interface{} `json:"atLastAction"`
}

// LiveScoreShadowState is the shadow state of the FPL sensor
type LiveScoreShadowState struct {
	Plugin   string           `json:"plugin"`
	Inputs   Inputs           `json:"inputs"`
	Outputs  LiveScoreOutputs `json:"outputs"`
	Metadata StateMetadata    `json:"metadata"`
}

// LiveScoreOutputs is what the sensor published on its last polls
type LiveScoreOutputs struct {
	NewGoal        bool              `json:"newGoal"`
	Status         string            `json:"status"`
	Tally          map[string]string `json:"tally"`
	LastPoll       time.Time         `json:"lastPoll"`
	NextWake       time.Time         `json:"nextWake"`
	LastErrorClass string            `json:"lastErrorClass,omitempty"`
	RecentActions  []ActionRecord    `json:"recentActions"`
}

// GetCurrentInputs implements PluginShadowState
func (s *LiveScoreShadowState) GetCurrentInputs() map[string]interface{} {
	return s.Inputs.Current
}

// GetLastActionInputs implements PluginShadowState
func (s *LiveScoreShadowState) GetLastActionInputs() map[string]interface{} {
	return s.Inputs.AtLastAction
}

// GetOutputs implements PluginShadowState
func (s *LiveScoreShadowState) GetOutputs() interface{} {
	return s.Outputs
}

// GetMetadata implements PluginShadowState
func (s *LiveScoreShadowState) GetMetadata() StateMetadata {
	return s.Metadata
}

// NewLiveScoreShadowState creates an empty shadow state for pluginName
func NewLiveScoreShadowState(pluginName string) *LiveScoreShadowState {
	return &LiveScoreShadowState{
		Plugin: pluginName,
		Inputs: Inputs{
			Current:      make(map[string]interface{}),
			AtLastAction: make(map[string]interface{}),
		},
		Outputs: LiveScoreOutputs{
			Tally: make(map[string]string),
		},
		Metadata: StateMetadata{PluginName: pluginName},
	}
}
