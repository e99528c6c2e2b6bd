package state

// StateType is the type of a state variable
type StateType string

const (
	TypeBool   StateType = "bool"
	TypeString StateType = "string"
	TypeNumber StateType = "number"
	TypeJSON   StateType = "json"
)

// StateVariable binds a Go-side key to a Home Assistant helper entity
type StateVariable struct {
	Key       string      // Go-side name (e.g., "fplNewGoal")
	EntityID  string      // HA entity ID (e.g., "input_boolean.fpl_new_goal")
	Type      StateType   // bool, string, number, json
	Default   interface{} // value used until HA reports one
	LocalOnly bool        // kept in memory only, never synced with HA
}

// Keys of the published sensor outputs
const (
	KeyNewGoal      = "fplNewGoal"
	KeyStatus       = "fplStatus"
	KeyMatchTally   = "fplMatchTally"
	KeyGameweek     = "fplGameweek"
	KeyLastError    = "fplLastError"
	KeyMatchLive    = "fplMatchLive"
	KeyReset        = "fplReset"
	KeyEntrySummary = "fplEntrySummary"
)

// AllVariables lists every state variable the sensor reads or writes
var AllVariables = []StateVariable{
	{Key: KeyNewGoal, EntityID: "input_boolean.fpl_new_goal", Type: TypeBool, Default: false},
	{Key: KeyMatchLive, EntityID: "input_boolean.fpl_match_live", Type: TypeBool, Default: false},
	{Key: KeyReset, EntityID: "input_boolean.fpl_reset", Type: TypeBool, Default: false},

	{Key: KeyGameweek, EntityID: "input_number.fpl_gameweek", Type: TypeNumber, Default: 0.0},

	{Key: KeyStatus, EntityID: "input_text.fpl_status", Type: TypeString, Default: ""},
	{Key: KeyLastError, EntityID: "input_text.fpl_last_error", Type: TypeString, Default: ""},
	{Key: KeyMatchTally, EntityID: "input_text.fpl_match_tally", Type: TypeJSON, Default: map[string]interface{}{}},

	// Manager summary is too large for an input_text helper
	{Key: KeyEntrySummary, Type: TypeJSON, Default: map[string]interface{}{}, LocalOnly: true},
}

// VariablesByKey indexes AllVariables by key
func VariablesByKey() map[string]StateVariable {
	vars := make(map[string]StateVariable, len(AllVariables))
	for _, v := range AllVariables {
		vars[v.Key] = v
	}
	return vars
}

// VariablesByEntityID indexes the synced variables by entity ID
func VariablesByEntityID() map[string]StateVariable {
	vars := make(map[string]StateVariable, len(AllVariables))
	for _, v := range AllVariables {
		if v.LocalOnly {
			continue
		}
		vars[v.EntityID] = v
	}
	return vars
}
