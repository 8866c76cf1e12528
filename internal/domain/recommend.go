package domain

import "fmt"

// State is a recommender state.
type State int

const (
	StateNormal State = iota
	StateAnomalyDetected
	StateMitigated
)

// States lists every state in enumeration order.
var States = []State{StateNormal, StateAnomalyDetected, StateMitigated}

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateNormal:
		return "Normal"
	case StateAnomalyDetected:
		return "AnomalyDetected"
	case StateMitigated:
		return "Mitigated"
	default:
		return "Unknown"
	}
}

// ParseState resolves a state name.
func ParseState(name string) (State, error) {
	for _, s := range States {
		if s.String() == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", name, ErrUnknownState)
}

// Action is a mitigation action.
type Action int

// Action enumeration order is also the tie-break order for equal values.
const (
	ActionMonitor Action = iota
	ActionIsolateDevice
	ActionDeployPatch
	ActionAlertAdmin
)

// Actions lists every action in enumeration order.
var Actions = []Action{ActionMonitor, ActionIsolateDevice, ActionDeployPatch, ActionAlertAdmin}

// String returns the action name.
func (a Action) String() string {
	switch a {
	case ActionMonitor:
		return "Monitor"
	case ActionIsolateDevice:
		return "IsolateDevice"
	case ActionDeployPatch:
		return "DeployPatch"
	case ActionAlertAdmin:
		return "AlertAdmin"
	default:
		return "Unknown"
	}
}

// ParseAction resolves an action name.
func ParseAction(name string) (Action, error) {
	for _, a := range Actions {
		if a.String() == name {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%q: %w", name, ErrUnknownAction)
}

// MarshalText implements encoding.TextMarshaler.
func (a Action) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Action) UnmarshalText(b []byte) error {
	parsed, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Recommendation is the recommender's answer for one scored batch.
type Recommendation struct {
	HighRisk []string                      `json:"high_risk_devices"`
	Action   Action                        `json:"recommended_action"`
	QTable   map[string]map[string]float64 `json:"q_table"`
}
