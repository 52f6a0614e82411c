package prediction

// State is the lifecycle state of the serving model
type State int32

const (
	StateUnloaded State = iota
	StateLoading
	StateReady
	StateFailed
)

// States lists every state in order
var States = []State{StateUnloaded, StateLoading, StateReady, StateFailed}

// String returns string representation
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}
