// ABOUTME: Lifecycle states of the bridge server and the allowed transitions between them
// ABOUTME: Starting -> HealthChecking -> Ready -> Draining -> Stopped, with Stopped reachable from anywhere

package gateway

import "fmt"

// State is a lifecycle phase of the server.
type State int

const (
	StateStarting State = iota
	StateHealthChecking
	StateReady
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateHealthChecking:
		return "health_checking"
	case StateReady:
		return "ready"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// next lists the forward transitions. Stopped is terminal.
var next = map[State]State{
	StateStarting:       StateHealthChecking,
	StateHealthChecking: StateReady,
	StateReady:          StateDraining,
	StateDraining:       StateStopped,
}

// canTransition reports whether from -> to is allowed.
func canTransition(from, to State) bool {
	if from == StateStopped {
		return false
	}
	if to == StateStopped {
		return true
	}
	n, ok := next[from]
	return ok && n == to
}
