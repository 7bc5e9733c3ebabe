package state

import "slices"

// next lists the states reachable from each state. Idle and Error are
// reachable from everywhere, and re-entering the current state is allowed.
var next = map[State][]State{
	StateIdle:                  {StateAwaitingCloneToken, StateAwaitingBroadcastText, StateConfirmingBroadcast},
	StateAwaitingBroadcastText: {StateConfirmingBroadcast},
	StateConfirmingBroadcast:   {StateAwaitingBroadcastText},
}

// IsTransitionAllowed reports whether a dialog may move from one state to another.
func IsTransitionAllowed(from, to State) bool {
	switch {
	case to == StateIdle, to == StateError, from == to:
		return true
	default:
		return slices.Contains(next[from], to)
	}
}
