package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransitionAllowed(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateAwaitingCloneToken, true},
		{StateIdle, StateAwaitingBroadcastText, true},
		{StateIdle, StateConfirmingBroadcast, true},
		{StateAwaitingBroadcastText, StateConfirmingBroadcast, true},
		{StateConfirmingBroadcast, StateAwaitingBroadcastText, true},
		{StateAwaitingCloneToken, StateAwaitingCloneToken, true},
		{StateAwaitingCloneToken, StateAwaitingBroadcastText, false},
		{StateAwaitingCloneToken, StateConfirmingBroadcast, false},
		{State("unknown"), StateAwaitingCloneToken, false},
		{State("unknown"), StateIdle, true},
		{StateConfirmingBroadcast, StateError, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, IsTransitionAllowed(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}
