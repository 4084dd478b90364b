package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateTransitions(t *testing.T) {
	allowed := []struct{ from, to State }{
		{StateDisconnected, StateConnecting},
		{StateConnecting, StateConnected},
		{StateConnecting, StateError},
		{StateConnecting, StateDisconnected},
		{StateConnected, StateDisconnected},
		{StateError, StateConnecting},
		{StateError, StateDisconnected},
	}
	for _, tt := range allowed {
		assert.True(t, canTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	denied := []struct{ from, to State }{
		{StateDisconnected, StateConnected},
		{StateDisconnected, StateError},
		{StateConnected, StateConnecting},
		{StateConnected, StateError},
		{StateError, StateConnected},
	}
	for _, tt := range denied {
		assert.False(t, canTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestStateValid(t *testing.T) {
	for _, s := range States {
		assert.True(t, s.Valid())
	}
	assert.False(t, State("reconnecting").Valid())
}
