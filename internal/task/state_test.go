package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Suspended, "suspended"},
		{Runnable, "runnable"},
		{Running, "running"},
		{Terminated, "terminated"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    State
		to      State
		allowed bool
	}{
		{Suspended, Runnable, true},
		{Suspended, Terminated, true},
		{Suspended, Running, false},

		{Runnable, Running, true},
		{Runnable, Terminated, true},
		{Runnable, Suspended, false},

		{Running, Suspended, true},
		{Running, Runnable, true},
		{Running, Terminated, true},

		{Terminated, Suspended, false},
		{Terminated, Runnable, false},
		{Terminated, Running, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStateMachine_Transition(t *testing.T) {
	tk := New(nil, 1)
	sm := NewStateMachine(tk)

	require := assert.New(t)
	require.Equal(Suspended, tk.state)

	require.NoError(sm.Transition(Runnable))
	require.Equal(Runnable, tk.state)

	require.NoError(sm.Transition(Running))
	require.Equal(Running, tk.state)

	require.ErrorIs(sm.Transition(Running), ErrInvalidTransition)
	require.Equal(Running, tk.state, "a rejected transition leaves state unchanged")

	require.NoError(sm.Transition(Terminated))
	require.ErrorIs(sm.Transition(Runnable), ErrInvalidTransition)
}
