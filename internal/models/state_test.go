package models

import "testing"

func TestRunState_IsActive(t *testing.T) {
	tests := []struct {
		state    RunState
		expected bool
	}{
		{RunStateIdle, false},
		{RunStatePreparing, true},
		{RunStateProcessing, true},
		{RunStatePausing, true},
		{RunStateCompleted, false},
	}

	for _, test := range tests {
		if got := test.state.IsActive(); got != test.expected {
			t.Errorf("RunState(%s).IsActive() = %v, expected %v", test.state, got, test.expected)
		}
	}
}

func TestRunState_IsFinished(t *testing.T) {
	tests := []struct {
		state    RunState
		expected bool
	}{
		{RunStateIdle, true},
		{RunStatePreparing, false},
		{RunStateProcessing, false},
		{RunStatePausing, false},
		{RunStateCompleted, true},
	}

	for _, test := range tests {
		if got := test.state.IsFinished(); got != test.expected {
			t.Errorf("RunState(%s).IsFinished() = %v, expected %v", test.state, got, test.expected)
		}
	}
}
