package models

// RunState is a run's position in the state machine
// Idle → Preparing → (Processing → Pausing)* → Processing → Completed → Idle
type RunState string

const (
	RunStateIdle       RunState = "idle"
	RunStatePreparing  RunState = "preparing"
	RunStateProcessing RunState = "processing"
	RunStatePausing    RunState = "pausing"
	RunStateCompleted  RunState = "completed"
)

// String returns the string representation of RunState
func (s RunState) String() string {
	return string(s)
}

// IsActive returns true while batches are still being worked on
func (s RunState) IsActive() bool {
	return s == RunStatePreparing || s == RunStateProcessing || s == RunStatePausing
}

// IsFinished returns true once every batch has been handled. A stored run only
// returns to idle after completion, when its status is cleared.
func (s RunState) IsFinished() bool {
	return s == RunStateCompleted || s == RunStateIdle
}
