package orchestrator

import (
	"github.com/vanrensburgpierre12-art/ITProduct-scraper/pkg/store"
)

// State is the orchestrator's run state.
type State string

const (
	StateIdle                State = "idle"
	StateRunning             State = "running"
	StateCompleted           State = "completed"
	StateCompletedWithErrors State = "completed_with_errors"
	StateFailed              State = "failed"
)

// allowedTransitions lists the legal next states. Terminal states are
// passed through on the way back to idle.
var allowedTransitions = map[State][]State{
	StateIdle:                {StateRunning},
	StateRunning:             {StateCompleted, StateCompletedWithErrors, StateFailed},
	StateCompleted:           {StateIdle},
	StateCompletedWithErrors: {StateIdle},
	StateFailed:              {StateIdle},
}

func isAllowedTransition(from, to State) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}

	return false
}

func stateForStatus(status store.RunStatus) State {
	switch status {
	case store.RunCompleted:
		return StateCompleted
	case store.RunFailed:
		return StateFailed
	default:
		return StateCompletedWithErrors
	}
}

// overallStatus derives a run's status from its sources: completed when
// all succeeded, failed when every source failed without finding anything,
// completed_with_errors otherwise. Cancelled sources finish succeeded, so
// cancellation alone never degrades a run.
func overallStatus(run *store.RunRecord) store.RunStatus {
	allSucceeded, allFailedEmpty := true, true

	for _, s := range run.Sources {
		if s.Status != store.SourceSucceeded {
			allSucceeded = false
		}

		if s.Status != store.SourceFailed || s.Found > 0 {
			allFailedEmpty = false
		}
	}

	switch {
	case allSucceeded:
		return store.RunCompleted
	case allFailedEmpty:
		return store.RunFailed
	default:
		return store.RunCompletedWithErrors
	}
}
