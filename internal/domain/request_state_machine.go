package domain

import (
	"fmt"

	"github.com/studioflow/backend/internal/domain/models"
)

// RequestTransition represents an action that can change an approval request's state
type RequestTransition string

const (
	// TransitionApprove completes the request as approved
	TransitionApprove RequestTransition = "Approve"
	// TransitionReject terminates the request as rejected
	TransitionReject RequestTransition = "Reject"
	// TransitionRevise terminates the request with a revision request
	TransitionRevise RequestTransition = "Revise"
	// TransitionCancel withdraws the request
	TransitionCancel RequestTransition = "Cancel"
)

// RequestStateMachine enforces valid state transitions for approval requests.
// Invalid transitions return an error (fail-fast approach).
type RequestStateMachine struct {
	// transitions maps (current state, transition) -> next state
	transitions map[stateTransitionKey]models.RequestStatus
}

type stateTransitionKey struct {
	state      models.RequestStatus
	transition RequestTransition
}

// NewRequestStateMachine creates a state machine with the approval lifecycle
// rules. Pending is the only non-terminal state:
//
//	            [Pending]
//	   ┌─────────┬───┴────┬──────────┐
//	Approve   Reject   Revise     Cancel
//	   │         │        │          │
//	   ▼         ▼        ▼          ▼
//	[Approved][Rejected][RevisionRequested][Cancelled]
//
// A revision-requested request is never resumed; re-submission creates a new
// request.
func NewRequestStateMachine() *RequestStateMachine {
	sm := &RequestStateMachine{
		transitions: make(map[stateTransitionKey]models.RequestStatus),
	}

	sm.addTransition(models.RequestPending, TransitionApprove, models.RequestApproved)
	sm.addTransition(models.RequestPending, TransitionReject, models.RequestRejected)
	sm.addTransition(models.RequestPending, TransitionRevise, models.RequestRevisionRequested)
	sm.addTransition(models.RequestPending, TransitionCancel, models.RequestCancelled)

	return sm
}

func (sm *RequestStateMachine) addTransition(from models.RequestStatus, via RequestTransition, to models.RequestStatus) {
	key := stateTransitionKey{state: from, transition: via}
	sm.transitions[key] = to
}

// Transition attempts to transition from the current state using the given action.
// Returns the new state or an error if the transition is invalid.
func (sm *RequestStateMachine) Transition(current models.RequestStatus, action RequestTransition) (models.RequestStatus, error) {
	key := stateTransitionKey{state: current, transition: action}
	next, ok := sm.transitions[key]
	if !ok {
		return current, fmt.Errorf("invalid state transition: cannot %s from %s", action, current)
	}
	return next, nil
}

// CanTransition checks if a transition is valid without performing it.
func (sm *RequestStateMachine) CanTransition(current models.RequestStatus, action RequestTransition) bool {
	key := stateTransitionKey{state: current, transition: action}
	_, ok := sm.transitions[key]
	return ok
}

// ValidTransitions returns all valid transitions from the given state.
func (sm *RequestStateMachine) ValidTransitions(state models.RequestStatus) []RequestTransition {
	var result []RequestTransition
	for key := range sm.transitions {
		if key.state == state {
			result = append(result, key.transition)
		}
	}
	return result
}

// TransitionForDecision maps a step decision onto the request-level transition
// it would cause if it completed the request.
func TransitionForDecision(d models.Decision) RequestTransition {
	switch d {
	case models.DecisionReject:
		return TransitionReject
	case models.DecisionRevise:
		return TransitionRevise
	default:
		return TransitionApprove
	}
}
