// Package request implements the per-command request state machine
// (tcp_req): the object that tracks one NVMe command from capsule arrival
// through buffer resolution, bdev submission, and response transfer back
// to the host. Uses an explicit state field plus guarded transition
// methods with structured logging on every transition, adapted to
// NVMe/TCP's 15-state lifecycle.
package request

import "fmt"

// State is one of the 15 states a Request passes through.
type State int

const (
	StateFree State = iota
	StateNew
	StateNeedBuffer
	StateAwaitingZcopyStart
	StateZcopyStartCompleted
	StateAwaitingR2TAck
	StateTransferringHostToController
	StateReadyToExecute
	StateExecuting
	StateAwaitingZcopyCommit
	StateExecuted
	StateReadyToComplete
	StateTransferringControllerToHost
	StateAwaitingZcopyRelease
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "FREE"
	case StateNew:
		return "NEW"
	case StateNeedBuffer:
		return "NEED_BUFFER"
	case StateAwaitingZcopyStart:
		return "AWAITING_ZCOPY_START"
	case StateZcopyStartCompleted:
		return "ZCOPY_START_COMPLETED"
	case StateAwaitingR2TAck:
		return "AWAITING_R2T_ACK"
	case StateTransferringHostToController:
		return "TRANSFERRING_HOST_TO_CONTROLLER"
	case StateReadyToExecute:
		return "READY_TO_EXECUTE"
	case StateExecuting:
		return "EXECUTING"
	case StateAwaitingZcopyCommit:
		return "AWAITING_ZCOPY_COMMIT"
	case StateExecuted:
		return "EXECUTED"
	case StateReadyToComplete:
		return "READY_TO_COMPLETE"
	case StateTransferringControllerToHost:
		return "TRANSFERRING_CONTROLLER_TO_HOST"
	case StateAwaitingZcopyRelease:
		return "AWAITING_ZCOPY_RELEASE"
	case StateCompleted:
		return "COMPLETED"
	default:
		return "UNKNOWN"
	}
}

// validEdges enumerates the DAG of legal transitions; the only back-edge
// is COMPLETED -> FREE (request reuse).
// Every non-terminal state may also fail straight to EXECUTED (failure
// recorded, e.g. an illegal SGL at NEW or a bdev error at EXECUTING) in
// addition to its happy-path edge(s) below; this keeps the DAG invariant
// (§8 testable property 3) honest instead of bypassing it on failure.
var validEdges = map[State]map[State]bool{
	StateFree:                         {StateNew: true},
	StateNew:                          {StateNeedBuffer: true, StateReadyToExecute: true, StateExecuted: true},
	StateNeedBuffer:                   {StateAwaitingZcopyStart: true, StateReadyToExecute: true, StateAwaitingR2TAck: true, StateExecuted: true},
	StateAwaitingZcopyStart:           {StateZcopyStartCompleted: true, StateExecuted: true},
	StateZcopyStartCompleted:          {StateReadyToExecute: true, StateAwaitingR2TAck: true, StateExecuted: true},
	StateAwaitingR2TAck:               {StateTransferringHostToController: true, StateExecuted: true},
	StateTransferringHostToController: {StateReadyToExecute: true, StateExecuted: true},
	StateReadyToExecute:               {StateExecuting: true},
	StateExecuting:                    {StateAwaitingZcopyCommit: true, StateExecuted: true},
	StateAwaitingZcopyCommit:          {StateExecuted: true},
	StateExecuted:                     {StateReadyToComplete: true},
	StateReadyToComplete:              {StateTransferringControllerToHost: true, StateCompleted: true},
	StateTransferringControllerToHost: {StateAwaitingZcopyRelease: true, StateCompleted: true},
	StateAwaitingZcopyRelease:         {StateCompleted: true},
	StateCompleted:                    {StateFree: true},
}

// CanTransition reports whether from -> to is a legal edge in the state DAG.
func CanTransition(from, to State) bool {
	edges, ok := validEdges[from]
	if !ok {
		return false
	}
	return edges[to]
}

// TransitionError is returned by Request.SetState for an illegal edge.
type TransitionError struct {
	From, To State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("request: illegal state transition %s -> %s", e.From, e.To)
}
