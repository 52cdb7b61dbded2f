package fulfillment

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// ProcessState
// ---------------------------------------------------------------------------

// ProcessState is the lifecycle state of one pipeline run
type ProcessState string

const (
	ProcessStateReceived   ProcessState = "received"
	ProcessStateFetched    ProcessState = "fetched"
	ProcessStateMapped     ProcessState = "mapped"
	ProcessStateValidated  ProcessState = "validated"
	ProcessStateDelivering ProcessState = "delivering"
	ProcessStateSucceeded  ProcessState = "succeeded"
	ProcessStateFailed     ProcessState = "failed"
)

// processStateOrder is the forward sequence of non-failed states.
var processStateOrder = map[ProcessState]int{
	ProcessStateReceived:   0,
	ProcessStateFetched:    1,
	ProcessStateMapped:     2,
	ProcessStateValidated:  3,
	ProcessStateDelivering: 4,
	ProcessStateSucceeded:  5,
}

// IsValid checks if the state is a known value
func (s ProcessState) IsValid() bool {
	if s == ProcessStateFailed {
		return true
	}
	_, ok := processStateOrder[s]
	return ok
}

// IsTerminal returns true for succeeded and failed
func (s ProcessState) IsTerminal() bool {
	return s == ProcessStateSucceeded || s == ProcessStateFailed
}

// String returns the string representation
func (s ProcessState) String() string {
	return string(s)
}

// CanTransitionTo reports whether next directly follows s.
// Any non-terminal state may fail; otherwise only the next state in sequence is allowed.
func (s ProcessState) CanTransitionTo(next ProcessState) bool {
	if s.IsTerminal() {
		return false
	}
	if next == ProcessStateFailed {
		return true
	}
	from, ok := processStateOrder[s]
	if !ok {
		return false
	}
	to, ok := processStateOrder[next]
	return ok && to == from+1
}

// ---------------------------------------------------------------------------
// ProcessRecord
// ---------------------------------------------------------------------------

// ProcessStep records when a state was entered
type ProcessStep struct {
	State ProcessState `json:"state"`
	At    time.Time    `json:"at"`
}

// ProcessRecord tracks one webhook-triggered pipeline run.
// It is mutated only by the process coordinator.
type ProcessRecord struct {
	ProcessID string       `json:"processId"`
	OrderID   string       `json:"orderId"`
	ContactID string       `json:"contactId,omitempty"`
	State     ProcessState `json:"state"`

	// FailedStage is the state the run was in when it failed
	FailedStage  ProcessState `json:"failedStage,omitempty"`
	ErrorCode    string       `json:"errorCode,omitempty"`
	ErrorMessage string       `json:"errorMessage,omitempty"`

	WMSOrderNumber string `json:"wmsOrderNumber,omitempty"`
	ConfirmationID string `json:"confirmationId,omitempty"`
	Attempts       int    `json:"attempts"`

	Steps     []ProcessStep `json:"steps"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// NewProcessRecord creates a record in the received state.
func NewProcessRecord(processID, orderID, contactID string, now time.Time) *ProcessRecord {
	return &ProcessRecord{
		ProcessID: processID,
		OrderID:   orderID,
		ContactID: contactID,
		State:     ProcessStateReceived,
		Steps:     []ProcessStep{{State: ProcessStateReceived, At: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Transition moves the record forward to next.
func (r *ProcessRecord) Transition(next ProcessState, now time.Time) error {
	if !r.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, next)
	}
	r.State = next
	r.Steps = append(r.Steps, ProcessStep{State: next, At: now})
	r.UpdatedAt = now
	return nil
}

// Fail moves the record to failed, keeping the stage it failed in and the error code.
func (r *ProcessRecord) Fail(cause error, now time.Time) error {
	stage := r.State
	if err := r.Transition(ProcessStateFailed, now); err != nil {
		return err
	}
	r.FailedStage = stage
	r.ErrorCode = ErrorCode(cause)
	r.ErrorMessage = "unknown failure"
	if cause != nil {
		r.ErrorMessage = cause.Error()
	}
	return nil
}

// Succeed moves a delivering record to succeeded and stores the warehouse confirmation.
func (r *ProcessRecord) Succeed(result *DeliveryResult, now time.Time) error {
	if err := r.Transition(ProcessStateSucceeded, now); err != nil {
		return err
	}
	if result != nil {
		r.WMSOrderNumber = result.OrderNumber
		r.ConfirmationID = result.ConfirmationID
		r.Attempts = result.Attempts
	}
	return nil
}

// IsTerminal returns true once the run has succeeded or failed
func (r *ProcessRecord) IsTerminal() bool {
	return r.State.IsTerminal()
}

// Clone returns a deep copy safe to hand out of a repository.
func (r *ProcessRecord) Clone() *ProcessRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.Steps = append([]ProcessStep(nil), r.Steps...)
	return &c
}
