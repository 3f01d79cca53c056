package jobs

import (
	"encoding/json"
	"time"

	"github.com/mixloft/mixloft-server/ccc/faults"
)

// State represents the lifecycle state of a job
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// IsTerminal reports whether a job in this state can no longer change
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Job is a unit of asynchronous work. It is owned exclusively by the Store;
// workers mutate its state only through the Store's claim/progress/complete/fail
// operations.
type Job struct {
	ID            string
	Queue         string
	Payload       json.RawMessage
	State         State
	Progress      float64
	ProgressLabel string
	Attempts      int
	Result        json.RawMessage
	ErrorKind     faults.Kind
	ErrorMessage  string
	CreatedAt     time.Time
	DelayUntil    *time.Time
	ClaimedAt     *time.Time
}

// UnmarshalPayload decodes the job payload into the given value
func (j *Job) UnmarshalPayload(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// EnqueueOptions controls optional enqueue behavior
type EnqueueOptions struct {
	// Delay postpones the job's eligibility for claiming
	Delay time.Duration
}

// Status is the externally visible summary of a job, as returned to
// status pollers. Internal details (payload, claim times) are not exposed.
type Status struct {
	ID            string          `json:"id"`
	State         State           `json:"state"`
	Progress      float64         `json:"progress"`
	ProgressLabel string          `json:"progress_label,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         *StatusError    `json:"error,omitempty"`
}

// StatusError is the error surface of a failed job
type StatusError struct {
	Kind    faults.Kind `json:"kind"`
	Message string      `json:"message"`
}

// StatusOf builds the externally visible status of a job. Delayed jobs are
// reported as waiting; the delay is a scheduling detail, not a consumer state.
func StatusOf(job *Job) Status {
	state := job.State
	if state == StateDelayed {
		state = StateWaiting
	}

	status := Status{
		ID:            job.ID,
		State:         state,
		Progress:      job.Progress,
		ProgressLabel: job.ProgressLabel,
		Result:        job.Result,
	}

	if job.State == StateFailed {
		status.Error = &StatusError{
			Kind:    job.ErrorKind,
			Message: job.ErrorMessage,
		}
	}

	return status
}
