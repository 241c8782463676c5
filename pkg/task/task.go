// Package task defines the analysis task model shared by the pipeline
// engine, the result store, and the API surface.
package task

import (
	"fmt"
	"time"
)

// Status represents task state
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal returns true if no further state transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Task represents one in-flight or completed analysis request.
type Task struct {
	// ID is the unique task identifier, minted at submission
	ID string `json:"id"`

	// Kind discriminates which stage list and scorer apply
	Kind string `json:"kind"`

	// Status is the current lifecycle state
	Status Status `json:"status"`

	// Progress is an integer in [0,100]; reaches exactly 100 iff completed
	Progress int `json:"progress"`

	// CurrentStage is the label of the stage in flight, empty while queued
	CurrentStage string `json:"current_stage,omitempty"`

	// Stages is the full declared stage sequence for this task
	Stages []string `json:"stages"`

	// Params are the submission parameters, opaque beyond validation
	Params map[string]any `json:"params,omitempty"`

	// Result is the kind-specific payload, populated only when completed
	Result map[string]any `json:"result,omitempty"`

	// Error is the failure detail, populated only when failed
	Error string `json:"error,omitempty"`

	// CreatedAt is the submission timestamp
	CreatedAt time.Time `json:"created_at"`
}

// Clone returns a deep copy so callers never alias store-owned state.
func (t *Task) Clone() *Task {
	c := *t
	if t.Stages != nil {
		c.Stages = make([]string, len(t.Stages))
		copy(c.Stages, t.Stages)
	}
	c.Params = copyMap(t.Params)
	c.Result = copyMap(t.Result)
	return &c
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

// ValidationError indicates malformed or missing submission parameters.
// It is surfaced synchronously to the submitter; the task is never created.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Field, e.Reason)
}
