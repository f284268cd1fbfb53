package saga

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Status represents the lifecycle state of a saga execution.
type Status string

const (
	StatusStarted      Status = "STARTED"
	StatusStepDone     Status = "STEP_DONE"
	StatusCompleted    Status = "COMPLETED"
	StatusCompensating Status = "COMPENSATING"
	StatusFailed       Status = "FAILED"
)

// Entry is one append-only row of the saga log.
type Entry struct {
	SagaID        string
	Status        Status
	CurrentStep   string
	Payload       string
	ErrorMessages string
	TraceID       string
	SpanID        string
	UpdatedAt     time.Time
}

// Repository persists saga log entries.
type Repository interface {
	Save(ctx context.Context, entry *Entry) error
}

// NewEntry builds a log entry carrying the trace of the active span in ctx.
func NewEntry(ctx context.Context, sagaID string, status Status, step, payload string, errs []string) *Entry {
	errJSON := "[]"
	if len(errs) > 0 {
		if b, err := json.Marshal(errs); err == nil {
			errJSON = string(b)
		}
	}
	entry := &Entry{
		SagaID:        sagaID,
		Status:        status,
		CurrentStep:   step,
		Payload:       payload,
		ErrorMessages: errJSON,
		UpdatedAt:     time.Now().UTC(),
	}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.IsValid() {
		entry.TraceID = sc.TraceID().String()
		entry.SpanID = sc.SpanID().String()
	}
	return entry
}
