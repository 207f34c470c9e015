package domain

import (
	"context"
	"time"
)

// Business event names dispatched to webhooks and the event stream.
const (
	EventAccountValidated     = "account.validated"
	EventEnrollmentSubmitted  = "enrollment.submitted"
	EventEnrollmentCompleted  = "enrollment.completed"
	EventAppointmentScheduled = "appointment.scheduled"
	EventFormCompleted        = "form.completed"
)

// Event is the payload handed to the dispatcher.
type Event struct {
	Name       string         `json:"event"`
	Data       map[string]any `json:"data"`
	Timestamp  time.Time      `json:"timestamp"`
	InstanceID uint           `json:"-"`
}

// EventDispatcher delivers business events. Delivery is best-effort: a failed
// delivery is logged and never propagates to the triggering workflow.
type EventDispatcher interface {
	Trigger(ctx context.Context, name string, data map[string]any, instanceID uint)
}
