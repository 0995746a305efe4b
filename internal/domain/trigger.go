package domain

import (
	"context"
	"time"
)

// Trigger is an external event carrying new input for a session.
type Trigger struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Text       string    `json:"text"`
	From       string    `json:"from,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	MessageID  string    `json:"messageId,omitempty"`
	References []string  `json:"references,omitempty"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// TriggerHandler processes one trigger. A nil return acknowledges it; any
// error leaves the trigger pending for the next cycle.
type TriggerHandler func(ctx context.Context, t Trigger) error

// TriggerSource produces triggers until ctx is cancelled.
type TriggerSource interface {
	Run(ctx context.Context, handle TriggerHandler) error
}

// OutputSink delivers a session's final result to whoever issued the trigger.
type OutputSink interface {
	Deliver(ctx context.Context, t Trigger, body string) error
}
