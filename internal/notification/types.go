// Package notification fans stage transitions out to MQTT and shoutrrr.
package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/tphakala/migration-assistant/internal/migration"
)

// Event is the payload published for one stage transition.
type Event struct {
	MigrationID uint      `json:"migration_id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Message     string    `json:"message,omitempty"`
	IsError     bool      `json:"is_error"`
	At          time.Time `json:"at"`
}

// EventFromTransition converts a committed stage change.
func EventFromTransition(ev migration.TransitionEvent) Event {
	return Event{
		MigrationID: ev.MigrationID,
		From:        string(ev.From),
		To:          string(ev.To),
		Message:     ev.Message,
		IsError:     ev.To.IsErrorStage(),
		At:          ev.At.UTC(),
	}
}

// Title is a one-line summary used by chat style channels.
func (e Event) Title() string {
	if e.IsError {
		return fmt.Sprintf("Migration %d failed", e.MigrationID)
	}
	return fmt.Sprintf("Migration %d moved to %s", e.MigrationID, e.To)
}

// Body is the human readable message text.
func (e Event) Body() string {
	body := fmt.Sprintf("Stage changed from %s to %s at %s", e.From, e.To, e.At.Format(time.RFC3339))
	if e.Message != "" {
		body += "\n" + e.Message
	}
	return body
}

// Sender delivers events to one channel.
type Sender interface {
	Name() string
	Accepts(Event) bool
	Send(ctx context.Context, ev Event) error
}

// DeliveryRecorder receives delivery metrics.
type DeliveryRecorder interface {
	RecordDelivery(channel string, d time.Duration, err error)
}

// ConnectionRecorder receives broker connection state.
type ConnectionRecorder interface {
	UpdateConnectionStatus(connected bool)
}
