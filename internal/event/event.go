// Package event fans schema operation notices out to console watchers.
package event

import (
	"time"

	"github.com/llforeman/shifty/internal/audit"
)

// Event is one schema operation as seen by watchers.
type Event struct {
	RunID   string    `json:"run_id"`
	Actor   string    `json:"actor"`
	Action  string    `json:"action"`
	Target  string    `json:"target,omitempty"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// FromEntry converts an operations log entry into its broadcast form.
func FromEntry(e audit.Entry) Event {
	return Event{
		RunID:   e.RunID,
		Actor:   e.Actor,
		Action:  e.Action,
		Target:  e.Target,
		Outcome: e.Outcome,
		Detail:  e.Detail,
		At:      e.StartedAt,
	}
}
