package event

import "time"

// Record statuses. StatusAlerted mirrors AlertSent; the explicit field is
// kept so future states can be added without a schema change.
const (
	StatusPending = "pending"
	StatusAlerted = "alerted"
)

// Record is one ongoing failure condition, stored as
// events/{event_type}_{identifier}.json under the state directory.
type Record struct {
	EventType  string    `json:"event_type"`
	Identifier string    `json:"identifier"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
	AlertSent  bool      `json:"alert_sent"`
	Status     string    `json:"status"`
}

// Age returns how long the condition has been observed as of now.
func (r Record) Age(now time.Time) time.Duration {
	return now.Sub(r.FirstSeen)
}

// Key returns the composite storage key "{event_type}_{identifier}".
func (r Record) Key() string {
	return r.EventType + "_" + r.Identifier
}
