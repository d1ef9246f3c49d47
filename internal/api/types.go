package api

// RegisterRequest is the payload for POST /api/v1/events.
type RegisterRequest struct {
	EventType  string `json:"event_type"`
	Identifier string `json:"identifier"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
}

// RegisterResponse is the result of a registration.
type RegisterResponse struct {
	Created     bool `json:"created"`
	GraceActive bool `json:"grace_active"`
}

// RecoveryRequest is the payload for POST /api/v1/recoveries.
type RecoveryRequest struct {
	EventType  string `json:"event_type"`
	Identifier string `json:"identifier"`
	Message    string `json:"message,omitempty"`
}

// SendRequest is the payload for POST /api/v1/alerts - a direct
// delivery-pipeline send that bypasses the event store.
type SendRequest struct {
	// Kind is one of: plain | smart | recovery. Empty means plain.
	Kind       string `json:"kind,omitempty"`
	AlertType  string `json:"alert_type"`
	Identifier string `json:"identifier,omitempty"`
	Body       string `json:"body"`
	Severity   string `json:"severity,omitempty"`
	Marker     string `json:"marker,omitempty"`
	Prefix     string `json:"prefix,omitempty"`
}

// SendResponse reports what the pipeline did with a direct send.
type SendResponse struct {
	Delivered     bool   `json:"delivered"`
	Suppressed    string `json:"suppressed,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// SweepResponse is the payload for POST /api/v1/sweep.
type SweepResponse struct {
	Pending  int `json:"pending"`
	Promoted int `json:"promoted"`
	Failed   int `json:"failed"`
}

// EventResponse is one active record in GET /api/v1/events.
type EventResponse struct {
	EventType  string `json:"event_type"`
	Identifier string `json:"identifier"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	FirstSeen  string `json:"first_seen"` // RFC3339
	LastSeen   string `json:"last_seen"`  // RFC3339
	AlertSent  bool   `json:"alert_sent"`
	Status     string `json:"status"`
}

// EventsSnapshot is the payload for GET /api/v1/events and the ws stream.
type EventsSnapshot struct {
	Events       []EventResponse `json:"events"`
	PendingCount int             `json:"pending_count"`
	AlertedCount int             `json:"alerted_count"`
	GeneratedAt  string          `json:"generated_at"` // RFC3339
}

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status       string `json:"status"`
	PendingCount int    `json:"pending_count"`
	AlertedCount int    `json:"alerted_count"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
