package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/flapguard/flapguard/internal/alert"
	"github.com/flapguard/flapguard/internal/engine"
	"github.com/flapguard/flapguard/internal/event"
	"github.com/flapguard/flapguard/internal/storage"
)

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	engine *engine.Engine
	mux    *http.ServeMux
}

// New creates a Handler wired to the given engine and registers all routes.
func New(eng *engine.Engine) http.Handler {
	h := &Handler{engine: eng, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/events", h.events)
	h.mux.HandleFunc("/api/v1/recoveries", h.recoveries)
	h.mux.HandleFunc("/api/v1/sweep", h.sweep)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/health", h.health)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// events serves POST (register occurrence) and GET (active records).
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonErr(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		res, err := h.engine.RegisterEvent(r.Context(), req.EventType, req.Identifier, req.Message, req.Details)
		if err != nil {
			writeEngineErr(w, err)
			return
		}
		jsonResp(w, http.StatusOK, RegisterResponse{Created: res.Created, GraceActive: res.GraceActive})

	case http.MethodGet:
		snap, err := BuildSnapshot(h.engine.Store())
		if err != nil {
			writeEngineErr(w, err)
			return
		}
		jsonResp(w, http.StatusOK, snap)

	default:
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// recoveries serves POST /api/v1/recoveries.
func (h *Handler) recoveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req RecoveryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.engine.RegisterRecovery(r.Context(), req.EventType, req.Identifier, req.Message); err != nil {
		writeEngineErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// sweep serves POST /api/v1/sweep - one on-demand grace-period sweep.
func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	stats, err := h.engine.Sweep(r.Context())
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, SweepResponse{Pending: stats.Pending, Promoted: stats.Promoted, Failed: stats.Failed})
}

// alerts serves POST /api/v1/alerts - direct pipeline sends.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req SendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	opts := alert.Options{Severity: req.Severity, Marker: req.Marker, Prefix: req.Prefix}
	pipe := h.engine.Pipeline()

	var (
		res alert.Result
		err error
	)
	switch req.Kind {
	case "", "plain":
		res, err = pipe.SendPlain(r.Context(), req.AlertType, req.Body, opts)
	case "smart":
		res, err = pipe.SendSmart(r.Context(), req.AlertType, req.Identifier, req.Body, opts)
	case "recovery":
		res, err = pipe.SendRecovery(r.Context(), req.AlertType, req.Identifier, req.Body, opts)
	default:
		jsonErr(w, http.StatusBadRequest, "unknown kind: must be plain, smart or recovery")
		return
	}
	if err != nil {
		writeEngineErr(w, err)
		return
	}
	jsonResp(w, http.StatusOK, SendResponse{
		Delivered:     res.Delivered,
		Suppressed:    res.Suppressed,
		CorrelationID: res.CorrelationID,
	})
}

// health serves GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	snap, err := BuildSnapshot(h.engine.Store())
	if err != nil {
		jsonResp(w, http.StatusOK, HealthResponse{Status: "degraded"})
		return
	}
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:       "ok",
		PendingCount: snap.PendingCount,
		AlertedCount: snap.AlertedCount,
	})
}

// --- helpers ----------------------------------------------------------------

// BuildSnapshot collects all active records into the JSON shape shared by
// GET /api/v1/events and the WebSocket stream.
func BuildSnapshot(st *event.Store) (EventsSnapshot, error) {
	records, err := st.ListAll()
	if err != nil {
		return EventsSnapshot{}, err
	}

	snap := EventsSnapshot{
		Events:      make([]EventResponse, 0, len(records)),
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
	}
	for _, rec := range records {
		if rec.AlertSent {
			snap.AlertedCount++
		} else {
			snap.PendingCount++
		}
		snap.Events = append(snap.Events, EventResponse{
			EventType:  rec.EventType,
			Identifier: rec.Identifier,
			Message:    rec.Message,
			Details:    rec.Details,
			FirstSeen:  rec.FirstSeen.UTC().Format(time.RFC3339),
			LastSeen:   rec.LastSeen.UTC().Format(time.RFC3339),
			AlertSent:  rec.AlertSent,
			Status:     rec.Status,
		})
	}
	return snap, nil
}

// writeEngineErr maps engine errors onto HTTP status codes.
func writeEngineErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, event.ErrInvalidArgument), errors.Is(err, alert.ErrInvalidArgument):
		jsonErr(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, storage.ErrUnavailable):
		jsonErr(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, alert.ErrDeliveryFailed):
		jsonErr(w, http.StatusBadGateway, err.Error())
	default:
		jsonErr(w, http.StatusInternalServerError, err.Error())
	}
}

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
