package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flapguard/flapguard/internal/alert"
	"github.com/flapguard/flapguard/internal/event"
	"github.com/flapguard/flapguard/internal/metrics"
)

// criticalMarker is prepended to bypass alerts so operators can tell an
// immediate page from a grace-period promotion.
const criticalMarker = "CRITICAL:"

// Engine drives the alert-fatigue state machine. It is safe for
// concurrent use; per-record serialization is delegated to the stores'
// advisory locks so separate processes sharing a state directory behave
// like one.
type Engine struct {
	store    *event.Store
	pipeline *alert.Pipeline

	gracePeriod       time.Duration
	recoveryThreshold time.Duration
	critical          map[string]struct{}

	now func() time.Time // injectable for deterministic tests
}

// New creates an Engine. criticalTypes is the set of event types that
// bypass the grace period.
func New(store *event.Store, pipeline *alert.Pipeline, gracePeriod, recoveryThreshold time.Duration, criticalTypes []string) *Engine {
	crit := make(map[string]struct{}, len(criticalTypes))
	for _, t := range criticalTypes {
		crit[t] = struct{}{}
	}
	return &Engine{
		store:             store,
		pipeline:          pipeline,
		gracePeriod:       gracePeriod,
		recoveryThreshold: recoveryThreshold,
		critical:          crit,
		now:               time.Now,
	}
}

// RegisterResult describes what RegisterEvent did with an occurrence.
type RegisterResult struct {
	// Created is true when this occurrence opened a new record.
	Created bool

	// GraceActive is true while the record is pending - the condition is
	// being watched but no one has been notified yet.
	GraceActive bool
}

// RegisterEvent records a raw occurrence of (eventType, identifier). The
// first occurrence of a critical type alerts immediately and the record is
// marked alerted; everything else waits for the sweep.
func (e *Engine) RegisterEvent(ctx context.Context, eventType, identifier, message, details string) (RegisterResult, error) {
	rec, created, err := e.store.Register(eventType, identifier, message, details)
	if err != nil {
		return RegisterResult{}, err
	}

	if created {
		metrics.EventsRegistered.WithLabelValues("created").Inc()
		slog.Info("engine: occurrence registered", "type", eventType, "identifier", identifier)
	} else {
		metrics.EventsRegistered.WithLabelValues("refreshed").Inc()
		slog.Debug("engine: occurrence refreshed", "type", eventType, "identifier", identifier)
	}

	if _, isCritical := e.critical[eventType]; isCritical && created {
		e.alertCritical(ctx, rec)
		return RegisterResult{Created: true, GraceActive: false}, nil
	}

	return RegisterResult{Created: created, GraceActive: !rec.AlertSent}, nil
}

// alertCritical fires the grace-period bypass for a newly created record
// of a critical type. The record is marked alerted whether or not the
// delivery succeeds - one attempt per transition, no retry.
func (e *Engine) alertCritical(ctx context.Context, rec event.Record) {
	res, err := e.pipeline.SendPlain(ctx, rec.Key(), recordBody(rec), alert.Options{
		Severity: "critical",
		Marker:   criticalMarker,
	})
	if err != nil {
		slog.Error("engine: critical bypass delivery failed",
			"type", rec.EventType, "identifier", rec.Identifier, "err", err)
	} else if res.Delivered {
		slog.Warn("engine: critical event alerted immediately",
			"type", rec.EventType, "identifier", rec.Identifier, "correlation_id", res.CorrelationID)
	}

	if err := e.store.MarkAlerted(rec.EventType, rec.Identifier); err != nil {
		slog.Error("engine: mark alerted failed",
			"type", rec.EventType, "identifier", rec.Identifier, "err", err)
	}
}

// SweepStats summarizes one grace-period sweep.
type SweepStats struct {
	// Pending is how many pending records the sweep examined.
	Pending int

	// Promoted is how many records crossed the grace period and were
	// transitioned to alerted.
	Promoted int

	// Failed is how many promotions had a delivery failure. Those records
	// are still marked alerted - one attempt per transition.
	Failed int
}

// Sweep promotes every pending record whose age has reached the grace
// period: the record's original message goes out through the smart-alert
// path and the record transitions to alerted. A failure on one record
// never stops the sweep of the others.
func (e *Engine) Sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	now := e.now()

	err := e.store.WalkPending(func(rec event.Record) bool {
		stats.Pending++
		if rec.Age(now) < e.gracePeriod {
			return true
		}

		res, err := e.pipeline.SendSmart(ctx, rec.EventType, rec.Identifier, recordBody(rec), alert.Options{})
		switch {
		case errors.Is(err, alert.ErrDeliveryFailed):
			stats.Failed++
			slog.Error("engine: promotion delivery failed",
				"type", rec.EventType, "identifier", rec.Identifier, "err", err)
		case err != nil:
			// Storage trouble before anything went out: leave the record
			// pending and let a later sweep retry it.
			slog.Error("engine: promotion skipped",
				"type", rec.EventType, "identifier", rec.Identifier, "err", err)
			return true
		case res.Delivered:
			slog.Info("engine: grace period elapsed, alert sent",
				"type", rec.EventType, "identifier", rec.Identifier,
				"age", rec.Age(now).Round(time.Second), "correlation_id", res.CorrelationID)
		default:
			slog.Info("engine: grace period elapsed, send suppressed",
				"type", rec.EventType, "identifier", rec.Identifier, "reason", res.Suppressed)
		}

		if err := e.store.MarkAlerted(rec.EventType, rec.Identifier); err != nil {
			slog.Error("engine: mark alerted failed",
				"type", rec.EventType, "identifier", rec.Identifier, "err", err)
			return true
		}
		stats.Promoted++
		return true
	})

	metrics.Sweeps.Inc()
	metrics.Pending.Set(float64(stats.Pending - stats.Promoted))
	metrics.Promoted.Add(float64(stats.Promoted))
	return stats, err
}

// RegisterRecovery reports that (eventType, identifier) is healthy again.
// A recovery notification goes out only when the record had alerted and
// the downtime reached the recovery threshold; the record is deleted
// either way, which also silently cancels a still-pending condition.
func (e *Engine) RegisterRecovery(ctx context.Context, eventType, identifier, message string) error {
	rec, ok, err := e.store.Get(eventType, identifier)
	if err != nil {
		return err
	}
	if !ok {
		slog.Debug("engine: recovery for unknown condition ignored", "type", eventType, "identifier", identifier)
		return nil
	}

	downtime := e.now().Sub(rec.FirstSeen)

	if rec.AlertSent && downtime >= e.recoveryThreshold {
		metrics.Recoveries.WithLabelValues("alerted").Inc()
		if message == "" {
			message = fmt.Sprintf("%s %s recovered", rec.EventType, rec.Identifier)
		}
		body := fmt.Sprintf("%s (downtime: %s)", message, downtime.Round(time.Second))

		res, err := e.pipeline.SendRecovery(ctx, eventType, identifier, body, alert.Options{})
		if err != nil {
			slog.Error("engine: recovery delivery failed",
				"type", eventType, "identifier", identifier, "err", err)
		} else if res.Delivered {
			slog.Info("engine: recovery alerted",
				"type", eventType, "identifier", identifier,
				"downtime", downtime.Round(time.Second), "correlation_id", res.CorrelationID)
		}
	} else {
		metrics.Recoveries.WithLabelValues("silent").Inc()
		slog.Info("engine: recovery without notification",
			"type", eventType, "identifier", identifier,
			"downtime", downtime.Round(time.Second), "alerted", rec.AlertSent)
	}

	return e.store.Remove(eventType, identifier)
}

// Pipeline returns the delivery pipeline for direct sends that bypass the
// event store.
func (e *Engine) Pipeline() *alert.Pipeline { return e.pipeline }

// Store returns the event store, used by the API and ws hub for listings.
func (e *Engine) Store() *event.Store { return e.store }

// recordBody renders a record's payload for delivery: the original
// message, with details on a second line when present.
func recordBody(rec event.Record) string {
	if rec.Details == "" {
		return rec.Message
	}
	return rec.Message + "\n" + rec.Details
}
