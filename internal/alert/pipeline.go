package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flapguard/flapguard/internal/metrics"
	"github.com/flapguard/flapguard/internal/notify"
	"github.com/flapguard/flapguard/internal/storage"
)

// DefaultDeliveryTimeout bounds a single sink call so one hung delivery
// cannot stall the sweep of other records.
const DefaultDeliveryTimeout = 10 * time.Second

// Suppression reasons reported in Result.Suppressed.
const (
	SuppressedRateLimited  = "rate_limited"
	SuppressedDuplicate    = "duplicate"
	SuppressedDisabled     = "disabled"
	SuppressedNoPriorAlert = "no_prior_alert"
)

// ErrInvalidArgument reports an empty alert type, identifier or body.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrDeliveryFailed wraps sink errors. Pipeline state (rate-limit
// timestamps, fingerprints, record transitions) is never rolled back on a
// failed delivery; callers log it and proceed.
var ErrDeliveryFailed = errors.New("delivery failed")

// Options adjust how a send is rendered.
type Options struct {
	// Severity is one of: critical | warning | info. Empty means warning.
	Severity string

	// Marker is an urgency marker prepended to the body, e.g. "URGENT".
	Marker string

	// Prefix is prepended to the body after the marker.
	Prefix string
}

// Result describes what the pipeline did with one send.
type Result struct {
	// Delivered is true when the sink accepted the notification.
	Delivered bool

	// Suppressed names the gate that stopped the send ("" if none).
	// A suppressed send is a successful outcome, not an error.
	Suppressed string

	// CorrelationID ties this send attempt to its log lines.
	CorrelationID string
}

// Pipeline composes the rate limiter, the dedup gate and the sink into the
// three public send operations.
type Pipeline struct {
	sink    notify.Sink
	limiter *RateLimiter
	dedup   *DedupGate

	recoveryEnabled bool
	timeout         time.Duration
}

// NewPipeline creates a Pipeline. cooldown is the per-key rate-limit
// window; recoveryEnabled is the global kill-switch for recovery sends.
func NewPipeline(dir *storage.Dir, sink notify.Sink, cooldown, timeout time.Duration, recoveryEnabled bool) *Pipeline {
	if timeout <= 0 {
		timeout = DefaultDeliveryTimeout
	}
	return &Pipeline{
		sink:            sink,
		limiter:         NewRateLimiter(dir, cooldown),
		dedup:           NewDedupGate(dir),
		recoveryEnabled: recoveryEnabled,
		timeout:         timeout,
	}
}

// Limiter exposes the rate limiter for tests that need to manipulate time.
func (p *Pipeline) Limiter() *RateLimiter { return p.limiter }

// SendPlain delivers body under alertType, gated only by the rate limiter.
// A rate-limited send returns a suppressed Result and a nil error.
func (p *Pipeline) SendPlain(ctx context.Context, alertType, body string, opts Options) (Result, error) {
	if alertType == "" || body == "" {
		return Result{}, fmt.Errorf("%w: alert type and body must be non-empty", ErrInvalidArgument)
	}
	return p.send(ctx, "plain", alertType, body, opts)
}

// SendSmart delivers body under the composite key "{alertType}_{identifier}"
// only when the content changed since the last delivered send for that
// pair. The fingerprint is persisted only after the sink accepts the
// message, so a rate-limited or failed send re-arms on the next attempt.
func (p *Pipeline) SendSmart(ctx context.Context, alertType, identifier, body string, opts Options) (Result, error) {
	if alertType == "" || identifier == "" || body == "" {
		return Result{}, fmt.Errorf("%w: alert type, identifier and body must be non-empty", ErrInvalidArgument)
	}

	changed, err := p.dedup.ShouldSend(alertType, identifier, body)
	if err != nil {
		return Result{}, err
	}
	if !changed {
		metrics.Suppressed.WithLabelValues(SuppressedDuplicate).Inc()
		slog.Debug("alert: duplicate content suppressed", "type", alertType, "identifier", identifier)
		return Result{Suppressed: SuppressedDuplicate}, nil
	}

	res, err := p.send(ctx, "smart", alertType+"_"+identifier, body, opts)
	if res.Delivered {
		if markErr := p.dedup.MarkSent(alertType, identifier, body); markErr != nil {
			// Delivered but couldn't persist the fingerprint; the next
			// identical send will duplicate rather than be lost.
			slog.Warn("alert: fingerprint persist failed", "type", alertType, "identifier", identifier, "err", markErr)
		}
	}
	return res, err
}

// SendRecovery delivers a recovery notification for (alertType, identifier).
// It fires only when recovery alerts are enabled and a prior smart alert
// left dedup state behind, uses its own "_recovery" cooldown bucket, and
// clears the dedup state afterward whether or not the sink accepted it.
func (p *Pipeline) SendRecovery(ctx context.Context, alertType, identifier, body string, opts Options) (Result, error) {
	if alertType == "" || identifier == "" || body == "" {
		return Result{}, fmt.Errorf("%w: alert type, identifier and body must be non-empty", ErrInvalidArgument)
	}

	if !p.recoveryEnabled {
		metrics.Suppressed.WithLabelValues(SuppressedDisabled).Inc()
		return Result{Suppressed: SuppressedDisabled}, nil
	}

	has, err := p.dedup.HasState(alertType, identifier)
	if err != nil {
		return Result{}, err
	}
	if !has {
		metrics.Suppressed.WithLabelValues(SuppressedNoPriorAlert).Inc()
		slog.Debug("alert: recovery without prior alert suppressed", "type", alertType, "identifier", identifier)
		return Result{Suppressed: SuppressedNoPriorAlert}, nil
	}

	if opts.Severity == "" {
		opts.Severity = "info"
	}
	res, err := p.send(ctx, "recovery", alertType+"_"+identifier+"_recovery", body, opts)

	if clearErr := p.dedup.Clear(alertType, identifier); clearErr != nil {
		slog.Warn("alert: dedup clear failed", "type", alertType, "identifier", identifier, "err", clearErr)
	}
	return res, err
}

// send runs the rate-limited delivery under the per-key lock so an
// allow-deliver-record sequence cannot interleave with another process
// sending under the same key.
func (p *Pipeline) send(ctx context.Context, kind, key, body string, opts Options) (Result, error) {
	unlock, err := p.limiter.Lock(key)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	allowed, err := p.limiter.Allow(key)
	if err != nil {
		return Result{}, err
	}
	if !allowed {
		metrics.Suppressed.WithLabelValues(SuppressedRateLimited).Inc()
		metrics.Deliveries.WithLabelValues(kind, "suppressed").Inc()
		slog.Debug("alert: rate limited", "kind", kind, "key", key)
		return Result{Suppressed: SuppressedRateLimited}, nil
	}

	corrID := uuid.NewString()
	msg := notify.Message{
		Title:    "flapguard: " + key,
		Body:     render(body, opts),
		Severity: severity(opts.Severity),
	}

	dctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.sink.Deliver(dctx, msg); err != nil {
		metrics.Deliveries.WithLabelValues(kind, "failed").Inc()
		slog.Error("alert: delivery failed", "kind", kind, "key", key, "correlation_id", corrID, "err", err)
		return Result{CorrelationID: corrID}, fmt.Errorf("%w: %s %s: %v", ErrDeliveryFailed, kind, key, err)
	}

	if err := p.limiter.Record(key); err != nil {
		// Delivered but the timestamp write failed; worst case is an early
		// repeat, never a lost alert.
		slog.Warn("alert: rate-limit record failed", "key", key, "err", err)
	}

	metrics.Deliveries.WithLabelValues(kind, "delivered").Inc()
	slog.Info("alert: delivered", "kind", kind, "key", key, "correlation_id", corrID, "severity", msg.Severity)
	return Result{Delivered: true, CorrelationID: corrID}, nil
}

func render(body string, opts Options) string {
	parts := make([]string, 0, 3)
	if opts.Marker != "" {
		parts = append(parts, opts.Marker)
	}
	if opts.Prefix != "" {
		parts = append(parts, opts.Prefix)
	}
	parts = append(parts, body)
	return strings.Join(parts, " ")
}

func severity(s string) string {
	if s == "" {
		return "warning"
	}
	return s
}
