package probe

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/flapguard/flapguard/internal/config"
	"github.com/flapguard/flapguard/internal/engine"
)

const (
	defaultScrapeTimeout = 10 * time.Second

	// DownEventType is registered for the probe itself when a scrape fails.
	DownEventType = "probe_down"
)

// Prober polls a single metrics endpoint and feeds its rules into the engine.
type Prober struct {
	cfg    config.Probe
	engine *engine.Engine
	client *http.Client
}

// New builds a Prober for the given probe configuration.
func New(cfg config.Probe, eng *engine.Engine) *Prober {
	return &Prober{
		cfg:    cfg,
		engine: eng,
		client: &http.Client{
			Transport: &authRoundTripper{base: http.DefaultTransport, auth: cfg.Auth},
			Timeout:   defaultScrapeTimeout,
		},
	}
}

// Run polls the endpoint until ctx is cancelled. If the probe configuration
// carries no interval, fallback is used.
func (p *Prober) Run(ctx context.Context, fallback time.Duration) {
	interval := p.cfg.Interval
	if interval <= 0 {
		interval = fallback
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := p.Poll(ctx); err != nil {
				slog.Warn("probe poll failed", "probe", p.cfg.ID, "error", err)
			}
		}
	}
}

// Poll scrapes the endpoint once and applies every rule. A failed scrape
// registers a probe_down occurrence for the probe itself; a successful one
// registers its recovery. The returned error covers engine failures only, a
// scrape failure is an observation, not an error.
func (p *Prober) Poll(ctx context.Context) error {
	families, err := fetchMetrics(ctx, p.client, p.cfg.Endpoint)
	if err != nil {
		slog.Warn("probe scrape failed", "probe", p.cfg.ID, "endpoint", p.cfg.Endpoint, "error", err)
		msg := fmt.Sprintf("probe %s cannot reach %s", p.cfg.ID, p.cfg.Endpoint)
		_, rerr := p.engine.RegisterEvent(ctx, DownEventType, p.cfg.ID, msg, err.Error())
		return rerr
	}
	if err := p.engine.RegisterRecovery(ctx, DownEventType, p.cfg.ID, ""); err != nil {
		return err
	}

	for _, rule := range p.cfg.Rules {
		value := sumFamily(families[rule.Metric])
		if compare(value, rule.Op, rule.Threshold) {
			msg := rule.Message
			if msg == "" {
				msg = fmt.Sprintf("%s %s %s %g (value %g)", p.cfg.ID, rule.Metric, rule.Op, rule.Threshold, value)
			}
			details := fmt.Sprintf("metric %s = %g", rule.Metric, value)
			if _, err := p.engine.RegisterEvent(ctx, rule.EventType, p.cfg.ID, msg, details); err != nil {
				return err
			}
			continue
		}
		if err := p.engine.RegisterRecovery(ctx, rule.EventType, p.cfg.ID, ""); err != nil {
			return err
		}
	}
	return nil
}

// compare evaluates "value op threshold".
func compare(value float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return value > threshold
	case ">=":
		return value >= threshold
	case "<":
		return value < threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	}
	return false
}

// authRoundTripper injects authentication headers into every outgoing request.
type authRoundTripper struct {
	base http.RoundTripper
	auth config.Auth
}

func (t *authRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	switch t.auth.Mode {
	case "apikey":
		req = req.Clone(req.Context())
		req.Header.Set(t.auth.Header, t.auth.Key())
	case "bearer":
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+t.auth.Token())
	case "basic":
		req = req.Clone(req.Context())
		req.SetBasicAuth(t.auth.Username, t.auth.Password())
	}
	return t.base.RoundTrip(req)
}

// fetchMetrics performs an HTTP GET to url and returns parsed metric families.
func fetchMetrics(ctx context.Context, client *http.Client, url string) (map[string]*dto.MetricFamily, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", string(expfmt.NewFormat(expfmt.TypeTextPlain)))

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return parseMetrics(resp.Body)
}

// parseMetrics decodes a Prometheus text exposition from r into metric families.
// A partial result with a non-fatal parse warning is still returned successfully.
func parseMetrics(r io.Reader) (map[string]*dto.MetricFamily, error) {
	var parser expfmt.TextParser
	mfs, err := parser.TextToMetricFamilies(r)
	if err != nil && len(mfs) == 0 {
		return nil, fmt.Errorf("parse prometheus text: %w", err)
	}
	// Non-empty result with a non-nil err means partial parse (trailing lines,
	// format warnings). Treat as success.
	return mfs, nil
}

// sumFamily adds up all counter, gauge, or untyped values in a MetricFamily.
// Returns 0 if mf is nil (metric not present in the scrape).
func sumFamily(mf *dto.MetricFamily) float64 {
	if mf == nil {
		return 0
	}
	var total float64
	for _, m := range mf.GetMetric() {
		switch {
		case m.Counter != nil:
			total += m.Counter.GetValue()
		case m.Gauge != nil:
			total += m.Gauge.GetValue()
		case m.Untyped != nil:
			total += m.Untyped.GetValue()
		}
	}
	return total
}
