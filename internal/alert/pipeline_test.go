package alert

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flapguard/flapguard/internal/notify"
	"github.com/flapguard/flapguard/internal/storage"
)

// fixedClock returns a func() time.Time that always returns t.
func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func newTestPipeline(t *testing.T, recoveryEnabled bool) (*Pipeline, *notify.Nop) {
	t.Helper()
	dir := storage.Open(t.TempDir())
	if err := dir.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	sink := &notify.Nop{}
	return NewPipeline(dir, sink, time.Hour, time.Second, recoveryEnabled), sink
}

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint("disk 91% full")
	b := Fingerprint("disk 91% full")
	c := Fingerprint("disk 92% full")
	if a != b {
		t.Errorf("same body, different fingerprints: %q vs %q", a, b)
	}
	if a == c {
		t.Error("different bodies, same fingerprint")
	}
	if len(a) != 32 {
		t.Errorf("fingerprint length: got %d, want 32 hex chars", len(a))
	}
}

func TestSendPlain_DeliversAndRateLimits(t *testing.T) {
	p, sink := newTestPipeline(t, true)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p.limiter.now = fixedClock(base)
	ctx := context.Background()

	res, err := p.SendPlain(ctx, "wan_down", "WAN primary unreachable", Options{Severity: "critical"})
	if err != nil {
		t.Fatalf("SendPlain: %v", err)
	}
	if !res.Delivered || res.Suppressed != "" {
		t.Fatalf("first send: %+v, want delivered", res)
	}
	if res.CorrelationID == "" {
		t.Error("first send: missing correlation id")
	}

	// Within the cooldown: suppressed, not an error.
	p.limiter.now = fixedClock(base.Add(30 * time.Minute))
	res, err = p.SendPlain(ctx, "wan_down", "WAN primary unreachable", Options{})
	if err != nil {
		t.Fatalf("second send: %v", err)
	}
	if res.Delivered || res.Suppressed != SuppressedRateLimited {
		t.Fatalf("second send: %+v, want rate_limited", res)
	}

	// After the cooldown: delivered again.
	p.limiter.now = fixedClock(base.Add(61 * time.Minute))
	res, err = p.SendPlain(ctx, "wan_down", "WAN primary unreachable", Options{})
	if err != nil {
		t.Fatalf("third send: %v", err)
	}
	if !res.Delivered {
		t.Fatalf("third send: %+v, want delivered", res)
	}

	if got := len(sink.Delivered()); got != 2 {
		t.Errorf("sink deliveries: got %d, want 2", got)
	}
}

func TestSendPlain_IndependentKeys(t *testing.T) {
	p, sink := newTestPipeline(t, true)
	ctx := context.Background()

	for _, key := range []string{"wan_down", "disk_full"} {
		res, err := p.SendPlain(ctx, key, "body", Options{})
		if err != nil {
			t.Fatalf("SendPlain %s: %v", key, err)
		}
		if !res.Delivered {
			t.Errorf("SendPlain %s: suppressed %q", key, res.Suppressed)
		}
	}
	if got := len(sink.Delivered()); got != 2 {
		t.Errorf("sink deliveries: got %d, want 2", got)
	}
}

func TestSendPlain_Rendering(t *testing.T) {
	p, sink := newTestPipeline(t, true)

	_, err := p.SendPlain(context.Background(), "wan_down", "both WANs down",
		Options{Marker: "URGENT:", Prefix: "[gateway]", Severity: "critical"})
	if err != nil {
		t.Fatalf("SendPlain: %v", err)
	}

	msgs := sink.Delivered()
	if len(msgs) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(msgs))
	}
	if msgs[0].Body != "URGENT: [gateway] both WANs down" {
		t.Errorf("body: got %q", msgs[0].Body)
	}
	if msgs[0].Title != "flapguard: wan_down" {
		t.Errorf("title: got %q", msgs[0].Title)
	}
	if msgs[0].Severity != "critical" {
		t.Errorf("severity: got %q", msgs[0].Severity)
	}
}

func TestSendPlain_InvalidArgs(t *testing.T) {
	p, _ := newTestPipeline(t, true)
	if _, err := p.SendPlain(context.Background(), "", "body", Options{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty type: got %v", err)
	}
	if _, err := p.SendPlain(context.Background(), "wan_down", "", Options{}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("empty body: got %v", err)
	}
}

func TestSendPlain_SinkFailure(t *testing.T) {
	p, sink := newTestPipeline(t, true)
	sink.Err = errors.New("boom")

	res, err := p.SendPlain(context.Background(), "wan_down", "body", Options{})
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("SendPlain with failing sink: got %v, want ErrDeliveryFailed", err)
	}
	if res.Delivered {
		t.Error("failed delivery reported as delivered")
	}

	// The rate-limit timestamp must not have been recorded: the next
	// attempt should go through once the sink recovers.
	sink.Err = nil
	res, err = p.SendPlain(context.Background(), "wan_down", "body", Options{})
	if err != nil {
		t.Fatalf("retry after sink recovery: %v", err)
	}
	if !res.Delivered {
		t.Errorf("retry after sink recovery: %+v, want delivered", res)
	}
}

func TestSendSmart_DedupIdempotence(t *testing.T) {
	p, sink := newTestPipeline(t, true)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p.limiter.now = fixedClock(base)
	ctx := context.Background()

	res, err := p.SendSmart(ctx, "disk_full", "root", "disk 91% full", Options{})
	if err != nil {
		t.Fatalf("first SendSmart: %v", err)
	}
	if !res.Delivered {
		t.Fatalf("first SendSmart: %+v", res)
	}

	// Identical body: suppressed by the dedup gate, before rate limiting.
	res, err = p.SendSmart(ctx, "disk_full", "root", "disk 91% full", Options{})
	if err != nil {
		t.Fatalf("duplicate SendSmart: %v", err)
	}
	if res.Delivered || res.Suppressed != SuppressedDuplicate {
		t.Fatalf("duplicate SendSmart: %+v, want duplicate suppression", res)
	}

	// Changed body re-enables delivery (cooldown elapsed).
	p.limiter.now = fixedClock(base.Add(2 * time.Hour))
	res, err = p.SendSmart(ctx, "disk_full", "root", "disk 95% full", Options{})
	if err != nil {
		t.Fatalf("changed SendSmart: %v", err)
	}
	if !res.Delivered {
		t.Fatalf("changed SendSmart: %+v, want delivered", res)
	}

	if got := len(sink.Delivered()); got != 2 {
		t.Errorf("sink deliveries: got %d, want 2", got)
	}
}

func TestSendSmart_RateLimitedKeepsFingerprintUnset(t *testing.T) {
	p, _ := newTestPipeline(t, true)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p.limiter.now = fixedClock(base)
	ctx := context.Background()

	if _, err := p.SendSmart(ctx, "disk_full", "root", "disk 91% full", Options{}); err != nil {
		t.Fatalf("first SendSmart: %v", err)
	}

	// New content inside the cooldown: rate limited, fingerprint unchanged.
	res, err := p.SendSmart(ctx, "disk_full", "root", "disk 95% full", Options{})
	if err != nil {
		t.Fatalf("rate-limited SendSmart: %v", err)
	}
	if res.Suppressed != SuppressedRateLimited {
		t.Fatalf("rate-limited SendSmart: %+v", res)
	}

	// Once the window passes, the same new content must deliver - the
	// fingerprint was not persisted by the suppressed attempt.
	p.limiter.now = fixedClock(base.Add(2 * time.Hour))
	res, err = p.SendSmart(ctx, "disk_full", "root", "disk 95% full", Options{})
	if err != nil {
		t.Fatalf("post-cooldown SendSmart: %v", err)
	}
	if !res.Delivered {
		t.Fatalf("post-cooldown SendSmart: %+v, want delivered", res)
	}
}

func TestSendSmart_PerIdentifierBuckets(t *testing.T) {
	p, sink := newTestPipeline(t, true)
	ctx := context.Background()

	// Same type, different identifiers: separate cooldown and dedup keys.
	for _, id := range []string{"root", "var"} {
		res, err := p.SendSmart(ctx, "disk_full", id, "disk full on "+id, Options{})
		if err != nil {
			t.Fatalf("SendSmart %s: %v", id, err)
		}
		if !res.Delivered {
			t.Errorf("SendSmart %s: %+v", id, res)
		}
	}
	if got := len(sink.Delivered()); got != 2 {
		t.Errorf("sink deliveries: got %d, want 2", got)
	}
}

func TestSendRecovery_RequiresPriorState(t *testing.T) {
	p, sink := newTestPipeline(t, true)
	ctx := context.Background()

	res, err := p.SendRecovery(ctx, "disk_full", "root", "disk back to 40%", Options{})
	if err != nil {
		t.Fatalf("SendRecovery: %v", err)
	}
	if res.Delivered || res.Suppressed != SuppressedNoPriorAlert {
		t.Fatalf("recovery without prior alert: %+v", res)
	}
	if len(sink.Delivered()) != 0 {
		t.Error("recovery without prior alert delivered")
	}
}

func TestSendRecovery_ClearsDedupState(t *testing.T) {
	p, sink := newTestPipeline(t, true)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p.limiter.now = fixedClock(base)
	ctx := context.Background()

	if _, err := p.SendSmart(ctx, "disk_full", "root", "disk 91% full", Options{}); err != nil {
		t.Fatalf("SendSmart: %v", err)
	}

	res, err := p.SendRecovery(ctx, "disk_full", "root", "disk back to 40%", Options{})
	if err != nil {
		t.Fatalf("SendRecovery: %v", err)
	}
	if !res.Delivered {
		t.Fatalf("SendRecovery: %+v, want delivered", res)
	}
	if msgs := sink.Delivered(); msgs[len(msgs)-1].Severity != "info" {
		t.Errorf("recovery severity: got %q, want info", msgs[len(msgs)-1].Severity)
	}

	// Dedup state is cleared: the same failure body alerts again after the
	// cooldown, and a second recovery has nothing to recover from.
	p.limiter.now = fixedClock(base.Add(2 * time.Hour))
	smart, err := p.SendSmart(ctx, "disk_full", "root", "disk 91% full", Options{})
	if err != nil {
		t.Fatalf("SendSmart after recovery: %v", err)
	}
	if !smart.Delivered {
		t.Errorf("identical body after recovery: %+v, want delivered", smart)
	}
}

func TestSendRecovery_Disabled(t *testing.T) {
	p, sink := newTestPipeline(t, false)
	ctx := context.Background()

	if _, err := p.SendSmart(ctx, "disk_full", "root", "disk 91% full", Options{}); err != nil {
		t.Fatalf("SendSmart: %v", err)
	}
	res, err := p.SendRecovery(ctx, "disk_full", "root", "disk back", Options{})
	if err != nil {
		t.Fatalf("SendRecovery: %v", err)
	}
	if res.Delivered || res.Suppressed != SuppressedDisabled {
		t.Fatalf("disabled recovery: %+v", res)
	}
	if got := len(sink.Delivered()); got != 1 {
		t.Errorf("sink deliveries: got %d, want 1 (the smart alert only)", got)
	}
}

func TestSendRecovery_OwnCooldownBucket(t *testing.T) {
	p, _ := newTestPipeline(t, true)
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	p.limiter.now = fixedClock(base)
	ctx := context.Background()

	// The smart alert consumed the "{type}_{id}" bucket just now; the
	// recovery must still go out because it uses "{type}_{id}_recovery".
	if _, err := p.SendSmart(ctx, "disk_full", "root", "disk 91% full", Options{}); err != nil {
		t.Fatalf("SendSmart: %v", err)
	}
	res, err := p.SendRecovery(ctx, "disk_full", "root", "disk back to 40%", Options{})
	if err != nil {
		t.Fatalf("SendRecovery: %v", err)
	}
	if !res.Delivered {
		t.Fatalf("SendRecovery in same instant as smart alert: %+v, want delivered", res)
	}
}

func TestRateLimiter_CorruptTimestamp(t *testing.T) {
	dir := storage.Open(t.TempDir())
	if err := dir.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := dir.Write(".rate_limit_wan_down", []byte("not-a-number")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	l := NewRateLimiter(dir, time.Hour)
	ok, err := l.Allow("wan_down")
	if err != nil {
		t.Fatalf("Allow: %v", err)
	}
	if !ok {
		t.Error("corrupt timestamp should count as no prior send")
	}
}

func TestDedupGate_Roundtrip(t *testing.T) {
	dir := storage.Open(t.TempDir())
	if err := dir.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	g := NewDedupGate(dir)

	send, err := g.ShouldSend("disk_full", "root", "body")
	if err != nil || !send {
		t.Fatalf("first ShouldSend: %v %v", send, err)
	}
	if err := g.MarkSent("disk_full", "root", "body"); err != nil {
		t.Fatalf("MarkSent: %v", err)
	}

	send, err = g.ShouldSend("disk_full", "root", "body")
	if err != nil {
		t.Fatalf("second ShouldSend: %v", err)
	}
	if send {
		t.Error("unchanged body should be suppressed")
	}

	has, err := g.HasState("disk_full", "root")
	if err != nil || !has {
		t.Fatalf("HasState: %v %v", has, err)
	}
	if err := g.Clear("disk_full", "root"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	has, err = g.HasState("disk_full", "root")
	if err != nil {
		t.Fatalf("HasState after Clear: %v", err)
	}
	if has {
		t.Error("state present after Clear")
	}
}
