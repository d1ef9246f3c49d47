package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/flapguard/flapguard/internal/alert"
	"github.com/flapguard/flapguard/internal/event"
	"github.com/flapguard/flapguard/internal/notify"
	"github.com/flapguard/flapguard/internal/storage"
)

// harness wires an Engine over a temp state dir with a pinned clock
// shared by the engine, the event store and the rate limiter.
type harness struct {
	engine *Engine
	store  *event.Store
	sink   *notify.Nop
	now    time.Time
}

func newHarness(t *testing.T, grace, recovery time.Duration, critical []string) *harness {
	t.Helper()
	dir := storage.Open(t.TempDir())
	if err := dir.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	h := &harness{
		sink: &notify.Nop{},
		now:  time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }

	h.store = event.NewStore(dir).WithNow(clock)
	pipe := alert.NewPipeline(dir, h.sink, time.Hour, time.Second, true)
	pipe.Limiter().WithNow(clock)

	h.engine = New(h.store, pipe, grace, recovery, critical)
	h.engine.now = clock
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

func TestGracePeriod_WorkedExample(t *testing.T) {
	// grace 180s, recovery threshold 300s.
	h := newHarness(t, 180*time.Second, 300*time.Second, nil)
	ctx := context.Background()

	// t=0: register.
	res, err := h.engine.RegisterEvent(ctx, "wan_down", "primary", "WAN primary unreachable", "")
	if err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}
	if !res.Created || !res.GraceActive {
		t.Fatalf("register: %+v, want created with grace active", res)
	}

	// t=100: sweep - still inside the grace period, nothing delivered.
	h.advance(100 * time.Second)
	stats, err := h.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Pending != 1 || stats.Promoted != 0 {
		t.Fatalf("sweep@100: %+v", stats)
	}
	if len(h.sink.Delivered()) != 0 {
		t.Fatal("sweep@100 delivered inside the grace period")
	}

	// t=150: re-register - a refresh, not a new occurrence.
	h.advance(50 * time.Second)
	res, err = h.engine.RegisterEvent(ctx, "wan_down", "primary", "still down", "")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if res.Created {
		t.Fatal("refresh reported as created")
	}
	if !res.GraceActive {
		t.Fatal("refresh: grace should still be active")
	}

	// t=200: sweep - exactly one delivery, record now alerted.
	h.advance(50 * time.Second)
	stats, err = h.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Promoted != 1 {
		t.Fatalf("sweep@200: %+v, want one promotion", stats)
	}
	msgs := h.sink.Delivered()
	if len(msgs) != 1 {
		t.Fatalf("deliveries: got %d, want 1", len(msgs))
	}
	if !strings.Contains(msgs[0].Body, "WAN primary unreachable") {
		t.Errorf("promotion carries refreshed message, not original: %q", msgs[0].Body)
	}
	rec, _, err := h.store.Get("wan_down", "primary")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !rec.AlertSent || rec.Status != event.StatusAlerted {
		t.Errorf("record after sweep: %+v", rec)
	}

	// A later sweep promotes nothing further.
	stats, err = h.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Pending != 0 || stats.Promoted != 0 {
		t.Fatalf("idle sweep: %+v", stats)
	}

	// t=250: recovery - downtime 250 < 300, so silent; record deleted.
	h.advance(50 * time.Second)
	if err := h.engine.RegisterRecovery(ctx, "wan_down", "primary", ""); err != nil {
		t.Fatalf("RegisterRecovery: %v", err)
	}
	if len(h.sink.Delivered()) != 1 {
		t.Error("short-downtime recovery delivered a notification")
	}
	if _, ok, _ := h.store.Get("wan_down", "primary"); ok {
		t.Error("record survived recovery")
	}
}

func TestRecovery_WhilePendingIsAlwaysSilent(t *testing.T) {
	h := newHarness(t, 180*time.Second, 0, nil)
	ctx := context.Background()

	if _, err := h.engine.RegisterEvent(ctx, "svc_down", "nginx", "nginx dead", ""); err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}

	// Flap resolves before the grace period. No alert ever, even though
	// the recovery threshold (0) is trivially met.
	h.advance(30 * time.Second)
	if err := h.engine.RegisterRecovery(ctx, "svc_down", "nginx", "nginx back"); err != nil {
		t.Fatalf("RegisterRecovery: %v", err)
	}
	if len(h.sink.Delivered()) != 0 {
		t.Fatal("pending recovery produced a delivery")
	}

	// Subsequent sweeps see nothing.
	h.advance(time.Hour)
	stats, err := h.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Pending != 0 {
		t.Fatalf("sweep after silent recovery: %+v", stats)
	}
}

func TestRecovery_DowntimeGating(t *testing.T) {
	h := newHarness(t, 0, 300*time.Second, nil)
	ctx := context.Background()

	if _, err := h.engine.RegisterEvent(ctx, "wan_down", "primary", "down", ""); err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}
	if _, err := h.engine.Sweep(ctx); err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(h.sink.Delivered()) != 1 {
		t.Fatalf("expected immediate promotion with zero grace period")
	}

	// Downtime beyond the threshold: recovery notification with the
	// downtime appended.
	h.advance(600 * time.Second)
	if err := h.engine.RegisterRecovery(ctx, "wan_down", "primary", "WAN primary back"); err != nil {
		t.Fatalf("RegisterRecovery: %v", err)
	}

	msgs := h.sink.Delivered()
	if len(msgs) != 2 {
		t.Fatalf("deliveries: got %d, want promotion + recovery", len(msgs))
	}
	last := msgs[len(msgs)-1]
	if !strings.Contains(last.Body, "WAN primary back") || !strings.Contains(last.Body, "downtime: 10m0s") {
		t.Errorf("recovery body: %q", last.Body)
	}
	if _, ok, _ := h.store.Get("wan_down", "primary"); ok {
		t.Error("record survived recovery")
	}
}

func TestRecovery_UnknownConditionIsNoop(t *testing.T) {
	h := newHarness(t, time.Minute, time.Minute, nil)
	if err := h.engine.RegisterRecovery(context.Background(), "ghost", "none", ""); err != nil {
		t.Fatalf("RegisterRecovery: %v", err)
	}
	if len(h.sink.Delivered()) != 0 {
		t.Error("recovery of unknown condition delivered")
	}
}

func TestCriticalBypass(t *testing.T) {
	h := newHarness(t, time.Hour, time.Minute, []string{"BOTH_WANS_DOWN"})
	ctx := context.Background()

	res, err := h.engine.RegisterEvent(ctx, "BOTH_WANS_DOWN", "gateway", "both WAN links down", "")
	if err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}
	if res.GraceActive {
		t.Error("critical event reports grace active")
	}

	msgs := h.sink.Delivered()
	if len(msgs) != 1 {
		t.Fatalf("critical registration deliveries: got %d, want 1", len(msgs))
	}
	if !strings.HasPrefix(msgs[0].Body, "CRITICAL:") {
		t.Errorf("critical body missing urgency marker: %q", msgs[0].Body)
	}
	if msgs[0].Severity != "critical" {
		t.Errorf("severity: got %q", msgs[0].Severity)
	}

	// No alerted-but-undelivered pending record remains.
	rec, ok, err := h.store.Get("BOTH_WANS_DOWN", "gateway")
	if err != nil || !ok {
		t.Fatalf("Get: %v %v", ok, err)
	}
	if !rec.AlertSent {
		t.Error("critical record not marked alerted")
	}
	pending, err := h.store.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("pending records after critical bypass: %d", len(pending))
	}

	// Repeated occurrences are silent refreshes.
	res, err = h.engine.RegisterEvent(ctx, "BOTH_WANS_DOWN", "gateway", "still down", "")
	if err != nil {
		t.Fatalf("repeat RegisterEvent: %v", err)
	}
	if res.Created || res.GraceActive {
		t.Errorf("repeat critical: %+v", res)
	}
	if len(h.sink.Delivered()) != 1 {
		t.Error("repeat critical occurrence delivered again")
	}
}

func TestCriticalBypass_NonCriticalTypeWaits(t *testing.T) {
	h := newHarness(t, time.Hour, time.Minute, []string{"BOTH_WANS_DOWN"})

	if _, err := h.engine.RegisterEvent(context.Background(), "wan_down", "primary", "down", ""); err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}
	if len(h.sink.Delivered()) != 0 {
		t.Error("non-critical registration delivered immediately")
	}
}

func TestSweep_DeliveryFailureStillPromotes(t *testing.T) {
	h := newHarness(t, 0, time.Minute, nil)
	ctx := context.Background()

	if _, err := h.engine.RegisterEvent(ctx, "svc_down", "nginx", "down", ""); err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}

	h.sink.Err = errors.New("sink unreachable")
	stats, err := h.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Promoted != 1 || stats.Failed != 1 {
		t.Fatalf("sweep with failing sink: %+v", stats)
	}

	// At-most-once: the record is alerted, later sweeps do not retry.
	h.sink.Err = nil
	stats, err = h.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if stats.Pending != 0 {
		t.Fatalf("record still pending after failed promotion: %+v", stats)
	}
	if len(h.sink.Delivered()) != 0 {
		t.Error("failed promotion was retried")
	}
}

func TestSweep_PromotesAllDueRecords(t *testing.T) {
	h := newHarness(t, 0, time.Minute, nil)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := h.engine.RegisterEvent(ctx, "svc_down", id, "down on "+id, ""); err != nil {
			t.Fatalf("RegisterEvent %s: %v", id, err)
		}
	}

	stats, err := h.engine.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if stats.Promoted != 3 {
		t.Fatalf("sweep: %+v, want 3 promotions", stats)
	}
	if len(h.sink.Delivered()) != 3 {
		t.Errorf("deliveries: got %d, want 3", len(h.sink.Delivered()))
	}
}

func TestRecovery_CriticalBypassHasNoDedupState(t *testing.T) {
	// A critical event alerts through the plain path, so no smart-alert
	// fingerprint exists; its recovery is gated out by the pipeline even
	// though the record was alerted long enough.
	h := newHarness(t, time.Hour, 0, []string{"BOTH_WANS_DOWN"})
	ctx := context.Background()

	if _, err := h.engine.RegisterEvent(ctx, "BOTH_WANS_DOWN", "gateway", "both down", ""); err != nil {
		t.Fatalf("RegisterEvent: %v", err)
	}
	h.advance(time.Hour)
	if err := h.engine.RegisterRecovery(ctx, "BOTH_WANS_DOWN", "gateway", ""); err != nil {
		t.Fatalf("RegisterRecovery: %v", err)
	}

	if got := len(h.sink.Delivered()); got != 1 {
		t.Errorf("deliveries: got %d, want only the bypass alert", got)
	}
	if _, ok, _ := h.store.Get("BOTH_WANS_DOWN", "gateway"); ok {
		t.Error("record survived recovery")
	}
}

func TestRegisterEvent_InvalidArgument(t *testing.T) {
	h := newHarness(t, time.Minute, time.Minute, nil)
	_, err := h.engine.RegisterEvent(context.Background(), "", "id", "m", "")
	if !errors.Is(err, event.ErrInvalidArgument) {
		t.Errorf("RegisterEvent with empty type: got %v", err)
	}
}
