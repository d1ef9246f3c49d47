package notify

import (
	"context"
	"sync"
)

// Message is one rendered notification ready for delivery.
type Message struct {
	// Title is the short headline, e.g. "flapguard: wan_down".
	Title string

	// Body is the full notification text.
	Body string

	// Severity is one of: critical | warning | info. It only affects
	// presentation (colors, labels) at the sink.
	Severity string
}

// Sink delivers a rendered notification. Implementations must respect ctx
// cancellation; a hung delivery is bounded by the pipeline's timeout and
// treated as a delivery failure.
type Sink interface {
	Deliver(ctx context.Context, msg Message) error
}

// Nop is a Sink that records delivered messages in memory. Useful in tests
// and as the default when no webhooks are configured.
type Nop struct {
	mu   sync.Mutex
	msgs []Message

	// Err, when non-nil, is returned by every Deliver call.
	Err error
}

// Deliver records msg and returns n.Err.
func (n *Nop) Deliver(_ context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.msgs = append(n.msgs, msg)
	return nil
}

// Delivered returns a copy of all messages delivered so far.
func (n *Nop) Delivered() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Message, len(n.msgs))
	copy(out, n.msgs)
	return out
}
