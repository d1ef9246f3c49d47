package alert

import (
	"strings"

	"github.com/flapguard/flapguard/internal/storage"
)

const dedupPrefix = ".smart_"

// DedupGate suppresses repeat notifications whose content is unchanged,
// keyed by (alert type, identifier). The persisted value is the
// fingerprint of the last body that was actually delivered.
type DedupGate struct {
	dir *storage.Dir
}

// NewDedupGate creates a DedupGate backed by dir.
func NewDedupGate(dir *storage.Dir) *DedupGate {
	return &DedupGate{dir: dir}
}

// ShouldSend reports whether body differs from the last delivered body for
// (alertType, identifier). A first-ever send always passes.
func (g *DedupGate) ShouldSend(alertType, identifier, body string) (bool, error) {
	data, ok, err := g.dir.Read(dedupKey(alertType, identifier))
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return strings.TrimSpace(string(data)) != Fingerprint(body), nil
}

// MarkSent persists the fingerprint of body as the last delivered content.
func (g *DedupGate) MarkSent(alertType, identifier, body string) error {
	return g.dir.Write(dedupKey(alertType, identifier), []byte(Fingerprint(body)))
}

// HasState reports whether any fingerprint is recorded for
// (alertType, identifier) - i.e. whether a smart alert ever went out.
func (g *DedupGate) HasState(alertType, identifier string) (bool, error) {
	_, ok, err := g.dir.Read(dedupKey(alertType, identifier))
	return ok, err
}

// Clear removes the recorded fingerprint so the next send passes the gate.
func (g *DedupGate) Clear(alertType, identifier string) error {
	return g.dir.Remove(dedupKey(alertType, identifier))
}

func dedupKey(alertType, identifier string) string {
	return dedupPrefix + alertType + "_" + identifier
}
