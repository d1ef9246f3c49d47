package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/flapguard/flapguard/internal/storage"
)

// ErrInvalidArgument reports an empty or malformed event type or identifier.
var ErrInvalidArgument = errors.New("invalid argument")

// Store persists Records in a storage.Dir. All read-modify-write sequences
// take the per-key lock, so concurrent invocations - the daemon's sweep
// racing a cron-driven CLI registration, or two hosts sharing a state
// directory - cannot interleave on the same record.
type Store struct {
	dir *storage.Dir
	now func() time.Time // injectable for deterministic tests
}

// NewStore creates a Store on top of dir.
func NewStore(dir *storage.Dir) *Store {
	return &Store{dir: dir, now: time.Now}
}

// WithNow overrides the store's clock. Tests use it to pin timestamps.
func (s *Store) WithNow(now func() time.Time) *Store {
	s.now = now
	return s
}

// Register records an occurrence of (eventType, identifier). The first
// occurrence creates a pending record with first_seen = last_seen = now;
// later occurrences refresh last_seen only, keeping the original message
// and details so the eventual alert carries the initial context.
//
// The returned bool is true when this call created the record.
func (s *Store) Register(eventType, identifier, message, details string) (Record, bool, error) {
	key, err := recordKey(eventType, identifier)
	if err != nil {
		return Record{}, false, err
	}

	unlock, err := s.dir.Lock(key)
	if err != nil {
		return Record{}, false, err
	}
	defer unlock()

	rec, ok, err := s.read(key)
	if err != nil {
		return Record{}, false, err
	}

	now := s.now().UTC()
	if ok {
		rec.LastSeen = now
		return rec, false, s.write(key, rec)
	}

	rec = Record{
		EventType:  eventType,
		Identifier: identifier,
		Message:    message,
		Details:    details,
		FirstSeen:  now,
		LastSeen:   now,
		AlertSent:  false,
		Status:     StatusPending,
	}
	return rec, true, s.write(key, rec)
}

// MarkAlerted transitions the record to alerted. It is idempotent: marking
// an already-alerted or missing record succeeds without effect.
func (s *Store) MarkAlerted(eventType, identifier string) error {
	key, err := recordKey(eventType, identifier)
	if err != nil {
		return err
	}

	unlock, err := s.dir.Lock(key)
	if err != nil {
		return err
	}
	defer unlock()

	rec, ok, err := s.read(key)
	if err != nil || !ok {
		return err
	}
	if rec.AlertSent {
		return nil
	}

	rec.AlertSent = true
	rec.Status = StatusAlerted
	return s.write(key, rec)
}

// Get returns the record for (eventType, identifier), if any.
func (s *Store) Get(eventType, identifier string) (Record, bool, error) {
	key, err := recordKey(eventType, identifier)
	if err != nil {
		return Record{}, false, err
	}
	return s.read(key)
}

// Remove deletes the record for (eventType, identifier). Removing a record
// that does not exist is not an error.
func (s *Store) Remove(eventType, identifier string) error {
	key, err := recordKey(eventType, identifier)
	if err != nil {
		return err
	}
	return s.dir.Remove(key)
}

// WalkPending calls fn for every persisted record with alert_sent == false,
// in key order, stopping early if fn returns false. Records are read one at
// a time, so the walk sees each record's latest state as it reaches it; a
// record that cannot be decoded is logged and skipped rather than aborting
// the walk.
func (s *Store) WalkPending(fn func(Record) bool) error {
	keys, err := s.dir.List(storage.EventsDir)
	if err != nil {
		return err
	}

	for _, key := range keys {
		rec, ok, err := s.read(key)
		if err != nil {
			slog.Warn("event: skipping unreadable record", "key", key, "err", err)
			continue
		}
		if !ok || rec.AlertSent {
			continue
		}
		if !fn(rec) {
			return nil
		}
	}
	return nil
}

// ListPending returns all pending records as a slice.
func (s *Store) ListPending() ([]Record, error) {
	var out []Record
	err := s.WalkPending(func(r Record) bool {
		out = append(out, r)
		return true
	})
	return out, err
}

// ListAll returns every persisted record, pending and alerted.
func (s *Store) ListAll() ([]Record, error) {
	keys, err := s.dir.List(storage.EventsDir)
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(keys))
	for _, key := range keys {
		rec, ok, err := s.read(key)
		if err != nil {
			slog.Warn("event: skipping unreadable record", "key", key, "err", err)
			continue
		}
		if ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

// --- internal ---------------------------------------------------------------

func (s *Store) read(key string) (Record, bool, error) {
	data, ok, err := s.dir.Read(key)
	if err != nil || !ok {
		return Record{}, false, err
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("event: decode %s: %w", key, err)
	}
	return rec, true, nil
}

func (s *Store) write(key string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("event: encode %s: %w", key, err)
	}
	return s.dir.Write(key, data)
}

// recordKey validates the composite key fields and returns the storage key.
func recordKey(eventType, identifier string) (string, error) {
	if eventType == "" || identifier == "" {
		return "", fmt.Errorf("%w: event type and identifier must be non-empty", ErrInvalidArgument)
	}
	if strings.ContainsAny(eventType+identifier, "/\\") {
		return "", fmt.Errorf("%w: event type and identifier must not contain path separators", ErrInvalidArgument)
	}
	return storage.EventsDir + "/" + eventType + "_" + identifier + ".json", nil
}
