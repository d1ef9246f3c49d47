// Package storage implements the directory-backed key-value store that
// holds all flapguard state: event records, rate-limit timestamps and
// dedup fingerprints.
//
// Keys are paths relative to the state directory. Writes go through a
// temp-file-then-rename so a crash never leaves a partially written value.
// Lock(key) takes an exclusive flock(2) on a sidecar .lock file, which is
// how concurrent invocations (daemon sweep vs. a cron-driven CLI call, or
// two hosts sharing a state directory) serialize read-modify-write
// sequences on the same key.
//
// A missing or unwritable state directory surfaces as ErrUnavailable;
// callers are expected to log and carry on rather than crash.
package storage
