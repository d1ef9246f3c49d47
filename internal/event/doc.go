// Package event persists the per-(event type, identifier) record of an
// ongoing failure condition.
//
// A record is created on the first occurrence with status "pending",
// refreshed (last_seen only) while the condition persists, promoted to
// "alerted" once the grace period elapses, and deleted on recovery. A
// record existing at all means the condition is currently believed
// ongoing - there is no retained "resolved" state.
package event
