// Package alert implements the delivery pipeline: the rate limiter, the
// content-dedup gate and the three send operations composed from them.
//
// SendPlain applies only the per-key cooldown. SendSmart suppresses sends
// whose body is unchanged since the last delivery for the same
// (type, identifier). SendRecovery fires only when there was a prior smart
// alert to recover from, then clears that state so the next failure alerts
// again.
//
// A send that is suppressed by the cooldown or the dedup gate is a normal,
// successful outcome, not an error. A sink failure is logged and reported
// in the Result but never rolls back persisted pipeline state.
package alert
