// Package engine ties the event store to the delivery pipeline: the
// grace-period state machine that decides when a raw failure occurrence
// becomes a human-facing alert, and when a recovery is worth announcing.
//
// Lifecycle per (type, identifier) record:
//
//	PENDING --(age >= grace period)---------------------> ALERTED
//	PENDING --(recovery, any downtime)------------------> deleted, silent
//	ALERTED --(recovery, downtime >= threshold)---------> deleted, recovery alert
//	ALERTED --(recovery, downtime < threshold)----------> deleted, silent
//
// Critical event types skip the grace period: the first occurrence alerts
// immediately through the plain path and the record is created already
// alerted. The engine schedules nothing itself - an external driver (the
// daemon ticker or a cron-invoked CLI) calls Sweep periodically.
package engine
