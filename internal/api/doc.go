// Package api implements the HTTP JSON API of the flapguard daemon.
//
// New(engine) returns an http.Handler that serves:
//
//	POST /api/v1/events      - register a raw occurrence
//	POST /api/v1/recoveries  - report a condition recovered
//	POST /api/v1/sweep       - run one grace-period sweep, returns counts
//	POST /api/v1/alerts      - direct delivery-pipeline send (plain | smart | recovery)
//	GET  /api/v1/events      - all active records plus pending/alerted counts
//	GET  /api/v1/health      - daemon health and record counts
//
// All endpoints respond with Content-Type: application/json and return 405
// for unsupported methods. Invalid arguments map to 400, storage trouble
// to 503, and a sink delivery failure to 502 (state transitions are not
// rolled back in that case).
package api
