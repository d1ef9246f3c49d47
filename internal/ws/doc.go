// Package ws streams the live event table over WebSocket. Each connected
// client receives the current snapshot on connect and then a fresh one on
// every broadcast tick, wrapped in an {event, data} envelope so dashboards
// can multiplex other message kinds later.
package ws
