// Package notify defines the alert sink boundary: the capability that
// actually delivers a rendered notification to a human-facing channel.
//
// The delivery pipeline only depends on the Sink interface. Webhook is the
// production implementation, posting to Slack, Teams, PagerDuty or a plain
// HTTP endpoint; Nop is the test double that records what would have been
// sent.
package notify
