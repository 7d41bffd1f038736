// Package queue defines message payloads exchanged over the message broker
// and the background consumer that records them.
package queue

// Security event types published to the account.security queue.
const (
	EventLoginFailed    = "login.failed"
	EventLoginBlocked   = "login.blocked"
	EventBlockPermanent = "block.permanent"
	EventSessionRevoked = "session.revoked"
)

// SecurityEvent is published when the abuse-control core observes
// something an operator may care about. It carries enough information for
// downstream consumers to log, alert, or feed analytics without querying
// the primary database. No secrets: subjects are usernames or IPs, never
// credentials or tokens.
type SecurityEvent struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Subject   string `json:"subject"`
	Strategy  string `json:"strategy,omitempty"`
	UserID    uint64 `json:"user_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	At        string `json:"at"`
}
