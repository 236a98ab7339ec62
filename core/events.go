package core

import "time"

// EventType names a security relevant event.
type EventType string

const (
	EventLogin             EventType = "login"
	EventAccountRegistered EventType = "account_registered"
	EventTwoFactorEnabled  EventType = "two_factor_enabled"
	EventTwoFactorDisabled EventType = "two_factor_disabled"
	EventWalletLinked      EventType = "wallet_linked"
	EventRefreshReplay     EventType = "refresh_replay"
	EventLogout            EventType = "logout"
)

// SecurityEvent is published after security relevant changes.
type SecurityEvent struct {
	Type       EventType         `json:"type"`
	AccountID  string            `json:"account_id"`
	Method     string            `json:"method,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// CodeDelivery is a request to deliver an OTP over a channel.
type CodeDelivery struct {
	ChallengeID string    `json:"challenge_id"`
	AccountID   string    `json:"account_id"`
	Channel     Channel   `json:"channel"`
	Destination string    `json:"destination"`
	Code        string    `json:"code"`
	ExpiresAt   time.Time `json:"expires_at"`
}
