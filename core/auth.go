package core

import "time"

// Channel is the out-of-band medium a verification code is delivered over.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Valid reports whether c is a supported delivery channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS:
		return true
	default:
		return false
	}
}

// TwoFactorConfig is the per-account second factor setting.
type TwoFactorConfig struct {
	Enabled     bool    `json:"enabled"`
	Channel     Channel `json:"channel,omitempty"`
	Destination string  `json:"destination,omitempty"`
}

// Account is the root identity entity.
type Account struct {
	ID             string
	Email          string
	CredentialHash string // empty for wallet-only accounts
	WalletAddress  string // EIP-55 checksummed, unique when set
	FirstName      string
	LastName       string
	TwoFactor      TwoFactorConfig
	Role           Role
	Disabled       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WalletChallenge is the one-time nonce issued to a wallet address.
type WalletChallenge struct {
	Address   string    // Checksummed address the challenge is bound to
	Nonce     string    // Random nonce embedded in Message
	Message   string    // Exact text the wallet signs
	IssuedAt  time.Time // When the challenge was created
	ExpiresAt time.Time // When the challenge stops being accepted
	Consumed  bool
}

// RegistrationTicket remembers a verified signature for an address that has
// no linked account yet, so the registration call can reuse it once.
type RegistrationTicket struct {
	Address       string
	SignatureHash [32]byte
	ExpiresAt     time.Time
}

// TwoFactorState is the lifecycle state of a TwoFactorChallenge.
type TwoFactorState string

const (
	TwoFactorPending    TwoFactorState = "pending"
	TwoFactorVerified   TwoFactorState = "verified"
	TwoFactorExpired    TwoFactorState = "expired"
	TwoFactorExhausted  TwoFactorState = "exhausted"
	TwoFactorSuperseded TwoFactorState = "superseded"
)

// Terminal reports whether no further verification is possible in state s.
func (s TwoFactorState) Terminal() bool {
	return s != TwoFactorPending
}

// TwoFactorChallenge is one OTP challenge instance.
type TwoFactorChallenge struct {
	ID                string         `json:"id"`
	AccountID         string         `json:"account_id"`
	LoginID           string         `json:"login_id"`
	CodeHash          [32]byte       `json:"code_hash"`
	Channel           Channel        `json:"channel"`
	Destination       string         `json:"destination"`
	IssuedAt          time.Time      `json:"issued_at"`
	ExpiresAt         time.Time      `json:"expires_at"`
	AttemptsRemaining int            `json:"attempts_remaining"`
	State             TwoFactorState `json:"state"`
}

// TokenPair is what a successful authentication hands back to the caller.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	IssuedAt         time.Time
	FamilyID         string
}

// RefreshRecord is the server-side state of one opaque refresh token.
type RefreshRecord struct {
	ID        string    `json:"id"` // hex sha256 of the opaque token
	FamilyID  string    `json:"family_id"`
	AccountID string    `json:"account_id"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Revoked   bool      `json:"revoked"`
}

// Claims is the stateless payload carried by an access token.
type Claims struct {
	AccountID string
	Role      Role
	FamilyID  string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// PendingLogin is the payload of a two-factor token: a login that passed its
// primary factor and is waiting for the code.
type PendingLogin struct {
	LoginID   string
	AccountID string
	Method    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// RateLimitDecision is the outcome of a single admission check.
type RateLimitDecision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// AuthStatus is the coarse outcome of a login flow.
type AuthStatus string

const (
	StatusAuthenticated     AuthStatus = "authenticated"
	StatusPendingTwoFactor  AuthStatus = "pending_two_factor"
	StatusNeedsRegistration AuthStatus = "needs_registration"
)

// AuthResult is what the login flows return.
type AuthResult struct {
	Status             AuthStatus
	Account            *Account
	Tokens             *TokenPair
	TwoFactorToken     string
	TwoFactorExpiresAt time.Time
	ResendAvailableAt  time.Time
	// DeliveryFailed is set when the code could not be handed off; the
	// challenge stays pending and the caller may resend.
	DeliveryFailed bool
}

// Login methods recorded on pending logins and security events.
const (
	MethodCredential = "credential"
	MethodWallet     = "wallet"
)
