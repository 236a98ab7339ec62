package ports

import (
	"context"
	"time"

	"github.com/layer-3/warden/core"
)

// AccountStore persists accounts. Lookups of unknown accounts return core.ErrAccountNotFound.
type AccountStore interface {
	// CreateAccount fails with core.ErrAccountExists when the email or wallet is already taken.
	CreateAccount(ctx context.Context, account *core.Account) error
	UpdateAccount(ctx context.Context, account *core.Account) error
	GetAccount(ctx context.Context, id string) (*core.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (*core.Account, error)
	GetAccountByWallet(ctx context.Context, address string) (*core.Account, error)
}

// TokenStore holds refresh token state and the revocation lists.
type TokenStore interface {
	PutRefresh(ctx context.Context, record *core.RefreshRecord) error
	// GetRefresh returns core.ErrTokenInvalid for unknown ids.
	GetRefresh(ctx context.Context, id string) (*core.RefreshRecord, error)
	// RevokeRefresh marks the record revoked and reports whether this call did it.
	// Only one of several concurrent callers observes true.
	RevokeRefresh(ctx context.Context, id string) (bool, error)
	RevokeFamily(ctx context.Context, familyID string) error
	RevokeAccount(ctx context.Context, accountID string) error
	FamilyRevoked(ctx context.Context, familyID string) (bool, error)
}

// WalletChallengeStore holds at most one unconsumed challenge per address.
type WalletChallengeStore interface {
	// PutChallenge replaces whatever challenge the address had.
	PutChallenge(ctx context.Context, challenge *core.WalletChallenge) error
	// GetChallenge returns core.ErrNoChallenge when the address has none.
	GetChallenge(ctx context.Context, address string) (*core.WalletChallenge, error)
	// ConsumeChallenge deletes the challenge only if its nonce still matches,
	// otherwise it returns core.ErrNoChallenge.
	ConsumeChallenge(ctx context.Context, address, nonce string) error
	PutRegistration(ctx context.Context, ticket *core.RegistrationTicket) error
	// TakeRegistration removes and returns the ticket, core.ErrNoChallenge if absent.
	TakeRegistration(ctx context.Context, address string) (*core.RegistrationTicket, error)
}

// TwoFactorStore holds OTP challenges and the current challenge per account.
type TwoFactorStore interface {
	// CreateTwoFactor saves the challenge as the account's current one and
	// marks the previous current challenge superseded.
	CreateTwoFactor(ctx context.Context, challenge *core.TwoFactorChallenge) error
	// GetTwoFactor returns core.ErrNoChallenge for unknown ids.
	GetTwoFactor(ctx context.Context, id string) (*core.TwoFactorChallenge, error)
	CurrentTwoFactor(ctx context.Context, accountID string) (*core.TwoFactorChallenge, error)
	// UpdateTwoFactor applies fn atomically. The mutated record is saved even
	// when fn returns an error; that error is then returned to the caller.
	UpdateTwoFactor(ctx context.Context, id string, fn func(*core.TwoFactorChallenge) error) (*core.TwoFactorChallenge, error)
}

// RateLimitCounter counts hits in fixed windows.
type RateLimitCounter interface {
	// Hit increments key and returns the count inside the current window and
	// when that window ends. A new window starts on the first hit after the
	// previous one ended.
	Hit(ctx context.Context, key string, window time.Duration, now time.Time) (count int64, resetAt time.Time, err error)
}
