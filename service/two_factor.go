package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

// CodeDigits is the length of a verification code.
const CodeDigits = 6

// TwoFactorSettings bound a challenge's lifetime and guesses.
type TwoFactorSettings struct {
	TTL             time.Duration
	Attempts        int
	DeliveryTimeout time.Duration
}

// DefaultTwoFactorSettings are used for zero fields.
var DefaultTwoFactorSettings = TwoFactorSettings{
	TTL:             2 * time.Minute,
	Attempts:        5,
	DeliveryTimeout: 5 * time.Second,
}

// TwoFactorController owns the OTP challenge state machine.
//
//	Pending -> Verified | Expired | Exhausted | Superseded
//
// Every state other than Pending is terminal for that challenge.
type TwoFactorController struct {
	clock
	store    ports.TwoFactorStore
	sender   ports.OTPSender
	logger   logrus.FieldLogger
	settings TwoFactorSettings
}

// NewTwoFactorController creates a controller.
func NewTwoFactorController(store ports.TwoFactorStore, sender ports.OTPSender, logger logrus.FieldLogger, settings TwoFactorSettings, opts ...Option) *TwoFactorController {
	if settings.TTL <= 0 {
		settings.TTL = DefaultTwoFactorSettings.TTL
	}
	if settings.Attempts <= 0 {
		settings.Attempts = DefaultTwoFactorSettings.Attempts
	}
	if settings.DeliveryTimeout <= 0 {
		settings.DeliveryTimeout = DefaultTwoFactorSettings.DeliveryTimeout
	}

	c := &TwoFactorController{
		clock:    newClock(),
		store:    store,
		sender:   sender,
		logger:   logger,
		settings: settings,
	}
	applyOptions(c, opts)
	return c
}

// newCode returns a uniformly random numeric code.
func newCode(digits int) (string, error) {
	var b strings.Builder
	b.Grow(digits)

	max := big.NewInt(10)
	for i := 0; i < digits; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + n.Int64()))
	}
	return b.String(), nil
}

func hashCode(code string) [32]byte {
	return sha256.Sum256([]byte(strings.TrimSpace(code)))
}

// StartChallenge creates a challenge for a login and requests delivery of
// its code. The challenge becomes the account's current one. When delivery
// fails the saved challenge is returned with an error matching
// core.ErrDeliveryFailed; it stays pending until its TTL lapses.
func (c *TwoFactorController) StartChallenge(ctx context.Context, account *core.Account, loginID string) (*core.TwoFactorChallenge, error) {
	if !account.TwoFactor.Enabled {
		return nil, core.ErrTwoFactorDisabled
	}

	code, err := newCode(CodeDigits)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	now := c.now().UTC()
	challenge := &core.TwoFactorChallenge{
		ID:                uuid.NewString(),
		AccountID:         account.ID,
		LoginID:           loginID,
		CodeHash:          hashCode(code),
		Channel:           account.TwoFactor.Channel,
		Destination:       account.TwoFactor.Destination,
		IssuedAt:          now,
		ExpiresAt:         now.Add(c.settings.TTL),
		AttemptsRemaining: c.settings.Attempts,
		State:             core.TwoFactorPending,
	}

	if err := c.store.CreateTwoFactor(ctx, challenge); err != nil {
		return nil, err
	}

	deliveryCtx, cancel := context.WithTimeout(ctx, c.settings.DeliveryTimeout)
	defer cancel()

	err = c.sender.SendCode(deliveryCtx, core.CodeDelivery{
		ChallengeID: challenge.ID,
		AccountID:   account.ID,
		Channel:     challenge.Channel,
		Destination: challenge.Destination,
		Code:        code,
		ExpiresAt:   challenge.ExpiresAt,
	})
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"account_id":   account.ID,
			"challenge_id": challenge.ID,
			"channel":      challenge.Channel,
		}).Warn("verification code delivery failed")
		return challenge, fmt.Errorf("%w: %v", core.ErrDeliveryFailed, err)
	}

	return challenge, nil
}

// Verify checks code against the challenge atomically. A wrong code burns
// one attempt; the last wrong code exhausts the challenge.
func (c *TwoFactorController) Verify(ctx context.Context, challengeID, code string) (*core.TwoFactorChallenge, error) {
	now := c.now()
	submitted := hashCode(code)

	return c.store.UpdateTwoFactor(ctx, challengeID, func(ch *core.TwoFactorChallenge) error {
		switch ch.State {
		case core.TwoFactorPending:
		case core.TwoFactorExpired:
			return core.ErrTwoFactorExpired
		case core.TwoFactorExhausted:
			return core.ErrTwoFactorExhausted
		default:
			return core.ErrNoChallenge
		}

		if !now.Before(ch.ExpiresAt) {
			ch.State = core.TwoFactorExpired
			return core.ErrTwoFactorExpired
		}

		if subtle.ConstantTimeCompare(submitted[:], ch.CodeHash[:]) == 1 {
			ch.State = core.TwoFactorVerified
			return nil
		}

		ch.AttemptsRemaining--
		if ch.AttemptsRemaining <= 0 {
			ch.AttemptsRemaining = 0
			ch.State = core.TwoFactorExhausted
			return core.ErrTwoFactorExhausted
		}
		return core.ErrCodeMismatch
	})
}

// Resend supersedes the account's outstanding challenge and starts a new one
// for the same login.
func (c *TwoFactorController) Resend(ctx context.Context, account *core.Account, loginID string) (*core.TwoFactorChallenge, error) {
	return c.StartChallenge(ctx, account, loginID)
}

// Current returns the account's latest challenge.
func (c *TwoFactorController) Current(ctx context.Context, accountID string) (*core.TwoFactorChallenge, error) {
	return c.store.CurrentTwoFactor(ctx, accountID)
}

// ResendAvailableAt is when a challenge issued at issuedAt may be resent.
func ResendAvailableAt(issuedAt time.Time, cooldown time.Duration) time.Time {
	return issuedAt.Add(cooldown)
}

// CanResend reports whether a resend is allowed at now.
func CanResend(now, issuedAt time.Time, cooldown time.Duration) bool {
	return !now.Before(ResendAvailableAt(issuedAt, cooldown))
}
