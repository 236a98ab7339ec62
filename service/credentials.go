package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

// CredentialVerifier checks email and password logins.
type CredentialVerifier struct {
	accounts ports.AccountStore
	hasher   ports.PasswordHasher
	logger   logrus.FieldLogger

	// dummyHash is compared against when the email is unknown so lookups
	// for missing accounts cost the same as real ones.
	dummyHash string
}

// NewCredentialVerifier creates a verifier. It hashes a throwaway password
// once to have a dummy hash with the hasher's current cost.
func NewCredentialVerifier(accounts ports.AccountStore, hasher ports.PasswordHasher, logger logrus.FieldLogger) (*CredentialVerifier, error) {
	dummy, err := hasher.Hash("warden-dummy-password")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &CredentialVerifier{
		accounts:  accounts,
		hasher:    hasher,
		logger:    logger,
		dummyHash: dummy,
	}, nil
}

// NormalizeEmail lowercases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Verify returns the account if password matches its stored hash. Every
// failure that depends on the input is reported as core.ErrInvalidCredentials.
func (v *CredentialVerifier) Verify(ctx context.Context, email, password string) (*core.Account, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		_, _ = v.hasher.Verify(password, v.dummyHash)
		return nil, core.ErrInvalidCredentials
	}

	account, err := v.accounts.GetAccountByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, core.ErrAccountNotFound) {
			_, _ = v.hasher.Verify(password, v.dummyHash)
			return nil, core.ErrInvalidCredentials
		}
		return nil, err
	}

	if account.CredentialHash == "" {
		_, _ = v.hasher.Verify(password, v.dummyHash)
		return nil, core.ErrInvalidCredentials
	}

	ok, err := v.hasher.Verify(password, account.CredentialHash)
	if err != nil {
		v.logger.WithError(err).WithField("account_id", account.ID).Error("stored credential hash is unreadable")
		return nil, core.ErrInvalidCredentials
	}
	if !ok || account.Disabled {
		return nil, core.ErrInvalidCredentials
	}

	return account, nil
}

// Hash encodes a new password.
func (v *CredentialVerifier) Hash(password string) (string, error) {
	return v.hasher.Hash(password)
}
