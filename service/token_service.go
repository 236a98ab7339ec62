package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

const refreshTokenSize = 32

// TokenService issues, rotates and revokes token pairs. Access tokens are
// verified without I/O; refresh tokens are opaque and tracked in the store.
type TokenService struct {
	clock
	tokenizer ports.Tokenizer
	store     ports.TokenStore
	accounts  ports.AccountStore
	notifier  ports.Notifier
	recorder  Recorder
	logger    logrus.FieldLogger

	accessTTL  time.Duration
	refreshTTL time.Duration
}

// NewTokenService creates a token service
func NewTokenService(
	tokenizer ports.Tokenizer,
	store ports.TokenStore,
	accounts ports.AccountStore,
	notifier ports.Notifier,
	recorder Recorder,
	logger logrus.FieldLogger,
	accessTTL, refreshTTL time.Duration,
	opts ...Option,
) *TokenService {
	if recorder == nil {
		recorder = NopRecorder{}
	}
	s := &TokenService{
		clock:      newClock(),
		tokenizer:  tokenizer,
		store:      store,
		accounts:   accounts,
		notifier:   notifier,
		recorder:   recorder,
		logger:     logger,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
	applyOptions(s, opts)
	return s
}

// refreshID maps an opaque refresh token to its storage id.
func refreshID(token string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != refreshTokenSize {
		return "", core.ErrTokenInvalid
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Issue starts a new token family for account.
func (s *TokenService) Issue(ctx context.Context, account *core.Account) (*core.TokenPair, error) {
	return s.issue(ctx, account, uuid.NewString())
}

func (s *TokenService) issue(ctx context.Context, account *core.Account, familyID string) (*core.TokenPair, error) {
	now := s.now().UTC().Truncate(time.Second)

	accessToken, err := s.tokenizer.ClaimsToAccessToken(&core.Claims{
		AccountID: account.ID,
		Role:      account.Role,
		FamilyID:  familyID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.accessTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	raw := make([]byte, refreshTokenSize)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}
	refreshToken := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256(raw)

	record := &core.RefreshRecord{
		ID:        hex.EncodeToString(sum[:]),
		FamilyID:  familyID,
		AccountID: account.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.refreshTTL),
	}
	if err := s.store.PutRefresh(ctx, record); err != nil {
		return nil, err
	}

	return &core.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  now.Add(s.accessTTL),
		RefreshExpiresAt: record.ExpiresAt,
		IssuedAt:         now,
		FamilyID:         familyID,
	}, nil
}

// Refresh rotates a refresh token. Presenting a token that was already
// rotated revokes its whole family and fails with core.ErrTokenInvalid.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*core.TokenPair, error) {
	id, err := refreshID(refreshToken)
	if err != nil {
		return nil, err
	}

	record, err := s.store.GetRefresh(ctx, id)
	if err != nil {
		return nil, err
	}

	revoked, err := s.store.FamilyRevoked(ctx, record.FamilyID)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, core.ErrTokenRevoked
	}

	if record.Revoked {
		return nil, s.replay(ctx, record)
	}
	if !s.now().Before(record.ExpiresAt) {
		return nil, core.ErrTokenExpired
	}

	won, err := s.store.RevokeRefresh(ctx, id)
	if err != nil {
		return nil, err
	}
	if !won {
		// a concurrent refresh of the same token got there first
		return nil, s.replay(ctx, record)
	}

	account, err := s.accounts.GetAccount(ctx, record.AccountID)
	if err != nil && !errors.Is(err, core.ErrAccountNotFound) {
		return nil, err
	}
	if account == nil || account.Disabled {
		if err := s.store.RevokeFamily(ctx, record.FamilyID); err != nil {
			return nil, err
		}
		return nil, core.ErrTokenRevoked
	}

	return s.issue(ctx, account, record.FamilyID)
}

func (s *TokenService) replay(ctx context.Context, record *core.RefreshRecord) error {
	if err := s.store.RevokeFamily(ctx, record.FamilyID); err != nil {
		return err
	}

	s.recorder.RefreshReplay()
	s.logger.WithFields(logrus.Fields{
		"account_id": record.AccountID,
		"family_id":  record.FamilyID,
	}).Warn("refresh token replay detected, family revoked")

	notify(ctx, s.notifier, s.logger, core.SecurityEvent{
		Type:       core.EventRefreshReplay,
		AccountID:  record.AccountID,
		Attributes: map[string]string{"family_id": record.FamilyID},
		OccurredAt: s.now().UTC(),
	})

	return core.ErrTokenInvalid
}

// Verify validates an access token. It performs no I/O.
func (s *TokenService) Verify(accessToken string) (*core.Claims, error) {
	return s.tokenizer.AccessTokenToClaims(accessToken)
}

// RevokeFamily revokes every refresh token descended from one login.
func (s *TokenService) RevokeFamily(ctx context.Context, familyID string) error {
	return s.store.RevokeFamily(ctx, familyID)
}

// RevokeAccount revokes every family of the account.
func (s *TokenService) RevokeAccount(ctx context.Context, accountID string) error {
	return s.store.RevokeAccount(ctx, accountID)
}

// RevokeRefreshToken revokes the family of a presented refresh token and
// returns its record. Unknown tokens are not an error.
func (s *TokenService) RevokeRefreshToken(ctx context.Context, refreshToken string) (*core.RefreshRecord, error) {
	id, err := refreshID(refreshToken)
	if err != nil {
		return nil, nil
	}

	record, err := s.store.GetRefresh(ctx, id)
	if errors.Is(err, core.ErrTokenInvalid) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.store.RevokeFamily(ctx, record.FamilyID); err != nil {
		return nil, err
	}
	return record, nil
}
