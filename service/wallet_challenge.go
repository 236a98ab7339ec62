package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

// WalletChallengeService issues one-time sign-in nonces to wallet addresses
// and verifies the signatures returned for them.
type WalletChallengeService struct {
	clock
	store    ports.WalletChallengeStore
	accounts ports.AccountStore
	verifier ports.SignatureVerifier
	domain   string
	ttl      time.Duration
}

// NewWalletChallengeService creates the service. domain is shown to the user
// in the message they sign.
func NewWalletChallengeService(
	store ports.WalletChallengeStore,
	accounts ports.AccountStore,
	verifier ports.SignatureVerifier,
	domain string,
	ttl time.Duration,
	opts ...Option,
) *WalletChallengeService {
	s := &WalletChallengeService{
		clock:    newClock(),
		store:    store,
		accounts: accounts,
		verifier: verifier,
		domain:   domain,
		ttl:      ttl,
	}
	applyOptions(s, opts)
	return s
}

// ChallengeMessage is the exact text the wallet signs.
func ChallengeMessage(domain, address, nonce string, issuedAt, expiresAt time.Time) string {
	return fmt.Sprintf("%s wants you to sign in with your Ethereum account:\n%s\n\nNonce: %s\nIssued At: %s\nExpiration Time: %s",
		domain,
		address,
		nonce,
		issuedAt.UTC().Format(time.RFC3339),
		expiresAt.UTC().Format(time.RFC3339),
	)
}

// IssueChallenge creates a new challenge for address, replacing any previous one.
func (s *WalletChallengeService) IssueChallenge(ctx context.Context, address string) (*core.WalletChallenge, error) {
	address, err := s.verifier.NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	nonceBytes := make([]byte, 32)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := s.now().UTC().Truncate(time.Second)
	challenge := &core.WalletChallenge{
		Address:   address,
		Nonce:     hex.EncodeToString(nonceBytes),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	challenge.Message = ChallengeMessage(s.domain, address, challenge.Nonce, challenge.IssuedAt, challenge.ExpiresAt)

	if err := s.store.PutChallenge(ctx, challenge); err != nil {
		return nil, err
	}
	return challenge, nil
}

// VerifySignature checks signature against the address's outstanding
// challenge and consumes it. It returns the linked account, or
// core.ErrAccountNotFound after recording a registration ticket when the
// address has no account yet.
func (s *WalletChallengeService) VerifySignature(ctx context.Context, address, signature string) (*core.Account, error) {
	address, err := s.consume(ctx, address, signature)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetAccountByWallet(ctx, address)
	if errors.Is(err, core.ErrAccountNotFound) {
		ticket := &core.RegistrationTicket{
			Address:       address,
			SignatureHash: signatureHash(signature),
			ExpiresAt:     s.now().Add(s.ttl),
		}
		if err := s.store.PutRegistration(ctx, ticket); err != nil {
			return nil, err
		}
		return nil, core.ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}

// RedeemRegistration proves that signature was already verified for an
// unlinked address, or verifies it against a fresh challenge. It returns the
// checksummed address the new account may claim.
func (s *WalletChallengeService) RedeemRegistration(ctx context.Context, address, signature string) (string, error) {
	address, err := s.verifier.NormalizeAddress(address)
	if err != nil {
		return "", err
	}

	ticket, err := s.store.TakeRegistration(ctx, address)
	switch {
	case err == nil:
		if !s.now().Before(ticket.ExpiresAt) {
			return "", core.ErrChallengeExpired
		}
		sum := signatureHash(signature)
		if subtle.ConstantTimeCompare(sum[:], ticket.SignatureHash[:]) != 1 {
			return "", core.ErrSignatureMismatch
		}
		return address, nil
	case errors.Is(err, core.ErrNoChallenge):
		// no prior verify call; the signature must answer a live challenge
		address, err := s.consume(ctx, address, signature)
		if err != nil {
			return "", err
		}
		if _, err := s.accounts.GetAccountByWallet(ctx, address); err == nil {
			return "", core.ErrAccountExists
		} else if !errors.Is(err, core.ErrAccountNotFound) {
			return "", err
		}
		return address, nil
	default:
		return "", err
	}
}

// consume validates the signature and atomically consumes the challenge.
func (s *WalletChallengeService) consume(ctx context.Context, address, signature string) (string, error) {
	address, err := s.verifier.NormalizeAddress(address)
	if err != nil {
		return "", err
	}

	challenge, err := s.store.GetChallenge(ctx, address)
	if err != nil {
		return "", err
	}
	if !s.now().Before(challenge.ExpiresAt) {
		return "", core.ErrChallengeExpired
	}

	if err := s.verifier.VerifySignature(challenge.Message, signature, address); err != nil {
		return "", err
	}

	// Only one of several concurrent submissions gets past this point.
	if err := s.store.ConsumeChallenge(ctx, address, challenge.Nonce); err != nil {
		return "", err
	}
	return address, nil
}

func signatureHash(signature string) [32]byte {
	sig := strings.ToLower(strings.TrimSpace(signature))
	if !strings.HasPrefix(sig, "0x") {
		sig = "0x" + sig
	}
	return sha256.Sum256([]byte(sig))
}
