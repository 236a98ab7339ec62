package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/warden/core"
)

func TestIssueChallenge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	w := newTestWallet(t)

	challenge, err := h.wallets.IssueChallenge(ctx, strings.ToLower(w.address))
	require.NoError(t, err)
	assert.Equal(t, w.address, challenge.Address)
	assert.Len(t, challenge.Nonce, 64)
	assert.Contains(t, challenge.Message, "warden.test wants you to sign in")
	assert.Contains(t, challenge.Message, w.address)
	assert.Contains(t, challenge.Message, challenge.Nonce)
	assert.Equal(t, h.clock.Now().Add(testChallengeTTL), challenge.ExpiresAt)

	_, err = h.wallets.IssueChallenge(ctx, "0x1234")
	assert.ErrorIs(t, err, core.ErrInvalidAddress)
}

func TestVerifySignatureLinkedAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	w := newTestWallet(t)
	h.createAccount(t, &core.Account{ID: "a1", WalletAddress: w.address}, "")

	challenge, err := h.wallets.IssueChallenge(ctx, w.address)
	require.NoError(t, err)
	sig := w.sign(t, challenge.Message)

	account, err := h.wallets.VerifySignature(ctx, w.address, sig)
	require.NoError(t, err)
	assert.Equal(t, "a1", account.ID)

	_, err = h.wallets.VerifySignature(ctx, w.address, sig)
	assert.ErrorIs(t, err, core.ErrNoChallenge)
}

func TestNewChallengeInvalidatesPrevious(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	w := newTestWallet(t)
	h.createAccount(t, &core.Account{ID: "a1", WalletAddress: w.address}, "")

	first, err := h.wallets.IssueChallenge(ctx, w.address)
	require.NoError(t, err)
	oldSig := w.sign(t, first.Message)

	second, err := h.wallets.IssueChallenge(ctx, w.address)
	require.NoError(t, err)
	require.NotEqual(t, first.Nonce, second.Nonce)

	_, err = h.wallets.VerifySignature(ctx, w.address, oldSig)
	assert.ErrorIs(t, err, core.ErrSignatureMismatch)

	_, err = h.wallets.VerifySignature(ctx, w.address, w.sign(t, second.Message))
	assert.NoError(t, err)
}

func TestVerifySignatureFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	w := newTestWallet(t)
	h.createAccount(t, &core.Account{ID: "a1", WalletAddress: w.address}, "")

	_, err := h.wallets.VerifySignature(ctx, w.address, "0x00")
	assert.ErrorIs(t, err, core.ErrNoChallenge)

	challenge, err := h.wallets.IssueChallenge(ctx, w.address)
	require.NoError(t, err)

	other := newTestWallet(t)
	_, err = h.wallets.VerifySignature(ctx, w.address, other.sign(t, challenge.Message))
	assert.ErrorIs(t, err, core.ErrSignatureMismatch)

	// a bad signature does not burn the challenge
	_, err = h.wallets.VerifySignature(ctx, w.address, w.sign(t, challenge.Message))
	require.NoError(t, err)

	challenge, err = h.wallets.IssueChallenge(ctx, w.address)
	require.NoError(t, err)
	h.clock.Advance(testChallengeTTL)
	_, err = h.wallets.VerifySignature(ctx, w.address, w.sign(t, challenge.Message))
	assert.ErrorIs(t, err, core.ErrChallengeExpired)
}

func TestConcurrentSignatureSubmissions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	w := newTestWallet(t)
	h.createAccount(t, &core.Account{ID: "a1", WalletAddress: w.address}, "")

	challenge, err := h.wallets.IssueChallenge(ctx, w.address)
	require.NoError(t, err)
	sig := w.sign(t, challenge.Message)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.wallets.VerifySignature(ctx, w.address, sig); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}

func TestRegistrationTicket(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	w := newTestWallet(t)

	challenge, err := h.wallets.IssueChallenge(ctx, w.address)
	require.NoError(t, err)
	sig := w.sign(t, challenge.Message)

	_, err = h.wallets.VerifySignature(ctx, w.address, sig)
	assert.ErrorIs(t, err, core.ErrAccountNotFound)

	address, err := h.wallets.RedeemRegistration(ctx, strings.ToLower(w.address), strings.ToUpper(sig[2:]))
	require.NoError(t, err)
	assert.Equal(t, w.address, address)

	_, err = h.wallets.RedeemRegistration(ctx, w.address, sig)
	assert.ErrorIs(t, err, core.ErrNoChallenge)
}

func TestRegistrationTicketRejectsOtherSignature(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	w := newTestWallet(t)

	challenge, err := h.wallets.IssueChallenge(ctx, w.address)
	require.NoError(t, err)
	_, err = h.wallets.VerifySignature(ctx, w.address, w.sign(t, challenge.Message))
	require.ErrorIs(t, err, core.ErrAccountNotFound)

	_, err = h.wallets.RedeemRegistration(ctx, w.address, w.sign(t, "something else"))
	assert.ErrorIs(t, err, core.ErrSignatureMismatch)
}

func TestRegistrationTicketExpires(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	w := newTestWallet(t)

	challenge, err := h.wallets.IssueChallenge(ctx, w.address)
	require.NoError(t, err)
	sig := w.sign(t, challenge.Message)
	_, err = h.wallets.VerifySignature(ctx, w.address, sig)
	require.ErrorIs(t, err, core.ErrAccountNotFound)

	h.clock.Advance(testChallengeTTL + time.Second)
	_, err = h.wallets.RedeemRegistration(ctx, w.address, sig)
	assert.ErrorIs(t, err, core.ErrChallengeExpired)
}

func TestRedeemRegistrationWithFreshChallenge(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	w := newTestWallet(t)

	challenge, err := h.wallets.IssueChallenge(ctx, w.address)
	require.NoError(t, err)

	address, err := h.wallets.RedeemRegistration(ctx, w.address, w.sign(t, challenge.Message))
	require.NoError(t, err)
	assert.Equal(t, w.address, address)

	linked := newTestWallet(t)
	h.createAccount(t, &core.Account{ID: "a1", WalletAddress: linked.address}, "")
	challenge, err = h.wallets.IssueChallenge(ctx, linked.address)
	require.NoError(t, err)
	_, err = h.wallets.RedeemRegistration(ctx, linked.address, linked.sign(t, challenge.Message))
	assert.ErrorIs(t, err, core.ErrAccountExists)
}
