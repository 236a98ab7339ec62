package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/warden/core"
)

func TestIssueAndVerify(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	account := h.createAccount(t, &core.Account{ID: "a1", Role: core.RoleAdmin}, "")

	pair, err := h.tokens.Issue(ctx, account)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.FamilyID)
	assert.Equal(t, h.clock.Now().Add(testAccessTTL), pair.AccessExpiresAt)
	assert.Equal(t, h.clock.Now().Add(testRefreshTTL), pair.RefreshExpiresAt)

	claims, err := h.tokens.Verify(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a1", claims.AccountID)
	assert.Equal(t, core.RoleAdmin, claims.Role)
	assert.Equal(t, pair.FamilyID, claims.FamilyID)

	h.clock.Advance(testAccessTTL)
	_, err = h.tokens.Verify(pair.AccessToken)
	assert.ErrorIs(t, err, core.ErrTokenExpired)

	_, err = h.tokens.Verify("not-a-token")
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
}

func TestRefreshRotationAndReplay(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	account := h.createAccount(t, &core.Account{ID: "a1"}, "")

	t1, err := h.tokens.Issue(ctx, account)
	require.NoError(t, err)

	t2, err := h.tokens.Refresh(ctx, t1.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, t1.FamilyID, t2.FamilyID)
	assert.NotEqual(t, t1.RefreshToken, t2.RefreshToken)

	_, err = h.tokens.Refresh(ctx, t1.RefreshToken)
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
	assert.Equal(t, 1, h.recorder.replays)
	assert.Contains(t, h.notifier.types(), core.EventRefreshReplay)

	_, err = h.tokens.Refresh(ctx, t2.RefreshToken)
	assert.ErrorIs(t, err, core.ErrTokenRevoked)

	// other logins are unaffected
	other, err := h.tokens.Issue(ctx, account)
	require.NoError(t, err)
	_, err = h.tokens.Refresh(ctx, other.RefreshToken)
	assert.NoError(t, err)
}

func TestRefreshFailures(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	account := h.createAccount(t, &core.Account{ID: "a1"}, "")

	_, err := h.tokens.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, core.ErrTokenInvalid)
	_, err = h.tokens.Refresh(ctx, "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	assert.ErrorIs(t, err, core.ErrTokenInvalid)

	pair, err := h.tokens.Issue(ctx, account)
	require.NoError(t, err)
	h.clock.Advance(testRefreshTTL)
	_, err = h.tokens.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, core.ErrTokenExpired)
}

func TestRefreshDisabledAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	account := h.createAccount(t, &core.Account{ID: "a1"}, "")

	pair, err := h.tokens.Issue(ctx, account)
	require.NoError(t, err)

	account.Disabled = true
	require.NoError(t, h.store.UpdateAccount(ctx, account))

	_, err = h.tokens.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, core.ErrTokenRevoked)

	revoked, err := h.store.FamilyRevoked(ctx, pair.FamilyID)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestRevokeAccount(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	account := h.createAccount(t, &core.Account{ID: "a1"}, "")

	first, err := h.tokens.Issue(ctx, account)
	require.NoError(t, err)
	second, err := h.tokens.Issue(ctx, account)
	require.NoError(t, err)

	require.NoError(t, h.tokens.RevokeAccount(ctx, "a1"))
	require.NoError(t, h.tokens.RevokeAccount(ctx, "a1"))

	for _, pair := range []*core.TokenPair{first, second} {
		_, err := h.tokens.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, core.ErrTokenRevoked)
	}
}

func TestRevokeRefreshTokenIgnoresUnknown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	record, err := h.tokens.RevokeRefreshToken(ctx, "garbage")
	assert.NoError(t, err)
	assert.Nil(t, record)
}

func TestConcurrentRefreshOnlyOneSucceeds(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	account := h.createAccount(t, &core.Account{ID: "a1"}, "")

	pair, err := h.tokens.Issue(ctx, account)
	require.NoError(t, err)

	var wins int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.tokens.Refresh(ctx, pair.RefreshToken); err == nil {
				atomic.AddInt32(&wins, 1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins)
}
