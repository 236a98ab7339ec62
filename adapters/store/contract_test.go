package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

type sessionStore interface {
	ports.TokenStore
	ports.WalletChallengeStore
	ports.TwoFactorStore
}

func runSessionStoreContract(t *testing.T, newStore func(t *testing.T) sessionStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	t.Run("refresh revoke is compare and set", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.PutRefresh(ctx, &core.RefreshRecord{
			ID: "r1", FamilyID: "f1", AccountID: "a1", IssuedAt: now, ExpiresAt: now.Add(time.Hour),
		}))

		got, err := s.GetRefresh(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, "f1", got.FamilyID)
		assert.Equal(t, "a1", got.AccountID)
		assert.True(t, got.ExpiresAt.Equal(now.Add(time.Hour)))
		assert.False(t, got.Revoked)

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.RevokeRefresh(ctx, "r1")
				if err == nil && ok {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)

		got, err = s.GetRefresh(ctx, "r1")
		require.NoError(t, err)
		assert.True(t, got.Revoked)

		_, err = s.RevokeRefresh(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrTokenInvalid)
		_, err = s.GetRefresh(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrTokenInvalid)
	})

	t.Run("family and account revocation", func(t *testing.T) {
		s := newStore(t)
		for _, r := range []*core.RefreshRecord{
			{ID: "r1", FamilyID: "f1", AccountID: "a1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)},
			{ID: "r2", FamilyID: "f2", AccountID: "a1", IssuedAt: now, ExpiresAt: now.Add(time.Hour)},
			{ID: "r3", FamilyID: "f3", AccountID: "a2", IssuedAt: now, ExpiresAt: now.Add(time.Hour)},
		} {
			require.NoError(t, s.PutRefresh(ctx, r))
		}

		require.NoError(t, s.RevokeFamily(ctx, "f1"))
		require.NoError(t, s.RevokeFamily(ctx, "f1"))
		revoked, err := s.FamilyRevoked(ctx, "f1")
		require.NoError(t, err)
		assert.True(t, revoked)
		revoked, err = s.FamilyRevoked(ctx, "f2")
		require.NoError(t, err)
		assert.False(t, revoked)

		require.NoError(t, s.RevokeAccount(ctx, "a1"))
		revoked, err = s.FamilyRevoked(ctx, "f2")
		require.NoError(t, err)
		assert.True(t, revoked)
		revoked, err = s.FamilyRevoked(ctx, "f3")
		require.NoError(t, err)
		assert.False(t, revoked)

		require.NoError(t, s.RevokeAccount(ctx, "nobody"))
	})

	t.Run("wallet challenge consume", func(t *testing.T) {
		s := newStore(t)
		addr := "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"

		_, err := s.GetChallenge(ctx, addr)
		assert.ErrorIs(t, err, core.ErrNoChallenge)

		require.NoError(t, s.PutChallenge(ctx, &core.WalletChallenge{
			Address: addr, Nonce: "n1", Message: "m1", IssuedAt: now, ExpiresAt: now.Add(time.Minute),
		}))
		require.NoError(t, s.PutChallenge(ctx, &core.WalletChallenge{
			Address: addr, Nonce: "n2", Message: "m2", IssuedAt: now, ExpiresAt: now.Add(time.Minute),
		}))

		got, err := s.GetChallenge(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, "n2", got.Nonce)
		assert.Equal(t, "m2", got.Message)

		assert.ErrorIs(t, s.ConsumeChallenge(ctx, addr, "n1"), core.ErrNoChallenge)

		var wins int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if s.ConsumeChallenge(ctx, addr, "n2") == nil {
					atomic.AddInt32(&wins, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins)

		_, err = s.GetChallenge(ctx, addr)
		assert.ErrorIs(t, err, core.ErrNoChallenge)
	})

	t.Run("registration ticket is taken once", func(t *testing.T) {
		s := newStore(t)
		addr := "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"
		ticket := &core.RegistrationTicket{Address: addr, SignatureHash: [32]byte{1, 2, 3}, ExpiresAt: now.Add(time.Minute)}
		require.NoError(t, s.PutRegistration(ctx, ticket))

		got, err := s.TakeRegistration(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, ticket.SignatureHash, got.SignatureHash)

		_, err = s.TakeRegistration(ctx, addr)
		assert.ErrorIs(t, err, core.ErrNoChallenge)
	})

	t.Run("two-factor supersede and update", func(t *testing.T) {
		s := newStore(t)
		first := &core.TwoFactorChallenge{
			ID: "c1", AccountID: "a1", LoginID: "l1", CodeHash: [32]byte{9},
			Channel: core.ChannelEmail, Destination: "a@example.com",
			IssuedAt: now, ExpiresAt: now.Add(2 * time.Minute), AttemptsRemaining: 5, State: core.TwoFactorPending,
		}
		require.NoError(t, s.CreateTwoFactor(ctx, first))

		current, err := s.CurrentTwoFactor(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, "c1", current.ID)
		assert.Equal(t, first.CodeHash, current.CodeHash)

		second := *first
		second.ID = "c2"
		require.NoError(t, s.CreateTwoFactor(ctx, &second))

		old, err := s.GetTwoFactor(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, core.TwoFactorSuperseded, old.State)
		current, err = s.CurrentTwoFactor(ctx, "a1")
		require.NoError(t, err)
		assert.Equal(t, "c2", current.ID)

		updated, err := s.UpdateTwoFactor(ctx, "c2", func(c *core.TwoFactorChallenge) error {
			c.AttemptsRemaining--
			return core.ErrCodeMismatch
		})
		assert.ErrorIs(t, err, core.ErrCodeMismatch)
		require.NotNil(t, updated)
		assert.Equal(t, 4, updated.AttemptsRemaining)

		stored, err := s.GetTwoFactor(ctx, "c2")
		require.NoError(t, err)
		assert.Equal(t, 4, stored.AttemptsRemaining)

		_, err = s.UpdateTwoFactor(ctx, "missing", func(*core.TwoFactorChallenge) error { return nil })
		assert.ErrorIs(t, err, core.ErrNoChallenge)
		_, err = s.CurrentTwoFactor(ctx, "nobody")
		assert.ErrorIs(t, err, core.ErrNoChallenge)
	})

	t.Run("concurrent two-factor updates are serialized", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateTwoFactor(ctx, &core.TwoFactorChallenge{
			ID: "c1", AccountID: "a1", IssuedAt: now, ExpiresAt: now.Add(time.Minute),
			AttemptsRemaining: 1, State: core.TwoFactorPending,
		}))

		var verified int32
		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateTwoFactor(ctx, "c1", func(c *core.TwoFactorChallenge) error {
					if c.State != core.TwoFactorPending {
						return core.ErrNoChallenge
					}
					c.State = core.TwoFactorVerified
					return nil
				})
				if err == nil {
					atomic.AddInt32(&verified, 1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), verified)
	})
}
