package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

func runAccountStoreContract(t *testing.T, newStore func(t *testing.T) ports.AccountStore) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	wallet := "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B"

	t.Run("create and look up", func(t *testing.T) {
		s := newStore(t)
		account := &core.Account{
			ID: "a1", Email: "Alice@Example.com", CredentialHash: "$argon2id$x", FirstName: "Alice", LastName: "Liddell",
			TwoFactor: core.TwoFactorConfig{Enabled: true, Channel: core.ChannelSMS, Destination: "+15550100"},
			Role:      core.RoleManager, CreatedAt: now, UpdatedAt: now,
		}
		require.NoError(t, s.CreateAccount(ctx, account))

		got, err := s.GetAccountByEmail(ctx, "  alice@example.COM ")
		require.NoError(t, err)
		assert.Equal(t, "a1", got.ID)
		assert.Equal(t, core.RoleManager, got.Role)
		assert.Equal(t, account.TwoFactor, got.TwoFactor)
		assert.True(t, got.CreatedAt.Equal(now))

		_, err = s.GetAccountByWallet(ctx, wallet)
		assert.ErrorIs(t, err, core.ErrAccountNotFound)
		_, err = s.GetAccount(ctx, "missing")
		assert.ErrorIs(t, err, core.ErrAccountNotFound)
	})

	t.Run("uniqueness", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateAccount(ctx, &core.Account{ID: "a1", Email: "a@example.com", Role: core.RoleMember, CreatedAt: now, UpdatedAt: now}))
		require.NoError(t, s.CreateAccount(ctx, &core.Account{ID: "a2", WalletAddress: wallet, Role: core.RoleMember, CreatedAt: now, UpdatedAt: now}))
		require.NoError(t, s.CreateAccount(ctx, &core.Account{ID: "a3", Role: core.RoleMember, CreatedAt: now, UpdatedAt: now}))

		err := s.CreateAccount(ctx, &core.Account{ID: "a4", Email: "A@example.com", Role: core.RoleMember, CreatedAt: now, UpdatedAt: now})
		assert.ErrorIs(t, err, core.ErrAccountExists)
		err = s.CreateAccount(ctx, &core.Account{ID: "a5", WalletAddress: wallet, Role: core.RoleMember, CreatedAt: now, UpdatedAt: now})
		assert.ErrorIs(t, err, core.ErrAccountExists)

		got, err := s.GetAccountByWallet(ctx, wallet)
		require.NoError(t, err)
		assert.Equal(t, "a2", got.ID)
	})

	t.Run("update", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateAccount(ctx, &core.Account{ID: "a1", Email: "a@example.com", Role: core.RoleMember, CreatedAt: now, UpdatedAt: now}))
		require.NoError(t, s.CreateAccount(ctx, &core.Account{ID: "a2", WalletAddress: wallet, Role: core.RoleMember, CreatedAt: now, UpdatedAt: now}))

		got, err := s.GetAccount(ctx, "a1")
		require.NoError(t, err)
		got.Disabled = true
		got.UpdatedAt = now.Add(time.Minute)
		require.NoError(t, s.UpdateAccount(ctx, got))

		got, err = s.GetAccountByEmail(ctx, "a@example.com")
		require.NoError(t, err)
		assert.True(t, got.Disabled)
		assert.True(t, got.UpdatedAt.Equal(now.Add(time.Minute)))

		got.WalletAddress = wallet
		assert.ErrorIs(t, s.UpdateAccount(ctx, got), core.ErrAccountExists)

		assert.ErrorIs(t, s.UpdateAccount(ctx, &core.Account{ID: "missing", Role: core.RoleMember}), core.ErrAccountNotFound)
	})
}
