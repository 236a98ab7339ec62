package service

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/layer-3/warden/core"
)

func TestCredentialVerifier(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	h.createAccount(t, &core.Account{ID: "a1", Email: "alice@example.com"}, "correct horse")
	h.createAccount(t, &core.Account{ID: "a2", WalletAddress: newTestWallet(t).address}, "")
	h.createAccount(t, &core.Account{ID: "a3", Email: "disabled@example.com", Disabled: true}, "correct horse")

	account, err := h.credentials.Verify(ctx, "  Alice@Example.com ", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, "a1", account.ID)

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong password", "alice@example.com", "wrong horse"},
		{"unknown email", "bob@example.com", "correct horse"},
		{"empty password", "alice@example.com", ""},
		{"disabled account", "disabled@example.com", "correct horse"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.credentials.Verify(ctx, tc.email, tc.password)
			assert.ErrorIs(t, err, core.ErrInvalidCredentials)
		})
	}
}

func TestCredentialVerifierAcceptsLegacyBcrypt(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)

	legacy, err := bcrypt.GenerateFromPassword([]byte("old password"), bcrypt.MinCost)
	require.NoError(t, err)
	h.createAccount(t, &core.Account{ID: "a1", Email: "old@example.com", CredentialHash: string(legacy)}, "")

	account, err := h.credentials.Verify(ctx, "old@example.com", "old password")
	require.NoError(t, err)
	assert.Equal(t, "a1", account.ID)
}

func TestCredentialVerifierCorruptHash(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil)
	logger, hook := test.NewNullLogger()
	verifier, err := NewCredentialVerifier(h.store, testHasher(t), logger)
	require.NoError(t, err)

	h.createAccount(t, &core.Account{ID: "a1", Email: "c@example.com", CredentialHash: "plaintext"}, "")

	_, err = verifier.Verify(ctx, "c@example.com", "plaintext")
	assert.ErrorIs(t, err, core.ErrInvalidCredentials)
	require.NotNil(t, hook.LastEntry())
	for _, v := range hook.LastEntry().Data {
		assert.NotEqual(t, "plaintext", v)
	}
}
