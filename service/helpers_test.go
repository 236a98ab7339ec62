package service

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/warden/adapters/password"
	"github.com/layer-3/warden/adapters/store"
	"github.com/layer-3/warden/adapters/tokenizer"
	"github.com/layer-3/warden/adapters/wallet"
	"github.com/layer-3/warden/core"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now().UTC().Truncate(time.Second)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type capturingSender struct {
	mu         sync.Mutex
	deliveries []core.CodeDelivery
	err        error
}

func (s *capturingSender) SendCode(ctx context.Context, delivery core.CodeDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.deliveries = append(s.deliveries, delivery)
	return nil
}

func (s *capturingSender) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *capturingSender) lastCode(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.deliveries, "no code delivered")
	return s.deliveries[len(s.deliveries)-1].Code
}

type capturingNotifier struct {
	mu     sync.Mutex
	events []core.SecurityEvent
	err    error
}

func (n *capturingNotifier) Notify(ctx context.Context, event core.SecurityEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *capturingNotifier) types() []core.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]core.EventType, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Type)
	}
	return out
}

type countingRecorder struct {
	mu          sync.Mutex
	rateLimited map[string]int
	replays     int
}

func (r *countingRecorder) AuthAttempt(string, string) {}
func (r *countingRecorder) CodeDelivery(bool)          {}

func (r *countingRecorder) RateLimited(route string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rateLimited == nil {
		r.rateLimited = make(map[string]int)
	}
	r.rateLimited[route]++
}

func (r *countingRecorder) RefreshReplay() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replays++
}

var errDeliveryDown = errors.New("sms gateway down")

const (
	testAccessTTL      = 15 * time.Minute
	testRefreshTTL     = 14 * 24 * time.Hour
	testChallengeTTL   = 5 * time.Minute
	testPendingTTL     = 10 * time.Minute
	testResendCooldown = 30 * time.Second
)

type harness struct {
	clock    *fakeClock
	store    *store.MemoryStore
	sender   *capturingSender
	notifier *capturingNotifier
	recorder *countingRecorder

	limiter     *RateLimiter
	credentials *CredentialVerifier
	wallets     *WalletChallengeService
	twoFactor   *TwoFactorController
	tokens      *TokenService
	auth        *AuthService
}

func testHasher(t *testing.T) *password.Hasher {
	t.Helper()
	h, err := password.NewHasher(password.Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	require.NoError(t, err)
	return h.(*password.Hasher)
}

func newHarness(t *testing.T, rules map[string]Rule) *harness {
	t.Helper()

	clock := newFakeClock()
	logger, _ := test.NewNullLogger()
	mem := store.NewMemoryStore()
	sender := &capturingSender{}
	notifier := &capturingNotifier{}
	recorder := &countingRecorder{}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tok := tokenizer.NewJWTTokenizer(key, "warden-test", tokenizer.WithClock(clock.Now))

	credentials, err := NewCredentialVerifier(mem, testHasher(t), logger)
	require.NoError(t, err)

	h := &harness{
		clock:       clock,
		store:       mem,
		sender:      sender,
		notifier:    notifier,
		recorder:    recorder,
		limiter:     NewRateLimiter(store.NewMemoryCounter(), Rule{Limit: 1000, Window: time.Minute}, rules, WithClock(clock.Now)),
		credentials: credentials,
		wallets:     NewWalletChallengeService(mem, mem, wallet.NewEthVerifier(), "warden.test", testChallengeTTL, WithClock(clock.Now)),
		twoFactor:   NewTwoFactorController(mem, sender, logger, TwoFactorSettings{}, WithClock(clock.Now)),
		tokens:      NewTokenService(tok, mem, mem, notifier, recorder, logger, testAccessTTL, testRefreshTTL, WithClock(clock.Now)),
	}
	h.auth = NewAuthService(Components{
		Limiter:     h.limiter,
		Credentials: h.credentials,
		Wallets:     h.wallets,
		TwoFactor:   h.twoFactor,
		Tokens:      h.tokens,
		Tokenizer:   tok,
		Accounts:    mem,
		Notifier:    notifier,
		Recorder:    recorder,
		Logger:      logger,
	}, testPendingTTL, testResendCooldown, WithClock(clock.Now))
	return h
}

func (h *harness) createAccount(t *testing.T, account *core.Account, pass string) *core.Account {
	t.Helper()
	if pass != "" {
		hash, err := h.credentials.Hash(pass)
		require.NoError(t, err)
		account.CredentialHash = hash
	}
	if account.Role == 0 {
		account.Role = core.RoleMember
	}
	account.CreatedAt = h.clock.Now()
	account.UpdatedAt = h.clock.Now()
	require.NoError(t, h.store.CreateAccount(context.Background(), account))
	return account
}

type testWallet struct {
	key     *ecdsa.PrivateKey
	address string
}

func newTestWallet(t *testing.T) *testWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return &testWallet{key: key, address: crypto.PubkeyToAddress(key.PublicKey).Hex()}
}

func (w *testWallet) sign(t *testing.T, message string) string {
	t.Helper()
	sig, err := crypto.Sign(accounts.TextHash([]byte(message)), w.key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig)
}

type senderFunc func(ctx context.Context, delivery core.CodeDelivery) error

func (f senderFunc) SendCode(ctx context.Context, delivery core.CodeDelivery) error {
	return f(ctx, delivery)
}

func logrusDiscard() *logrus.Logger {
	logger, _ := test.NewNullLogger()
	return logger
}
