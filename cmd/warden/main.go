package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/layer-3/warden/adapters/events"
	"github.com/layer-3/warden/adapters/password"
	"github.com/layer-3/warden/adapters/store"
	"github.com/layer-3/warden/adapters/tokenizer"
	"github.com/layer-3/warden/adapters/wallet"
	"github.com/layer-3/warden/internal/config"
	"github.com/layer-3/warden/internal/logging"
	"github.com/layer-3/warden/internal/metrics"
	"github.com/layer-3/warden/ports"
	"github.com/layer-3/warden/service"
	transport "github.com/layer-3/warden/transport/http"
)

// sessionStore is what the Redis and memory adapters both provide.
type sessionStore interface {
	ports.TokenStore
	ports.WalletChallengeStore
	ports.TwoFactorStore
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("warden stopped")
	}
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	signKey, err := loadSigningKey(cfg.SigningKeyPath, logger)
	if err != nil {
		return err
	}

	accounts, err := store.OpenSQLiteAccounts(cfg.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open account store: %w", err)
	}
	defer accounts.Close()

	rules, err := cfg.RateRules()
	if err != nil {
		return err
	}

	wmLogger := logging.NewWatermillAdapter(logger)

	var (
		sessions  sessionStore
		counter   ports.RateLimitCounter
		publisher message.Publisher
	)

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("failed to reach Redis: %w", err)
		}

		sessions = store.NewRedisStore(redisClient, store.WithPrefix(cfg.RedisPrefix), store.WithRetention(cfg.FamilyRetention))
		counter = store.NewRedisCounter(redisClient, cfg.RedisPrefix+"rate:")

		publisher, err = redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: redisClient,
			},
			wmLogger,
		)
		if err != nil {
			return fmt.Errorf("failed to create Redis publisher: %w", err)
		}
		logger.Info("using Redis session store and event streams")
	} else {
		memCounter := store.NewMemoryCounter()
		sessions = store.NewMemoryStore()
		counter = memCounter

		pubSub := gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
		publisher = pubSub
		for _, topic := range []string{events.TopicNotifications, events.TopicOTP} {
			if err := events.LogSink(ctx, pubSub, topic, logger); err != nil {
				return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
			}
		}
		go pruneCounters(ctx, memCounter, widestWindow(cfg, rules), cfg.PruneInterval, logger)
		logger.Warn("WARDEN_REDIS_URL not set, using in-memory session store")
	}
	defer publisher.Close()

	hasher, err := password.NewHasher(password.DefaultParams)
	if err != nil {
		return err
	}

	recorder := metrics.New()
	notifier := events.NewWatermillNotifier(publisher)
	tok := tokenizer.NewJWTTokenizer(signKey, cfg.Issuer)

	credentials, err := service.NewCredentialVerifier(accounts, hasher, logger)
	if err != nil {
		return err
	}

	authService := service.NewAuthService(service.Components{
		Limiter:     service.NewRateLimiter(counter, cfg.RateDefault, rules),
		Credentials: credentials,
		Wallets:     service.NewWalletChallengeService(sessions, accounts, wallet.NewEthVerifier(), cfg.Domain, cfg.ChallengeTTL),
		TwoFactor:   service.NewTwoFactorController(sessions, events.NewWatermillOTPSender(publisher), logger, cfg.TwoFactor()),
		Tokens:      service.NewTokenService(tok, sessions, accounts, notifier, recorder, logger, cfg.AccessTTL, cfg.RefreshTTL),
		Tokenizer:   tok,
		Accounts:    accounts,
		Notifier:    notifier,
		Recorder:    recorder,
		Logger:      logger,
	}, cfg.PendingLoginTTL, cfg.ResendCooldown)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           transport.SetupRouter(authService, logger, recorder.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.ListenAddr).Info("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// loadSigningKey reads a PEM encoded P-256 key, or generates one when no path is configured.
func loadSigningKey(path string, logger logrus.FieldLogger) (*ecdsa.PrivateKey, error) {
	if path == "" {
		logger.Warn("WARDEN_SIGNING_KEY_PATH not set, generating an ephemeral signing key")
		return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	}

	pemBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse signing key: %w", err)
	}
	if key.Curve != elliptic.P256() {
		return nil, errors.New("signing key must be on P-256")
	}
	return key, nil
}

func widestWindow(cfg *config.Config, rules map[string]service.Rule) time.Duration {
	widest := cfg.RateDefault.Window
	for _, rule := range rules {
		if rule.Window > widest {
			widest = rule.Window
		}
	}
	return widest
}

// pruneCounters drops rate buckets whose window has long passed.
func pruneCounters(ctx context.Context, counter *store.MemoryCounter, window, interval time.Duration, logger logrus.FieldLogger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := counter.Prune(now, window); n > 0 {
				logger.WithField("buckets", n).Debug("pruned rate limit buckets")
			}
		}
	}
}
