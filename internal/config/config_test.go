package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/warden/service"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.ListenAddr)
	assert.Equal(t, 15*time.Minute, cfg.AccessTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.RefreshTTL)
	assert.Equal(t, 30*time.Second, cfg.ResendCooldown)
	assert.Equal(t, service.Rule{Limit: 60, Window: time.Minute}, cfg.RateDefault)
	assert.Empty(t, cfg.RedisURL)

	rules, err := cfg.RateRules()
	require.NoError(t, err)
	assert.Equal(t, service.Rule{Limit: 10, Window: time.Minute}, rules[service.RouteLogout])
	_, ok := rules[service.RouteLoginCredential]
	assert.False(t, ok)

	tf := cfg.TwoFactor()
	assert.Equal(t, 2*time.Minute, tf.TTL)
	assert.Equal(t, 5, tf.Attempts)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("WARDEN_ACCESS_TTL", "5m")
	t.Setenv("WARDEN_RATE_STRICT", "3/30s")
	t.Setenv("WARDEN_RATE_ROUTES", "login.credential=5/1m,logout=20/1m")
	t.Setenv("WARDEN_REDIS_URL", "redis://localhost:6379/1")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)
	assert.Equal(t, "redis://localhost:6379/1", cfg.RedisURL)

	rules, err := cfg.RateRules()
	require.NoError(t, err)
	assert.Equal(t, service.Rule{Limit: 5, Window: time.Minute}, rules[service.RouteLoginCredential])
	assert.Equal(t, service.Rule{Limit: 20, Window: time.Minute}, rules[service.RouteLogout])
	assert.Equal(t, service.Rule{Limit: 3, Window: 30 * time.Second}, rules[service.RouteRegisterWallet])
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string][2]string{
		"bad rule":          {"WARDEN_RATE_DEFAULT", "sixty"},
		"bad route rule":    {"WARDEN_RATE_ROUTES", "logout=0/1m"},
		"refresh too short": {"WARDEN_REFRESH_TTL", "1m"},
		"no attempts":       {"WARDEN_TWOFACTOR_ATTEMPTS", "0"},
		"zero ttl":          {"WARDEN_CHALLENGE_TTL", "0s"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := Parse()
			assert.Error(t, err)
		})
	}
}
