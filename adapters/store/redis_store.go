package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/ports"
)

const (
	defaultPrefix    = "warden:"
	defaultRetention = 30 * 24 * time.Hour
	defaultGrace     = 10 * time.Minute
	maxTxRetries     = 4
)

// RedisStore is a Redis implementation of the token, wallet challenge and
// two-factor stores.
type RedisStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration // how long family revocation markers are kept
	grace     time.Duration // how long expired records stay readable
}

var (
	_ ports.TokenStore           = (*RedisStore)(nil)
	_ ports.WalletChallengeStore = (*RedisStore)(nil)
	_ ports.TwoFactorStore       = (*RedisStore)(nil)
)

// RedisOption customizes a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key namespace.
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = prefix }
}

// WithRetention sets how long revoked family markers live. It should be at
// least the refresh token lifetime.
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.retention = d }
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		prefix:    defaultPrefix,
		retention: defaultRetention,
		grace:     defaultGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) key(parts ...string) string {
	k := s.prefix
	for i, p := range parts {
		if i > 0 {
			k += ":"
		}
		k += p
	}
	return k
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: failed to %s: %v", core.ErrStoreUnavailable, op, err)
}

func millis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func parseMillis(v string) time.Time {
	n, _ := strconv.ParseInt(v, 10, 64)
	return time.UnixMilli(n).UTC()
}

// revokeRefreshScript flips the revoked field exactly once.
// Returns -1 when the record does not exist, 0 when already revoked, 1 otherwise.
var revokeRefreshScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HGET', KEYS[1], 'revoked') == '1' then
  return 0
end
redis.call('HSET', KEYS[1], 'revoked', '1')
return 1
`)

// PutRefresh stores a refresh record until it expires
func (s *RedisStore) PutRefresh(ctx context.Context, record *core.RefreshRecord) error {
	key := s.key("refresh", record.ID)
	families := s.key("account", record.AccountID, "families")
	revoked := "0"
	if record.Revoked {
		revoked = "1"
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			"family", record.FamilyID,
			"account", record.AccountID,
			"issued", millis(record.IssuedAt),
			"expires", millis(record.ExpiresAt),
			"revoked", revoked,
		)
		pipe.PExpireAt(ctx, key, record.ExpiresAt.Add(s.grace))
		pipe.SAdd(ctx, families, record.FamilyID)
		pipe.Expire(ctx, families, s.retention)
		return nil
	})
	if err != nil {
		return unavailable("store refresh token", err)
	}
	return nil
}

// GetRefresh loads a refresh record by id
func (s *RedisStore) GetRefresh(ctx context.Context, id string) (*core.RefreshRecord, error) {
	fields, err := s.client.HGetAll(ctx, s.key("refresh", id)).Result()
	if err != nil {
		return nil, unavailable("load refresh token", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrTokenInvalid
	}

	return &core.RefreshRecord{
		ID:        id,
		FamilyID:  fields["family"],
		AccountID: fields["account"],
		IssuedAt:  parseMillis(fields["issued"]),
		ExpiresAt: parseMillis(fields["expires"]),
		Revoked:   fields["revoked"] == "1",
	}, nil
}

// RevokeRefresh atomically revokes a record if it is still active
func (s *RedisStore) RevokeRefresh(ctx context.Context, id string) (bool, error) {
	res, err := revokeRefreshScript.Run(ctx, s.client, []string{s.key("refresh", id)}).Int()
	if err != nil {
		return false, unavailable("revoke refresh token", err)
	}
	switch res {
	case -1:
		return false, core.ErrTokenInvalid
	case 0:
		return false, nil
	default:
		return true, nil
	}
}

// RevokeFamily sets the family revocation marker
func (s *RedisStore) RevokeFamily(ctx context.Context, familyID string) error {
	if err := s.client.Set(ctx, s.key("family", familyID, "revoked"), "1", s.retention).Err(); err != nil {
		return unavailable("revoke token family", err)
	}
	return nil
}

// RevokeAccount revokes every family recorded for the account
func (s *RedisStore) RevokeAccount(ctx context.Context, accountID string) error {
	families, err := s.client.SMembers(ctx, s.key("account", accountID, "families")).Result()
	if err != nil {
		return unavailable("list account families", err)
	}
	if len(families) == 0 {
		return nil
	}

	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, familyID := range families {
			pipe.Set(ctx, s.key("family", familyID, "revoked"), "1", s.retention)
		}
		return nil
	})
	if err != nil {
		return unavailable("revoke account families", err)
	}
	return nil
}

// FamilyRevoked checks the family revocation marker
func (s *RedisStore) FamilyRevoked(ctx context.Context, familyID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key("family", familyID, "revoked")).Result()
	if err != nil {
		return false, unavailable("check token family", err)
	}
	return n > 0, nil
}

func isNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
