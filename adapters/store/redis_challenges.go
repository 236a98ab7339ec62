package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/warden/core"
)

// consumeChallengeScript deletes the challenge only if the nonce matches.
var consumeChallengeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'nonce') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// PutChallenge replaces the address's challenge. The record outlives its
// expiry by the grace period so late submissions can still be told apart.
func (s *RedisStore) PutChallenge(ctx context.Context, challenge *core.WalletChallenge) error {
	key := s.key("challenge", challenge.Address)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			"nonce", challenge.Nonce,
			"message", challenge.Message,
			"issued", millis(challenge.IssuedAt),
			"expires", millis(challenge.ExpiresAt),
		)
		pipe.PExpireAt(ctx, key, challenge.ExpiresAt.Add(s.grace))
		return nil
	})
	if err != nil {
		return unavailable("store wallet challenge", err)
	}
	return nil
}

// GetChallenge loads the address's outstanding challenge
func (s *RedisStore) GetChallenge(ctx context.Context, address string) (*core.WalletChallenge, error) {
	fields, err := s.client.HGetAll(ctx, s.key("challenge", address)).Result()
	if err != nil {
		return nil, unavailable("load wallet challenge", err)
	}
	if len(fields) == 0 {
		return nil, core.ErrNoChallenge
	}

	return &core.WalletChallenge{
		Address:   address,
		Nonce:     fields["nonce"],
		Message:   fields["message"],
		IssuedAt:  parseMillis(fields["issued"]),
		ExpiresAt: parseMillis(fields["expires"]),
	}, nil
}

// ConsumeChallenge is a compare-and-delete on the nonce
func (s *RedisStore) ConsumeChallenge(ctx context.Context, address, nonce string) error {
	n, err := consumeChallengeScript.Run(ctx, s.client, []string{s.key("challenge", address)}, nonce).Int()
	if err != nil {
		return unavailable("consume wallet challenge", err)
	}
	if n == 0 {
		return core.ErrNoChallenge
	}
	return nil
}

type registrationRecord struct {
	SignatureHash string `json:"sig"`
	ExpiresAt     int64  `json:"exp"`
}

// PutRegistration stores a registration ticket until it expires
func (s *RedisStore) PutRegistration(ctx context.Context, ticket *core.RegistrationTicket) error {
	data, err := json.Marshal(registrationRecord{
		SignatureHash: hex.EncodeToString(ticket.SignatureHash[:]),
		ExpiresAt:     millis(ticket.ExpiresAt),
	})
	if err != nil {
		return fmt.Errorf("failed to encode registration ticket: %w", err)
	}

	ttl := time.Until(ticket.ExpiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, s.key("registration", ticket.Address), data, ttl).Err(); err != nil {
		return unavailable("store registration ticket", err)
	}
	return nil
}

// TakeRegistration atomically reads and deletes the ticket
func (s *RedisStore) TakeRegistration(ctx context.Context, address string) (*core.RegistrationTicket, error) {
	data, err := s.client.GetDel(ctx, s.key("registration", address)).Bytes()
	if err != nil {
		if isNil(err) {
			return nil, core.ErrNoChallenge
		}
		return nil, unavailable("take registration ticket", err)
	}

	var record registrationRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to decode registration ticket: %w", err)
	}
	ticket := &core.RegistrationTicket{
		Address:   address,
		ExpiresAt: time.UnixMilli(record.ExpiresAt).UTC(),
	}
	sum, err := hex.DecodeString(record.SignatureHash)
	if err != nil || len(sum) != len(ticket.SignatureHash) {
		return nil, errors.New("malformed registration ticket")
	}
	copy(ticket.SignatureHash[:], sum)
	return ticket, nil
}

// CreateTwoFactor stores the challenge, points the account at it and marks
// the previous pending challenge superseded, all in one transaction.
func (s *RedisStore) CreateTwoFactor(ctx context.Context, challenge *core.TwoFactorChallenge) error {
	data, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("failed to encode two-factor challenge: %w", err)
	}
	currentKey := s.key("twofactor", "current", challenge.AccountID)
	ttl := time.Until(challenge.ExpiresAt.Add(s.grace))
	if ttl < s.grace {
		ttl = s.grace
	}

	for i := 0; i < maxTxRetries; i++ {
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			prevID, err := tx.Get(ctx, currentKey).Result()
			if err != nil && !isNil(err) {
				return err
			}

			var superseded []byte
			prevKey := s.key("twofactor", prevID)
			if prevID != "" {
				if err := tx.Watch(ctx, prevKey).Err(); err != nil {
					return err
				}
				raw, err := tx.Get(ctx, prevKey).Bytes()
				if err != nil && !isNil(err) {
					return err
				}
				if err == nil {
					var prev core.TwoFactorChallenge
					if err := json.Unmarshal(raw, &prev); err != nil {
						return err
					}
					if prev.State == core.TwoFactorPending {
						prev.State = core.TwoFactorSuperseded
						if superseded, err = json.Marshal(&prev); err != nil {
							return err
						}
					}
				}
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if superseded != nil {
					pipe.Set(ctx, prevKey, superseded, redis.KeepTTL)
				}
				pipe.Set(ctx, s.key("twofactor", challenge.ID), data, ttl)
				pipe.Set(ctx, currentKey, challenge.ID, ttl)
				return nil
			})
			return err
		}, currentKey)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return unavailable("store two-factor challenge", err)
		}
		return nil
	}
	return unavailable("store two-factor challenge", redis.TxFailedErr)
}

// GetTwoFactor loads a challenge by id
func (s *RedisStore) GetTwoFactor(ctx context.Context, id string) (*core.TwoFactorChallenge, error) {
	data, err := s.client.Get(ctx, s.key("twofactor", id)).Bytes()
	if err != nil {
		if isNil(err) {
			return nil, core.ErrNoChallenge
		}
		return nil, unavailable("load two-factor challenge", err)
	}
	return decodeTwoFactor(data)
}

// CurrentTwoFactor loads the account's latest challenge
func (s *RedisStore) CurrentTwoFactor(ctx context.Context, accountID string) (*core.TwoFactorChallenge, error) {
	id, err := s.client.Get(ctx, s.key("twofactor", "current", accountID)).Result()
	if err != nil {
		if isNil(err) {
			return nil, core.ErrNoChallenge
		}
		return nil, unavailable("load current two-factor challenge", err)
	}
	return s.GetTwoFactor(ctx, id)
}

// UpdateTwoFactor applies fn inside a WATCH transaction, retrying when a
// concurrent writer wins.
func (s *RedisStore) UpdateTwoFactor(ctx context.Context, id string, fn func(*core.TwoFactorChallenge) error) (*core.TwoFactorChallenge, error) {
	key := s.key("twofactor", id)

	for i := 0; i < maxTxRetries; i++ {
		var (
			updated *core.TwoFactorChallenge
			fnErr   error
		)
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			challenge, err := decodeTwoFactor(data)
			if err != nil {
				return err
			}

			fnErr = fn(challenge)
			encoded, err := json.Marshal(challenge)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, encoded, redis.KeepTTL)
				return nil
			})
			if err != nil {
				return err
			}
			updated = challenge
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if isNil(err) {
				return nil, core.ErrNoChallenge
			}
			return nil, unavailable("update two-factor challenge", err)
		}
		return updated, fnErr
	}

	return nil, unavailable("update two-factor challenge", redis.TxFailedErr)
}

func decodeTwoFactor(data []byte) (*core.TwoFactorChallenge, error) {
	var challenge core.TwoFactorChallenge
	if err := json.Unmarshal(data, &challenge); err != nil {
		return nil, fmt.Errorf("failed to decode two-factor challenge: %w", err)
	}
	return &challenge, nil
}
