package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	tokenRecordVersionV1 = 1
	maxTxRetries         = 4
)

// RedisTokenStore keeps each token record under its own key with a TTL
// matching the record expiry, plus an owner index key pointing at the live
// record hash.
type RedisTokenStore struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedisTokenStore returns a Redis-backed TokenStore.
func NewRedisTokenStore(redisClient redis.UniversalClient, prefix string) *RedisTokenStore {
	if prefix == "" {
		prefix = "tat"
	}
	return &RedisTokenStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *RedisTokenStore) tokenKey(hash string) string {
	return s.prefix + ":t:" + hash
}

func (s *RedisTokenStore) ownerKey(audience, principalID, purpose string) string {
	return s.prefix + ":o:" + audience + ":" + purpose + ":" + principalID
}

// Replace implements TokenStore.
func (s *RedisTokenStore) Replace(ctx context.Context, rec TokenRecord, now time.Time) error {
	ttl := rec.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return errors.New("token record already expired")
	}

	encoded, err := encodeTokenRecord(rec)
	if err != nil {
		return err
	}
	owner := s.ownerKey(rec.Audience, rec.PrincipalID, rec.Purpose)

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			previous, err := tx.Get(ctx, owner).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if previous != "" {
					pipe.Del(ctx, s.tokenKey(previous))
				}
				pipe.Set(ctx, s.tokenKey(rec.Hash), encoded, ttl)
				pipe.Set(ctx, owner, rec.Hash, ttl)
				return nil
			})
			return err
		}, owner)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return nil
	}

	return ErrConflict
}

// Consume implements TokenStore.
func (s *RedisTokenStore) Consume(ctx context.Context, hash, audience, purpose string, now time.Time) (TokenRecord, error) {
	key := s.tokenKey(hash)

	for i := 0; i < maxTxRetries; i++ {
		var matched TokenRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return ErrNotFound
				}
				return err
			}

			record, err := decodeTokenRecord(data)
			if err != nil {
				_, _ = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				return ErrNotFound
			}
			if !record.matches(audience, purpose) {
				return ErrNotFound
			}

			owner := s.ownerKey(record.Audience, record.PrincipalID, record.Purpose)
			if err := tx.Watch(ctx, owner).Err(); err != nil {
				return err
			}
			current, err := tx.Get(ctx, owner).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, key)
				if current == hash {
					pipe.Del(ctx, owner)
				}
				return nil
			})
			if err != nil {
				return err
			}

			if !now.Before(record.ExpiresAt) {
				return ErrNotFound
			}
			matched = record
			return nil
		}, key)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return TokenRecord{}, err
			}
			return TokenRecord{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		return matched, nil
	}

	return TokenRecord{}, ErrNotFound
}

// Delete implements TokenStore.
func (s *RedisTokenStore) Delete(ctx context.Context, audience, principalID, purpose string) error {
	owner := s.ownerKey(audience, principalID, purpose)

	for i := 0; i < maxTxRetries; i++ {
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			current, err := tx.Get(ctx, owner).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					return nil
				}
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, s.tokenKey(current), owner)
				return nil
			})
			return err
		}, owner)

		if err == redis.TxFailedErr {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return nil
	}

	return ErrConflict
}

func encodeTokenRecord(record TokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tokenRecordVersionV1)
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}
	for _, field := range []string{record.PrincipalID, record.Audience, record.Purpose} {
		if len(field) > 65535 {
			return nil, errors.New("token record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.WriteString(field)
	}
	buf.WriteString(record.Hash)

	return buf.Bytes(), nil
}

func decodeTokenRecord(data []byte) (TokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return TokenRecord{}, err
	}
	if version != tokenRecordVersionV1 {
		return TokenRecord{}, errors.New("invalid token record version")
	}

	var expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return TokenRecord{}, err
	}

	fields := make([]string, 3)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return TokenRecord{}, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(reader, b); err != nil {
			return TokenRecord{}, err
		}
		fields[i] = string(b)
	}

	hash, err := io.ReadAll(reader)
	if err != nil {
		return TokenRecord{}, err
	}

	return TokenRecord{
		Hash:        string(hash),
		PrincipalID: fields[0],
		Audience:    fields[1],
		Purpose:     fields[2],
		ExpiresAt:   time.UnixMilli(expiresAt).UTC(),
	}, nil
}
