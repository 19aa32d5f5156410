package secrets

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrEnvelopeNotFound is returned when no envelope exists for a key, either
// because none was stored or because its TTL elapsed.
var ErrEnvelopeNotFound = errors.New("secret envelope not found or expired")

// EnvelopeStore is the contract the approval queue needs: store an encrypted
// secrets tree under a key with a TTL, read it back, delete it.
type EnvelopeStore interface {
	Store(ctx context.Context, key string, data map[string]any, ttl time.Duration) error
	Get(ctx context.Context, key string) (map[string]any, error)
	Delete(ctx context.Context, key string) error
}

// RedisEnvelopeStore keeps envelopes in Redis, encrypted with
// XChaCha20-Poly1305. The 256-bit cipher key is derived as SHA-256 of the
// operator-supplied key string; with no key configured an ephemeral random
// key is used and envelopes do not survive a restart.
type RedisEnvelopeStore struct {
	rdb  *redis.Client
	aead cipher.AEAD
}

// NewRedisEnvelopeStore builds the store. encryptionKey may be empty; that
// degrades to a per-process ephemeral key and logs a startup warning.
func NewRedisEnvelopeStore(rdb *redis.Client, encryptionKey string) (*RedisEnvelopeStore, error) {
	var key [32]byte
	if encryptionKey != "" {
		key = sha256.Sum256([]byte(encryptionKey))
	} else {
		if _, err := rand.Read(key[:]); err != nil {
			return nil, fmt.Errorf("generate ephemeral key: %w", err)
		}
		slog.Warn("secret store using ephemeral encryption key; envelopes will be lost on restart, set SECRET_ENCRYPTION_KEY in production")
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &RedisEnvelopeStore{rdb: rdb, aead: aead}, nil
}

func redisKey(key string) string { return "secret:" + key }

// Store encrypts data and writes it under the key with the given TTL.
func (s *RedisEnvelopeStore) Store(ctx context.Context, key string, data map[string]any, ttl time.Duration) error {
	plain, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plain)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, plain, nil)

	if err := s.rdb.Set(ctx, redisKey(key), sealed, ttl).Err(); err != nil {
		return fmt.Errorf("store envelope: %w", err)
	}
	return nil
}

// Get reads and decrypts the envelope. Returns ErrEnvelopeNotFound when the
// key is absent (including TTL expiry).
func (s *RedisEnvelopeStore) Get(ctx context.Context, key string) (map[string]any, error) {
	sealed, err := s.rdb.Get(ctx, redisKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEnvelopeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}
	if len(sealed) < s.aead.NonceSize() {
		return nil, errors.New("envelope ciphertext truncated")
	}

	nonce, ciphertext := sealed[:s.aead.NonceSize()], sealed[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt envelope: %w", err)
	}

	var data map[string]any
	if err := json.Unmarshal(plain, &data); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return data, nil
}

// Delete removes the envelope. Deleting an absent key is not an error.
func (s *RedisEnvelopeStore) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, redisKey(key)).Err()
}
