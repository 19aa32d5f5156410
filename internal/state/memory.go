package state

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the in-memory fallback used when Redis is unreachable.
// Locks held here are process-local only.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]memoryItem
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem)}
}

// get returns the live value for key, pruning it if expired. Callers hold mu.
func (s *MemoryStore) get(key string) ([]byte, bool) {
	item, ok := s.items[key]
	if !ok {
		return nil, false
	}
	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		delete(s.items, key)
		return nil, false
	}
	return item.value, true
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	val, ok := s.get(key)
	if !ok {
		return nil, ErrNotFound
	}
	return val, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item := memoryItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	s.items[key] = item
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.get(key)
	return ok, nil
}

func (s *MemoryStore) GetJSON(ctx context.Context, key string, out any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (s *MemoryStore) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}

func (s *MemoryStore) AcquireLock(_ context.Context, name string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.get(lockKey(name)); held {
		return false, nil
	}
	item := memoryItem{value: []byte("1")}
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}
	s.items[lockKey(name)] = item
	return true, nil
}

func (s *MemoryStore) ReleaseLock(ctx context.Context, name string) error {
	return s.Delete(ctx, lockKey(name))
}

func (s *MemoryStore) IsLocked(ctx context.Context, name string) (bool, error) {
	return s.Exists(ctx, lockKey(name))
}

func (s *MemoryStore) HealthStatus(ctx context.Context, service string) (string, error) {
	raw, err := s.Get(ctx, healthKey(service))
	if err == ErrNotFound {
		return HealthUnknown, nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *MemoryStore) SetHealthStatus(ctx context.Context, service, status string) error {
	return s.Set(ctx, healthKey(service), []byte(status), HealthStatusTTL)
}

func (s *MemoryStore) IsAlertSent(ctx context.Context, event string) (bool, error) {
	return s.Exists(ctx, alertKey(event))
}

func (s *MemoryStore) MarkAlertSent(ctx context.Context, event string) error {
	return s.Set(ctx, alertKey(event), []byte("1"), AlertFlagTTL)
}

func (s *MemoryStore) ClearAlertSent(ctx context.Context, event string) error {
	return s.Delete(ctx, alertKey(event))
}

func (s *MemoryStore) GetDiagnostic(ctx context.Context, device, date string, out any) error {
	return s.GetJSON(ctx, diagKey(device, date), out)
}

func (s *MemoryStore) SetDiagnostic(ctx context.Context, device, date string, value any) error {
	return s.SetJSON(ctx, diagKey(device, date), value, DiagCacheTTL)
}

// Publish is a no-op in memory; there are no cross-process subscribers.
func (s *MemoryStore) Publish(_ context.Context, _ string, _ []byte) error {
	return nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
