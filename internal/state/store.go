// Package state provides the shared state store used by the gateway and the
// workflow runner: TTL cache, JSON helpers, distributed locks, health status,
// anti-spam alert flags, diagnostic cache and pub/sub.
//
// The primary implementation is Redis. When Redis is unreachable the runner
// falls back to the in-memory store, which keeps single-process semantics but
// provides no cross-replica locking.
package state

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("state: key not found")

// Health status values written under health:<service>.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
	HealthDown     = "down"
	HealthUnknown  = "unknown"
)

// Default TTLs for the keyspace conventions.
const (
	HealthStatusTTL = 60 * time.Second
	AlertFlagTTL    = 300 * time.Second
	DiagCacheTTL    = 1200 * time.Second
)

// Store is the state-store contract. All operations are single-key atomic;
// no cross-key ordering is guaranteed.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	GetJSON(ctx context.Context, key string, out any) error
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error

	// AcquireLock sets lock:<name> if absent with the given TTL and reports
	// whether this caller now holds it.
	AcquireLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name string) error
	IsLocked(ctx context.Context, name string) (bool, error)

	// HealthStatus returns the recorded status for a service, or
	// HealthUnknown when the writer went silent and the TTL elapsed.
	HealthStatus(ctx context.Context, service string) (string, error)
	SetHealthStatus(ctx context.Context, service, status string) error

	IsAlertSent(ctx context.Context, event string) (bool, error)
	MarkAlertSent(ctx context.Context, event string) error
	ClearAlertSent(ctx context.Context, event string) error

	GetDiagnostic(ctx context.Context, device, date string, out any) error
	SetDiagnostic(ctx context.Context, device, date string, value any) error

	Publish(ctx context.Context, channel string, message []byte) error

	Ping(ctx context.Context) error
	Close() error
}

func lockKey(name string) string         { return "lock:" + name }
func healthKey(service string) string    { return "health:" + service }
func alertKey(event string) string       { return "alert:" + event }
func diagKey(device, date string) string { return "diag:" + device + ":" + date }
