// Package cache keeps per-patient vitals snapshots and a short rhythm
// assessment history in Redis so read paths do not hit the database.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/rewired-gh/guardian/internal/models"
)

const (
	// SnapshotKeyPrefix prefixes the per-patient snapshot key
	SnapshotKeyPrefix = "guardian:snapshot:"
	// AssessmentKeyPrefix prefixes the per-patient assessment history list
	AssessmentKeyPrefix = "guardian:assessments:"
	// DefaultTTL is how long a cached snapshot stays valid
	DefaultTTL = 30 * time.Second
	// DefaultHistorySize is how many assessments are kept per patient
	DefaultHistorySize = 100
)

// ErrCacheMiss is returned when a key is absent or expired
var ErrCacheMiss = errors.New("cache miss")

// Cache is the snapshot cache used by the ingestion pipeline and the API
type Cache interface {
	GetSnapshot(ctx context.Context, patientID string) (*models.VitalsSnapshot, error)
	PutSnapshot(ctx context.Context, snap *models.VitalsSnapshot) error
	Invalidate(ctx context.Context, patientID string) error
	PushAssessment(ctx context.Context, a *models.RhythmAssessment) error
	Assessments(ctx context.Context, patientID string, count int64) ([]models.RhythmAssessment, error)
	Ping(ctx context.Context) error
	Close() error
}

// RedisCache implements Cache on Redis
type RedisCache struct {
	client      *redis.Client
	ttl         time.Duration
	historySize int64
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration, historySize int) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, ttl, historySize), nil
}

// NewWithClient wraps an existing client. Non-positive ttl and historySize use defaults.
func NewWithClient(client *redis.Client, ttl time.Duration, historySize int) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &RedisCache{
		client:      client,
		ttl:         ttl,
		historySize: int64(historySize),
	}
}

func snapshotKey(patientID string) string {
	return SnapshotKeyPrefix + patientID
}

func assessmentKey(patientID string) string {
	return AssessmentKeyPrefix + patientID
}

// GetSnapshot returns the cached snapshot or ErrCacheMiss
func (r *RedisCache) GetSnapshot(ctx context.Context, patientID string) (*models.VitalsSnapshot, error) {
	data, err := r.client.Get(ctx, snapshotKey(patientID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	var snap models.VitalsSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// PutSnapshot stores the snapshot under its patient key with the cache TTL
func (r *RedisCache) PutSnapshot(ctx context.Context, snap *models.VitalsSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := r.client.Set(ctx, snapshotKey(snap.PatientID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}
	return nil
}

// Invalidate drops the patient's cached snapshot
func (r *RedisCache) Invalidate(ctx context.Context, patientID string) error {
	return r.client.Del(ctx, snapshotKey(patientID)).Err()
}

// PushAssessment prepends an assessment to the patient's capped history
func (r *RedisCache) PushAssessment(ctx context.Context, a *models.RhythmAssessment) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal assessment: %w", err)
	}

	key := assessmentKey(a.PatientID)
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, r.historySize-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache assessment: %w", err)
	}
	return nil
}

// Assessments returns up to count assessments, newest first. Entries that fail
// to decode are skipped.
func (r *RedisCache) Assessments(ctx context.Context, patientID string, count int64) ([]models.RhythmAssessment, error) {
	if count <= 0 {
		return []models.RhythmAssessment{}, nil
	}
	data, err := r.client.LRange(ctx, assessmentKey(patientID), 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get assessments: %w", err)
	}

	out := make([]models.RhythmAssessment, 0, len(data))
	for _, d := range data {
		var a models.RhythmAssessment
		if err := json.Unmarshal([]byte(d), &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Ping checks the Redis connection
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the client
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Nop is a Cache that stores nothing. It is used when Redis is disabled.
type Nop struct{}

func (Nop) GetSnapshot(context.Context, string) (*models.VitalsSnapshot, error) {
	return nil, ErrCacheMiss
}

func (Nop) PutSnapshot(context.Context, *models.VitalsSnapshot) error { return nil }

func (Nop) Invalidate(context.Context, string) error { return nil }

func (Nop) PushAssessment(context.Context, *models.RhythmAssessment) error { return nil }

func (Nop) Assessments(context.Context, string, int64) ([]models.RhythmAssessment, error) {
	return []models.RhythmAssessment{}, nil
}

func (Nop) Ping(context.Context) error { return nil }

func (Nop) Close() error { return nil }
