package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"Orion-Core/server/internal/config"
	"Orion-Core/server/internal/models"
)

type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisStore(cfg config.RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisStore{client: client, logger: logger}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Embedding cache methods
const embeddingKeyPrefix = "orion:embedding:"

// GetVector reads a cached embedding. A miss is (nil, false, nil).
func (s *RedisStore) GetVector(ctx context.Context, key string) ([]float32, bool, error) {
	data, err := s.client.Get(ctx, embeddingKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get embedding: %w", err)
	}
	vec, err := decodeVector(data)
	if err != nil {
		// Corrupt entries are treated as misses and overwritten later.
		s.logger.Warn("discarding corrupt cached embedding", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	return vec, true, nil
}

// SetVector caches an embedding for ttl (zero means no expiry).
func (s *RedisStore) SetVector(ctx context.Context, key string, vec []float32, ttl time.Duration) error {
	if err := s.client.Set(ctx, embeddingKeyPrefix+key, encodeVector(vec), ttl).Err(); err != nil {
		return fmt.Errorf("failed to set embedding: %w", err)
	}
	return nil
}

// encodeVector packs float32 values little-endian, 4 bytes each.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("invalid vector encoding: %d bytes", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return vec, nil
}

// Provider health storage methods
const (
	healthLatestKey     = "orion:llm:health:latest"
	healthHistoryKey    = "orion:llm:health:history"
	healthHistoryMax    = 500
	healthHistoryTTL    = 7 * 24 * time.Hour
	defaultHealthRecent = 50
)

// HealthSnapshot is the last full probe run
type HealthSnapshot struct {
	Results   []models.ProviderStatus `json:"results"`
	CheckedAt time.Time               `json:"checkedAt"`
}

// SaveProviderStatuses stores the latest probe run and appends every row to
// the bounded history list.
func (s *RedisStore) SaveProviderStatuses(ctx context.Context, statuses []models.ProviderStatus) error {
	snapshot := HealthSnapshot{Results: statuses, CheckedAt: time.Now().UTC()}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal health snapshot: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, healthLatestKey, data, 0)
	for _, st := range statuses {
		row, err := json.Marshal(st)
		if err != nil {
			return fmt.Errorf("failed to marshal provider status: %w", err)
		}
		pipe.LPush(ctx, healthHistoryKey, row)
	}
	pipe.LTrim(ctx, healthHistoryKey, 0, healthHistoryMax-1)
	pipe.Expire(ctx, healthHistoryKey, healthHistoryTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store health snapshot: %w", err)
	}
	return nil
}

// LoadProviderStatuses returns the latest snapshot, or nil when no probe has
// run yet.
func (s *RedisStore) LoadProviderStatuses(ctx context.Context) (*HealthSnapshot, error) {
	data, err := s.client.Get(ctx, healthLatestKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load health snapshot: %w", err)
	}

	var snapshot HealthSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to unmarshal health snapshot: %w", err)
	}
	return &snapshot, nil
}

// RecentProviderStatuses returns the newest probe rows first
func (s *RedisStore) RecentProviderStatuses(ctx context.Context, limit int64) ([]models.ProviderStatus, error) {
	if limit <= 0 || limit > healthHistoryMax {
		limit = defaultHealthRecent
	}

	results, err := s.client.LRange(ctx, healthHistoryKey, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get health history: %w", err)
	}

	statuses := make([]models.ProviderStatus, 0, len(results))
	for _, result := range results {
		var st models.ProviderStatus
		if err := json.Unmarshal([]byte(result), &st); err != nil {
			continue // Skip invalid entries
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}
