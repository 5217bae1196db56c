package windows

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"lattice-siem/internal/schema"
)

// RedisConfig holds the Redis connection settings for the window store.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	MaxRetries   int           `yaml:"max_retries"`
	TLSEnabled   bool          `yaml:"tls_enabled"`
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	}
}

// RedisStore is the shared window store backing: per-pair sorted-set
// indexes scored by event timestamp, with event payloads stored beside
// them under the same TTL. State survives restarts and is visible to
// every engine instance sharing the Redis.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	ttlMult int
}

// NewRedisClient creates and pings a Redis client from configuration.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a Redis-backed window store. A ttlMult below 1
// falls back to the default safety multiplier.
func NewRedisStore(client *redis.Client, keyPrefix string, ttlMult int) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "lattice"
	}
	if ttlMult < 1 {
		ttlMult = DefaultTTLMultiplier
	}
	return &RedisStore{client: client, prefix: keyPrefix, ttlMult: ttlMult}
}

func (s *RedisStore) indexKey(ruleID, groupKey string) string {
	return fmt.Sprintf("%s:win:%s:%s", s.prefix, sanitizeKeyPart(ruleID), groupKey)
}

func (s *RedisStore) payloadKey(ruleID, groupKey, eventID string) string {
	return fmt.Sprintf("%s:evt:%s:%s:%s", s.prefix, sanitizeKeyPart(ruleID), groupKey, eventID)
}

// AddEvent implements Store. The index update, expiry refresh, prune and
// range read run as separate Redis commands, not one transaction; under
// concurrent writers to the same pair this can double-count briefly,
// which the engine accepts as an at-least-once emission window.
func (s *RedisStore) AddEvent(ctx context.Context, ruleID, groupKey string, event *schema.Event, window time.Duration) ([]*schema.Event, error) {
	now := time.Now()
	idxKey := s.indexKey(ruleID, groupKey)
	eventID := event.EventID.String()
	ttl := time.Duration(s.ttlMult) * window

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", eventID, err)
	}

	// Insert into the time-ordered index, scored by the event timestamp.
	score := float64(eventScore(event, now))
	if err := s.client.ZAdd(ctx, idxKey, redis.Z{Score: score, Member: eventID}).Err(); err != nil {
		return nil, fmt.Errorf("window index add: %w", err)
	}

	// Store the payload and refresh expiry on both keys.
	if err := s.client.Set(ctx, s.payloadKey(ruleID, groupKey, eventID), payload, ttl).Err(); err != nil {
		return nil, fmt.Errorf("window payload set: %w", err)
	}
	if err := s.client.Expire(ctx, idxKey, ttl).Err(); err != nil {
		return nil, fmt.Errorf("window index expire: %w", err)
	}

	// Prune entries that have slid out of the window, payloads included.
	cutoff := now.Add(-window).UnixMilli()
	if err := s.prune(ctx, ruleID, groupKey, cutoff); err != nil {
		return nil, err
	}

	return s.readWindow(ctx, ruleID, groupKey)
}

func (s *RedisStore) prune(ctx context.Context, ruleID, groupKey string, cutoff int64) error {
	idxKey := s.indexKey(ruleID, groupKey)
	max := "(" + strconv.FormatInt(cutoff, 10)

	expired, err := s.client.ZRangeByScore(ctx, idxKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return fmt.Errorf("window prune range: %w", err)
	}
	if len(expired) == 0 {
		return nil
	}

	keys := make([]string, len(expired))
	for i, id := range expired {
		keys[i] = s.payloadKey(ruleID, groupKey, id)
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("window prune payloads: %w", err)
	}
	if err := s.client.ZRemRangeByScore(ctx, idxKey, "-inf", max).Err(); err != nil {
		return fmt.Errorf("window prune index: %w", err)
	}
	return nil
}

// readWindow returns the surviving entries ordered by timestamp
// ascending. Payloads whose TTL expired between the index read and the
// fetch are skipped rather than failing the whole read.
func (s *RedisStore) readWindow(ctx context.Context, ruleID, groupKey string) ([]*schema.Event, error) {
	ids, err := s.client.ZRange(ctx, s.indexKey(ruleID, groupKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("window index read: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.payloadKey(ruleID, groupKey, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("window payload read: %w", err)
	}

	events := make([]*schema.Event, 0, len(vals))
	for i, val := range vals {
		raw, ok := val.(string)
		if !ok {
			continue // payload expired under the index entry
		}
		var event schema.Event
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			slog.Warn("dropping undecodable window payload",
				"rule_id", ruleID, "event_id", ids[i], "error", err)
			continue
		}
		events = append(events, &event)
	}
	return events, nil
}

// ClearGroup implements Store.
func (s *RedisStore) ClearGroup(ctx context.Context, ruleID, groupKey string) error {
	idxKey := s.indexKey(ruleID, groupKey)

	ids, err := s.client.ZRange(ctx, idxKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("window clear read: %w", err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.payloadKey(ruleID, groupKey, id))
	}
	keys = append(keys, idxKey)

	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("window clear delete: %w", err)
	}
	return nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
