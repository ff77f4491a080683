package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kursadbilgin/mandate-engine/internal/domain"
	"github.com/kursadbilgin/mandate-engine/internal/repository"
	goredis "github.com/redis/go-redis/v9"
)

const markerKeyPrefix = "mandate:pending"

type markerRecord struct {
	MandateID string    `json:"mandateId"`
	CreatedAt time.Time `json:"createdAt"`
}

var _ repository.MarkerStore = (*RedisMarkerStore)(nil)

// RedisMarkerStore keeps pending markers as JSON strings with an optional TTL.
type RedisMarkerStore struct {
	client *goredis.Client
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisMarkerStore(client *goredis.Client, ttl time.Duration) (*RedisMarkerStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisMarkerStore{client: client, ttl: ttl, now: time.Now}, nil
}

func (s *RedisMarkerStore) Put(ctx context.Context, marker domain.PendingMarker) error {
	if err := marker.Validate(); err != nil {
		return err
	}
	if marker.CreatedAt.IsZero() {
		marker.CreatedAt = s.now().UTC()
	}

	payload, err := json.Marshal(markerRecord{MandateID: marker.MandateID.String(), CreatedAt: marker.CreatedAt})
	if err != nil {
		return fmt.Errorf("failed to encode pending marker: %w", err)
	}

	ttl := s.ttl
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, markerRedisKey(marker.Key), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store pending marker: %w", err)
	}
	return nil
}

func (s *RedisMarkerStore) Get(ctx context.Context, key string) (*domain.PendingMarker, error) {
	key = domain.NormalizeMarkerKey(key)
	payload, err := s.client.Get(ctx, markerRedisKey(key)).Bytes()
	return decodeMarker(key, payload, err)
}

func (s *RedisMarkerStore) Consume(ctx context.Context, key string) (*domain.PendingMarker, error) {
	key = domain.NormalizeMarkerKey(key)
	payload, err := s.client.GetDel(ctx, markerRedisKey(key)).Bytes()
	return decodeMarker(key, payload, err)
}

func (s *RedisMarkerStore) Remove(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, markerRedisKey(domain.NormalizeMarkerKey(key))).Err(); err != nil {
		return fmt.Errorf("failed to remove pending marker: %w", err)
	}
	return nil
}

func decodeMarker(key string, payload []byte, err error) (*domain.PendingMarker, error) {
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read pending marker: %w", err)
	}

	var record markerRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, fmt.Errorf("failed to decode pending marker: %w", err)
	}

	return &domain.PendingMarker{
		Key:       key,
		MandateID: domain.MandateID(record.MandateID),
		CreatedAt: record.CreatedAt,
	}, nil
}

func markerRedisKey(key string) string {
	return markerKeyPrefix + ":" + domain.NormalizeMarkerKey(key)
}
