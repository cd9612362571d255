package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/opynfinance/squeeth-monorepo-sub005/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) InsertEvent(ctx context.Context, userID, positionID string, e *model.PositionEvent) error {
	if err := s.primary.InsertEvent(ctx, userID, positionID, e); err != nil {
		return err
	}
	s.rdb.Del(ctx, eventsKey(userID, positionID), positionsKey(userID))
	return nil
}

func (s *CachedStore) InsertEthPrice(ctx context.Context, ts time.Time, price decimal.Decimal) error {
	return s.primary.InsertEthPrice(ctx, ts, price)
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetEvents(ctx context.Context, userID, positionID string) ([]model.PositionEvent, error) {
	key := eventsKey(userID, positionID)
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == nil {
		var events []model.PositionEvent
		if json.Unmarshal(data, &events) == nil {
			return events, nil
		}
	}

	events, err := s.primary.GetEvents(ctx, userID, positionID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(events); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return events, nil
}

func (s *CachedStore) ListPositions(ctx context.Context, userID string) ([]string, error) {
	data, err := s.rdb.Get(ctx, positionsKey(userID)).Bytes()
	if err == nil {
		var ids []string
		if json.Unmarshal(data, &ids) == nil {
			return ids, nil
		}
	}

	ids, err := s.primary.ListPositions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(ids); err == nil {
		s.rdb.Set(ctx, positionsKey(userID), data, s.ttl)
	}
	return ids, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) EthPriceAt(ctx context.Context, ts time.Time, tolerance time.Duration) (decimal.Decimal, error) {
	return s.primary.EthPriceAt(ctx, ts, tolerance)
}

func eventsKey(uid, pid string) string { return fmt.Sprintf("events:%s:%s", uid, pid) }
func positionsKey(uid string) string   { return fmt.Sprintf("positions:%s", uid) }
