package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opynfinance/squeeth-monorepo-sub005/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]model.PositionEvent // positionKey → events
	prices []pricePoint                     // sorted by ts
}

type pricePoint struct {
	ts    time.Time
	price decimal.Decimal
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string][]model.PositionEvent),
	}
}

func (s *MemoryStore) InsertEvent(_ context.Context, userID, positionID string, e *model.PositionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey(userID, positionID)
	for _, existing := range s.events[key] {
		if e.ID != "" && existing.ID == e.ID {
			return fmt.Errorf("event %s already exists", e.ID)
		}
	}
	s.events[key] = append(s.events[key], *e)
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, userID, positionID string) ([]model.PositionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.events[positionKey(userID, positionID)]
	result := make([]model.PositionEvent, len(stored))
	copy(result, stored)
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (s *MemoryStore) ListPositions(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := userID + "/"
	var ids []string
	for key := range s.events {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			ids = append(ids, key[len(prefix):])
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) InsertEthPrice(_ context.Context, ts time.Time, price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("price must be positive, got %s", price)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	i := sort.Search(len(s.prices), func(i int) bool { return !s.prices[i].ts.Before(ts) })
	if i < len(s.prices) && s.prices[i].ts.Equal(ts) {
		s.prices[i].price = price
		return nil
	}
	s.prices = append(s.prices, pricePoint{})
	copy(s.prices[i+1:], s.prices[i:])
	s.prices[i] = pricePoint{ts: ts, price: price}
	return nil
}

func (s *MemoryStore) EthPriceAt(_ context.Context, ts time.Time, tolerance time.Duration) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// First point strictly after ts; the one before it is the candidate.
	i := sort.Search(len(s.prices), func(i int) bool { return s.prices[i].ts.After(ts) })
	if i == 0 {
		return decimal.Zero, fmt.Errorf("eth price at %s: %w", ts.UTC().Format(time.RFC3339), ErrNotFound)
	}
	p := s.prices[i-1]
	if ts.Sub(p.ts) > tolerance {
		return decimal.Zero, fmt.Errorf("eth price at %s: %w", ts.UTC().Format(time.RFC3339), ErrNotFound)
	}
	return p.price, nil
}

func positionKey(userID, positionID string) string {
	return userID + "/" + positionID
}
