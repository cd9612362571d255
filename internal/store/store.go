// Package store defines the persistence interface for position events and
// ETH price history. Implementations include PostgreSQL (source of truth),
// Redis (read-through cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opynfinance/squeeth-monorepo-sub005/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Events are append-only.
type Store interface {
	// --- Position event log ---

	// InsertEvent appends an event to a user's position.
	InsertEvent(ctx context.Context, userID, positionID string, e *model.PositionEvent) error

	// GetEvents returns a position's events ordered by timestamp, ties in
	// insertion order.
	GetEvents(ctx context.Context, userID, positionID string) ([]model.PositionEvent, error)

	// ListPositions returns the position IDs a user has events for.
	ListPositions(ctx context.Context, userID string) ([]string, error)

	// --- ETH price history ---

	// InsertEthPrice records an observed ETH/USD price.
	InsertEthPrice(ctx context.Context, ts time.Time, price decimal.Decimal) error

	// EthPriceAt returns the latest recorded price at or before ts, no
	// older than tolerance. Returns ErrNotFound otherwise.
	EthPriceAt(ctx context.Context, ts time.Time, tolerance time.Duration) (decimal.Decimal, error)
}
