package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/opynfinance/squeeth-monorepo-sub005/internal/model"
)

// Schema creates the tables used by PostgresStore.
const Schema = `
CREATE TABLE IF NOT EXISTS position_events (
	seq                BIGSERIAL PRIMARY KEY,
	id                 TEXT NOT NULL UNIQUE,
	user_id            TEXT NOT NULL,
	position_id        TEXT NOT NULL,
	kind               TEXT NOT NULL,
	osqth_amount       NUMERIC NOT NULL,
	eth_amount         NUMERIC NOT NULL,
	osqth_price_in_eth NUMERIC NOT NULL,
	eth_price          NUMERIC NOT NULL,
	collected_osqth    NUMERIC NOT NULL,
	collected_eth      NUMERIC NOT NULL,
	timestamp          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS position_events_user_position
	ON position_events (user_id, position_id, timestamp, seq);

CREATE TABLE IF NOT EXISTS eth_prices (
	timestamp TIMESTAMPTZ PRIMARY KEY,
	price     NUMERIC NOT NULL
);
`

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies Schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

func (s *PostgresStore) InsertEvent(ctx context.Context, userID, positionID string, e *model.PositionEvent) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO position_events (id, user_id, position_id, kind,
		        osqth_amount, eth_amount, osqth_price_in_eth, eth_price,
		        collected_osqth, collected_eth, timestamp)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11)`,
		e.ID, userID, positionID, string(e.Kind),
		e.OSqthAmount.String(), e.EthAmount.String(),
		e.OSqthPriceInEth.String(), e.EthPrice.String(),
		e.CollectedOSqth.String(), e.CollectedEth.String(),
		e.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert event %s: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetEvents(ctx context.Context, userID, positionID string) ([]model.PositionEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, kind,
		        osqth_amount::TEXT, eth_amount::TEXT,
		        osqth_price_in_eth::TEXT, eth_price::TEXT,
		        collected_osqth::TEXT, collected_eth::TEXT,
		        timestamp
		 FROM position_events
		 WHERE user_id = $1 AND position_id = $2
		 ORDER BY timestamp, seq`, userID, positionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEvents(rows)
}

func (s *PostgresStore) ListPositions(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT position_id FROM position_events
		 WHERE user_id = $1 ORDER BY position_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) InsertEthPrice(ctx context.Context, ts time.Time, price decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO eth_prices (timestamp, price) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (timestamp) DO UPDATE SET price = EXCLUDED.price`,
		ts, price.String(),
	)
	return err
}

func (s *PostgresStore) EthPriceAt(ctx context.Context, ts time.Time, tolerance time.Duration) (decimal.Decimal, error) {
	var priceS string
	err := s.pool.QueryRow(ctx,
		`SELECT price::TEXT FROM eth_prices
		 WHERE timestamp <= $1 AND timestamp >= $2
		 ORDER BY timestamp DESC LIMIT 1`,
		ts, ts.Add(-tolerance)).Scan(&priceS)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("eth price at %s: %w", ts.UTC().Format(time.RFC3339), ErrNotFound)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("eth price at %s: %w", ts.UTC().Format(time.RFC3339), err)
	}
	return decimal.NewFromString(priceS)
}

// pgxRows is the subset of pgx.Rows used by the scanners.
type pgxRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanEvents(rows pgxRows) ([]model.PositionEvent, error) {
	var events []model.PositionEvent
	for rows.Next() {
		var e model.PositionEvent
		var kind string
		var amounts [6]string

		if err := rows.Scan(&e.ID, &kind,
			&amounts[0], &amounts[1], &amounts[2], &amounts[3], &amounts[4], &amounts[5],
			&e.Timestamp); err != nil {
			return nil, err
		}
		e.Kind = model.EventKind(kind)

		fields := []*decimal.Decimal{
			&e.OSqthAmount, &e.EthAmount,
			&e.OSqthPriceInEth, &e.EthPrice,
			&e.CollectedOSqth, &e.CollectedEth,
		}
		for i, f := range fields {
			v, err := decimal.NewFromString(amounts[i])
			if err != nil {
				return nil, fmt.Errorf("event %s: %w", e.ID, err)
			}
			*f = v
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
