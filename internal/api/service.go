// Package api exposes position accounting and payoff simulation over
// HTTP, and pushes position updates to WebSocket clients.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/opynfinance/squeeth-monorepo-sub005/internal/band"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/funding"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/ledger"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/metrics"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/model"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/store"
	"github.com/opynfinance/squeeth-monorepo-sub005/internal/volatility"
)

// Options holds the request defaults of a Service.
type Options struct {
	SqueethVolMultiplier decimal.Decimal
	CrabVolMultiplier    decimal.Decimal
	Curve                band.CurveOptions
	LookupTimeout        time.Duration
}

// Service handles the HTTP API.
type Service struct {
	store  store.Store
	ledger *ledger.Ledger
	sim    *funding.Simulator
	hub    *WSHub // optional
	log    *zap.Logger
	opts   Options
}

// NewService creates a new API service.
// Pass nil for hub if WebSocket broadcasting is not needed.
func NewService(st store.Store, l *ledger.Ledger, sim *funding.Simulator, hub *WSHub, log *zap.Logger, opts Options) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.LookupTimeout <= 0 {
		opts.LookupTimeout = 10 * time.Second
	}
	return &Service{store: st, ledger: l, sim: sim, hub: hub, log: log, opts: opts}
}

// Register mounts the API routes on r.
func (s *Service) Register(r chi.Router) {
	r.Route("/positions/{userID}", func(r chi.Router) {
		r.Get("/", s.ListPositions)
		r.Post("/{positionID}/events", s.RecordEvent)
		r.Get("/{positionID}/events", s.ListEvents)
		r.Get("/{positionID}/pnl", s.GetPnL)
	})
	r.Post("/prices", s.RecordPrice)
	r.Post("/pnl", s.ComputePnL)
	r.Post("/simulate/funding", s.SimulateFunding)
	r.Post("/simulate/crab", s.SimulateCrab)
	r.Get("/band", s.GetBand)
	if s.hub != nil {
		r.Get("/ws", s.hub.HandleWS)
	}
}

// --- Request/Response types ---

// RecordEventRequest is the JSON body for recording a position event.
// A zero eth_price is resolved from price history when PnL is computed.
type RecordEventRequest struct {
	Kind            model.EventKind `json:"kind"`
	OSqthAmount     decimal.Decimal `json:"osqth_amount"`
	EthAmount       decimal.Decimal `json:"eth_amount"`
	OSqthPriceInEth decimal.Decimal `json:"osqth_price_in_eth"`
	EthPrice        decimal.Decimal `json:"eth_price"`
	CollectedOSqth  decimal.Decimal `json:"collected_osqth"`
	CollectedEth    decimal.Decimal `json:"collected_eth"`
	Timestamp       *time.Time      `json:"timestamp"` // nil = now
}

// PnLRequest is the JSON body for POST /pnl.
type PnLRequest struct {
	Events     []model.PositionEvent `json:"events"`
	OSqthPrice decimal.Decimal       `json:"osqth_price"` // ETH-denominated
	EthPrice   decimal.Decimal       `json:"eth_price"`
}

// SimulateRequest is the JSON body for the simulation endpoints.
type SimulateRequest struct {
	Series        []model.PriceSeriesPoint `json:"series"`
	VolMultiplier *decimal.Decimal         `json:"vol_multiplier"` // nil = configured default
	WindowDays    int                      `json:"window_days"`
}

// RecordPriceRequest is the JSON body for POST /prices.
type RecordPriceRequest struct {
	Timestamp time.Time       `json:"timestamp"`
	Price     decimal.Decimal `json:"price"`
}

// CrabResponse is the JSON body returned from POST /simulate/crab.
type CrabResponse struct {
	Series []model.SeriesPoint `json:"series"`
}

// BandResponse is the JSON body returned from GET /band.
type BandResponse struct {
	Band  model.ProfitabilityBand  `json:"band"`
	Curve model.ProfitabilityCurve `json:"curve"`
	Empty bool                     `json:"empty"`
}

// --- HTTP Handlers ---

// RecordEvent handles POST /api/v1/positions/{userID}/{positionID}/events
func (s *Service) RecordEvent(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	positionID := chi.URLParam(r, "positionID")

	var req RecordEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	ts := time.Now().UTC()
	if req.Timestamp != nil {
		ts = req.Timestamp.UTC()
	}
	e := model.PositionEvent{
		ID:              uuid.New().String(),
		Kind:            req.Kind,
		OSqthAmount:     req.OSqthAmount,
		EthAmount:       req.EthAmount,
		OSqthPriceInEth: req.OSqthPriceInEth,
		EthPrice:        req.EthPrice,
		CollectedOSqth:  req.CollectedOSqth,
		CollectedEth:    req.CollectedEth,
		Timestamp:       ts,
	}
	if err := ledger.Validate([]model.PositionEvent{e}); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.store.InsertEvent(r.Context(), userID, positionID, &e); err != nil {
		s.log.Error("insert event failed", zap.String("user", userID), zap.Error(err))
		writeError(w, "failed to record event", http.StatusInternalServerError)
		return
	}
	metrics.EventsRecorded.WithLabelValues(string(e.Kind)).Inc()

	s.log.Info("event recorded",
		zap.String("id", e.ID),
		zap.String("user", userID),
		zap.String("position", positionID),
		zap.String("kind", string(e.Kind)),
		zap.String("osqth_amount", e.OSqthAmount.String()),
		zap.String("eth_amount", e.EthAmount.String()),
	)

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:       "event_recorded",
			UserID:     userID,
			PositionID: positionID,
			EventID:    e.ID,
			Kind:       string(e.Kind),
		})
	}

	writeJSON(w, http.StatusCreated, e)
}

// ListEvents handles GET /api/v1/positions/{userID}/{positionID}/events
func (s *Service) ListEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.GetEvents(r.Context(), chi.URLParam(r, "userID"), chi.URLParam(r, "positionID"))
	if err != nil {
		writeError(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.PositionEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// ListPositions handles GET /api/v1/positions/{userID}
func (s *Service) ListPositions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.store.ListPositions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		writeError(w, "failed to list positions", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// GetPnL handles GET /api/v1/positions/{userID}/{positionID}/pnl
// Marks the stored position at ?osqth_price= (ETH) and ?eth_price= (USD).
func (s *Service) GetPnL(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	positionID := chi.URLParam(r, "positionID")

	oSqthPrice, err := queryDecimal(r, "osqth_price")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	ethPrice, err := queryDecimal(r, "eth_price")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	events, err := s.store.GetEvents(r.Context(), userID, positionID)
	if err != nil {
		writeError(w, "failed to load events", http.StatusInternalServerError)
		return
	}
	if len(events) == 0 {
		writeError(w, "position not found", http.StatusNotFound)
		return
	}

	res, err := s.positionPnL(r.Context(), events, oSqthPrice, ethPrice)
	if err != nil {
		s.log.Warn("pnl computation failed",
			zap.String("user", userID),
			zap.String("position", positionID),
			zap.Error(err),
		)
		writeError(w, err.Error(), statusFor(err))
		return
	}

	if s.hub != nil {
		s.hub.Broadcast(WSMessage{
			Type:          "pnl_updated",
			UserID:        userID,
			PositionID:    positionID,
			RealizedPnL:   res.RealizedPnL.String(),
			UnrealizedPnL: res.UnrealizedPnL.String(),
		})
	}
	writeJSON(w, http.StatusOK, res)
}

// RecordPrice handles POST /api/v1/prices
// Observed ETH prices back the history price provider.
func (s *Service) RecordPrice(w http.ResponseWriter, r *http.Request) {
	var req RecordPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Timestamp.IsZero() || !req.Price.IsPositive() {
		writeError(w, "timestamp and a positive price are required", http.StatusBadRequest)
		return
	}
	if err := s.store.InsertEthPrice(r.Context(), req.Timestamp.UTC(), req.Price); err != nil {
		s.log.Error("insert eth price failed", zap.Error(err))
		writeError(w, "failed to record price", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, req)
}

// ComputePnL handles POST /api/v1/pnl for an inline event list.
func (s *Service) ComputePnL(w http.ResponseWriter, r *http.Request) {
	var req PnLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res, err := s.positionPnL(r.Context(), req.Events, req.OSqthPrice, req.EthPrice)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Service) positionPnL(ctx context.Context, events []model.PositionEvent, oSqthPrice, ethPrice decimal.Decimal) (*model.PnLResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.LookupTimeout)
	defer cancel()
	return s.ledger.PositionPnL(ctx, events, oSqthPrice, ethPrice)
}

// SimulateFunding handles POST /api/v1/simulate/funding
func (s *Service) SimulateFunding(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	mult := s.opts.SqueethVolMultiplier
	if req.VolMultiplier != nil {
		mult = *req.VolMultiplier
	}

	curve, err := s.sim.Simulate(req.Series, mult, req.WindowDays)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, curve)
}

// SimulateCrab handles POST /api/v1/simulate/crab
func (s *Service) SimulateCrab(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	mult := s.opts.CrabVolMultiplier
	if req.VolMultiplier != nil {
		mult = *req.VolMultiplier
	}

	series, err := s.sim.SimulateCrab(req.Series, mult, req.WindowDays)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, CrabResponse{Series: series})
}

// GetBand handles GET /api/v1/band?funding=&price=&days=
// funding is the daily implied rate; ?mark= and ?index= may be given
// instead to derive it. ?range= and ?step= override the curve options.
func (s *Service) GetBand(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	price, err := queryDecimal(r, "price")
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}
	days, err := strconv.Atoi(q.Get("days"))
	if err != nil {
		writeError(w, "days must be an integer", http.StatusBadRequest)
		return
	}

	var rate decimal.Decimal
	if q.Get("funding") != "" {
		rate, err = queryDecimal(r, "funding")
	} else {
		rate, err = s.impliedRate(r)
	}
	if err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	opts := s.opts.Curve
	if v, err := strconv.ParseFloat(q.Get("range"), 64); err == nil {
		opts.RangeMultiplier = v
	}
	if v, err := strconv.ParseFloat(q.Get("step"), 64); err == nil {
		opts.StepPercent = v
	}

	b, err := band.ComputeBand(rate, price, days)
	if err != nil {
		writeError(w, err.Error(), statusFor(err))
		return
	}
	writeJSON(w, http.StatusOK, BandResponse{Band: b, Curve: band.Curve(b, opts), Empty: b.IsEmpty()})
}

func (s *Service) impliedRate(r *http.Request) (decimal.Decimal, error) {
	mark, err := queryDecimal(r, "mark")
	if err != nil {
		return decimal.Zero, errors.New("funding or mark and index are required")
	}
	index, err := queryDecimal(r, "index")
	if err != nil {
		return decimal.Zero, errors.New("funding or mark and index are required")
	}
	return band.ImpliedFundingRate(mark, index, volatility.FundingPeriodDays)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidInput),
		errors.Is(err, funding.ErrInvalidInput),
		errors.Is(err, band.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrMissingPriceData),
		errors.Is(err, funding.ErrNonPositiveGrowth):
		return http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func queryDecimal(r *http.Request, key string) (decimal.Decimal, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return decimal.Zero, errors.New(key + " is required")
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.New(key + " must be a decimal")
	}
	return v, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
