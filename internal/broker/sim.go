package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/PraneshBalekai/vol-range-momentum/internal/market"
)

// SimConfig tunes the simulated venue.
type SimConfig struct {
	TickInterval           time.Duration
	StartPrice             float64
	Drift                  float64 // per-tick upward bias
	SlippageBps            float64
	PartialFillProbability float64
	MaxPartialFills        int
	Seed                   int64
}

// Sim is an in-process venue for paper trading and tests. It random-walks a
// price, emits delayed-last tick pairs, and fills orders with configurable
// partial-fill behaviour. Callbacks are serialized, matching the live
// collaborator's delivery guarantee.
type Sim struct {
	cfg     SimConfig
	handler Handler
	log     zerolog.Logger

	nextOrderID atomic.Int64
	nextReqID   atomic.Int64

	cbMu sync.Mutex // serializes all handler callbacks

	mu        sync.Mutex
	rng       *rand.Rand
	px        float64
	cancelled map[int64]bool
	feeds     map[int64]context.CancelFunc
	ctx       context.Context
}

// NewSim builds a simulated venue delivering callbacks to handler.
func NewSim(handler Handler, cfg SimConfig, log zerolog.Logger) *Sim {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 250 * time.Millisecond
	}
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}
	if cfg.MaxPartialFills < 0 {
		cfg.MaxPartialFills = 0
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sim{
		cfg:       cfg,
		handler:   handler,
		log:       log,
		rng:       rand.New(rand.NewSource(seed)),
		px:        cfg.StartPrice,
		cancelled: make(map[int64]bool),
		feeds:     make(map[int64]context.CancelFunc),
	}
}

// Connect records the session context. The sim never fails to connect.
func (s *Sim) Connect(ctx context.Context, host string, port int, clientID int) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.log.Info().Str("host", host).Int("port", port).Int("client_id", clientID).Msg("sim venue connected")
	return nil
}

// NextOrderID hands out monotonically increasing order ids.
func (s *Sim) NextOrderID() int64 {
	return s.nextOrderID.Add(1)
}

// RequestMarketData starts a tick loop emitting delayed last price/size pairs.
func (s *Sim) RequestMarketData(contract Contract) (int64, error) {
	reqID := s.nextReqID.Add(1)

	s.mu.Lock()
	base := s.ctx
	if base == nil {
		base = context.Background()
	}
	ctx, cancel := context.WithCancel(base)
	s.feeds[reqID] = cancel
	s.mu.Unlock()

	go s.tickLoop(ctx, reqID)
	s.log.Info().Str("symbol", contract.Symbol).Int64("req_id", reqID).Msg("sim market data subscribed")
	return reqID, nil
}

// CancelMarketData tears down the tick loop for reqID.
func (s *Sim) CancelMarketData(reqID int64) error {
	s.mu.Lock()
	cancel, ok := s.feeds[reqID]
	delete(s.feeds, reqID)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown market data request %d", reqID)
	}
	cancel()
	return nil
}

func (s *Sim) tickLoop(ctx context.Context, reqID int64) {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			s.px += (s.rng.Float64()-0.5)*0.2 + s.cfg.Drift
			px := s.px
			size := float64(s.rng.Intn(200) + 1)
			s.mu.Unlock()

			s.cbMu.Lock()
			s.handler.OnTick(reqID, market.KindDelayedLast, px)
			s.handler.OnSize(reqID, market.KindDelayedLastSize, size)
			s.cbMu.Unlock()
		}
	}
}

// PlaceOrder fills asynchronously, possibly across several partial fills.
func (s *Sim) PlaceOrder(orderID int64, contract Contract, order Order) error {
	if order.Quantity <= 0 {
		return fmt.Errorf("order quantity must be positive, got %g", order.Quantity)
	}
	go s.fill(orderID, order)
	return nil
}

// CancelOrder marks the order cancelled; remaining fills are suppressed and a
// terminal Cancelled status is delivered.
func (s *Sim) CancelOrder(orderID int64) error {
	s.mu.Lock()
	s.cancelled[orderID] = true
	s.mu.Unlock()

	s.cbMu.Lock()
	s.handler.OnOrderStatus(OrderStatus{OrderID: orderID, Status: StatusCancelled})
	s.cbMu.Unlock()
	return nil
}

// Close tears down all feeds.
func (s *Sim) Close() error {
	s.mu.Lock()
	for _, cancel := range s.feeds {
		cancel()
	}
	s.feeds = make(map[int64]context.CancelFunc)
	s.mu.Unlock()
	return nil
}

func (s *Sim) fill(orderID int64, order Order) {
	s.mu.Lock()
	parts := 1
	if s.cfg.MaxPartialFills > 0 && s.rng.Float64() < s.cfg.PartialFillProbability {
		parts = s.rng.Intn(s.cfg.MaxPartialFills) + 2
	}
	px := s.px
	s.mu.Unlock()

	slip := px * s.cfg.SlippageBps / 10000
	if order.Side == Sell {
		slip = -slip
	}
	fillPx := px + slip

	chunk := order.Quantity / float64(parts)
	var filled float64
	for i := 0; i < parts; i++ {
		time.Sleep(time.Millisecond)

		s.mu.Lock()
		dead := s.cancelled[orderID]
		s.mu.Unlock()
		if dead {
			return
		}

		filled += chunk
		status := StatusPartial
		if i == parts-1 {
			filled = order.Quantity // avoid float drift on the last chunk
			status = StatusFilled
		}
		s.cbMu.Lock()
		s.handler.OnOrderStatus(OrderStatus{
			OrderID:      orderID,
			Status:       status,
			Filled:       filled,
			Remaining:    order.Quantity - filled,
			AvgFillPrice: fillPx,
		})
		s.cbMu.Unlock()
	}
}
