// Package orders drives the position state machine: it consumes scheduler
// instructions, sizes and submits orders, and absorbs asynchronous fill
// confirmations. Position and in-flight order state are owned exclusively by
// the manager's run goroutine; fills arriving on the market-data goroutine are
// handed off through a channel.
package orders

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/PraneshBalekai/vol-range-momentum/internal/broker"
	"github.com/PraneshBalekai/vol-range-momentum/internal/metrics"
	"github.com/PraneshBalekai/vol-range-momentum/internal/risk"
	"github.com/PraneshBalekai/vol-range-momentum/internal/schedule"
)

// ErrInvalidInstruction marks an instruction rejected by the state machine.
// Recovered locally: logged, dropped, position unchanged.
var ErrInvalidInstruction = errors.New("instruction invalid for current position state")

const epsilon = 1e-9

// State is the position direction.
type State int

const (
	Flat State = iota
	Long
	Short
)

func (s State) String() string {
	switch s {
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	default:
		return "FLAT"
	}
}

// Position tracks the live position. Quantity is the signed running sum of
// fills; ReferencePrice is the session open used for sizing.
type Position struct {
	State          State
	Quantity       float64
	ReferencePrice float64
}

// Order is the manager's view of one in-flight order.
type Order struct {
	ID        int64
	Side      broker.Side
	Requested float64
	Filled    float64
	Status    string
}

// Manager is the order-management execution context.
type Manager struct {
	gateway  broker.OrderGateway
	contract broker.Contract
	sizer    risk.Sizer
	sigma    float64
	openPx   func() float64
	recorder FillRecorder
	log      zerolog.Logger

	fills chan broker.OrderStatus

	mu      sync.Mutex
	pos     Position
	pending *Order
}

// New builds a manager. openPx supplies the session's observed opening price
// at entry time; sigma is the calibrator's latest volatility estimate.
func New(gateway broker.OrderGateway, contract broker.Contract, sizer risk.Sizer, sigma float64, openPx func() float64, recorder FillRecorder, log zerolog.Logger) *Manager {
	return &Manager{
		gateway:  gateway,
		contract: contract,
		sizer:    sizer,
		sigma:    sigma,
		openPx:   openPx,
		recorder: recorder,
		log:      log,
		fills:    make(chan broker.OrderStatus, 64),
	}
}

// Run consumes instructions and fill confirmations until ctx is canceled or
// the instruction channel closes.
func (m *Manager) Run(ctx context.Context, instructions <-chan schedule.Instruction) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok := <-instructions:
			if !ok {
				return nil
			}
			if err := m.Apply(in); err != nil {
				m.log.Warn().Err(err).Str("instruction", in.String()).Str("state", m.Position().State.String()).Msg("instruction rejected")
			}
		case st := <-m.fills:
			m.applyStatus(st)
		}
	}
}

// HandleOrderStatus hands a fill confirmation from the market-data goroutine
// to the manager goroutine. Non-blocking so a slow manager cannot wedge the
// callback stream; an overflow is logged loudly.
func (m *Manager) HandleOrderStatus(st broker.OrderStatus) {
	select {
	case m.fills <- st:
	default:
		m.log.Error().Int64("order_id", st.OrderID).Msg("fill queue overflow, confirmation dropped")
	}
}

// Position returns a copy of the live position.
func (m *Manager) Position() Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos
}

// PendingOrder returns a copy of the in-flight order, if any.
func (m *Manager) PendingOrder() (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return Order{}, false
	}
	return *m.pending, true
}

// Apply runs one instruction through the state machine.
//
//	Flat  + EnterLong  -> size & submit BUY,  Long (pending fill)
//	Flat  + EnterShort -> size & submit SELL, Short (pending fill)
//	Long  + ExitLong   -> SELL held quantity, Flat (pending fill)
//	Short + ExitShort  -> BUY held quantity,  Flat (pending fill)
//	anything else      -> rejected, state unchanged
//
// A Flat position still settling (entry cancelled or exit in flight) rejects
// new entries until fills confirm the return to Flat.
func (m *Manager) Apply(in schedule.Instruction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch in {
	case schedule.EnterLong:
		return m.enter(in, broker.Buy, Long)
	case schedule.EnterShort:
		return m.enter(in, broker.Sell, Short)
	case schedule.ExitLong:
		if m.pos.State != Long {
			return m.reject(in)
		}
		return m.exit(broker.Sell)
	case schedule.ExitShort:
		if m.pos.State != Short {
			return m.reject(in)
		}
		return m.exit(broker.Buy)
	default:
		return m.reject(in)
	}
}

func (m *Manager) enter(in schedule.Instruction, side broker.Side, next State) error {
	if m.pos.State != Flat || m.pending != nil {
		return m.reject(in)
	}
	ref := m.openPx()
	qty, err := m.sizer.Quantity(m.sigma, ref)
	if err != nil {
		metrics.InstructionsRejected.WithLabelValues(in.String()).Inc()
		m.log.Warn().Err(err).Msg("entry rejected, no fallback sizing")
		return err
	}
	id := m.gateway.NextOrderID()
	if err := m.gateway.PlaceOrder(id, m.contract, broker.Order{Side: side, Quantity: qty}); err != nil {
		return err
	}
	metrics.OrdersTotal.WithLabelValues(string(side)).Inc()
	m.pending = &Order{ID: id, Side: side, Requested: qty, Status: broker.StatusSubmitted}
	m.pos.State = next
	m.pos.ReferencePrice = ref
	m.log.Info().Int64("order_id", id).Str("side", string(side)).Float64("qty", qty).Msg("entry submitted")
	return nil
}

// exit closes the live filled quantity. A still-working entry order is
// cancelled first; with nothing filled yet there is nothing to close and the
// position returns to Flat once the cancel confirms.
func (m *Manager) exit(side broker.Side) error {
	held := math.Abs(m.pos.Quantity)
	if m.pending != nil {
		if err := m.gateway.CancelOrder(m.pending.ID); err != nil {
			return err
		}
		m.log.Info().Int64("order_id", m.pending.ID).Msg("working entry cancelled for exit")
	}
	if held <= epsilon {
		m.pos.State = Flat
		return nil
	}
	id := m.gateway.NextOrderID()
	if err := m.gateway.PlaceOrder(id, m.contract, broker.Order{Side: side, Quantity: held}); err != nil {
		return err
	}
	metrics.OrdersTotal.WithLabelValues(string(side)).Inc()
	m.pending = &Order{ID: id, Side: side, Requested: held, Status: broker.StatusSubmitted}
	m.pos.State = Flat
	m.log.Info().Int64("order_id", id).Str("side", string(side)).Float64("qty", held).Msg("exit submitted")
	return nil
}

// CancelOutstanding asks the broker to cancel the in-flight order, if any.
// Called on shutdown after the instruction stream has drained.
func (m *Manager) CancelOutstanding() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return
	}
	if err := m.gateway.CancelOrder(m.pending.ID); err != nil {
		m.log.Warn().Err(err).Int64("order_id", m.pending.ID).Msg("shutdown cancel failed")
		return
	}
	m.log.Info().Int64("order_id", m.pending.ID).Msg("outstanding order cancelled on shutdown")
}

func (m *Manager) reject(in schedule.Instruction) error {
	metrics.InstructionsRejected.WithLabelValues(in.String()).Inc()
	return ErrInvalidInstruction
}

func (m *Manager) applyStatus(st broker.OrderStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pending == nil || m.pending.ID != st.OrderID {
		m.log.Debug().Int64("order_id", st.OrderID).Str("status", st.Status).Msg("status for unknown or settled order")
		return
	}

	delta := st.Filled - m.pending.Filled
	if delta > epsilon {
		m.pending.Filled = st.Filled
		signed := delta
		if m.pending.Side == broker.Sell {
			signed = -delta
		}
		m.pos.Quantity += signed
		metrics.FillsTotal.Inc()
		metrics.PositionQty.Set(m.pos.Quantity)
		if m.recorder != nil {
			m.recorder.Record(FillRecord{
				OrderID:  st.OrderID,
				Side:     m.pending.Side,
				Quantity: delta,
				Price:    st.AvgFillPrice,
				At:       time.Now().UTC(),
			})
		}
		m.log.Info().Int64("order_id", st.OrderID).Float64("filled", m.pending.Filled).Float64("requested", m.pending.Requested).Float64("position", m.pos.Quantity).Msg("fill absorbed")
	}
	m.pending.Status = st.Status

	settled := m.pending.Filled >= m.pending.Requested-epsilon || st.Status == broker.StatusCancelled
	if settled {
		m.pending = nil
		if math.Abs(m.pos.Quantity) <= epsilon {
			m.pos.State = Flat
			m.pos.Quantity = 0
			metrics.PositionQty.Set(0)
		}
	}
}
