// Package broker defines the collaborator contract the engine consumes:
// market-data and order-status callbacks inbound, market-data requests and
// order placement outbound. Protocol framing lives behind the implementations,
// never in the engine core.
package broker

import (
	"context"
	"errors"

	"github.com/PraneshBalekai/vol-range-momentum/internal/market"
)

// ErrDisconnected is surfaced when the venue session drops. Fatal for the
// running session: the engine halts rather than auto-reconnecting.
var ErrDisconnected = errors.New("broker disconnected")

// Side enumerates order directions.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Contract identifies the traded instrument at the venue.
type Contract struct {
	Symbol   string
	SecType  string
	Exchange string
	Currency string
}

// Order is a placement request.
type Order struct {
	Side     Side
	Quantity float64
}

// OrderStatus is an asynchronous execution report. Filled is cumulative.
type OrderStatus struct {
	OrderID      int64
	Status       string
	Filled       float64
	Remaining    float64
	AvgFillPrice float64
}

// Order status values shared by implementations.
const (
	StatusSubmitted = "Submitted"
	StatusPartial   = "PartiallyFilled"
	StatusFilled    = "Filled"
	StatusCancelled = "Cancelled"
)

// Handler receives the venue's inbound callbacks. Implementations guarantee
// callbacks are delivered serially with respect to each other, but the
// delivery goroutine is concurrent with the scheduler and order manager.
type Handler interface {
	OnTick(reqID int64, kind market.TickKind, price float64)
	OnSize(reqID int64, kind market.TickKind, size float64)
	OnOrderStatus(status OrderStatus)
	OnError(reqID int64, code int, message string)
}

// MarketData is the outbound market-data request surface.
type MarketData interface {
	RequestMarketData(contract Contract) (int64, error)
	CancelMarketData(reqID int64) error
}

// OrderGateway is the outbound order surface.
type OrderGateway interface {
	NextOrderID() int64
	PlaceOrder(orderID int64, contract Contract, order Order) error
	CancelOrder(orderID int64) error
}

// Session is a full venue connection.
type Session interface {
	Connect(ctx context.Context, host string, port int, clientID int) error
	MarketData
	OrderGateway
	Close() error
}
