package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/PraneshBalekai/vol-range-momentum/internal/market"
)

// CodeDisconnected is the error code delivered with OnError when the venue
// session drops.
const CodeDisconnected = 504

const defaultBinanceWSBase = "wss://stream.binance.com:9443/ws"

type binanceTrade struct {
	Event     string `json:"e"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// BinanceFeed streams public trades over websocket and dispatches them as
// last-price and last-size ticks. It implements only the market-data half of
// the collaborator contract; order flow goes through another gateway.
//
// A dropped stream is not retried: the disconnect is reported through
// OnError and the session is over.
type BinanceFeed struct {
	handler Handler
	log     zerolog.Logger
	wsBase  string

	nextReqID atomic.Int64

	mu    sync.Mutex
	conns map[int64]*websocket.Conn
}

// NewBinanceFeed builds a feed delivering callbacks to handler. wsBase
// overrides the production websocket endpoint when non-empty (tests).
func NewBinanceFeed(handler Handler, wsBase string, log zerolog.Logger) *BinanceFeed {
	if wsBase == "" {
		wsBase = defaultBinanceWSBase
	}
	return &BinanceFeed{
		handler: handler,
		log:     log,
		wsBase:  strings.TrimSuffix(wsBase, "/"),
		conns:   make(map[int64]*websocket.Conn),
	}
}

// RequestMarketData subscribes to the contract's trade stream.
func (f *BinanceFeed) RequestMarketData(contract Contract) (int64, error) {
	url := fmt.Sprintf("%s/%s@trade", f.wsBase, strings.ToLower(contract.Symbol))
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(context.Background(), url, nil)
	if err != nil {
		return 0, fmt.Errorf("dial trade stream: %w", err)
	}

	reqID := f.nextReqID.Add(1)
	f.mu.Lock()
	f.conns[reqID] = conn
	f.mu.Unlock()

	f.log.Info().Str("symbol", contract.Symbol).Int64("req_id", reqID).Msg("trade stream connected")
	go f.consume(reqID, conn)
	return reqID, nil
}

// CancelMarketData closes the stream for reqID.
func (f *BinanceFeed) CancelMarketData(reqID int64) error {
	f.mu.Lock()
	conn, ok := f.conns[reqID]
	delete(f.conns, reqID)
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown market data request %d", reqID)
	}
	return conn.Close()
}

// Close tears down every open stream.
func (f *BinanceFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, conn := range f.conns {
		_ = conn.Close()
		delete(f.conns, id)
	}
	return nil
}

func (f *BinanceFeed) consume(reqID int64, conn *websocket.Conn) {
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(30 * time.Second))
	})

	pingStop := make(chan struct{})
	defer close(pingStop)
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingStop:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			f.mu.Lock()
			_, stillOpen := f.conns[reqID]
			delete(f.conns, reqID)
			f.mu.Unlock()
			if stillOpen {
				f.log.Error().Err(err).Int64("req_id", reqID).Msg("trade stream dropped")
				f.handler.OnError(reqID, CodeDisconnected, ErrDisconnected.Error())
			}
			return
		}

		var trade binanceTrade
		if err := json.Unmarshal(message, &trade); err != nil {
			f.log.Warn().Err(err).Msg("undecodable trade message")
			continue
		}
		if trade.Event != "trade" {
			continue
		}
		px, err := strconv.ParseFloat(trade.Price, 64)
		if err != nil || px <= 0 {
			continue
		}
		qty, err := strconv.ParseFloat(trade.Quantity, 64)
		if err != nil {
			continue
		}

		f.handler.OnTick(reqID, market.KindLast, px)
		f.handler.OnSize(reqID, market.KindLastSize, qty)
	}
}
