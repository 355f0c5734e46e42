package broker

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

func tradeServer(t *testing.T, messages []string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "@trade") {
			t.Errorf("unexpected stream path: %s", r.URL.Path)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		conn.Close()
	}))
}

func TestBinanceFeedDispatchesTrades(t *testing.T) {
	srv := tradeServer(t, []string{
		`{"e":"trade","p":"101.5","q":"3","T":1717000000000}`,
		`{"e":"trade","p":"101.75","q":"2","T":1717000001000}`,
		`{"e":"aggTrade","p":"999","q":"1","T":1717000002000}`,
		`{"not json`,
	})
	defer srv.Close()

	h := &recordingHandler{}
	feed := NewBinanceFeed(h, "ws"+strings.TrimPrefix(srv.URL, "http"), zerolog.Nop())
	if _, err := feed.RequestMarketData(Contract{Symbol: "BTCUSDT"}); err != nil {
		t.Fatalf("RequestMarketData returned error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		ticks, sizes, _ := h.snapshot()
		if len(ticks) == 2 && len(sizes) == 2 {
			if ticks[0] != 101.5 || ticks[1] != 101.75 {
				t.Fatalf("unexpected prices: %v", ticks)
			}
			if sizes[0] != 3 || sizes[1] != 2 {
				t.Fatalf("unexpected sizes: %v", sizes)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out: %d ticks, %d sizes", len(ticks), len(sizes))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBinanceFeedDisconnectIsFatal(t *testing.T) {
	srv := tradeServer(t, []string{`{"e":"trade","p":"100","q":"1","T":1717000000000}`})
	defer srv.Close()

	h := &recordingHandler{}
	feed := NewBinanceFeed(h, "ws"+strings.TrimPrefix(srv.URL, "http"), zerolog.Nop())
	if _, err := feed.RequestMarketData(Contract{Symbol: "BTCUSDT"}); err != nil {
		t.Fatalf("RequestMarketData returned error: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.Lock()
		codes := append([]int(nil), h.errors...)
		h.mu.Unlock()
		if len(codes) == 1 {
			if codes[0] != CodeDisconnected {
				t.Fatalf("expected disconnect code %d, got %d", CodeDisconnected, codes[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("no disconnect reported")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBinanceFeedCancelDoesNotReportError(t *testing.T) {
	upgrader := websocket.Upgrader{}
	hold := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		<-hold
		conn.Close()
	}))
	defer srv.Close()
	defer close(hold)

	h := &recordingHandler{}
	feed := NewBinanceFeed(h, "ws"+strings.TrimPrefix(srv.URL, "http"), zerolog.Nop())
	reqID, err := feed.RequestMarketData(Contract{Symbol: "BTCUSDT"})
	if err != nil {
		t.Fatalf("RequestMarketData returned error: %v", err)
	}
	if err := feed.CancelMarketData(reqID); err != nil {
		t.Fatalf("CancelMarketData returned error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errors) != 0 {
		t.Fatalf("deliberate teardown must not surface a disconnect, got %v", h.errors)
	}
}
