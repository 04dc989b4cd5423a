package exchange

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// streamServer upgrades the connection, pushes one aggTrade message and then
// reads until the client sends its close frame.
func streamServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"p":"0.5123"}`)); err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

// TestPriceStreamDeliversAndStops: a trade message reaches the price
// callback and stop() performs a clean close handshake.
func TestPriceStreamDeliversAndStops(t *testing.T) {
	srv := streamServer(t)
	defer srv.Close()

	prices := make(chan float64, 1)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream := newPriceStream(wsURL, "XRPUSDT", func(_ string, price float64) {
		select {
		case prices <- price:
		default:
		}
	})
	stream.start()

	select {
	case price := <-prices:
		require.InDelta(t, 0.5123, price, 1e-9)
	case <-time.After(5 * time.Second):
		t.Fatal("no price delivered before the deadline")
	}

	stream.stop()
}
