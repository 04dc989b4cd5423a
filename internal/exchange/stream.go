package exchange

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"xrp-grid-bot-go/internal/logger"

	"github.com/gorilla/websocket"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	reconnectDelay = 5 * time.Second
)

// priceStream maintains a websocket subscription to the pair's aggTrade
// feed and pushes every traded price into the gateway's ticker cache.
type priceStream struct {
	wsBaseURL string
	pair      string
	onPrice   func(pair string, price float64)
	conn      *websocket.Conn
	stopChan  chan struct{}
}

func newPriceStream(wsBaseURL, pair string, onPrice func(string, float64)) *priceStream {
	return &priceStream{
		wsBaseURL: wsBaseURL,
		pair:      pair,
		onPrice:   onPrice,
		stopChan:  make(chan struct{}),
	}
}

func (s *priceStream) start() {
	go s.loop()
}

func (s *priceStream) stop() {
	close(s.stopChan)
}

// loop is a daemon that keeps the connection alive, reconnecting with a
// fixed delay whenever it drops.
func (s *priceStream) loop() {
	for {
		select {
		case <-s.stopChan:
			logger.S().Info("Price stream stopped.")
			return
		default:
			if err := s.connect(); err != nil {
				logger.S().Warnf("Price stream connect failed: %v. Retrying in %s...", err, reconnectDelay)
				time.Sleep(reconnectDelay)
				continue
			}

			logger.S().Infof("Price stream connected for %s.", s.pair)
			if err := s.readMessages(); err != nil {
				logger.S().Warnf("Price stream error: %v", err)
			}
			if s.conn != nil {
				s.conn.Close()
			}
			time.Sleep(reconnectDelay)
		}
	}
}

func (s *priceStream) connect() error {
	wsURL := fmt.Sprintf("%s/ws/%s@aggTrade", s.wsBaseURL, strings.ToLower(s.pair))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return err
	}
	s.conn = conn
	return nil
}

// readMessages blocks on the connection until it breaks, keeping the read
// deadline extended via the ping/pong heartbeat.
func (s *priceStream) readMessages() error {
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	pingTicker := time.NewTicker(pingPeriod)
	defer pingTicker.Stop()

	pingStop := make(chan struct{})
	defer close(pingStop)

	// Sole writer on the connection. On stop it sends the close frame; the
	// read loop never writes.
	go func() {
		for {
			select {
			case <-pingTicker.C:
				if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-s.stopChan:
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			case <-pingStop:
				return
			}
		}
	}()

	for {
		select {
		case <-s.stopChan:
			return nil
		default:
			_, message, err := s.conn.ReadMessage()
			if err != nil {
				select {
				case <-s.stopChan:
					// The close frame is in flight; the broken read is the
					// expected shutdown path.
					return nil
				default:
				}
				return fmt.Errorf("read failed: %w", err)
			}

			var trade struct {
				Price json.Number `json:"p"`
			}
			if err := json.Unmarshal(message, &trade); err != nil {
				logger.S().Debugf("Skipping unparseable stream message: %v", err)
				continue
			}

			price, err := trade.Price.Float64()
			if err != nil || price <= 0 {
				continue
			}
			s.onPrice(s.pair, price)
		}
	}
}
