package exchange

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/surveil/smartmoney/internal/models"
)

// TradeEvent is a parsed trade-stream message (spec §6): "last_trade_price"
// or "price_change" events carrying decimal-string price/size/timestamp.
type TradeEvent struct {
	AssetID   string
	MarketID  string
	Price     float64
	Size      float64
	Side      models.Side
	Timestamp int64
	MakerAddr string
	TakerAddr string
}

type rawTradeEvent struct {
	EventType string `json:"event_type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Side      string `json:"side"`
	Timestamp string `json:"timestamp"`
	MakerAddr string `json:"maker_address,omitempty"`
	TakerAddr string `json:"taker_address,omitempty"`
}

// WSClient owns one exchange WebSocket connection, subscribing to a set of
// token ids and decoding incoming trade events.
type WSClient struct {
	url         string
	openTimeout time.Duration
	conn        *websocket.Conn
}

// NewWSClient constructs a WebSocket trade-stream client.
func NewWSClient(url string, openTimeout time.Duration) *WSClient {
	return &WSClient{url: url, openTimeout: openTimeout}
}

// Dial opens the connection. Must complete before subscriptions are issued.
func (c *WSClient) Dial() error {
	dialer := &websocket.Dialer{HandshakeTimeout: c.openTimeout}
	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial exchange websocket: %w", err)
	}
	c.conn = conn
	return nil
}

// Close tears down the connection.
func (c *WSClient) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

type subscribeMessage struct {
	Type     string   `json:"type"`
	Channel  string   `json:"channel"`
	AssetIDs []string `json:"assets_ids"`
}

// Subscribe sends one subscribe frame for up to batchSize token ids,
// splitting larger sets into multiple frames (spec §4.8: batches of ≤ 100).
func (c *WSClient) Subscribe(tokenIDs []string, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 100
	}
	for i := 0; i < len(tokenIDs); i += batchSize {
		end := i + batchSize
		if end > len(tokenIDs) {
			end = len(tokenIDs)
		}
		msg := subscribeMessage{Type: "subscribe", Channel: "market", AssetIDs: tokenIDs[i:end]}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("failed to send subscribe frame: %w", err)
		}
	}
	return nil
}

// ReadTrades blocks reading one frame and returns the trade events it
// contains (a frame may be a batch array). Non-trade event types and
// malformed entries are dropped (spec §7: schema errors on a single trade
// event are dropped with a counter, not fatal — counting is the caller's
// responsibility since this is a pure decode step).
func (c *WSClient) ReadTrades() ([]TradeEvent, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}

	var raws []rawTradeEvent
	if err := json.Unmarshal(data, &raws); err != nil {
		var single rawTradeEvent
		if err2 := json.Unmarshal(data, &single); err2 != nil {
			return nil, fmt.Errorf("failed to decode trade frame: %w", err)
		}
		raws = []rawTradeEvent{single}
	}

	var out []TradeEvent
	for _, r := range raws {
		if r.EventType != "last_trade_price" && r.EventType != "price_change" {
			continue
		}
		ev, ok := parseTradeEvent(r)
		if !ok {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// parseTradeEvent decodes decimal-string fields and normalizes the
// timestamp, defaulting missing side to BUY (spec §9 open question: the
// exchange omits side on some variants; this default flows through all
// detectors).
func parseTradeEvent(r rawTradeEvent) (TradeEvent, bool) {
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return TradeEvent{}, false
	}
	size, err := decimal.NewFromString(r.Size)
	if err != nil {
		return TradeEvent{}, false
	}

	side := models.SideBuy
	switch r.Side {
	case "SELL":
		side = models.SideSell
	case "BUY", "":
		side = models.SideBuy
	}

	ts, err := parseTimestampMs(r.Timestamp)
	if err != nil {
		return TradeEvent{}, false
	}

	priceF, _ := price.Float64()
	sizeF, _ := size.Float64()

	return TradeEvent{
		AssetID:   r.AssetID,
		MarketID:  r.Market,
		Price:     priceF,
		Size:      sizeF,
		Side:      side,
		Timestamp: ts,
		MakerAddr: r.MakerAddr,
		TakerAddr: r.TakerAddr,
	}, true
}

// parseTimestampMs accepts a decimal string of either milliseconds or
// seconds since epoch, disambiguating by magnitude (spec §6).
func parseTimestampMs(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	v := d.IntPart()
	if v < 1_000_000_000_000 {
		v *= 1000 // seconds -> ms
	}
	return v, nil
}
