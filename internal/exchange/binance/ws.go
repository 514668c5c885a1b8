package binance

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avelin/cexarb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second

	// listenKeyKeepalive refreshes the user data stream key. The venue expires
	// keys after 60 minutes without a keepalive.
	listenKeyKeepalive = 30 * time.Minute
)

// streamLoop dials wsURL and feeds every raw frame to handle until ctx is
// cancelled, reconnecting with exponential backoff on any read error.
func streamLoop(ctx context.Context, logger *slog.Logger, wsURL string, handle func([]byte)) {
	delay := reconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}

		err := readStream(ctx, wsURL, handle)
		if ctx.Err() != nil {
			return
		}

		logger.Warn("stream disconnected, reconnecting",
			slog.String("url", wsURL),
			slog.Duration("delay", delay),
			slog.Any("error", err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// readStream runs one connection lifetime: dial, ping loop, read until error.
func readStream(ctx context.Context, wsURL string, handle func([]byte)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	// The venue also sends pings; answering keeps the connection open.
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				_ = conn.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				)
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(message)
	}
}

// parseDepth converts a depth stream frame into a book snapshot.
func parseDepth(raw []byte, venue, symbol string) (domain.OrderbookSnapshot, bool) {
	var msg depthMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.OrderbookSnapshot{}, false
	}
	if len(msg.Bids) == 0 && len(msg.Asks) == 0 {
		return domain.OrderbookSnapshot{}, false
	}

	snap := domain.OrderbookSnapshot{
		Venue:     venue,
		Symbol:    symbol,
		Bids:      parseLevels(msg.Bids),
		Asks:      parseLevels(msg.Asks),
		UpdatedAt: time.UnixMilli(msg.EventTime),
	}
	return snap, snap.Ready()
}

func parseLevels(raw [][]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(pair[0], 64)
		size, err2 := strconv.ParseFloat(pair[1], 64)
		if err1 != nil || err2 != nil || size <= 0 {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Size: size})
		if len(levels) == domain.BookDepth {
			break
		}
	}
	return levels
}

// parseOrderUpdate converts an ORDER_TRADE_UPDATE frame into a fill event.
func parseOrderUpdate(raw []byte, venue string) (domain.FillEvent, bool) {
	var msg orderUpdateMessage
	if err := json.Unmarshal(raw, &msg); err != nil || msg.EventType != "ORDER_TRADE_UPDATE" {
		return domain.FillEvent{}, false
	}

	filled, err := strconv.ParseFloat(msg.Order.CumFilledQty, 64)
	if err != nil {
		return domain.FillEvent{}, false
	}
	price, _ := strconv.ParseFloat(msg.Order.AvgPrice, 64)
	if price == 0 {
		price, _ = strconv.ParseFloat(msg.Order.LastPrice, 64)
	}

	return domain.FillEvent{
		Venue:   venue,
		Symbol:  msg.Order.Symbol,
		OrderID: strconv.FormatInt(msg.Order.OrderID, 10),
		FillSz:  filled,
		Price:   price,
		Status:  mapOrderStatus(msg.Order.Status),
		At:      time.UnixMilli(msg.EventTime),
	}, true
}

// mapOrderStatus maps the venue's order state strings onto the domain set.
func mapOrderStatus(state string) domain.FillStatus {
	switch state {
	case "NEW":
		return domain.FillStatusNew
	case "PARTIALLY_FILLED":
		return domain.FillStatusPartiallyFilled
	case "FILLED":
		return domain.FillStatusFilled
	case "CANCELED":
		return domain.FillStatusCanceled
	case "REJECTED":
		return domain.FillStatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return domain.FillStatusExpired
	default:
		return domain.FillStatusNew
	}
}
