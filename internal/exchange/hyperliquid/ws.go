package hyperliquid

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avelin/cexarb/internal/domain"
)

const (
	writeWait = 10 * time.Second
	pongWait  = 60 * time.Second

	// pingPeriod must be shorter than the venue's 60s idle cutoff.
	pingPeriod = 50 * time.Second

	reconnectDelay    = 2 * time.Second
	maxReconnectDelay = 60 * time.Second
)

// subscription is the subscribe request payload.
type subscription map[string]any

// streamLoop dials the ws endpoint, sends the subscribe message, and feeds
// every frame to handle until ctx is cancelled, reconnecting with backoff.
func streamLoop(ctx context.Context, logger *slog.Logger, wsURL string, sub subscription, handle func([]byte)) {
	delay := reconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}

		err := readStream(ctx, wsURL, sub, handle)
		if ctx.Err() != nil {
			return
		}

		logger.Warn("stream disconnected, reconnecting",
			slog.Any("subscription", sub),
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

func readStream(ctx context.Context, wsURL string, sub subscription, handle func([]byte)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(map[string]any{"method": "subscribe", "subscription": sub}); err != nil {
		return err
	}

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
				// The venue expects an application-level ping frame.
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteJSON(map[string]string{"method": "ping"}); err != nil {
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

// parseL2Book converts an l2Book stream frame into a book snapshot.
func parseL2Book(raw []byte, venue, symbol string) (domain.OrderbookSnapshot, bool) {
	var envelope struct {
		Channel string     `json:"channel"`
		Data    l2BookData `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Channel != "l2Book" {
		return domain.OrderbookSnapshot{}, false
	}
	return bookFromLevels(envelope.Data, venue, symbol)
}

// bookFromLevels builds a snapshot from the venue's two-sided level array.
func bookFromLevels(data l2BookData, venue, symbol string) (domain.OrderbookSnapshot, bool) {
	if len(data.Levels) < 2 {
		return domain.OrderbookSnapshot{}, false
	}

	snap := domain.OrderbookSnapshot{
		Venue:     venue,
		Symbol:    symbol,
		Bids:      parseWireLevels(data.Levels[0]),
		Asks:      parseWireLevels(data.Levels[1]),
		UpdatedAt: time.UnixMilli(data.Time),
	}
	return snap, snap.Ready()
}

func parseWireLevels(raw []wireLevel) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err1 := strconv.ParseFloat(lvl.Px, 64)
		size, err2 := strconv.ParseFloat(lvl.Sz, 64)
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

// parseOrderUpdates converts an orderUpdates frame into fill events. The
// venue reports remaining size; cumulative fill is origSz - sz.
func parseOrderUpdates(raw []byte, venue, symbol, coin string) []domain.FillEvent {
	var envelope struct {
		Channel string        `json:"channel"`
		Data    []orderUpdate `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Channel != "orderUpdates" {
		return nil
	}

	events := make([]domain.FillEvent, 0, len(envelope.Data))
	for _, upd := range envelope.Data {
		if upd.Order.Coin != coin {
			continue
		}
		orig, err1 := strconv.ParseFloat(upd.Order.OrigSz, 64)
		remaining, err2 := strconv.ParseFloat(upd.Order.Sz, 64)
		if err1 != nil || err2 != nil {
			continue
		}
		price, _ := strconv.ParseFloat(upd.Order.LimitPx, 64)

		events = append(events, domain.FillEvent{
			Venue:   venue,
			Symbol:  symbol,
			OrderID: strconv.FormatInt(upd.Order.Oid, 10),
			FillSz:  orig - remaining,
			Price:   price,
			Status:  mapUpdateStatus(upd.Status),
			At:      time.UnixMilli(upd.StatusTimestamp),
		})
	}
	return events
}

func mapUpdateStatus(status string) domain.FillStatus {
	switch status {
	case "open":
		return domain.FillStatusNew
	case "filled":
		return domain.FillStatusFilled
	case "canceled", "marginCanceled":
		return domain.FillStatusCanceled
	case "rejected":
		return domain.FillStatusRejected
	default:
		return domain.FillStatusNew
	}
}
