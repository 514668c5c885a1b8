package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/avelin/cexarb/internal/domain"
	"github.com/redis/go-redis/v9"
)

// emptySlot marks an unused depth slot. Writers always fill every slot so a
// reader can distinguish "thin book" from "partial write".
const emptySlot = "0:0"

// BookCache implements domain.BookStore using one hash per venue+symbol+side.
//
// Key schema:
//
//	book:{venue}:{symbol}:bids  - hash with fields "0".."9", each "price:qty"
//	book:{venue}:{symbol}:asks  - hash with fields "0".."9", each "price:qty"
//	book:{venue}:{symbol}:meta  - hash with "ts" field (snapshot timestamp)
//
// Every side hash always carries exactly BookDepth slots; slots beyond the
// venue's actual depth hold the "0:0" sentinel and are filtered on read.
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookBidsKey(venue, symbol string) string { return "book:" + venue + ":" + symbol + ":bids" }
func bookAsksKey(venue, symbol string) string { return "book:" + venue + ":" + symbol + ":asks" }
func bookMetaKey(venue, symbol string) string { return "book:" + venue + ":" + symbol + ":meta" }

// SetSnapshot atomically replaces the book for a venue+symbol. All ten slots
// of both side hashes are rewritten on every call.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.OrderbookSnapshot) error {
	bidsKey := bookBidsKey(snap.Venue, snap.Symbol)
	asksKey := bookAsksKey(snap.Venue, snap.Symbol)
	metaKey := bookMetaKey(snap.Venue, snap.Symbol)

	pipe := bc.rdb.TxPipeline()
	pipe.HSet(ctx, bidsKey, sideFields(snap.Bids))
	pipe.HSet(ctx, asksKey, sideFields(snap.Asks))

	ts := snap.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	pipe.HSet(ctx, metaKey, "ts", strconv.FormatInt(ts.UnixNano(), 10))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s %s: %w", snap.Venue, snap.Symbol, err)
	}
	return nil
}

// sideFields encodes up to BookDepth levels into the fixed slot layout,
// padding the remainder with the empty sentinel.
func sideFields(levels []domain.PriceLevel) map[string]string {
	fields := make(map[string]string, domain.BookDepth)
	for i := 0; i < domain.BookDepth; i++ {
		if i < len(levels) {
			fields[strconv.Itoa(i)] = encodeLevel(levels[i])
		} else {
			fields[strconv.Itoa(i)] = emptySlot
		}
	}
	return fields
}

func encodeLevel(lvl domain.PriceLevel) string {
	return strconv.FormatFloat(lvl.Price, 'f', -1, 64) + ":" +
		strconv.FormatFloat(lvl.Size, 'f', -1, 64)
}

// GetSnapshot reconstructs the book for a venue+symbol. Sentinel slots are
// dropped, so the returned sides only hold real levels, best first.
// It returns domain.ErrNotFound when no book has been written yet.
func (bc *BookCache) GetSnapshot(ctx context.Context, venue, symbol string) (domain.OrderbookSnapshot, error) {
	pipe := bc.rdb.Pipeline()
	bidsCmd := pipe.HGetAll(ctx, bookBidsKey(venue, symbol))
	asksCmd := pipe.HGetAll(ctx, bookAsksKey(venue, symbol))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(venue, symbol))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.OrderbookSnapshot{}, fmt.Errorf("redis: get book %s %s: %w", venue, symbol, err)
	}

	bidVals, _ := bidsCmd.Result()
	askVals, _ := asksCmd.Result()
	if len(bidVals) == 0 && len(askVals) == 0 {
		return domain.OrderbookSnapshot{}, domain.ErrNotFound
	}

	snap := domain.OrderbookSnapshot{
		Venue:  venue,
		Symbol: symbol,
		Bids:   decodeSide(bidVals),
		Asks:   decodeSide(askVals),
	}

	metaVals, _ := metaCmd.Result()
	if tsStr, ok := metaVals["ts"]; ok {
		if tsNano, err := strconv.ParseInt(tsStr, 10, 64); err == nil {
			snap.UpdatedAt = time.Unix(0, tsNano)
		}
	}

	return snap, nil
}

// decodeSide walks the slot fields in order, skipping sentinel and malformed
// slots. Writers fill slots top-of-book first, so slot order is depth order.
func decodeSide(fields map[string]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, domain.BookDepth)
	for i := 0; i < domain.BookDepth; i++ {
		raw, ok := fields[strconv.Itoa(i)]
		if !ok || raw == emptySlot || raw == "" {
			continue
		}
		lvl, err := decodeLevel(raw)
		if err != nil {
			continue
		}
		levels = append(levels, lvl)
	}
	return levels
}

func decodeLevel(raw string) (domain.PriceLevel, error) {
	sep := strings.IndexByte(raw, ':')
	if sep < 0 {
		return domain.PriceLevel{}, fmt.Errorf("redis: malformed level %q", raw)
	}
	price, err := strconv.ParseFloat(raw[:sep], 64)
	if err != nil {
		return domain.PriceLevel{}, err
	}
	size, err := strconv.ParseFloat(raw[sep+1:], 64)
	if err != nil {
		return domain.PriceLevel{}, err
	}
	return domain.PriceLevel{Price: price, Size: size}, nil
}

// Compile-time interface check.
var _ domain.BookStore = (*BookCache)(nil)
