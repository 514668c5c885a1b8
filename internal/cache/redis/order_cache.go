package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/avelin/cexarb/internal/domain"
	"github.com/redis/go-redis/v9"
)

// orderRecordTTL bounds how long a fill record outlives its order. Records
// are only read back during the escalation window, which is far shorter.
const orderRecordTTL = 24 * time.Hour

// OrderCache implements domain.OrderRecordStore. Fill records are written by
// the per-venue feed runners and read back by the execution engine after a
// cancel to learn how much filled before the order died.
//
// Key schema:
//
//	{venue}Orders:{orderID} - JSON {"orderId":..,"fillSz":..,"price":..}
type OrderCache struct {
	rdb *redis.Client
}

// NewOrderCache creates an OrderCache backed by the given Client.
func NewOrderCache(c *Client) *OrderCache {
	return &OrderCache{rdb: c.Underlying()}
}

func orderKey(venue, orderID string) string {
	return venue + "Orders:" + orderID
}

// SaveOrder stores (or overwrites) the fill record for an order.
func (oc *OrderCache) SaveOrder(ctx context.Context, venue string, rec domain.OrderRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: marshal order record %s: %w", rec.OrderID, err)
	}
	if err := oc.rdb.Set(ctx, orderKey(venue, rec.OrderID), payload, orderRecordTTL).Err(); err != nil {
		return fmt.Errorf("redis: save order %s %s: %w", venue, rec.OrderID, err)
	}
	return nil
}

// GetOrder reads a fill record back. It returns domain.ErrNotFound when no
// record exists for the order.
func (oc *OrderCache) GetOrder(ctx context.Context, venue, orderID string) (domain.OrderRecord, error) {
	raw, err := oc.rdb.Get(ctx, orderKey(venue, orderID)).Bytes()
	if err == redis.Nil {
		return domain.OrderRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.OrderRecord{}, fmt.Errorf("redis: get order %s %s: %w", venue, orderID, err)
	}

	var rec domain.OrderRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.OrderRecord{}, fmt.Errorf("redis: unmarshal order %s %s: %w", venue, orderID, err)
	}
	return rec, nil
}

// DeleteOrder removes a fill record once the order is fully accounted for.
func (oc *OrderCache) DeleteOrder(ctx context.Context, venue, orderID string) error {
	if err := oc.rdb.Del(ctx, orderKey(venue, orderID)).Err(); err != nil {
		return fmt.Errorf("redis: delete order %s %s: %w", venue, orderID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OrderRecordStore = (*OrderCache)(nil)
