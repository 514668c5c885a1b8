package execution

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avelin/cexarb/internal/domain"
)

// cancelOrder drives one cancel request to a settled outcome. Benign outcomes
// (accepted, already filled, not found, invalid) end the protocol immediately:
// the order is gone from the book one way or the other and only a fill
// re-read can tell which. An unknown outcome or transport error gets exactly
// one retry after a short pause; a second failure is reported upward as an
// error instead of looping.
func (e *Engine) cancelOrder(ctx context.Context, client domain.ExchangeClient, symbol, orderID string) (domain.CancelOutcome, error) {
	// Detached from the caller: a shutdown mid-escalation must still take
	// every open leg off the book before the process exits.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	outcome, err := client.CancelOrder(ctx, symbol, orderID)
	if err == nil && outcome.Benign() {
		return outcome, nil
	}

	if err != nil {
		e.logger.Warn("cancel transport error, retrying",
			slog.String("order_id", orderID),
			slog.Any("error", err))
	} else {
		e.logger.Warn("cancel outcome unknown, retrying",
			slog.String("order_id", orderID),
			slog.String("message", outcome.Message))
	}

	select {
	case <-ctx.Done():
		return domain.CancelOutcome{}, ctx.Err()
	case <-time.After(e.cfg.CancelRetryWait):
	}

	outcome, err = client.CancelOrder(ctx, symbol, orderID)
	if err != nil {
		return domain.CancelOutcome{}, fmt.Errorf("execution: cancel %s after retry: %w", orderID, err)
	}
	if !outcome.Benign() {
		return outcome, fmt.Errorf("execution: cancel %s unresolved: %s", orderID, outcome.Message)
	}
	return outcome, nil
}
