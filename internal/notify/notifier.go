// Package notify alerts operators over Telegram/Discord about the events that
// need a human: emergency balances, stop-loss closes, halted trading.
// Delivery is multi-channel and filtered by event type.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avelin/cexarb/internal/domain"
)

// Event types operators can subscribe to via config.
const (
	EventTradeOpened = "trade_opened"
	EventClosed      = "position_closed"
	EventEmergency   = "emergency_balance"
	EventHalted      = "trading_halted"
)

// Sender is one delivery channel.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	Name() string
}

// Notifier fans alerts out to all registered senders, filtered by the
// configured event types. An empty event list allows everything.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		allowed[strings.TrimSpace(e)] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify delivers to all senders when the event type passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.Debug("event filtered out", slog.String("event", event))
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// TradeOpened reports a successfully accumulated tranche.
func (n *Notifier) TradeOpened(ctx context.Context, res domain.ExecutionResult, symbol string) {
	msg := fmt.Sprintf("%s filled %v / %v (%s) in %s",
		symbol, res.LegAFilled, res.LegBFilled, res.ActionTaken,
		res.CompletedAt.Sub(res.StartedAt).Round(time.Millisecond))
	n.fireAndForget(ctx, EventTradeOpened, "Tranche opened", msg)
}

// PositionClosed reports a completed unwind.
func (n *Notifier) PositionClosed(ctx context.Context, symbol string) {
	n.fireAndForget(ctx, EventClosed, "Position closed", symbol+" closed and verified flat")
}

// EmergencyBalance is the alert that should wake someone up: the engine had
// to market-correct a position mismatch.
func (n *Notifier) EmergencyBalance(ctx context.Context, res domain.ExecutionResult, symbol string) {
	msg := fmt.Sprintf("%s pair %s: deltas a=%v b=%v, %s",
		symbol, res.PairID, res.DeltaA, res.DeltaB, res.Err)
	n.fireAndForget(ctx, EventEmergency, "EMERGENCY BALANCE", msg)
}

// Halted reports that the strategy stopped accumulating.
func (n *Notifier) Halted(ctx context.Context, symbol string, reason error) {
	n.fireAndForget(ctx, EventHalted, "Trading halted", fmt.Sprintf("%s: %v", symbol, reason))
}

// fireAndForget delivers without surfacing errors to the trading path; a
// broken alert channel must never stall an unwind.
func (n *Notifier) fireAndForget(ctx context.Context, event, title, message string) {
	// Detached from the caller so a shutdown in progress still gets the alert
	// out.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := n.Notify(ctx, event, title, message); err != nil {
		n.logger.Warn("notification failed",
			slog.String("event", event),
			slog.Any("error", err))
	}
}

// dispatch sends to every channel; one failing sender does not block the
// others.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.Error("sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.Debug("notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title))
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
