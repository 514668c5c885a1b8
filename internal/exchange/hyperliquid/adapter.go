package hyperliquid

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/avelin/cexarb/internal/domain"
)

// maxPxDecimals is the venue's decimal budget for perp prices: a price may
// carry at most 6 - szDecimals fractional digits.
const maxPxDecimals = 6

// marketSlippage prices the synthetic market order: the venue has no native
// market type, so an IoC limit is crossed this far through the book.
const marketSlippage = 0.05

// Config holds the adapter's connection parameters.
type Config struct {
	Name    string // venue name, default "hyperliquid"
	BaseURL string // REST root, e.g. "https://api.hyperliquid.xyz"
	WsURL   string // stream endpoint, e.g. "wss://api.hyperliquid.xyz/ws"
	Signer  Signer
}

// Adapter implements domain.ExchangeClient against the Hyperliquid API.
type Adapter struct {
	name   string
	wsURL  string
	rest   *restClient
	signer Signer
	logger *slog.Logger

	mu     sync.Mutex
	assets map[string]assetMeta // keyed by coin
}

type assetMeta struct {
	index      int
	szDecimals int
}

// New creates a Hyperliquid adapter.
func New(cfg Config, logger *slog.Logger) *Adapter {
	name := cfg.Name
	if name == "" {
		name = "hyperliquid"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.hyperliquid.xyz"
	}
	wsURL := cfg.WsURL
	if wsURL == "" {
		wsURL = "wss://api.hyperliquid.xyz/ws"
	}
	return &Adapter{
		name:   name,
		wsURL:  wsURL,
		rest:   newRESTClient(baseURL),
		signer: cfg.Signer,
		logger: logger.With(slog.String("component", "hyperliquid"), slog.String("venue", name)),
		assets: make(map[string]assetMeta),
	}
}

func (a *Adapter) Name() string { return a.name }

// Connect loads the perp universe so later calls can resolve asset indices
// and size precision without a network round trip.
func (a *Adapter) Connect(ctx context.Context) error {
	var meta metaResponse
	if err := a.rest.info(ctx, map[string]string{"type": "meta"}, &meta); err != nil {
		return fmt.Errorf("hyperliquid: load meta: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for i, asset := range meta.Universe {
		a.assets[asset.Name] = assetMeta{index: i, szDecimals: asset.SzDecimals}
	}
	if len(a.assets) == 0 {
		return fmt.Errorf("hyperliquid: empty universe")
	}
	return nil
}

func (a *Adapter) Close() error { return nil }

// coin maps the internal "ETH-USDT" symbol form to the venue's coin name.
func coin(symbol string) string {
	if i := strings.IndexByte(symbol, '-'); i > 0 {
		return symbol[:i]
	}
	return symbol
}

func (a *Adapter) assetFor(symbol string) (assetMeta, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	meta, ok := a.assets[coin(symbol)]
	if !ok {
		return assetMeta{}, fmt.Errorf("hyperliquid: asset %s: %w", symbol, domain.ErrNotFound)
	}
	return meta, nil
}

// SubscribeOrderbook streams l2Book snapshots for the symbol.
func (a *Adapter) SubscribeOrderbook(ctx context.Context, symbol string) (<-chan domain.OrderbookSnapshot, error) {
	sub := subscription{"type": "l2Book", "coin": coin(symbol)}
	out := make(chan domain.OrderbookSnapshot, 64)

	go func() {
		defer close(out)
		streamLoop(ctx, a.logger, a.wsURL, sub, func(raw []byte) {
			snap, ok := parseL2Book(raw, a.name, symbol)
			if !ok {
				return
			}
			select {
			case out <- snap:
			case <-ctx.Done():
			default:
			}
		})
	}()

	return out, nil
}

// SubscribeFills streams order updates for the signer's wallet, filtered to
// the symbol's coin.
func (a *Adapter) SubscribeFills(ctx context.Context, symbol string) (<-chan domain.FillEvent, error) {
	if a.signer == nil {
		return nil, fmt.Errorf("hyperliquid: fills subscription requires a signer")
	}
	sub := subscription{"type": "orderUpdates", "user": a.signer.Address()}
	out := make(chan domain.FillEvent, 64)

	go func() {
		defer close(out)
		streamLoop(ctx, a.logger, a.wsURL, sub, func(raw []byte) {
			for _, ev := range parseOrderUpdates(raw, a.name, symbol, coin(symbol)) {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		})
	}()

	return out, nil
}

func (a *Adapter) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, price, qty float64) (domain.OrderAck, error) {
	return a.placeLimit(ctx, symbol, side, price, qty, false, "Gtc")
}

func (a *Adapter) CloseLimitOrder(ctx context.Context, symbol string, side domain.Side, price, qty float64) (domain.OrderAck, error) {
	return a.placeLimit(ctx, symbol, side, price, qty, true, "Gtc")
}

func (a *Adapter) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, qty float64) (domain.OrderAck, error) {
	return a.placeMarket(ctx, symbol, side, qty, false)
}

func (a *Adapter) CloseMarketOrder(ctx context.Context, symbol string, side domain.Side, qty float64) (domain.OrderAck, error) {
	return a.placeMarket(ctx, symbol, side, qty, true)
}

// placeMarket crosses the book with an IoC limit priced through the far side,
// which is how the venue itself implements market orders.
func (a *Adapter) placeMarket(ctx context.Context, symbol string, side domain.Side, qty float64, reduceOnly bool) (domain.OrderAck, error) {
	var book l2BookData
	if err := a.rest.info(ctx, map[string]string{"type": "l2Book", "coin": coin(symbol)}, &book); err != nil {
		return domain.OrderAck{}, fmt.Errorf("hyperliquid: market order book read: %w", err)
	}
	snap, ok := bookFromLevels(book, a.name, symbol)
	if !ok {
		return domain.OrderAck{}, fmt.Errorf("hyperliquid: market order: %w", domain.ErrBookNotReady)
	}

	var px float64
	if side == domain.SideLong {
		px = snap.BestAsk().Price * (1 + marketSlippage)
	} else {
		px = snap.BestBid().Price * (1 - marketSlippage)
	}
	return a.placeLimit(ctx, symbol, side, px, qty, reduceOnly, "Ioc")
}

func (a *Adapter) placeLimit(ctx context.Context, symbol string, side domain.Side, price, qty float64, reduceOnly bool, tif string) (domain.OrderAck, error) {
	if a.signer == nil {
		return domain.OrderAck{}, fmt.Errorf("hyperliquid: order placement requires a signer")
	}
	if qty <= 0 || price <= 0 {
		return domain.OrderAck{}, fmt.Errorf("hyperliquid: %w: price=%v qty=%v", domain.ErrInvalidOrder, price, qty)
	}
	meta, err := a.assetFor(symbol)
	if err != nil {
		return domain.OrderAck{}, err
	}

	action := orderAction{
		Type: "order",
		Orders: []wireOrder{{
			Asset:      meta.index,
			IsBuy:      side == domain.SideLong,
			Px:         formatPx(price, meta.szDecimals),
			Sz:         formatSz(qty, meta.szDecimals),
			ReduceOnly: reduceOnly,
			Type:       orderType{Limit: limitType{Tif: tif}},
		}},
		Grouping: "na",
	}

	result, err := a.rest.exchangeAction(ctx, a.signer, action)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("hyperliquid: place order: %w", err)
	}
	if len(result.Statuses) == 0 {
		return domain.OrderAck{}, fmt.Errorf("hyperliquid: place order: empty status list")
	}

	st := result.Statuses[0]
	switch {
	case st.Resting != nil:
		return domain.OrderAck{OrderID: strconv.FormatInt(st.Resting.Oid, 10), Qty: qty}, nil
	case st.Filled != nil:
		return domain.OrderAck{OrderID: strconv.FormatInt(st.Filled.Oid, 10), Qty: qty}, nil
	default:
		return domain.OrderAck{}, fmt.Errorf("hyperliquid: place order: %s", st.Error)
	}
}

// CancelOrder classifies the venue's prose cancel errors into the tagged
// outcome vocabulary. The venue reports rejects per order inside an "ok"
// envelope, so transport errors and classification never mix.
func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (domain.CancelOutcome, error) {
	if a.signer == nil {
		return domain.CancelOutcome{}, fmt.Errorf("hyperliquid: cancel requires a signer")
	}
	meta, err := a.assetFor(symbol)
	if err != nil {
		return domain.CancelOutcome{}, err
	}
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return domain.CancelOutcome{Kind: domain.CancelInvalidOrder, Message: "non-numeric order id " + orderID}, nil
	}

	action := cancelAction{
		Type:    "cancel",
		Cancels: []wireCancel{{Asset: meta.index, Oid: oid}},
	}

	result, err := a.rest.exchangeAction(ctx, a.signer, action)
	if err != nil {
		return domain.CancelOutcome{}, fmt.Errorf("hyperliquid: cancel order %s: %w", orderID, err)
	}
	if len(result.Statuses) == 0 {
		return domain.CancelOutcome{Kind: domain.CancelUnknown, Message: "empty status list"}, nil
	}

	st := result.Statuses[0]
	if st.Success {
		return domain.CancelOutcome{Kind: domain.CancelOK}, nil
	}
	return classifyCancelMessage(st.Error), nil
}

// classifyCancelMessage maps the venue's prose rejection text to an outcome
// kind. The full sentence for a dead order is "Order was never placed,
// already canceled, or filled."; it means the order is gone and only a
// position check can tell which way.
func classifyCancelMessage(msg string) domain.CancelOutcome {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "filled") || strings.Contains(lower, "already canceled"):
		return domain.CancelOutcome{Kind: domain.CancelAlreadyFilled, Message: msg}
	case strings.Contains(lower, "never placed") || strings.Contains(lower, "unknown"):
		return domain.CancelOutcome{Kind: domain.CancelNotFound, Message: msg}
	case strings.Contains(lower, "invalid"):
		return domain.CancelOutcome{Kind: domain.CancelInvalidOrder, Message: msg}
	default:
		return domain.CancelOutcome{Kind: domain.CancelUnknown, Message: msg}
	}
}

func (a *Adapter) GetOrderStatus(ctx context.Context, symbol, orderID string) (domain.OrderStatus, error) {
	if a.signer == nil {
		return domain.OrderStatus{}, fmt.Errorf("hyperliquid: order status requires a signer")
	}
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return domain.OrderStatus{}, fmt.Errorf("hyperliquid: order status: %w", domain.ErrInvalidOrder)
	}

	var resp orderStatusResponse
	req := map[string]any{"type": "orderStatus", "user": a.signer.Address(), "oid": oid}
	if err := a.rest.info(ctx, req, &resp); err != nil {
		return domain.OrderStatus{}, fmt.Errorf("hyperliquid: order status %s: %w", orderID, err)
	}
	if resp.Status != "order" {
		return domain.OrderStatus{}, fmt.Errorf("hyperliquid: order %s: %w", orderID, domain.ErrNotFound)
	}

	// The venue reports remaining size; fills are the difference.
	fillSz := ""
	orig, err1 := strconv.ParseFloat(resp.Order.Order.OrigSz, 64)
	remaining, err2 := strconv.ParseFloat(resp.Order.Order.Sz, 64)
	if err1 == nil && err2 == nil {
		fillSz = strconv.FormatFloat(orig-remaining, 'f', -1, 64)
	}
	price, _ := strconv.ParseFloat(resp.Order.Order.LimitPx, 64)

	return domain.OrderStatus{
		OrderID: orderID,
		FillSz:  fillSz,
		Price:   price,
		State:   resp.Order.Status,
	}, nil
}

func (a *Adapter) GetPositionSize(ctx context.Context, symbol string, side domain.Side) (float64, error) {
	pos, err := a.GetPositionInfo(ctx, symbol)
	if err != nil {
		return 0, err
	}
	if pos == nil || pos.Side != side {
		return 0, nil
	}
	return pos.Size, nil
}

func (a *Adapter) GetPositionInfo(ctx context.Context, symbol string) (*domain.Position, error) {
	if a.signer == nil {
		return nil, fmt.Errorf("hyperliquid: position info requires a signer")
	}

	var state clearinghouseState
	req := map[string]any{"type": "clearinghouseState", "user": a.signer.Address()}
	if err := a.rest.info(ctx, req, &state); err != nil {
		return nil, fmt.Errorf("hyperliquid: position info %s: %w", symbol, err)
	}

	want := coin(symbol)
	for _, ap := range state.AssetPositions {
		if ap.Position.Coin != want {
			continue
		}
		szi, err := strconv.ParseFloat(ap.Position.Szi, 64)
		if err != nil || szi == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(ap.Position.EntryPx, 64)
		upnl, _ := strconv.ParseFloat(ap.Position.UnrealizedPnl, 64)

		side := domain.SideLong
		size := szi
		if szi < 0 {
			side = domain.SideShort
			size = -szi
		}
		return &domain.Position{
			Symbol:        symbol,
			Side:          side,
			Size:          size,
			EntryPrice:    entry,
			UnrealizedPnL: upnl,
		}, nil
	}
	return nil, nil
}

// GetTickSize derives the minimum price increment from the venue's decimal
// budget: perp prices carry at most 6 - szDecimals fractional digits.
func (a *Adapter) GetTickSize(ctx context.Context, symbol string) (string, error) {
	meta, err := a.assetFor(symbol)
	if err != nil {
		return "", err
	}
	pxDecimals := maxPxDecimals - meta.szDecimals
	if pxDecimals <= 0 {
		return "1", nil
	}
	return decimal.New(1, int32(-pxDecimals)).String(), nil
}

func (a *Adapter) GetSymbolInfo(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	meta, err := a.assetFor(symbol)
	if err != nil {
		return domain.SymbolInfo{}, err
	}
	return domain.SymbolInfo{
		QuantityPrecision: meta.szDecimals,
		PricePrecision:    maxPxDecimals - meta.szDecimals,
	}, nil
}

func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int, marginMode string) error {
	if a.signer == nil {
		return fmt.Errorf("hyperliquid: set leverage requires a signer")
	}
	meta, err := a.assetFor(symbol)
	if err != nil {
		return err
	}

	action := leverageAction{
		Type:     "updateLeverage",
		Asset:    meta.index,
		IsCross:  !strings.EqualFold(marginMode, "isolated"),
		Leverage: leverage,
	}
	if _, err := a.rest.exchangeAction(ctx, a.signer, action); err != nil {
		return fmt.Errorf("hyperliquid: set leverage %s: %w", symbol, err)
	}
	return nil
}

// formatPx rounds a price to the venue's decimal budget for the asset.
func formatPx(price float64, szDecimals int) string {
	pxDecimals := maxPxDecimals - szDecimals
	if pxDecimals < 0 {
		pxDecimals = 0
	}
	return decimal.NewFromFloat(price).Round(int32(pxDecimals)).String()
}

// formatSz rounds a size down to the asset's size precision; rounding up
// could exceed available margin.
func formatSz(qty float64, szDecimals int) string {
	return decimal.NewFromFloat(qty).RoundDown(int32(szDecimals)).String()
}

// Compile-time interface check.
var _ domain.ExchangeClient = (*Adapter)(nil)
