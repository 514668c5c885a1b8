package binance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avelin/cexarb/internal/crypto"
	"github.com/avelin/cexarb/internal/domain"
)

// Config holds the adapter's connection parameters.
type Config struct {
	Name    string // venue name as used across the system, default "binance"
	BaseURL string // REST root, e.g. "https://fapi.binance.com"
	WsURL   string // stream root, e.g. "wss://fstream.binance.com"
	ApiKey  string
	Secret  string
}

// Adapter implements domain.ExchangeClient against the USD-M futures API.
type Adapter struct {
	name   string
	wsURL  string
	rest   *restClient
	logger *slog.Logger

	mu      sync.Mutex
	symbols map[string]symbolMeta
}

type symbolMeta struct {
	tickSize string
	info     domain.SymbolInfo
}

// New creates a Binance futures adapter.
func New(cfg Config, logger *slog.Logger) *Adapter {
	name := cfg.Name
	if name == "" {
		name = "binance"
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://fapi.binance.com"
	}
	wsURL := cfg.WsURL
	if wsURL == "" {
		wsURL = "wss://fstream.binance.com"
	}
	return &Adapter{
		name:    name,
		wsURL:   wsURL,
		rest:    newRESTClient(baseURL, &crypto.HMACAuth{Key: cfg.ApiKey, Secret: cfg.Secret}),
		logger:  logger.With(slog.String("component", "binance"), slog.String("venue", name)),
		symbols: make(map[string]symbolMeta),
	}
}

func (a *Adapter) Name() string { return a.name }

// Connect verifies REST connectivity and credentials with a ping and a
// listen-key round trip. Streams are dialed lazily per subscription.
func (a *Adapter) Connect(ctx context.Context) error {
	if _, err := a.rest.doPublic(ctx, "/fapi/v1/ping", nil); err != nil {
		return fmt.Errorf("binance: ping: %w", err)
	}
	if _, err := a.rest.doKeyed(ctx, http.MethodPost, "/fapi/v1/listenKey"); err != nil {
		return fmt.Errorf("binance: auth check: %w", err)
	}
	return nil
}

func (a *Adapter) Close() error { return nil }

// SubscribeOrderbook streams depth-10 snapshots for the symbol.
func (a *Adapter) SubscribeOrderbook(ctx context.Context, symbol string) (<-chan domain.OrderbookSnapshot, error) {
	streamURL := a.wsURL + "/ws/" + streamSymbol(symbol) + "@depth10@100ms"
	out := make(chan domain.OrderbookSnapshot, 64)

	go func() {
		defer close(out)
		streamLoop(ctx, a.logger, streamURL, func(raw []byte) {
			snap, ok := parseDepth(raw, a.name, symbol)
			if !ok {
				return
			}
			select {
			case out <- snap:
			case <-ctx.Done():
			default:
				// Book updates supersede each other; drop when the consumer lags.
			}
		})
	}()

	return out, nil
}

// SubscribeFills streams ORDER_TRADE_UPDATE events for the symbol off the
// user data stream. The listen key is refreshed on the venue's keepalive
// schedule for as long as ctx lives.
func (a *Adapter) SubscribeFills(ctx context.Context, symbol string) (<-chan domain.FillEvent, error) {
	body, err := a.rest.doKeyed(ctx, http.MethodPost, "/fapi/v1/listenKey")
	if err != nil {
		return nil, fmt.Errorf("binance: listen key: %w", err)
	}
	var lk listenKeyResponse
	if err := unmarshal(body, &lk); err != nil {
		return nil, fmt.Errorf("binance: listen key: %w", err)
	}

	go a.keepAliveListenKey(ctx)

	venueSym := restSymbol(symbol)
	out := make(chan domain.FillEvent, 64)
	go func() {
		defer close(out)
		streamLoop(ctx, a.logger, a.wsURL+"/ws/"+lk.ListenKey, func(raw []byte) {
			ev, ok := parseOrderUpdate(raw, a.name)
			if !ok || ev.Symbol != venueSym {
				return
			}
			ev.Symbol = symbol
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		})
	}()

	return out, nil
}

func (a *Adapter) keepAliveListenKey(ctx context.Context) {
	ticker := time.NewTicker(listenKeyKeepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.rest.doKeyed(ctx, http.MethodPut, "/fapi/v1/listenKey"); err != nil {
				a.logger.Warn("listen key keepalive failed", slog.Any("error", err))
			}
		}
	}
}

func (a *Adapter) PlaceLimitOrder(ctx context.Context, symbol string, side domain.Side, price, qty float64) (domain.OrderAck, error) {
	return a.placeOrder(ctx, symbol, side, price, qty, false)
}

func (a *Adapter) CloseLimitOrder(ctx context.Context, symbol string, side domain.Side, price, qty float64) (domain.OrderAck, error) {
	return a.placeOrder(ctx, symbol, side, price, qty, true)
}

func (a *Adapter) PlaceMarketOrder(ctx context.Context, symbol string, side domain.Side, qty float64) (domain.OrderAck, error) {
	return a.placeOrder(ctx, symbol, side, 0, qty, false)
}

func (a *Adapter) CloseMarketOrder(ctx context.Context, symbol string, side domain.Side, qty float64) (domain.OrderAck, error) {
	return a.placeOrder(ctx, symbol, side, 0, qty, true)
}

func (a *Adapter) placeOrder(ctx context.Context, symbol string, side domain.Side, price, qty float64, reduceOnly bool) (domain.OrderAck, error) {
	if qty <= 0 {
		return domain.OrderAck{}, fmt.Errorf("binance: %w: qty=%v", domain.ErrInvalidOrder, qty)
	}

	params := url.Values{}
	params.Set("symbol", restSymbol(symbol))
	params.Set("side", orderSide(side))
	params.Set("quantity", strconv.FormatFloat(qty, 'f', -1, 64))
	if price > 0 {
		params.Set("type", "LIMIT")
		params.Set("timeInForce", "GTC")
		params.Set("price", strconv.FormatFloat(price, 'f', -1, 64))
	} else {
		params.Set("type", "MARKET")
	}
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}

	body, err := a.rest.doSigned(ctx, http.MethodPost, "/fapi/v1/order", params)
	if err != nil {
		return domain.OrderAck{}, fmt.Errorf("binance: place order: %w", err)
	}

	var resp orderResponse
	if err := unmarshal(body, &resp); err != nil {
		return domain.OrderAck{}, fmt.Errorf("binance: place order: %w", err)
	}

	origQty, _ := strconv.ParseFloat(resp.OrigQty, 64)
	if origQty == 0 {
		origQty = qty
	}
	return domain.OrderAck{OrderID: strconv.FormatInt(resp.OrderID, 10), Qty: origQty}, nil
}

// CancelOrder classifies the venue's cancel rejection codes into the tagged
// outcome vocabulary. Only transport failures surface as errors.
func (a *Adapter) CancelOrder(ctx context.Context, symbol, orderID string) (domain.CancelOutcome, error) {
	params := url.Values{}
	params.Set("symbol", restSymbol(symbol))
	params.Set("orderId", orderID)

	_, err := a.rest.doSigned(ctx, http.MethodDelete, "/fapi/v1/order", params)
	if err == nil {
		return domain.CancelOutcome{Kind: domain.CancelOK}, nil
	}

	var ve *venueError
	if !errors.As(err, &ve) {
		return domain.CancelOutcome{}, fmt.Errorf("binance: cancel order %s: %w", orderID, err)
	}

	switch ve.Code {
	case -2011:
		// "Unknown order sent": the order left the book before the cancel
		// landed, which on a live order id means it filled.
		return domain.CancelOutcome{Kind: domain.CancelAlreadyFilled, Message: ve.Message}, nil
	case -2013:
		return domain.CancelOutcome{Kind: domain.CancelNotFound, Message: ve.Message}, nil
	case -1100, -1102, -1104, -1121:
		return domain.CancelOutcome{Kind: domain.CancelInvalidOrder, Message: ve.Message}, nil
	default:
		return domain.CancelOutcome{Kind: domain.CancelUnknown, Message: ve.Error()}, nil
	}
}

func (a *Adapter) GetOrderStatus(ctx context.Context, symbol, orderID string) (domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", restSymbol(symbol))
	params.Set("orderId", orderID)

	body, err := a.rest.doSigned(ctx, http.MethodGet, "/fapi/v1/order", params)
	if err != nil {
		var ve *venueError
		if errors.As(err, &ve) && ve.Code == -2013 {
			return domain.OrderStatus{}, fmt.Errorf("binance: order %s: %w", orderID, domain.ErrNotFound)
		}
		return domain.OrderStatus{}, fmt.Errorf("binance: order status %s: %w", orderID, err)
	}

	var resp orderResponse
	if err := unmarshal(body, &resp); err != nil {
		return domain.OrderStatus{}, fmt.Errorf("binance: order status %s: %w", orderID, err)
	}

	price, _ := strconv.ParseFloat(resp.AvgPrice, 64)
	if price == 0 {
		price, _ = strconv.ParseFloat(resp.Price, 64)
	}
	return domain.OrderStatus{
		OrderID: orderID,
		FillSz:  resp.ExecutedQty,
		Price:   price,
		State:   resp.Status,
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
	params := url.Values{}
	params.Set("symbol", restSymbol(symbol))

	body, err := a.rest.doSigned(ctx, http.MethodGet, "/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, fmt.Errorf("binance: position info %s: %w", symbol, err)
	}

	var risks []positionRisk
	if err := unmarshal(body, &risks); err != nil {
		return nil, fmt.Errorf("binance: position info %s: %w", symbol, err)
	}

	for _, r := range risks {
		amt, _ := strconv.ParseFloat(r.PositionAmt, 64)
		if amt == 0 {
			continue
		}
		entry, _ := strconv.ParseFloat(r.EntryPrice, 64)
		upnl, _ := strconv.ParseFloat(r.UnRealizedProfit, 64)

		side := domain.SideLong
		size := amt
		if amt < 0 {
			side = domain.SideShort
			size = -amt
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

func (a *Adapter) GetTickSize(ctx context.Context, symbol string) (string, error) {
	meta, err := a.symbolMeta(ctx, symbol)
	if err != nil {
		return "", err
	}
	return meta.tickSize, nil
}

func (a *Adapter) GetSymbolInfo(ctx context.Context, symbol string) (domain.SymbolInfo, error) {
	meta, err := a.symbolMeta(ctx, symbol)
	if err != nil {
		return domain.SymbolInfo{}, err
	}
	return meta.info, nil
}

func (a *Adapter) symbolMeta(ctx context.Context, symbol string) (symbolMeta, error) {
	a.mu.Lock()
	if meta, ok := a.symbols[symbol]; ok {
		a.mu.Unlock()
		return meta, nil
	}
	a.mu.Unlock()

	params := url.Values{}
	params.Set("symbol", restSymbol(symbol))
	body, err := a.rest.doPublic(ctx, "/fapi/v1/exchangeInfo", params)
	if err != nil {
		return symbolMeta{}, fmt.Errorf("binance: exchange info %s: %w", symbol, err)
	}

	var info exchangeInfo
	if err := unmarshal(body, &info); err != nil {
		return symbolMeta{}, fmt.Errorf("binance: exchange info %s: %w", symbol, err)
	}

	want := restSymbol(symbol)
	for _, s := range info.Symbols {
		if s.Symbol != want {
			continue
		}
		meta := symbolMeta{
			info: domain.SymbolInfo{
				QuantityPrecision: s.QuantityPrecision,
				PricePrecision:    s.PricePrecision,
			},
		}
		for _, f := range s.Filters {
			if f.FilterType == "PRICE_FILTER" {
				meta.tickSize = f.TickSize
			}
		}
		if meta.tickSize == "" {
			return symbolMeta{}, fmt.Errorf("binance: no tick size for %s", symbol)
		}

		a.mu.Lock()
		a.symbols[symbol] = meta
		a.mu.Unlock()
		return meta, nil
	}
	return symbolMeta{}, fmt.Errorf("binance: symbol %s: %w", symbol, domain.ErrNotFound)
}

// SetLeverage sets leverage and margin mode for the symbol. The venue rejects
// a margin-mode change to the mode already in effect; that reject is ignored.
func (a *Adapter) SetLeverage(ctx context.Context, symbol string, leverage int, marginMode string) error {
	params := url.Values{}
	params.Set("symbol", restSymbol(symbol))
	params.Set("leverage", strconv.Itoa(leverage))
	if _, err := a.rest.doSigned(ctx, http.MethodPost, "/fapi/v1/leverage", params); err != nil {
		return fmt.Errorf("binance: set leverage %s: %w", symbol, err)
	}

	mode := "CROSSED"
	if strings.EqualFold(marginMode, "isolated") {
		mode = "ISOLATED"
	}
	params = url.Values{}
	params.Set("symbol", restSymbol(symbol))
	params.Set("marginType", mode)
	if _, err := a.rest.doSigned(ctx, http.MethodPost, "/fapi/v1/marginType", params); err != nil {
		var ve *venueError
		if errors.As(err, &ve) && ve.Code == -4046 {
			// "No need to change margin type."
			return nil
		}
		return fmt.Errorf("binance: set margin type %s: %w", symbol, err)
	}
	return nil
}

func orderSide(side domain.Side) string {
	if side == domain.SideShort {
		return "SELL"
	}
	return "BUY"
}

// Compile-time interface check.
var _ domain.ExchangeClient = (*Adapter)(nil)
