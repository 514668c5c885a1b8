package binance

// orderResponse is the venue's order placement / query payload.
type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	ReduceOnly    bool   `json:"reduceOnly"`
}

// positionRisk is one entry of the /fapi/v2/positionRisk response.
type positionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	PositionSide     string `json:"positionSide"`
}

// exchangeInfo is the subset of /fapi/v1/exchangeInfo the adapter needs.
type exchangeInfo struct {
	Symbols []struct {
		Symbol            string `json:"symbol"`
		PricePrecision    int    `json:"pricePrecision"`
		QuantityPrecision int    `json:"quantityPrecision"`
		Filters           []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// apiError is the venue's error envelope.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// listenKeyResponse is the user-data-stream key payload.
type listenKeyResponse struct {
	ListenKey string `json:"listenKey"`
}

// depthMessage is a partial book depth stream frame (e.g. ethusdt@depth10).
type depthMessage struct {
	EventType string     `json:"e"`
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
}

// orderUpdateMessage is an ORDER_TRADE_UPDATE user stream frame.
type orderUpdateMessage struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Order     struct {
		Symbol       string `json:"s"`
		Side         string `json:"S"`
		OrderID      int64  `json:"i"`
		Status       string `json:"X"`
		CumFilledQty string `json:"z"`
		AvgPrice     string `json:"ap"`
		LastPrice    string `json:"L"`
	} `json:"o"`
}
