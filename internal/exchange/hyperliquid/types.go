package hyperliquid

// wireLevel is one book level in the venue's {px, sz, n} form.
type wireLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

// l2BookData is the l2Book payload: levels[0] bids, levels[1] asks.
type l2BookData struct {
	Coin   string        `json:"coin"`
	Levels [][]wireLevel `json:"levels"`
	Time   int64         `json:"time"`
}

// metaResponse is the perp universe metadata.
type metaResponse struct {
	Universe []struct {
		Name       string `json:"name"`
		SzDecimals int    `json:"szDecimals"`
		MaxLevPerp int    `json:"maxLeverage"`
	} `json:"universe"`
}

// clearinghouseState is the user's margin and position summary.
type clearinghouseState struct {
	AssetPositions []struct {
		Position struct {
			Coin          string `json:"coin"`
			Szi           string `json:"szi"`
			EntryPx       string `json:"entryPx"`
			UnrealizedPnl string `json:"unrealizedPnl"`
		} `json:"position"`
	} `json:"assetPositions"`
}

// orderStatusResponse is the orderStatus info payload.
type orderStatusResponse struct {
	Status string `json:"status"` // "order" when found, "unknownOid" otherwise
	Order  struct {
		Order struct {
			Coin    string `json:"coin"`
			Oid     int64  `json:"oid"`
			Sz      string `json:"sz"`     // remaining size
			OrigSz  string `json:"origSz"` // original size
			LimitPx string `json:"limitPx"`
		} `json:"order"`
		Status string `json:"status"` // "open", "filled", "canceled", "rejected", ...
	} `json:"order"`
}

// exchangeResponse is the /exchange action result envelope.
type exchangeResponse struct {
	Status   string `json:"status"` // "ok" or "err"
	Response struct {
		Type string `json:"type"`
		Data struct {
			Statuses []orderActionStatus `json:"statuses"`
		} `json:"data"`
	} `json:"response"`
	// Error carries the message when Status is "err" and the envelope is a
	// bare string response.
	Error string `json:"-"`
}

// orderActionStatus is one per-order status inside an action response. Only
// one of the fields is set.
type orderActionStatus struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting"`
	Filled *struct {
		Oid     int64  `json:"oid"`
		TotalSz string `json:"totalSz"`
		AvgPx   string `json:"avgPx"`
	} `json:"filled"`
	Error string `json:"error"`
	// "success" statuses arrive as plain strings; decoded separately.
	Success bool `json:"-"`
}

// wsEnvelope is the subscription stream frame.
type wsEnvelope struct {
	Channel string `json:"channel"`
	Data    any    `json:"data"`
}

// orderUpdate is one entry of an orderUpdates stream frame.
type orderUpdate struct {
	Order struct {
		Coin    string `json:"coin"`
		Oid     int64  `json:"oid"`
		Sz      string `json:"sz"`
		OrigSz  string `json:"origSz"`
		LimitPx string `json:"limitPx"`
	} `json:"order"`
	Status          string `json:"status"`
	StatusTimestamp int64  `json:"statusTimestamp"`
}
