// Package hyperliquid adapts the Hyperliquid perp DEX to the
// domain.ExchangeClient contract. Order-placing endpoints require L1-action
// signatures; see Signer.
package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Action payloads. Field order matters: the signature covers the msgpack
// encoding, and the venue re-encodes with the same ordering to verify.
type orderAction struct {
	Type     string      `msgpack:"type" json:"type"`
	Orders   []wireOrder `msgpack:"orders" json:"orders"`
	Grouping string      `msgpack:"grouping" json:"grouping"`
}

type wireOrder struct {
	Asset      int       `msgpack:"a" json:"a"`
	IsBuy      bool      `msgpack:"b" json:"b"`
	Px         string    `msgpack:"p" json:"p"`
	Sz         string    `msgpack:"s" json:"s"`
	ReduceOnly bool      `msgpack:"r" json:"r"`
	Type       orderType `msgpack:"t" json:"t"`
}

type orderType struct {
	Limit limitType `msgpack:"limit" json:"limit"`
}

type limitType struct {
	Tif string `msgpack:"tif" json:"tif"` // "Gtc", "Ioc", "Alo"
}

type cancelAction struct {
	Type    string       `msgpack:"type" json:"type"`
	Cancels []wireCancel `msgpack:"cancels" json:"cancels"`
}

type wireCancel struct {
	Asset int   `msgpack:"a" json:"a"`
	Oid   int64 `msgpack:"o" json:"o"`
}

type leverageAction struct {
	Type     string `msgpack:"type" json:"type"`
	Asset    int    `msgpack:"asset" json:"asset"`
	IsCross  bool   `msgpack:"isCross" json:"isCross"`
	Leverage int    `msgpack:"leverage" json:"leverage"`
}

// restClient talks to the /info and /exchange endpoints.
type restClient struct {
	baseURL    string
	httpClient *http.Client
}

func newRESTClient(baseURL string) *restClient {
	return &restClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *restClient) post(ctx context.Context, path string, reqBody any) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return body, nil
}

// info issues a typed /info query and decodes the response into out.
func (c *restClient) info(ctx context.Context, reqBody any, out any) error {
	body, err := c.post(ctx, "/info", reqBody)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// actionResult is the decoded /exchange envelope with per-order statuses.
type actionResult struct {
	// Statuses holds one entry per submitted order or cancel.
	Statuses []orderActionStatus
}

// exchangeAction signs and submits an action, then flattens the status list.
func (c *restClient) exchangeAction(ctx context.Context, signer Signer, action any) (actionResult, error) {
	nonce := time.Now().UnixMilli()
	sig, err := signer.SignAction(action, nonce)
	if err != nil {
		return actionResult{}, err
	}

	reqBody := map[string]any{
		"action":    action,
		"nonce":     nonce,
		"signature": sig,
	}

	body, err := c.post(ctx, "/exchange", reqBody)
	if err != nil {
		return actionResult{}, err
	}

	var envelope struct {
		Status   string          `json:"status"`
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return actionResult{}, fmt.Errorf("decode response: %w", err)
	}
	if envelope.Status != "ok" {
		// Error envelopes carry the message in the response field as a string.
		var msg string
		_ = json.Unmarshal(envelope.Response, &msg)
		if msg == "" {
			msg = string(envelope.Response)
		}
		return actionResult{}, fmt.Errorf("action rejected: %s", msg)
	}

	var resp struct {
		Data struct {
			Statuses []json.RawMessage `json:"statuses"`
		} `json:"data"`
	}
	if err := json.Unmarshal(envelope.Response, &resp); err != nil {
		return actionResult{}, fmt.Errorf("decode statuses: %w", err)
	}

	result := actionResult{Statuses: make([]orderActionStatus, 0, len(resp.Data.Statuses))}
	for _, raw := range resp.Data.Statuses {
		var asString string
		if err := json.Unmarshal(raw, &asString); err == nil {
			result.Statuses = append(result.Statuses, orderActionStatus{Success: asString == "success"})
			continue
		}
		var st orderActionStatus
		if err := json.Unmarshal(raw, &st); err != nil {
			return actionResult{}, fmt.Errorf("decode status %s: %w", raw, err)
		}
		result.Statuses = append(result.Statuses, st)
	}
	return result, nil
}
