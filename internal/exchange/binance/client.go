// Package binance adapts the Binance USD-M futures API to the
// domain.ExchangeClient contract.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/avelin/cexarb/internal/crypto"
)

const recvWindow = "5000"

// restClient is the signed REST transport for the futures API.
type restClient struct {
	baseURL    string
	auth       *crypto.HMACAuth
	httpClient *http.Client
}

func newRESTClient(baseURL string, auth *crypto.HMACAuth) *restClient {
	return &restClient{
		baseURL: baseURL,
		auth:    auth,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// doSigned issues a request with the signed query string form the futures API
// expects: params + timestamp + recvWindow, HMAC-SHA256 hex appended as
// "signature", API key in the X-MBX-APIKEY header.
func (c *restClient) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", crypto.Timestamp())
	params.Set("recvWindow", recvWindow)

	query := params.Encode()
	query += "&signature=" + c.auth.SignHex(query)

	fullURL := c.baseURL + path + "?" + query
	req, err := http.NewRequestWithContext(ctx, method, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.auth.Key)

	return c.do(req)
}

// doPublic issues an unsigned request for public market data endpoints.
func (c *restClient) doPublic(ctx context.Context, path string, params url.Values) ([]byte, error) {
	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.do(req)
}

// doKeyed issues a request that needs the API key header but no signature
// (listen key management).
func (c *restClient) doKeyed(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.auth.Key)
	return c.do(req)
}

func (c *restClient) do(req *http.Request) ([]byte, error) {
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
		var apiErr apiError
		_ = json.Unmarshal(body, &apiErr)
		return nil, &venueError{Status: resp.StatusCode, Code: apiErr.Code, Message: apiErr.Message}
	}
	return body, nil
}

// venueError carries the venue's numeric error code so callers can classify
// rejects without parsing message text.
type venueError struct {
	Status  int
	Code    int
	Message string
}

func (e *venueError) Error() string {
	return fmt.Sprintf("binance: HTTP %d code %d: %s", e.Status, e.Code, e.Message)
}

func unmarshal(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// restSymbol converts the internal "ETH-USDT" form to the venue's "ETHUSDT".
func restSymbol(symbol string) string {
	return strings.ReplaceAll(strings.ToUpper(symbol), "-", "")
}

// streamSymbol converts the internal symbol to the lowercase stream form.
func streamSymbol(symbol string) string {
	return strings.ToLower(restSymbol(symbol))
}
