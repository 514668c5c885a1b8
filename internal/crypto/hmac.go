// Package crypto holds the request-signing primitives shared by the venue
// adapters.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated REST requests.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret
}

// SignHex computes HMAC-SHA256 of payload using the secret and returns the
// hex-encoded signature, the form Binance-style APIs expect as the
// "signature" query parameter.
func (h *HMACAuth) SignHex(payload string) string {
	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Timestamp returns the current time in Unix milliseconds as a decimal
// string, the timestamp format the signed query carries.
func Timestamp() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
