package security

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SignQuery computes the hex HMAC Shopify attaches to admin and OAuth redirects.
// The hmac and signature params are excluded; the rest are sorted by key.
func SignQuery(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "hmac" || k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
	}

	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strings.Join(parts, "&")))
	return hex.EncodeToString(mac.Sum(nil))
}

func VerifyQuery(params map[string]string, secret string) bool {
	provided := strings.ToLower(strings.TrimSpace(params["hmac"]))
	if provided == "" || secret == "" {
		return false
	}
	expected := SignQuery(params, secret)
	return hmac.Equal([]byte(expected), []byte(provided))
}

// FreshTimestamp reports whether the query's unix "timestamp" is within
// window of now. A missing or malformed timestamp is never fresh.
func FreshTimestamp(params map[string]string, now time.Time, window time.Duration) bool {
	ts, err := strconv.ParseInt(strings.TrimSpace(params["timestamp"]), 10, 64)
	if err != nil {
		return false
	}
	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	return skew <= window
}

// SignWebhook returns base64(HMAC-SHA256(body)), the X-Shopify-Hmac-Sha256 value.
func SignWebhook(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func VerifyWebhook(body []byte, secret, header string) bool {
	header = strings.TrimSpace(header)
	if header == "" || secret == "" {
		return false
	}
	return hmac.Equal([]byte(SignWebhook(body, secret)), []byte(header))
}

func RandomState(nBytes int) (string, error) {
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
