package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type AccessToken struct {
	AccessToken string `json:"access_token"`
	Scope       string `json:"scope"`
}

// AuthorizeURL builds the OAuth grant screen URL for an offline token.
func (c *Client) AuthorizeURL(apiKey, scopes, redirectURI, state string) string {
	u, _ := url.Parse(c.base() + "/admin/oauth/authorize")
	q := u.Query()
	q.Set("client_id", apiKey)
	q.Set("scope", scopes)
	q.Set("redirect_uri", redirectURI)
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String()
}

// ExchangeCode trades the OAuth callback code for an offline access token.
func (c *Client) ExchangeCode(ctx context.Context, apiKey, apiSecret, code string) (*AccessToken, error) {
	body := map[string]string{
		"client_id":     apiKey,
		"client_secret": apiSecret,
		"code":          code,
	}
	b, _ := json.Marshal(body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/admin/oauth/access_token", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/json")

	res, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("token exchange failed: %w", err)
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: res.StatusCode, Body: truncate(string(raw), 512)}
	}

	var tok AccessToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("invalid token response: %w", err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return nil, errors.New("invalid token response: empty access_token")
	}
	return &tok, nil
}
