package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const DefaultAPIVersion = "2026-01"

// Client talks to one shop's Admin API with an offline access token.
type Client struct {
	Shop        string
	APIVersion  string
	AccessToken string

	// BaseURL overrides https://<shop>; tests point it at an httptest server.
	BaseURL string
	HTTP    *http.Client
}

func NewClient(shop, apiVersion, accessToken string) *Client {
	if strings.TrimSpace(apiVersion) == "" {
		apiVersion = DefaultAPIVersion
	}
	return &Client{
		Shop:        shop,
		APIVersion:  apiVersion,
		AccessToken: accessToken,
		HTTP:        http.DefaultClient,
	}
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return "https://" + c.Shop
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

type GraphQLError struct {
	Message    string `json:"message"`
	Path       []any  `json:"path,omitempty"`
	Extensions struct {
		Code string `json:"code,omitempty"`
	} `json:"extensions,omitempty"`
}

// GraphQLErrors is the top-level "errors" array of a response.
type GraphQLErrors []GraphQLError

func (e GraphQLErrors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, ge := range e {
		if ge.Extensions.Code != "" {
			msgs = append(msgs, ge.Message+" ("+ge.Extensions.Code+")")
		} else {
			msgs = append(msgs, ge.Message)
		}
	}
	return "shopify graphql returned errors: " + strings.Join(msgs, "; ")
}

// StatusError is a non-2xx answer from the Admin API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("shopify error status %d: %s", e.StatusCode, e.Body)
}

type GraphQLResponse[T any] struct {
	Data   T             `json:"data"`
	Errors GraphQLErrors `json:"errors"`
}

func PostGraphQL[T any](ctx context.Context, c *Client, query string, variables any) (*GraphQLResponse[T], int, error) {
	endpoint := fmt.Sprintf("%s/admin/api/%s/graphql.json", c.base(), c.APIVersion)

	body := map[string]any{
		"query":     query,
		"variables": variables,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.AccessToken)

	res, err := c.httpClient().Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, res.StatusCode, &StatusError{StatusCode: res.StatusCode, Body: truncate(string(raw), 512)}
	}

	var out GraphQLResponse[T]
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, res.StatusCode, err
	}

	return &out, res.StatusCode, nil
}

// run posts a query and folds transport, status and top-level GraphQL errors into one error.
func run[T any](ctx context.Context, c *Client, op, query string, variables any) (*T, error) {
	resp, _, err := PostGraphQL[T](ctx, c, query, variables)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%s: %w", op, resp.Errors)
	}
	return &resp.Data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
