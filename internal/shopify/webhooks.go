package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// AppWebhookTopics are subscribed per shop after install. The GDPR topics
// (customers/data_request, customers/redact, shop/redact) are configured in
// the partner dashboard and cannot be created through the API.
var AppWebhookTopics = []string{
	"app/uninstalled",
	"app/scopes_update",
}

type webhookCreateReq struct {
	Webhook struct {
		Address string `json:"address"`
		Topic   string `json:"topic"`
		Format  string `json:"format"`
	} `json:"webhook"`
}

func (c *Client) CreateWebhook(ctx context.Context, topic, address string) error {
	endpoint := fmt.Sprintf("%s/admin/api/%s/webhooks.json", c.base(), c.APIVersion)

	var payload webhookCreateReq
	payload.Webhook.Address = address
	payload.Webhook.Topic = topic
	payload.Webhook.Format = "json"

	b, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.AccessToken)

	res, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(res.Body)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("create webhook %s failed: http %d: %s", topic, res.StatusCode, truncate(string(raw), 512))
	}
	return nil
}

// SubscribeWebhooks registers every app topic at address. Failures are
// collected per topic so one rejected topic does not block the others.
func (c *Client) SubscribeWebhooks(ctx context.Context, address string) (created []string, failed map[string]string) {
	failed = map[string]string{}
	for _, t := range AppWebhookTopics {
		if err := c.CreateWebhook(ctx, t, address); err != nil {
			failed[t] = err.Error()
			continue
		}
		created = append(created, t)
	}
	return created, failed
}
