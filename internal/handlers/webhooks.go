package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"easyform/internal/compliance"
	"easyform/internal/db"
	"easyform/internal/security"

	"github.com/aws/aws-lambda-go/events"
)

type scopesUpdatePayload struct {
	Previous []string `json:"previous"`
	Current  []string `json:"current"`
}

func (a *App) webhooks(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	body, err := requestBody(req)
	if err != nil {
		return textResp(http.StatusBadRequest, "Bad Request")
	}
	if !security.VerifyWebhook(body, a.Cfg.ShopifyAPISecret, header(req, "x-shopify-hmac-sha256")) {
		return textResp(http.StatusUnauthorized, "Unauthorized")
	}

	topic := strings.TrimSpace(header(req, "x-shopify-topic"))
	shop := strings.ToLower(strings.TrimSpace(header(req, "x-shopify-shop-domain")))
	webhookID := strings.TrimSpace(header(req, "x-shopify-webhook-id"))

	dup, err := a.Ledger.Claim(ctx, webhookID, shop, topic)
	if err != nil {
		// Processing is idempotent, so a ledger outage only costs a repeat.
		log.Printf("webhooks: ledger claim failed id=%s: %v", webhookID, err)
	}
	if dup {
		log.Printf("webhooks: duplicate id=%s topic=%s shop=%s", webhookID, topic, shop)
		return jsonResp(http.StatusOK, map[string]any{"ok": true, "duplicate": true})
	}

	log.Printf("webhooks: received topic=%s shop=%s id=%s", topic, shop, webhookID)

	// A failed delivery gives up its claim so Shopify's retry is processed.
	fail := func(status int, body string) (events.APIGatewayV2HTTPResponse, error) {
		if err := a.Ledger.Release(ctx, webhookID); err != nil {
			log.Printf("webhooks: ledger release failed id=%s: %v", webhookID, err)
		}
		return textResp(status, body)
	}

	switch {
	case topic == "app/uninstalled":
		if err := a.Sessions.DeleteSession(ctx, shop); err != nil {
			log.Printf("webhooks: shop=%s delete session: %v", shop, err)
			return fail(http.StatusInternalServerError, "failed")
		}

	case topic == "app/scopes_update":
		var p scopesUpdatePayload
		if err := json.Unmarshal(body, &p); err != nil {
			return fail(http.StatusBadRequest, "Bad Request")
		}
		scope := strings.Join(p.Current, ",")
		err := a.Sessions.UpdateScope(ctx, shop, scope)
		if errors.Is(err, db.ErrNotFound) {
			log.Printf("webhooks: shop=%s scopes_update for unknown session", shop)
		} else if err != nil {
			log.Printf("webhooks: shop=%s update scope: %v", shop, err)
			return fail(http.StatusInternalServerError, "failed")
		} else {
			log.Printf("webhooks: shop=%s scope=%s", shop, scope)
		}

	case compliance.IsComplianceTopic(topic):
		err := a.Compliance.Record(ctx, compliance.Event{
			Topic:     topic,
			Shop:      shop,
			WebhookID: webhookID,
			Payload:   body,
		})
		if err != nil {
			log.Printf("webhooks: shop=%s record %s: %v", shop, topic, err)
			return fail(http.StatusInternalServerError, "failed")
		}
		if topic == compliance.TopicShopRedact {
			if err := a.Sessions.DeleteSession(ctx, shop); err != nil {
				log.Printf("webhooks: shop=%s delete session on redact: %v", shop, err)
			}
			return textResp(http.StatusOK, "Shop data erased")
		}

	default:
		log.Printf("webhooks: unhandled topic=%s shop=%s", topic, shop)
	}

	return textResp(http.StatusOK, "")
}
