package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"easyform/internal/db"
	"easyform/internal/security"

	"github.com/aws/aws-lambda-go/events"
)

const stateTTL = 10 * time.Minute

// authBegin starts the install: it stores a one-time state and sends the
// merchant to Shopify's grant screen.
func (a *App) authBegin(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	shop := shopParam(req)
	if !isValidShopDomain(shop) {
		return errResp(http.StatusBadRequest, "invalid shop (expected like your-store.myshopify.com)")
	}

	if a.Cfg.ShopifyAPIKey == "" || a.Cfg.ShopifyScopes == "" || a.Cfg.AppURL == "" {
		return errResp(http.StatusInternalServerError, "missing SHOPIFY_* config")
	}

	state, err := security.RandomState(24)
	if err != nil {
		return errResp(http.StatusInternalServerError, "failed to generate state")
	}

	err = a.Sessions.SaveState(ctx, db.OAuthState{
		State:     state,
		Shop:      shop,
		ExpiresAt: a.now().Add(stateTTL),
	})
	if err != nil {
		log.Printf("auth: shop=%s save state: %v", shop, err)
		return errResp(http.StatusInternalServerError, "failed to store oauth state")
	}

	client := a.NewAdmin(shop, "")
	return redirect(client.AuthorizeURL(a.Cfg.ShopifyAPIKey, a.Cfg.ShopifyScopes, a.Cfg.RedirectURI(), state))
}

// authCallback finishes the install. The access token is stored sealed and
// never leaves the backend.
func (a *App) authCallback(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	params := req.QueryStringParameters

	shop := shopParam(req)
	code := strings.TrimSpace(params["code"])
	state := strings.TrimSpace(params["state"])

	if !isValidShopDomain(shop) || code == "" || state == "" || strings.TrimSpace(params["hmac"]) == "" {
		return errResp(http.StatusBadRequest, "missing required oauth params")
	}
	if !security.VerifyQuery(params, a.Cfg.ShopifyAPISecret) {
		return errResp(http.StatusBadRequest, "invalid hmac")
	}

	st, err := a.Sessions.TakeState(ctx, state)
	if errors.Is(err, db.ErrNotFound) {
		return errResp(http.StatusBadRequest, "invalid or expired state")
	}
	if err != nil {
		log.Printf("auth: shop=%s take state: %v", shop, err)
		return errResp(http.StatusInternalServerError, "failed to load oauth state")
	}
	if st.Shop != shop {
		return errResp(http.StatusBadRequest, "state mismatch")
	}

	tok, err := a.NewAdmin(shop, "").ExchangeCode(ctx, a.Cfg.ShopifyAPIKey, a.Cfg.ShopifyAPISecret, code)
	if err != nil {
		log.Printf("auth: shop=%s token exchange: %v", shop, err)
		return errResp(http.StatusBadGateway, "token exchange failed")
	}

	err = a.Sessions.PutSession(ctx, db.Session{
		Shop:        shop,
		AccessToken: tok.AccessToken,
		Scope:       tok.Scope,
	})
	if err != nil {
		log.Printf("auth: shop=%s store session: %v", shop, err)
		return errResp(http.StatusInternalServerError, "failed to store session")
	}

	// Subscription failures are logged, not fatal; a reinstall retries them.
	created, failed := a.NewAdmin(shop, tok.AccessToken).SubscribeWebhooks(ctx, a.Cfg.WebhookAddress())
	for topic, reason := range failed {
		log.Printf("auth: shop=%s webhook %s not subscribed: %s", shop, topic, reason)
	}
	log.Printf("auth: shop=%s installed scope=%q webhooks=%v", shop, tok.Scope, created)

	return redirect(fmt.Sprintf("https://%s/admin/apps/%s", shop, a.Cfg.ShopifyAPIKey))
}
