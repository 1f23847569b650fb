package handlers

import (
	"context"
	"errors"
	"strings"
	"time"

	"easyform/internal/db"
	"easyform/internal/security"

	"github.com/aws/aws-lambda-go/events"
)

var errUnauthorized = errors.New("unauthorized")

// queryMaxSkew bounds how old (or how far ahead) a signed admin query may be.
const queryMaxSkew = 5 * time.Minute

func isValidShopDomain(shop string) bool {
	if !strings.HasSuffix(shop, ".myshopify.com") {
		return false
	}
	if strings.Contains(shop, "/") || strings.Contains(shop, " ") {
		return false
	}
	return len(shop) >= len("a.myshopify.com")
}

func shopParam(req events.APIGatewayV2HTTPRequest) string {
	return strings.ToLower(strings.TrimSpace(req.QueryStringParameters["shop"]))
}

// authenticate checks the signed query Shopify attaches to embedded admin
// requests and loads the shop's session. Unknown shops and stale queries
// are unauthorized.
func (a *App) authenticate(ctx context.Context, req events.APIGatewayV2HTTPRequest) (*db.Session, error) {
	shop := shopParam(req)
	if !isValidShopDomain(shop) {
		return nil, errUnauthorized
	}
	if !security.VerifyQuery(req.QueryStringParameters, a.Cfg.ShopifyAPISecret) {
		return nil, errUnauthorized
	}
	if !security.FreshTimestamp(req.QueryStringParameters, a.now(), queryMaxSkew) {
		return nil, errUnauthorized
	}

	sess, err := a.Sessions.GetSession(ctx, shop)
	if errors.Is(err, db.ErrNotFound) {
		return nil, errUnauthorized
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func authFailed(err error) (events.APIGatewayV2HTTPResponse, error) {
	if errors.Is(err, errUnauthorized) {
		return failResp(401, "unauthorized")
	}
	return failResp(500, "failed to load session")
}
