package handlers

import (
	"context"
	"log"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
)

// appIndex backs the embedded app's landing page.
func (a *App) appIndex(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	sess, err := a.authenticate(ctx, req)
	if err != nil {
		return authFailed(err)
	}

	info, err := a.admin(sess).ShopInfo(ctx)
	if err != nil {
		log.Printf("app: shop=%s shop query: %v", sess.Shop, err)
		return failResp(http.StatusBadGateway, "failed to load shop")
	}

	return jsonResp(http.StatusOK, map[string]any{
		"success": true,
		"shop":    sess.Shop,
		"info":    info,
	})
}
