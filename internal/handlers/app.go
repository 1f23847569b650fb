package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"easyform/internal/compliance"
	"easyform/internal/config"
	"easyform/internal/contactform"
	"easyform/internal/db"
	"easyform/internal/shopify"

	"github.com/aws/aws-lambda-go/events"
)

// AdminClient is everything the handlers call on a shop's Admin API.
// *shopify.Client implements it.
type AdminClient interface {
	contactform.AdminAPI
	ShopInfo(ctx context.Context) (*shopify.ShopInfo, error)
	AuthorizeURL(apiKey, scopes, redirectURI, state string) string
	ExchangeCode(ctx context.Context, apiKey, apiSecret, code string) (*shopify.AccessToken, error)
	SubscribeWebhooks(ctx context.Context, address string) (created []string, failed map[string]string)
}

type HandlerFunc func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error)

// App holds the dependencies built in a cmd/*/main.go.
type App struct {
	Cfg        config.Config
	Sessions   db.SessionStore
	Ledger     *shopify.WebhookLedger
	Compliance *compliance.Recorder

	// NewAdmin builds an Admin API client for a shop; token may be empty for OAuth calls.
	NewAdmin func(shop, token string) AdminClient
	Now      func() time.Time
}

func NewApp(cfg config.Config, sessions db.SessionStore) *App {
	return &App{
		Cfg:      cfg,
		Sessions: sessions,
		NewAdmin: func(shop, token string) AdminClient {
			return shopify.NewClient(shop, cfg.ShopifyAPIVersion, token)
		},
		Now: time.Now,
	}
}

// Routes lists every path Handle serves.
var Routes = []string{
	"/app",
	"/widget",
	"/widget/fields",
	"/auth",
	"/auth/callback",
	"/webhooks",
	"/health",
}

// Handle routes by path + method. A panic in any route becomes a 500
// {success:false} response instead of crashing the invocation.
func (a *App) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (resp events.APIGatewayV2HTTPResponse, err error) {
	method := req.RequestContext.HTTP.Method
	defer func() {
		if r := recover(); r != nil {
			log.Printf("handlers: panic %s %s: %v", method, req.RawPath, r)
			resp, err = failResp(http.StatusInternalServerError, fmt.Sprint(r))
		}
	}()

	switch req.RawPath {
	case "/app":
		if method == http.MethodGet {
			return a.appIndex(ctx, req)
		}
	case "/widget":
		if method == http.MethodGet {
			return a.widgetLoad(ctx, req)
		}
		if method == http.MethodPost {
			return a.widgetSave(ctx, req)
		}
	case "/widget/fields":
		if method == http.MethodGet {
			return a.widgetFields(ctx, req)
		}
	case "/auth":
		if method == http.MethodGet {
			return a.authBegin(ctx, req)
		}
	case "/auth/callback":
		if method == http.MethodGet {
			return a.authCallback(ctx, req)
		}
	case "/webhooks":
		if method == http.MethodPost {
			return a.webhooks(ctx, req)
		}
	case "/health":
		if method == http.MethodGet {
			return a.health(ctx, req)
		}
	default:
		return errResp(http.StatusNotFound, "not found")
	}
	return errResp(http.StatusMethodNotAllowed, "method not allowed")
}

// Only restricts Handle to paths; anything else is a 404. Each Lambda
// serves its own slice of Routes.
func (a *App) Only(paths ...string) HandlerFunc {
	allowed := make(map[string]bool, len(paths))
	for _, p := range paths {
		allowed[p] = true
	}
	return func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		if !allowed[req.RawPath] {
			return errResp(http.StatusNotFound, "not found")
		}
		return a.Handle(ctx, req)
	}
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

func (a *App) admin(sess *db.Session) AdminClient {
	return a.NewAdmin(sess.Shop, sess.AccessToken)
}

func (a *App) contactForm(sess *db.Session) *contactform.Service {
	return contactform.NewService(a.admin(sess), a.Cfg.SchemaVerifyDelay)
}
