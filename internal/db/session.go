package db

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Session is a shop's offline Admin API grant. AccessToken is plaintext in
// memory only; stores persist it sealed.
type Session struct {
	Shop        string
	AccessToken string
	Scope       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// OAuthState is a pending install, keyed by the random state sent to Shopify.
type OAuthState struct {
	State     string
	Shop      string
	ExpiresAt time.Time
}

type SessionStore interface {
	GetSession(ctx context.Context, shop string) (*Session, error)
	PutSession(ctx context.Context, s Session) error
	DeleteSession(ctx context.Context, shop string) error
	UpdateScope(ctx context.Context, shop, scope string) error

	SaveState(ctx context.Context, st OAuthState) error
	// TakeState returns and removes a state; expired states yield ErrNotFound.
	TakeState(ctx context.Context, state string) (*OAuthState, error)

	Ping(ctx context.Context) error
}
