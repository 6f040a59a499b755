package aad

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"cloudgate/internal/infra/auth/oidc"
)

// AppTokenSource mints app-only tokens via the client-credentials grant.
// Unlike the user TokenSource it is not pinned to one authority: a
// connected subscription may live in a different directory than the
// signed-in session, and a token minted against the wrong directory is
// rejected there. Each acquisition resolves the owning directory's
// endpoints and redeems against them. App-only tokens bypass the user
// cache.
type AppTokenSource struct {
	resolver     *oidc.Resolver
	clientID     string
	clientSecret string
	httpClient   *http.Client
	now          func() time.Time
}

func NewAppTokenSource(resolver *oidc.Resolver, clientID, clientSecret string, client *http.Client) *AppTokenSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &AppTokenSource{
		resolver:     resolver,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   client,
		now:          time.Now,
	}
}

// WithClock overrides the time source. Tests use this.
func (s *AppTokenSource) WithClock(now func() time.Time) *AppTokenSource {
	s.now = now
	return s
}

// Acquire returns an app-only token for resource, minted at the token
// endpoint of directoryID.
func (s *AppTokenSource) Acquire(ctx context.Context, directoryID, resource string) (Token, error) {
	authority, err := s.resolver.Resolve(ctx, directoryID)
	if err != nil {
		return Token{}, err
	}
	granted, err := redeemForm(ctx, s.httpClient, authority.TokenEndpoint, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
		"resource":      {resource},
	})
	if err != nil {
		return Token{}, err
	}
	return Token{AccessToken: granted.AccessToken, ExpiresOn: tokenExpiry(s.now, granted)}, nil
}
