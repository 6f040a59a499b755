// Package aad acquires OAuth2 tokens from a resolved tenant authority,
// backed by the shared token cache. Silent acquisition is tried first:
// a cached access token, then a refresh-token grant, and only when both
// fail does the caller fall back to interactive login.
package aad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cloudgate/internal/domain"
	"cloudgate/internal/infra/auth/oidc"
	"cloudgate/internal/infra/tokencache"
)

// expirySkew is the refresh buffer: a cached token this close to expiry
// is treated as expired and refreshed eagerly.
const expirySkew = 60 * time.Second

// Token is an acquired access token plus its hard expiry.
type Token struct {
	AccessToken string
	ExpiresOn   time.Time
}

// TokenSource acquires tokens for one user against one resolved
// authority. Build one per request; the durable state lives in the
// cache's credential store, not here.
type TokenSource struct {
	authority    oidc.Authority
	clientID     string
	clientSecret string
	cache        *tokencache.Cache
	httpClient   *http.Client
	now          func() time.Time
}

func NewTokenSource(authority oidc.Authority, clientID, clientSecret string, cache *tokencache.Cache, client *http.Client) *TokenSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &TokenSource{
		authority:    authority,
		clientID:     clientID,
		clientSecret: clientSecret,
		cache:        cache,
		httpClient:   client,
		now:          time.Now,
	}
}

// WithClock overrides the time source. Tests use this.
func (ts *TokenSource) WithClock(now func() time.Time) *TokenSource {
	ts.now = now
	return ts
}

// AcquireSilent returns a token for resource without user interaction:
// from the cache when still valid, otherwise via the refresh-token
// grant. When neither works it returns domain.ErrSilentAuthFailed. A
// lost optimistic-concurrency race retries the whole cycle once, since
// the competing writer may have cached exactly the token we need.
func (ts *TokenSource) AcquireSilent(ctx context.Context, resource string) (Token, error) {
	tok, err := ts.acquireSilentOnce(ctx, resource)
	if errors.Is(err, domain.ErrStoreConflict) {
		tok, err = ts.acquireSilentOnce(ctx, resource)
	}
	return tok, err
}

func (ts *TokenSource) acquireSilentOnce(ctx context.Context, resource string) (Token, error) {
	if err := ts.cache.BeforeAccess(ctx); err != nil {
		return Token{}, err
	}
	entry, ok := ts.cache.State().Lookup(ts.authority.URL, resource, ts.clientID, ts.cache.UserKey())
	if ok && entry.Valid(ts.now(), expirySkew) {
		if err := ts.cache.AfterAccess(ctx); err != nil {
			return Token{}, err
		}
		return Token{AccessToken: entry.AccessToken, ExpiresOn: entry.ExpiresOn}, nil
	}
	if !ok || entry.RefreshToken == "" {
		return Token{}, fmt.Errorf("%w: no cached token for %q", domain.ErrSilentAuthFailed, resource)
	}

	refreshed, err := ts.redeem(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {entry.RefreshToken},
		"client_id":     {ts.clientID},
		"client_secret": {ts.clientSecret},
		"resource":      {resource},
	})
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", domain.ErrSilentAuthFailed, err)
	}
	ts.storeGrant(resource, refreshed, entry.RefreshToken)
	if err := ts.cache.AfterAccess(ctx); err != nil {
		return Token{}, err
	}
	return Token{AccessToken: refreshed.AccessToken, ExpiresOn: ts.expiresOn(refreshed)}, nil
}

// AcquireByAuthorizationCode redeems a fresh interactive sign-in. The
// cache is cleared first so tokens from a previous session, possibly
// against another tenant, cannot leak into the new one.
func (ts *TokenSource) AcquireByAuthorizationCode(ctx context.Context, code, redirectURI, resource string) (Token, error) {
	if err := ts.cache.Clear(ctx); err != nil {
		return Token{}, err
	}
	granted, err := ts.redeem(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {redirectURI},
		"client_id":     {ts.clientID},
		"client_secret": {ts.clientSecret},
		"resource":      {resource},
	})
	if err != nil {
		return Token{}, err
	}
	ts.storeGrant(resource, granted, "")
	if err := ts.cache.AfterAccess(ctx); err != nil {
		return Token{}, err
	}
	return Token{AccessToken: granted.AccessToken, ExpiresOn: ts.expiresOn(granted)}, nil
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	ExpiresIn    json.Number `json:"expires_in"`
	ExpiresOn    json.Number `json:"expires_on"`
}

func (ts *TokenSource) redeem(ctx context.Context, form url.Values) (tokenResponse, error) {
	return redeemForm(ctx, ts.httpClient, ts.authority.TokenEndpoint, form)
}

func redeemForm(ctx context.Context, client *http.Client, tokenEndpoint string, form url.Values) (tokenResponse, error) {
	var granted tokenResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return granted, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := client.Do(req)
	if err != nil {
		return granted, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return granted, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return granted, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, truncate(body, 256))
	}
	if err := json.Unmarshal(body, &granted); err != nil {
		return granted, err
	}
	if granted.AccessToken == "" {
		return granted, errors.New("token endpoint returned no access token")
	}
	return granted, nil
}

// storeGrant records the grant in the live cache state. A refresh-token
// grant may omit a rotated refresh token, in which case the previous one
// is kept.
func (ts *TokenSource) storeGrant(resource string, granted tokenResponse, previousRefreshToken string) {
	refreshToken := granted.RefreshToken
	if refreshToken == "" {
		refreshToken = previousRefreshToken
	}
	ts.cache.State().Put(tokencache.Entry{
		Authority:    ts.authority.URL,
		Resource:     resource,
		ClientID:     ts.clientID,
		UserKey:      ts.cache.UserKey(),
		AccessToken:  granted.AccessToken,
		RefreshToken: refreshToken,
		ExpiresOn:    ts.expiresOn(granted),
	})
}

func (ts *TokenSource) expiresOn(granted tokenResponse) time.Time {
	return tokenExpiry(ts.now, granted)
}

func tokenExpiry(now func() time.Time, granted tokenResponse) time.Time {
	if secs, err := granted.ExpiresOn.Int64(); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC()
	}
	if secs, err := granted.ExpiresIn.Int64(); err == nil && secs > 0 {
		return now().UTC().Add(time.Duration(secs) * time.Second)
	}
	return now().UTC()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
