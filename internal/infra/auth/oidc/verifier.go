package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"cloudgate/internal/domain"
)

// defaultClockSkew is the validation leeway on time-based claims. The
// identity provider's clock and ours are never perfectly aligned.
const defaultClockSkew = time.Minute

// Verifier validates ID tokens against one resolved Authority's signing
// keys. Build a fresh Verifier per login attempt alongside the Authority.
type Verifier struct {
	authority           Authority
	clientID            string
	trustedIssuerPrefix string
	httpClient          *http.Client
	clockSkew           time.Duration
}

func NewVerifier(authority Authority, clientID, trustedIssuerPrefix string, client *http.Client) *Verifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Verifier{
		authority:           authority,
		clientID:            clientID,
		trustedIssuerPrefix: trustedIssuerPrefix,
		httpClient:          client,
		clockSkew:           defaultClockSkew,
	}
}

// WithClockSkew overrides the validation leeway.
func (v *Verifier) WithClockSkew(skew time.Duration) *Verifier {
	if skew < 0 {
		skew = 0
	}
	v.clockSkew = skew
	return v
}

// Verify checks the ID token's signature, audience and expiry, enforces
// the trusted-issuer prefix, and maps the identity claims to a Principal.
// A non-empty expectedNonce must match the token's nonce claim.
func (v *Verifier) Verify(ctx context.Context, rawIDToken, expectedNonce string) (domain.Principal, error) {
	jwks, err := v.fetchJWKS(ctx)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", domain.ErrAuthorityResolution, err)
	}
	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(rawIDToken, claims, jwks.Keyfunc,
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.clockSkew),
	)
	if err != nil {
		return domain.Principal{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	issuer, _ := claims["iss"].(string)
	if v.trustedIssuerPrefix != "" && !strings.HasPrefix(issuer, v.trustedIssuerPrefix) {
		return domain.Principal{}, fmt.Errorf("%w: %q", domain.ErrUntrustedIssuer, issuer)
	}
	if expectedNonce != "" {
		if nonce, _ := claims["nonce"].(string); nonce != expectedNonce {
			return domain.Principal{}, fmt.Errorf("%w: nonce mismatch", domain.ErrUnauthorized)
		}
	}
	return principalFromClaims(claims), nil
}

func (v *Verifier) fetchJWKS(ctx context.Context) (keyfunc.Keyfunc, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.authority.JWKSURI, nil)
	if err != nil {
		return nil, err
	}
	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("jwks fetch returned status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return keyfunc.NewJWKSetJSON(json.RawMessage(raw))
}

func principalFromClaims(claims jwt.MapClaims) domain.Principal {
	name, _ := claims["name"].(string)
	if name == "" {
		name, _ = claims["upn"].(string)
	}
	if name == "" {
		name, _ = claims["unique_name"].(string)
	}
	tenantID, _ := claims["tid"].(string)
	return domain.Principal{
		UserKey:     domain.UserKeyFromName(name),
		DisplayName: name,
		TenantID:    tenantID,
	}
}
