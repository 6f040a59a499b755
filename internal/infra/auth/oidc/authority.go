// Package oidc resolves per-tenant OpenID Connect authorities and
// verifies the ID tokens they issue. An Authority is resolved once per
// login attempt and never mutated afterwards, so concurrent logins
// against different tenants cannot observe each other's endpoints.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"cloudgate/internal/domain"
)

const discoveryPath = ".well-known/openid-configuration"

// Authority is one tenant's resolved OIDC metadata. The zero value is
// unresolved; use Resolver.Resolve to build one.
type Authority struct {
	// URL is the normalized authority base, always with a single
	// trailing slash, e.g. "https://login.windows.net/<tenant>/".
	URL string

	Issuer                string
	AuthorizationEndpoint string
	TokenEndpoint         string
	JWKSURI               string
}

// Resolver fetches tenant discovery documents.
type Resolver struct {
	// Format is the printf template mapping a tenant ID to its authority
	// base, e.g. "https://login.windows.net/%s".
	Format     string
	HTTPClient *http.Client
}

func NewResolver(format string, client *http.Client) *Resolver {
	if client == nil {
		client = http.DefaultClient
	}
	return &Resolver{Format: format, HTTPClient: client}
}

// Resolve fetches the discovery document for tenant and returns the
// resolved Authority. tenant may be a directory GUID, a verified domain,
// or "common". Failure is fatal to the login attempt: there is no
// fallback to a default authority, a half-resolved endpoint set must
// never be used to redeem codes.
func (r *Resolver) Resolve(ctx context.Context, tenant string) (Authority, error) {
	base := normalizeAuthorityURL(fmt.Sprintf(r.Format, tenant))
	doc, err := r.fetchDiscovery(ctx, base+discoveryPath)
	if err != nil {
		return Authority{}, fmt.Errorf("%w: tenant %q: %v", domain.ErrAuthorityResolution, tenant, err)
	}
	return Authority{
		URL:                   base,
		Issuer:                doc.Issuer,
		AuthorizationEndpoint: doc.AuthorizationEndpoint,
		TokenEndpoint:         doc.TokenEndpoint,
		JWKSURI:               doc.JWKSURI,
	}, nil
}

type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

func (r *Resolver) fetchDiscovery(ctx context.Context, url string) (discoveryDocument, error) {
	var doc discoveryDocument
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return doc, err
	}
	resp, err := r.HTTPClient.Do(req)
	if err != nil {
		return doc, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return doc, fmt.Errorf("discovery returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return doc, err
	}
	if doc.Issuer == "" || doc.TokenEndpoint == "" || doc.JWKSURI == "" {
		return doc, fmt.Errorf("discovery document incomplete")
	}
	return doc, nil
}

// normalizeAuthorityURL guarantees exactly one trailing slash so the
// discovery path and OAuth endpoints concatenate cleanly whatever shape
// the configured format produced.
func normalizeAuthorityURL(raw string) string {
	return strings.TrimRight(raw, "/") + "/"
}
