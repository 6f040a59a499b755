package arm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"cloudgate/internal/config"
	"cloudgate/internal/domain"
)

// GraphClient resolves directory objects, currently just the service
// principal behind the application's client ID in a given tenant.
type GraphClient struct {
	endpoint   string
	apiVersion string
	httpClient *http.Client
}

func NewGraphClient(endpoint, apiVersion string, client *http.Client) *GraphClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &GraphClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiVersion: apiVersion,
		httpClient: client,
	}
}

func NewGraphFromConfig(cfg config.Config) *GraphClient {
	return NewGraphClient(cfg.GraphURL, cfg.GraphAPIVersion, &http.Client{Timeout: cfg.HTTPClientTimeout()})
}

// ServicePrincipalObjectID looks up the object ID of the application's
// service principal in the tenant. Role assignments reference principals
// by object ID, never by application (client) ID.
func (g *GraphClient) ServicePrincipalObjectID(ctx context.Context, accessToken, tenantID, appClientID string) (string, error) {
	query := url.Values{
		"api-version": {g.apiVersion},
		"$filter":     {fmt.Sprintf("appId eq '%s'", appClientID)},
	}
	endpoint := fmt.Sprintf("%s/%s/servicePrincipals?%s", g.endpoint, url.PathEscape(tenantID), query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamAPI, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamAPI, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: service principal lookup returned status %d", domain.ErrUpstreamAPI, resp.StatusCode)
	}
	var decoded struct {
		Value []struct {
			ObjectID string `json:"objectId"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("%w: decoding service principals: %v", domain.ErrUpstreamAPI, err)
	}
	if len(decoded.Value) == 0 || decoded.Value[0].ObjectID == "" {
		return "", fmt.Errorf("%w: no service principal for app %q in tenant %q", domain.ErrNotFound, appClientID, tenantID)
	}
	return decoded.Value[0].ObjectID, nil
}
