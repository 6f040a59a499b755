// Package arm is a thin client for the resource-management REST surface:
// permission listing, role assignments, and the unauthenticated tenant
// probe used to discover which directory owns a subscription.
package arm

import (
	"bytes"
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

type Client struct {
	endpoint              string
	permissionsAPIVersion string
	roleAssignAPIVersion  string
	roleDefsAPIVersion    string
	subscriptionVersion   string
	httpClient            *http.Client
}

func New(endpoint string, client *http.Client) *Client {
	if client == nil {
		client = http.DefaultClient
	}
	return &Client{
		endpoint:              strings.TrimRight(endpoint, "/"),
		permissionsAPIVersion: "2014-07-01-preview",
		roleAssignAPIVersion:  "2014-10-01-preview",
		roleDefsAPIVersion:    "2014-10-01-preview",
		subscriptionVersion:   "2014-04-01",
		httpClient:            client,
	}
}

func NewFromConfig(cfg config.Config) *Client {
	c := New(cfg.ResourceManagerURL, &http.Client{Timeout: cfg.HTTPClientTimeout()})
	c.permissionsAPIVersion = cfg.PermissionsAPIVersion
	c.roleAssignAPIVersion = cfg.RoleAssignAPIVersion
	c.roleDefsAPIVersion = cfg.RoleDefsAPIVersion
	c.subscriptionVersion = cfg.SubscriptionAPIVersion
	return c
}

// DirectoryForSubscription discovers the directory (tenant) that owns the
// subscription without any credential: an unauthenticated GET is expected
// to come back 401 with a WWW-Authenticate challenge naming the tenant's
// authorization URI, whose last path segment is the directory ID.
func (c *Client) DirectoryForSubscription(ctx context.Context, subscriptionID string) (string, error) {
	probe := fmt.Sprintf("%s/subscriptions/%s?api-version=%s", c.endpoint, url.PathEscape(subscriptionID), c.subscriptionVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, probe, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrUpstreamAPI, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusUnauthorized {
		return "", fmt.Errorf("%w: tenant probe for %q returned status %d", domain.ErrUpstreamAPI, subscriptionID, resp.StatusCode)
	}
	directoryID := directoryFromChallenge(resp.Header.Get("WWW-Authenticate"))
	if directoryID == "" {
		return "", fmt.Errorf("%w: tenant probe for %q returned no usable challenge", domain.ErrUpstreamAPI, subscriptionID)
	}
	return directoryID, nil
}

// directoryFromChallenge extracts the directory GUID from a challenge like
//
//	Bearer authorization_uri="https://login.windows.net/<guid>", error="invalid_token"
//
// Returns "" when the header does not carry a GUID-terminated
// authorization URI; malformed challenges are not an error here, the
// caller decides how to fail.
func directoryFromChallenge(header string) string {
	const marker = `authorization_uri="`
	start := strings.Index(header, marker)
	if start < 0 {
		return ""
	}
	rest := header[start+len(marker):]
	end := strings.Index(rest, `"`)
	if end < 0 {
		return ""
	}
	authURI, err := url.Parse(rest[:end])
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(authURI.Path, "/"), "/")
	last := segments[len(segments)-1]
	if len(last) != 36 {
		return ""
	}
	return last
}

// Permissions lists the caller's permission grants on the subscription.
func (c *Client) Permissions(ctx context.Context, accessToken, subscriptionID string) ([]domain.PermissionGrant, error) {
	path := fmt.Sprintf("/subscriptions/%s/providers/microsoft.authorization/permissions?api-version=%s",
		url.PathEscape(subscriptionID), c.permissionsAPIVersion)
	body, err := c.do(ctx, http.MethodGet, path, accessToken, nil)
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Value []domain.PermissionGrant `json:"value"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decoding permissions: %v", domain.ErrUpstreamAPI, err)
	}
	return decoded.Value, nil
}

// RoleDefinitionID resolves a role name such as "Contributor" to its full
// definition ID within the subscription. The name match is
// case-insensitive.
func (c *Client) RoleDefinitionID(ctx context.Context, accessToken, subscriptionID, roleName string) (string, error) {
	path := fmt.Sprintf("/subscriptions/%s/providers/microsoft.authorization/roleDefinitions?api-version=%s",
		url.PathEscape(subscriptionID), c.roleDefsAPIVersion)
	body, err := c.do(ctx, http.MethodGet, path, accessToken, nil)
	if err != nil {
		return "", err
	}
	var decoded struct {
		Value []struct {
			ID         string `json:"id"`
			Properties struct {
				RoleName string `json:"roleName"`
			} `json:"properties"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("%w: decoding role definitions: %v", domain.ErrUpstreamAPI, err)
	}
	for _, def := range decoded.Value {
		if strings.EqualFold(def.Properties.RoleName, roleName) {
			return def.ID, nil
		}
	}
	return "", fmt.Errorf("%w: role %q not defined in subscription %q", domain.ErrNotFound, roleName, subscriptionID)
}

// CreateRoleAssignment grants roleDefinitionID to principalID on the
// subscription under the caller-chosen assignment ID.
func (c *Client) CreateRoleAssignment(ctx context.Context, accessToken, subscriptionID, assignmentID, roleDefinitionID, principalID string) error {
	path := fmt.Sprintf("/subscriptions/%s/providers/microsoft.authorization/roleassignments/%s?api-version=%s",
		url.PathEscape(subscriptionID), url.PathEscape(assignmentID), c.roleAssignAPIVersion)
	payload := map[string]any{
		"properties": map[string]string{
			"roleDefinitionId": roleDefinitionID,
			"principalId":      principalID,
		},
	}
	_, err := c.do(ctx, http.MethodPut, path, accessToken, payload)
	return err
}

// RoleAssignmentsForPrincipal lists the principal's role assignments on
// the subscription. IDs are full resource paths, usable directly with
// DeleteRoleAssignment.
func (c *Client) RoleAssignmentsForPrincipal(ctx context.Context, accessToken, subscriptionID, principalID string) ([]domain.RoleAssignment, error) {
	query := url.Values{
		"api-version": {c.roleAssignAPIVersion},
		"$filter":     {fmt.Sprintf("principalId eq '%s'", principalID)},
	}
	path := fmt.Sprintf("/subscriptions/%s/providers/microsoft.authorization/roleassignments?%s",
		url.PathEscape(subscriptionID), query.Encode())
	body, err := c.do(ctx, http.MethodGet, path, accessToken, nil)
	if err != nil {
		return nil, err
	}
	var decoded struct {
		Value []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"value"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("%w: decoding role assignments: %v", domain.ErrUpstreamAPI, err)
	}
	assignments := make([]domain.RoleAssignment, 0, len(decoded.Value))
	for _, item := range decoded.Value {
		assignments = append(assignments, domain.RoleAssignment{ID: item.ID, Name: item.Name})
	}
	return assignments, nil
}

// DeleteRoleAssignment removes an assignment by its full resource path.
func (c *Client) DeleteRoleAssignment(ctx context.Context, accessToken, assignmentFullID string) error {
	path := fmt.Sprintf("%s?api-version=%s", assignmentFullID, c.roleAssignAPIVersion)
	_, err := c.do(ctx, http.MethodDelete, path, accessToken, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, path, accessToken string, payload any) ([]byte, error) {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = encoded
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamAPI, err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpstreamAPI, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s %s returned status %d", domain.ErrUpstreamAPI, method, path, resp.StatusCode)
	}
	return respBody, nil
}
