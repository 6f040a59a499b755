package domain

import "strings"

// Principal is the signed-in user for one request. It is always passed
// explicitly; there is no ambient current-user state.
type Principal struct {
	// UserKey is the stable unique name of the principal, derived from the
	// identity provider's display name (see UserKeyFromName).
	UserKey string
	// DisplayName is the raw name claim from the ID token.
	DisplayName string
	// TenantID is the directory the principal authenticated against.
	TenantID string
}

// UserKeyFromName derives the stable user key from a display-name claim by
// taking the segment after the last '#'. Azure AD guest accounts carry
// names like "live.com#user@example.com"; other providers may not follow
// this format, in which case the whole name is the key.
func UserKeyFromName(name string) string {
	parts := strings.Split(name, "#")
	return parts[len(parts)-1]
}
