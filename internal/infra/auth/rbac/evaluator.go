// Package rbac evaluates permission grants returned by the
// resource-management API. Evaluation is pure: no I/O, no caching.
package rbac

import (
	"regexp"
	"strings"

	"cloudgate/internal/domain"
)

// RoleAssignmentsWrite is the action checked before the application creates
// role assignments on a user's behalf.
const RoleAssignmentsWrite = "microsoft.authorization/roleassignments/write"

// CanPerformAction reports whether any grant authorizes the requested
// action. Within one grant an action pattern must match and no notAction
// pattern may match; across grants the result is the logical OR, so grant
// order never matters.
func CanPerformAction(grants []domain.PermissionGrant, action string) bool {
	want := strings.ToLower(action)
	for _, grant := range grants {
		if grantAllows(grant, want) {
			return true
		}
	}
	return false
}

func grantAllows(grant domain.PermissionGrant, want string) bool {
	allowed := false
	for _, pattern := range grant.Actions {
		if matchPattern(pattern, want) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	for _, pattern := range grant.NotActions {
		if matchPattern(pattern, want) {
			return false
		}
	}
	return true
}

// HasFullReadAccess is the coarse check used for the service identity: only
// blanket read grants count, so no wildcard expansion is needed. An action
// authorizes when it is literally "*/read" or "*"; a notAction vetoes when
// it is literally "*" or ends with "/read".
func HasFullReadAccess(grants []domain.PermissionGrant) bool {
	for _, grant := range grants {
		if grantAllowsRead(grant) {
			return true
		}
	}
	return false
}

func grantAllowsRead(grant domain.PermissionGrant) bool {
	allowed := false
	for _, action := range grant.Actions {
		if strings.EqualFold(action, "*/read") || action == "*" {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	for _, notAction := range grant.NotActions {
		if notAction == "*" || strings.HasSuffix(strings.ToLower(notAction), "/read") {
			return false
		}
	}
	return true
}

// matchPattern matches an action against a grant pattern: case-insensitive,
// anchored to the full string, with "*" covering any substring.
func matchPattern(pattern, want string) bool {
	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(strings.ToLower(pattern)), `\*`, ".*") + "$"
	matched, err := regexp.MatchString(expr, want)
	if err != nil {
		return false
	}
	return matched
}
