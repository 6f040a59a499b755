package usecase

import (
	"context"
	"errors"
	"log"

	"cloudgate/internal/domain"
	"cloudgate/internal/infra/auth/rbac"
)

// AccessChecker answers the two authorization questions the workflows
// ask. Grants are never cached: every call refetches the current
// permission set, so a revocation takes effect on the next check.
type AccessChecker struct {
	Permissions PermissionReader
	// ResourceAudience is the token audience for the resource-management
	// API, e.g. "https://management.core.windows.net/".
	ResourceAudience string
}

// CanUserManageAccess reports whether the signed-in user may create and
// delete role assignments on the subscription. A missing user credential
// surfaces as domain.ErrSilentAuthFailed so the caller can redirect to
// login; every other fault resolves to not-authorized.
func (a *AccessChecker) CanUserManageAccess(ctx context.Context, tokens TokenProvider, subscriptionID string) (bool, error) {
	accessToken, err := tokens.AcquireSilent(ctx, a.ResourceAudience)
	if err != nil {
		if errors.Is(err, domain.ErrSilentAuthFailed) {
			return false, err
		}
		log.Printf("access check on %s: token acquisition failed: %v", subscriptionID, err)
		return false, nil
	}
	grants, err := a.Permissions.Permissions(ctx, accessToken, subscriptionID)
	if err != nil {
		log.Printf("access check on %s: permission fetch failed: %v", subscriptionID, err)
		return false, nil
	}
	return rbac.CanPerformAction(grants, rbac.RoleAssignmentsWrite), nil
}

// ServiceHasReadAccess reports whether the service identity currently
// holds blanket read access to the subscription. The app-only token is
// minted against the subscription's owning directory, not the session's.
// Fail closed: any fault counts as no access.
func (a *AccessChecker) ServiceHasReadAccess(ctx context.Context, tokens TokenProvider, subscriptionID, directoryID string) bool {
	accessToken, err := tokens.AcquireAppOnly(ctx, directoryID, a.ResourceAudience)
	if err != nil {
		log.Printf("service access check on %s: token acquisition failed: %v", subscriptionID, err)
		return false
	}
	grants, err := a.Permissions.Permissions(ctx, accessToken, subscriptionID)
	if err != nil {
		log.Printf("service access check on %s: permission fetch failed: %v", subscriptionID, err)
		return false
	}
	return rbac.HasFullReadAccess(grants)
}
