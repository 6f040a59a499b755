// Package usecase holds the application workflows: authorization checks
// against the resource-management API and the subscription
// connect/disconnect/repair lifecycle. Infrastructure enters through
// small ports so tests run against fakes.
package usecase

import (
	"context"

	"cloudgate/internal/domain"
)

// TokenProvider acquires access tokens for the current request. A silent
// acquisition draws on the signed-in user's cached or refreshable
// credential and fails with domain.ErrSilentAuthFailed when neither
// exists; an app-only acquisition uses the service's own credential,
// minted at the token endpoint of the given directory rather than the
// session's, since connected subscriptions may live in other
// directories.
type TokenProvider interface {
	AcquireSilent(ctx context.Context, resource string) (string, error)
	AcquireAppOnly(ctx context.Context, directoryID, resource string) (string, error)
}

// PermissionReader fetches the caller's permission grants on a
// subscription. Satisfied by arm.Client.
type PermissionReader interface {
	Permissions(ctx context.Context, accessToken, subscriptionID string) ([]domain.PermissionGrant, error)
}

// ResourceClient is the full resource-management surface the
// subscription workflows need. Satisfied by arm.Client.
type ResourceClient interface {
	PermissionReader
	DirectoryForSubscription(ctx context.Context, subscriptionID string) (string, error)
	RoleDefinitionID(ctx context.Context, accessToken, subscriptionID, roleName string) (string, error)
	CreateRoleAssignment(ctx context.Context, accessToken, subscriptionID, assignmentID, roleDefinitionID, principalID string) error
	RoleAssignmentsForPrincipal(ctx context.Context, accessToken, subscriptionID, principalID string) ([]domain.RoleAssignment, error)
	DeleteRoleAssignment(ctx context.Context, accessToken, assignmentFullID string) error
}

// DirectoryClient resolves directory objects. Satisfied by
// arm.GraphClient.
type DirectoryClient interface {
	ServicePrincipalObjectID(ctx context.Context, accessToken, tenantID, appClientID string) (string, error)
}
