package usecase

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"cloudgate/internal/domain"
)

// DirectoryMismatchError reports that a subscription belongs to a
// directory other than the one the user is signed in to. The caller
// re-challenges the user against the owning directory.
type DirectoryMismatchError struct {
	SubscriptionID string
	DirectoryID    string
}

func (e *DirectoryMismatchError) Error() string {
	return fmt.Sprintf("subscription %s belongs to directory %s", e.SubscriptionID, e.DirectoryID)
}

// SubscriptionService runs the connect/disconnect/repair lifecycle.
// Connecting means granting the service identity the configured role on
// the subscription so it can do its work after the user walks away.
type SubscriptionService struct {
	Repo     domain.SubscriptionRepository
	ARM      ResourceClient
	Graph    DirectoryClient
	Access   *AccessChecker
	ClientID string
	// GraphAudience is the token audience for the directory graph API.
	GraphAudience string
	RoleName      string

	now   func() time.Time
	newID func() string
}

func NewSubscriptionService(repo domain.SubscriptionRepository, armClient ResourceClient, graph DirectoryClient, access *AccessChecker, clientID, graphAudience, roleName string) *SubscriptionService {
	return &SubscriptionService{
		Repo:          repo,
		ARM:           armClient,
		Graph:         graph,
		Access:        access,
		ClientID:      clientID,
		GraphAudience: graphAudience,
		RoleName:      roleName,
		now:           time.Now,
		newID:         uuid.NewString,
	}
}

// DirectoryFor resolves which directory owns the subscription and
// returns a DirectoryMismatchError when it is not the principal's own.
func (s *SubscriptionService) DirectoryFor(ctx context.Context, principal domain.Principal, subscriptionID string) (string, error) {
	directoryID, err := s.ARM.DirectoryForSubscription(ctx, subscriptionID)
	if err != nil {
		return "", err
	}
	if directoryID != principal.TenantID {
		return directoryID, &DirectoryMismatchError{SubscriptionID: subscriptionID, DirectoryID: directoryID}
	}
	return directoryID, nil
}

// Connect grants the service identity the configured role on the
// subscription and records the connection. The caller must already have
// verified the subscription belongs to the principal's directory.
func (s *SubscriptionService) Connect(ctx context.Context, tokens TokenProvider, principal domain.Principal, subscriptionID, directoryID string) error {
	ok, err := s.Access.CanUserManageAccess(ctx, tokens, subscriptionID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s may not manage access on %s", domain.ErrForbidden, principal.UserKey, subscriptionID)
	}
	if err := s.grantServiceRole(ctx, tokens, subscriptionID, directoryID); err != nil {
		return err
	}
	return s.Repo.Add(ctx, domain.Subscription{
		ID:          subscriptionID,
		DirectoryID: directoryID,
		ConnectedBy: principal.UserKey,
		ConnectedOn: s.now().UTC(),
	})
}

// Disconnect revokes the service identity's role assignments on the
// subscription and forgets the connection. Revocation is best-effort:
// when the user has since lost manage-access rights the row is still
// removed, the leftover assignment is harmless and visible in the
// subscription's own audit tooling.
func (s *SubscriptionService) Disconnect(ctx context.Context, tokens TokenProvider, principal domain.Principal, subscriptionID string) error {
	sub, err := s.Repo.GetByUserAndID(ctx, principal.UserKey, subscriptionID)
	if err != nil {
		return err
	}
	if err := s.revokeServiceRole(ctx, tokens, sub.ID, sub.DirectoryID); err != nil {
		log.Printf("disconnect %s: revoke failed, removing record anyway: %v", sub.ID, err)
	}
	return s.Repo.Remove(ctx, *sub)
}

// Repair re-grants the service identity's role after someone revoked or
// broke it out-of-band: revoke whatever assignments remain, then grant
// fresh.
func (s *SubscriptionService) Repair(ctx context.Context, tokens TokenProvider, principal domain.Principal, subscriptionID string) error {
	sub, err := s.Repo.GetByUserAndID(ctx, principal.UserKey, subscriptionID)
	if err != nil {
		return err
	}
	ok, err := s.Access.CanUserManageAccess(ctx, tokens, sub.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s may not manage access on %s", domain.ErrForbidden, principal.UserKey, sub.ID)
	}
	if err := s.revokeServiceRole(ctx, tokens, sub.ID, sub.DirectoryID); err != nil {
		return err
	}
	return s.grantServiceRole(ctx, tokens, sub.ID, sub.DirectoryID)
}

// List returns the user's connected subscriptions, each annotated with
// whether the service identity still holds read access.
func (s *SubscriptionService) List(ctx context.Context, tokens TokenProvider, principal domain.Principal) ([]domain.Subscription, error) {
	subs, err := s.Repo.ListForUser(ctx, principal.UserKey)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		subs[i].NeedsRepair = !s.Access.ServiceHasReadAccess(ctx, tokens, subs[i].ID, subs[i].DirectoryID)
	}
	return subs, nil
}

// servicePrincipalID looks up the service identity's object ID in the
// given directory. The graph token must come from that directory's own
// token endpoint or the lookup is rejected.
func (s *SubscriptionService) servicePrincipalID(ctx context.Context, tokens TokenProvider, directoryID string) (string, error) {
	graphToken, err := tokens.AcquireAppOnly(ctx, directoryID, s.GraphAudience)
	if err != nil {
		return "", err
	}
	return s.Graph.ServicePrincipalObjectID(ctx, graphToken, directoryID, s.ClientID)
}

func (s *SubscriptionService) grantServiceRole(ctx context.Context, tokens TokenProvider, subscriptionID, directoryID string) error {
	principalID, err := s.servicePrincipalID(ctx, tokens, directoryID)
	if err != nil {
		return err
	}
	userToken, err := tokens.AcquireSilent(ctx, s.Access.ResourceAudience)
	if err != nil {
		return err
	}
	roleDefinitionID, err := s.ARM.RoleDefinitionID(ctx, userToken, subscriptionID, s.RoleName)
	if err != nil {
		return err
	}
	return s.ARM.CreateRoleAssignment(ctx, userToken, subscriptionID, s.newID(), roleDefinitionID, principalID)
}

func (s *SubscriptionService) revokeServiceRole(ctx context.Context, tokens TokenProvider, subscriptionID, directoryID string) error {
	principalID, err := s.servicePrincipalID(ctx, tokens, directoryID)
	if err != nil {
		return err
	}
	userToken, err := tokens.AcquireSilent(ctx, s.Access.ResourceAudience)
	if err != nil {
		return err
	}
	assignments, err := s.ARM.RoleAssignmentsForPrincipal(ctx, userToken, subscriptionID, principalID)
	if err != nil {
		return err
	}
	for _, assignment := range assignments {
		if err := s.ARM.DeleteRoleAssignment(ctx, userToken, assignment.ID); err != nil {
			return err
		}
	}
	return nil
}
