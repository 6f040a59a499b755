package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cloudgate/internal/domain"
)

type fakeTokens struct {
	silentToken  string
	silentErr    error
	appOnlyToken string
	appOnlyErr   error

	appOnlyDirectories []string
}

func (f *fakeTokens) AcquireSilent(ctx context.Context, resource string) (string, error) {
	return f.silentToken, f.silentErr
}

func (f *fakeTokens) AcquireAppOnly(ctx context.Context, directoryID, resource string) (string, error) {
	f.appOnlyDirectories = append(f.appOnlyDirectories, directoryID)
	return f.appOnlyToken, f.appOnlyErr
}

type fakeARM struct {
	directoryID  string
	directoryErr error
	grants       []domain.PermissionGrant
	grantsErr    error
	roleDefID    string
	assignments  []domain.RoleAssignment

	created []string
	deleted []string
}

func (f *fakeARM) DirectoryForSubscription(ctx context.Context, subscriptionID string) (string, error) {
	return f.directoryID, f.directoryErr
}

func (f *fakeARM) Permissions(ctx context.Context, accessToken, subscriptionID string) ([]domain.PermissionGrant, error) {
	return f.grants, f.grantsErr
}

func (f *fakeARM) RoleDefinitionID(ctx context.Context, accessToken, subscriptionID, roleName string) (string, error) {
	if f.roleDefID == "" {
		return "", domain.ErrNotFound
	}
	return f.roleDefID, nil
}

func (f *fakeARM) CreateRoleAssignment(ctx context.Context, accessToken, subscriptionID, assignmentID, roleDefinitionID, principalID string) error {
	f.created = append(f.created, fmt.Sprintf("%s|%s|%s", subscriptionID, roleDefinitionID, principalID))
	return nil
}

func (f *fakeARM) RoleAssignmentsForPrincipal(ctx context.Context, accessToken, subscriptionID, principalID string) ([]domain.RoleAssignment, error) {
	return f.assignments, nil
}

func (f *fakeARM) DeleteRoleAssignment(ctx context.Context, accessToken, assignmentFullID string) error {
	f.deleted = append(f.deleted, assignmentFullID)
	return nil
}

type fakeGraph struct {
	objectID string
	err      error
}

func (f *fakeGraph) ServicePrincipalObjectID(ctx context.Context, accessToken, tenantID, appClientID string) (string, error) {
	return f.objectID, f.err
}

type fakeRepo struct {
	subs map[string]domain.Subscription
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{subs: make(map[string]domain.Subscription)}
}

func (f *fakeRepo) key(userKey, id string) string { return userKey + "/" + id }

func (f *fakeRepo) ListForUser(ctx context.Context, userKey string) ([]domain.Subscription, error) {
	var out []domain.Subscription
	for _, sub := range f.subs {
		if sub.ConnectedBy == userKey {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (f *fakeRepo) GetByUserAndID(ctx context.Context, userKey, subscriptionID string) (*domain.Subscription, error) {
	sub, ok := f.subs[f.key(userKey, subscriptionID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &sub, nil
}

func (f *fakeRepo) Add(ctx context.Context, sub domain.Subscription) error {
	f.subs[f.key(sub.ConnectedBy, sub.ID)] = sub
	return nil
}

func (f *fakeRepo) Remove(ctx context.Context, sub domain.Subscription) error {
	delete(f.subs, f.key(sub.ConnectedBy, sub.ID))
	return nil
}

var manageGrant = []domain.PermissionGrant{{Actions: []string{"*"}}}

func newService(repo *fakeRepo, armClient *fakeARM, graph *fakeGraph) *SubscriptionService {
	access := &AccessChecker{Permissions: armClient, ResourceAudience: "https://management.example/"}
	svc := NewSubscriptionService(repo, armClient, graph, access, "client-1", "https://graph.example/", "Contributor")
	svc.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }
	svc.newID = func() string { return "assignment-fixed" }
	return svc
}

var alice = domain.Principal{UserKey: "alice@example.com", DisplayName: "alice@example.com", TenantID: "tenant-1"}

func TestCanUserManageAccess(t *testing.T) {
	armClient := &fakeARM{grants: []domain.PermissionGrant{
		{Actions: []string{"Microsoft.Authorization/*/Write"}},
	}}
	access := &AccessChecker{Permissions: armClient, ResourceAudience: "r"}
	ok, err := access.CanUserManageAccess(context.Background(), &fakeTokens{silentToken: "tok"}, "sub-1")
	if err != nil || !ok {
		t.Fatalf("expected authorized, got ok=%v err=%v", ok, err)
	}

	armClient.grants = []domain.PermissionGrant{{Actions: []string{"*/read"}}}
	ok, err = access.CanUserManageAccess(context.Background(), &fakeTokens{silentToken: "tok"}, "sub-1")
	if err != nil || ok {
		t.Fatalf("read-only grant must not manage access, got ok=%v err=%v", ok, err)
	}
}

func TestCanUserManageAccessSurfacesLoginRequired(t *testing.T) {
	access := &AccessChecker{Permissions: &fakeARM{}, ResourceAudience: "r"}
	tokens := &fakeTokens{silentErr: domain.ErrSilentAuthFailed}
	_, err := access.CanUserManageAccess(context.Background(), tokens, "sub-1")
	if !errors.Is(err, domain.ErrSilentAuthFailed) {
		t.Fatalf("expected ErrSilentAuthFailed to surface, got %v", err)
	}
}

func TestAccessChecksFailClosed(t *testing.T) {
	armClient := &fakeARM{grantsErr: domain.ErrUpstreamAPI}
	access := &AccessChecker{Permissions: armClient, ResourceAudience: "r"}

	ok, err := access.CanUserManageAccess(context.Background(), &fakeTokens{silentToken: "tok"}, "sub-1")
	if err != nil || ok {
		t.Fatalf("upstream fault must resolve to not-authorized, got ok=%v err=%v", ok, err)
	}
	if access.ServiceHasReadAccess(context.Background(), &fakeTokens{appOnlyToken: "tok"}, "sub-1", "tenant-1") {
		t.Fatalf("upstream fault must resolve to no read access")
	}
	if access.ServiceHasReadAccess(context.Background(), &fakeTokens{appOnlyErr: errors.New("boom")}, "sub-1", "tenant-1") {
		t.Fatalf("token fault must resolve to no read access")
	}
}

func TestDirectoryForMismatch(t *testing.T) {
	svc := newService(newFakeRepo(), &fakeARM{directoryID: "tenant-2"}, &fakeGraph{objectID: "sp-1"})
	_, err := svc.DirectoryFor(context.Background(), alice, "sub-1")
	var mismatch *DirectoryMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected DirectoryMismatchError, got %v", err)
	}
	if mismatch.DirectoryID != "tenant-2" {
		t.Fatalf("unexpected directory %q", mismatch.DirectoryID)
	}
}

func TestConnectGrantsRoleAndPersists(t *testing.T) {
	repo := newFakeRepo()
	armClient := &fakeARM{directoryID: "tenant-1", grants: manageGrant, roleDefID: "/defs/contributor"}
	svc := newService(repo, armClient, &fakeGraph{objectID: "sp-1"})

	tokens := &fakeTokens{silentToken: "user-tok", appOnlyToken: "app-tok"}
	if err := svc.Connect(context.Background(), tokens, alice, "sub-1", "tenant-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(armClient.created) != 1 || armClient.created[0] != "sub-1|/defs/contributor|sp-1" {
		t.Fatalf("unexpected role assignment %v", armClient.created)
	}
	sub, err := repo.GetByUserAndID(context.Background(), alice.UserKey, "sub-1")
	if err != nil {
		t.Fatalf("GetByUserAndID: %v", err)
	}
	if sub.DirectoryID != "tenant-1" || sub.ConnectedOn.IsZero() {
		t.Fatalf("unexpected persisted subscription %+v", sub)
	}
}

func TestConnectForbiddenWithoutManageAccess(t *testing.T) {
	armClient := &fakeARM{directoryID: "tenant-1", grants: []domain.PermissionGrant{{Actions: []string{"*/read"}}}, roleDefID: "/defs/contributor"}
	svc := newService(newFakeRepo(), armClient, &fakeGraph{objectID: "sp-1"})
	err := svc.Connect(context.Background(), &fakeTokens{silentToken: "t", appOnlyToken: "t"}, alice, "sub-1", "tenant-1")
	if !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if len(armClient.created) != 0 {
		t.Fatalf("no role assignment expected, got %v", armClient.created)
	}
}

func TestDisconnectRevokesAndForgets(t *testing.T) {
	repo := newFakeRepo()
	repo.Add(context.Background(), domain.Subscription{ID: "sub-1", DirectoryID: "tenant-1", ConnectedBy: alice.UserKey})
	armClient := &fakeARM{
		grants:      manageGrant,
		assignments: []domain.RoleAssignment{{ID: "/assignments/a1"}, {ID: "/assignments/a2"}},
	}
	svc := newService(repo, armClient, &fakeGraph{objectID: "sp-1"})

	if err := svc.Disconnect(context.Background(), &fakeTokens{silentToken: "t", appOnlyToken: "t"}, alice, "sub-1"); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if len(armClient.deleted) != 2 {
		t.Fatalf("expected both assignments revoked, got %v", armClient.deleted)
	}
	if _, err := repo.GetByUserAndID(context.Background(), alice.UserKey, "sub-1"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("subscription should be forgotten, got %v", err)
	}
}

func TestDisconnectUnknownSubscription(t *testing.T) {
	svc := newService(newFakeRepo(), &fakeARM{}, &fakeGraph{objectID: "sp-1"})
	err := svc.Disconnect(context.Background(), &fakeTokens{silentToken: "t", appOnlyToken: "t"}, alice, "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRepairRevokesThenGrants(t *testing.T) {
	repo := newFakeRepo()
	repo.Add(context.Background(), domain.Subscription{ID: "sub-1", DirectoryID: "tenant-1", ConnectedBy: alice.UserKey})
	armClient := &fakeARM{
		grants:      manageGrant,
		roleDefID:   "/defs/contributor",
		assignments: []domain.RoleAssignment{{ID: "/assignments/stale"}},
	}
	svc := newService(repo, armClient, &fakeGraph{objectID: "sp-1"})

	if err := svc.Repair(context.Background(), &fakeTokens{silentToken: "t", appOnlyToken: "t"}, alice, "sub-1"); err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if len(armClient.deleted) != 1 || armClient.deleted[0] != "/assignments/stale" {
		t.Fatalf("stale assignment not revoked: %v", armClient.deleted)
	}
	if len(armClient.created) != 1 {
		t.Fatalf("fresh assignment not created: %v", armClient.created)
	}
}

func TestListAnnotatesNeedsRepair(t *testing.T) {
	repo := newFakeRepo()
	repo.Add(context.Background(), domain.Subscription{ID: "sub-1", DirectoryID: "tenant-1", ConnectedBy: alice.UserKey})
	armClient := &fakeARM{grants: []domain.PermissionGrant{{Actions: []string{"*/read"}}}}
	svc := newService(repo, armClient, &fakeGraph{objectID: "sp-1"})

	subs, err := svc.List(context.Background(), &fakeTokens{appOnlyToken: "t"}, alice)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(subs) != 1 || subs[0].NeedsRepair {
		t.Fatalf("read access present, repair not needed: %+v", subs)
	}

	// Revoked service access flags the subscription.
	armClient.grants = nil
	subs, err = svc.List(context.Background(), &fakeTokens{appOnlyToken: "t"}, alice)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if !subs[0].NeedsRepair {
		t.Fatalf("missing read access must flag repair: %+v", subs)
	}
}

func TestListChecksAccessAgainstOwningDirectory(t *testing.T) {
	// A subscription connected from another directory must be checked
	// with a token from that directory, not the session's.
	repo := newFakeRepo()
	repo.Add(context.Background(), domain.Subscription{ID: "sub-2", DirectoryID: "tenant-2", ConnectedBy: alice.UserKey})
	armClient := &fakeARM{grants: []domain.PermissionGrant{{Actions: []string{"*/read"}}}}
	svc := newService(repo, armClient, &fakeGraph{objectID: "sp-1"})

	tokens := &fakeTokens{appOnlyToken: "t"}
	subs, err := svc.List(context.Background(), tokens, alice)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(subs) != 1 || subs[0].NeedsRepair {
		t.Fatalf("read access present, repair not needed: %+v", subs)
	}
	if len(tokens.appOnlyDirectories) != 1 || tokens.appOnlyDirectories[0] != "tenant-2" {
		t.Fatalf("app-only token acquired for %v, want [tenant-2]", tokens.appOnlyDirectories)
	}
}

func TestRepairResolvesServicePrincipalInOwningDirectory(t *testing.T) {
	repo := newFakeRepo()
	repo.Add(context.Background(), domain.Subscription{ID: "sub-2", DirectoryID: "tenant-2", ConnectedBy: alice.UserKey})
	armClient := &fakeARM{
		grants:      manageGrant,
		roleDefID:   "/defs/contributor",
		assignments: []domain.RoleAssignment{{ID: "/assignments/stale"}},
	}
	svc := newService(repo, armClient, &fakeGraph{objectID: "sp-1"})

	tokens := &fakeTokens{silentToken: "t", appOnlyToken: "t"}
	if err := svc.Repair(context.Background(), tokens, alice, "sub-2"); err != nil {
		t.Fatalf("Repair: %v", err)
	}
	for _, dir := range tokens.appOnlyDirectories {
		if dir != "tenant-2" {
			t.Fatalf("graph token acquired for %q, want tenant-2", dir)
		}
	}
	if len(tokens.appOnlyDirectories) == 0 {
		t.Fatalf("expected app-only acquisitions during repair")
	}
}
