package domain

// PermissionGrant is one role assignment's effect on a principal for a
// subscription: a set of allowed action patterns and a set of excluded
// action patterns. Patterns are case-insensitive and use "*" as a wildcard.
type PermissionGrant struct {
	Actions    []string `json:"actions"`
	NotActions []string `json:"notActions"`
}

// RoleAssignment is the minimal shape of an existing role assignment as
// returned by the resource-management API. ID is the full resource path
// usable for deletion.
type RoleAssignment struct {
	ID   string
	Name string
}
