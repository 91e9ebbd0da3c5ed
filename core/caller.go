package core

import (
	"context"

	"github.com/google/uuid"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyCaller contextKey = "_caller_"
)

// organization roles which may act on behalf of an app's members
const (
	OrganizationRoleOwner      = "Owner"
	OrganizationRoleMaintainer = "Maintainer"
	OrganizationRoleAppEditor  = "AppEditor"
	OrganizationRoleMember     = "Member"
)

// ScopeResourcesManage is the OAuth scope a client credential needs to manage resources
// of its organization's apps
const ScopeResourcesManage = "resources:manage"

/*Caller is a context object which stores the identity of the user or client
that issued the current request.

Callers are added to a request context with

	ctx = caller.ContextWithCaller(ctx)

and retrieved with

	caller := CallerFromContext(ctx)

A missing caller means the request is anonymous. App roles are not part of the
caller, they are resolved per request from the app's members.
*/
type Caller struct {
	UserID            uuid.UUID         `json:"sub"`
	Name              string            `json:"name,omitempty"`
	OrganizationRoles map[string]string `json:"organization_roles,omitempty"`
	Scopes            []string          `json:"scopes,omitempty"`
	ClientCredentials bool              `json:"client_credentials,omitempty"`
	Studio            bool              `json:"studio,omitempty"`
}

// Anonymous returns true if there is no authenticated user
func (c *Caller) Anonymous() bool {
	return c == nil || c.UserID == uuid.Nil
}

// OrganizationRole returns the caller's role in the organization, or an empty string.
func (c *Caller) OrganizationRole(organizationID string) string {
	if c == nil || c.OrganizationRoles == nil {
		return ""
	}
	return c.OrganizationRoles[organizationID]
}

// HasScope returns true if the caller's token was granted scope
func (c *Caller) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// CanManageApps returns true if the caller acts on behalf of an organization role that
// may manage the resources of all apps of that organization. This is only the case when the
// request comes from the studio or from client credentials with the resource scope.
func (c *Caller) CanManageApps(organizationID string) bool {
	if c.Anonymous() {
		return false
	}
	switch c.OrganizationRole(organizationID) {
	case OrganizationRoleOwner, OrganizationRoleMaintainer, OrganizationRoleAppEditor:
	default:
		return false
	}
	return c.Studio || (c.ClientCredentials && c.HasScope(ScopeResourcesManage))
}

// ContextWithCaller returns a new context with this caller added to it
func (c *Caller) ContextWithCaller(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyCaller, c)
}

// CallerFromContext retrieves a caller from the context. It returns nil for
// anonymous requests.
func CallerFromContext(ctx context.Context) *Caller {
	c, ok := ctx.Value(contextKeyCaller).(*Caller)
	if ok {
		return c
	}
	return nil
}
