/*Package access provides the access evaluator for app resources.

A Subject is the caller of a request resolved against one app: the caller's identity,
the caller's membership and, lazily, the caller's teams. The subject evaluates role lists
of resource definitions into a decision. An allowing decision carries a visibility
predicate which restricts the rows the caller may see or modify.

A subject lives for a single request. Role closures and team lookups are memoized on
the subject and never shared between requests.
*/
package access

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/relabs-tech/tenantkit/core"
	"github.com/relabs-tech/tenantkit/core/apierror"
	"github.com/relabs-tech/tenantkit/core/metrics"
	"github.com/relabs-tech/tenantkit/core/query"
	"github.com/relabs-tech/tenantkit/core/registry"
	"github.com/relabs-tech/tenantkit/core/schema"
)

// Directory looks up memberships and teams. It is implemented by registry.Registry.
type Directory interface {
	Member(ctx context.Context, appID int64, userID uuid.UUID) (*registry.Member, error)
	TeamRoles(ctx context.Context, appID int64, memberID uuid.UUID) ([]registry.TeamRole, error)
	TeamMembers(ctx context.Context, teamIDs []int64) ([]uuid.UUID, error)
}

// Subject is the caller of a request resolved against an app
type Subject struct {
	App    *registry.App
	Caller *core.Caller
	// Member is nil if the caller is anonymous or not a member of the app
	Member *registry.Member

	directory Directory
	closure   map[string]bool
	teamRoles []registry.TeamRole
	teamsRead bool
}

// NewSubject resolves the caller's membership in app
func NewSubject(ctx context.Context, app *registry.App, caller *core.Caller, directory Directory) (*Subject, error) {
	s := &Subject{App: app, Caller: caller, directory: directory}
	if caller.Anonymous() {
		return s, nil
	}
	member, err := directory.Member(ctx, app.ID, caller.UserID)
	if err != nil {
		return nil, err
	}
	s.Member = member
	return s, nil
}

// MemberID returns the member id of the caller, or nil
func (s *Subject) MemberID() *uuid.UUID {
	if s.Member == nil {
		return nil
	}
	id := s.Member.ID
	return &id
}

// Decision is the outcome of an allowing evaluation
type Decision struct {
	// Predicate restricts the visible rows. Nil means all rows are visible.
	Predicate query.Node
	// Override is true if the caller acts with organization privileges
	Override bool
}

// Authorize evaluates roles. Roles are combined as union: the decision allows the caller
// if any role is satisfied, and the predicate admits every row any satisfied role admits.
//
// A caller who satisfies no role gets 401 when anonymous, 403 "not a member" without
// membership and 403 "insufficient permissions" otherwise.
func (s *Subject) Authorize(ctx context.Context, roles schema.RoleList) (*Decision, error) {
	decision, err := s.authorize(ctx, roles)
	result := "allow"
	if err != nil {
		result = "deny"
	}
	metrics.AccessDecisions.WithLabelValues(result).Inc()
	return decision, err
}

func (s *Subject) authorize(ctx context.Context, roles schema.RoleList) (*Decision, error) {
	if s.Caller.CanManageApps(s.App.OrganizationID) {
		return &Decision{Override: true}, nil
	}

	var predicates []query.Node
	for _, role := range roles {
		switch role {
		case schema.RolePublic:
			return &Decision{}, nil
		case schema.RoleNone:
		case schema.RoleMember:
			if s.Member != nil {
				return &Decision{}, nil
			}
		case schema.RoleAuthor:
			if s.Member != nil {
				predicates = append(predicates, query.AuthorIs{ID: s.Member.ID})
			}
		case schema.RoleTeamMember, schema.RoleTeamManager:
			if s.Member == nil {
				continue
			}
			teamRole := registry.TeamRoleMember
			if role == schema.RoleTeamManager {
				teamRole = registry.TeamRoleManager
			}
			ids, err := s.teamMates(ctx, teamRole)
			if err != nil {
				return nil, err
			}
			predicates = append(predicates, query.AuthorIn{IDs: ids})
		default:
			if s.HasRole(role) {
				return &Decision{}, nil
			}
		}
	}
	if len(predicates) > 0 {
		return &Decision{Predicate: query.OrOf(predicates...)}, nil
	}
	return nil, s.denial()
}

func (s *Subject) denial() error {
	switch {
	case s.Caller.Anonymous():
		return apierror.ErrNotLoggedIn
	case s.Member == nil:
		return apierror.ErrNotAMember
	}
	return apierror.ErrInsufficientRoles
}

// HasRole returns true if the member's app role is role or inherits it, directly
// or transitively
func (s *Subject) HasRole(role string) bool {
	if s.Member == nil {
		return false
	}
	if s.closure == nil {
		s.closure = roleClosure(s.App.Definition, s.Member.Role)
	}
	return s.closure[role]
}

// roleClosure returns the role and all roles it inherits. The inherits graph is
// traversed with an explicit stack, cycles are ignored.
func roleClosure(def *schema.AppDefinition, role string) map[string]bool {
	closure := map[string]bool{}
	stack := []string{role}
	for len(stack) > 0 {
		r := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if closure[r] {
			continue
		}
		closure[r] = true
		if def == nil || def.Security == nil {
			continue
		}
		stack = append(stack, def.Security.Roles[r].Inherits...)
	}
	return closure
}

func (s *Subject) teams(ctx context.Context) ([]registry.TeamRole, error) {
	if !s.teamsRead {
		roles, err := s.directory.TeamRoles(ctx, s.App.ID, s.Member.ID)
		if err != nil {
			return nil, fmt.Errorf("cannot read teams: %w", err)
		}
		s.teamRoles, s.teamsRead = roles, true
	}
	return s.teamRoles, nil
}

// teamMates returns the members of the caller's teams. With role manager, only teams the
// caller manages are considered and the caller is excluded.
func (s *Subject) teamMates(ctx context.Context, role string) ([]uuid.UUID, error) {
	teams, err := s.teams(ctx)
	if err != nil {
		return nil, err
	}
	var teamIDs []int64
	for _, t := range teams {
		if role == registry.TeamRoleMember || t.Role == registry.TeamRoleManager {
			teamIDs = append(teamIDs, t.TeamID)
		}
	}
	ids, err := s.directory.TeamMembers(ctx, teamIDs)
	if err != nil {
		return nil, fmt.Errorf("cannot read team members: %w", err)
	}
	if role != registry.TeamRoleManager {
		return ids, nil
	}
	others := ids[:0:0]
	for _, id := range ids {
		if id != s.Member.ID {
			others = append(others, id)
		}
	}
	return others, nil
}

// TeamFilter returns the predicate of the $team query option. Callers without
// membership see nothing.
func (s *Subject) TeamFilter(ctx context.Context, team string) (query.Node, error) {
	if team == "" {
		return nil, nil
	}
	if s.Member == nil {
		return query.False{}, nil
	}
	role := registry.TeamRoleMember
	if team == query.TeamManager {
		role = registry.TeamRoleManager
	}
	ids, err := s.teamMates(ctx, role)
	if err != nil {
		return nil, err
	}
	return query.AuthorIn{IDs: ids}, nil
}
