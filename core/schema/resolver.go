package schema

import (
	"github.com/relabs-tech/tenantkit/core"
	"github.com/relabs-tech/tenantkit/core/apierror"
)

// pseudo roles which can be used in role lists besides app roles
const (
	RolePublic      = "$public"
	RoleNone        = "$none"
	RoleAuthor      = "$author"
	RoleTeamMember  = "$team:member"
	RoleTeamManager = "$team:manager"
	// RoleMember is satisfied by every member of the app, regardless of the role. It is
	// the requirement for actions without roles in apps that define security.
	RoleMember = "$member"
)

// Resolve returns the definition of resourceType. It distinguishes an app without any
// resources from an app that lacks this particular type.
func Resolve(def *AppDefinition, resourceType string) (*ResourceDefinition, error) {
	if def == nil || len(def.Resources) == 0 {
		return nil, apierror.ErrNoResources
	}
	rd, ok := def.Resources[resourceType]
	if !ok || rd == nil {
		return nil, apierror.NotFound("App does not have resources called %s", resourceType)
	}
	return rd, nil
}

// Roles resolves the role list for action. Action roles take precedence over resource
// roles. Without either, apps with security require membership and apps without security
// are public.
func Roles(def *AppDefinition, rd *ResourceDefinition, action core.Action) RoleList {
	if ad := rd.Action(action); ad != nil && ad.Roles != nil {
		return ad.Roles
	}
	if rd.Roles != nil {
		return rd.Roles
	}
	return defaultRoles(def)
}

// View returns the named view of rd
func View(rd *ResourceDefinition, resourceType, name string) (*ViewDefinition, error) {
	view, ok := rd.Views[name]
	if !ok {
		return nil, apierror.NotFound("View %s does not exist for resource type %s", name, resourceType)
	}
	return &view, nil
}

// ViewRoles returns the roles of view, falling back to the roles of the get action
func ViewRoles(def *AppDefinition, rd *ResourceDefinition, view *ViewDefinition) RoleList {
	if view.Roles != nil {
		return view.Roles
	}
	return Roles(def, rd, core.ActionGet)
}

func defaultRoles(def *AppDefinition) RoleList {
	if def != nil && def.Security != nil {
		return RoleList{RoleMember}
	}
	return RoleList{RolePublic}
}

// References returns all references to targetType declared by any resource type of the
// app, keyed by the referencing type and then by the referencing property
func References(def *AppDefinition, targetType string) map[string]map[string]ReferenceDefinition {
	result := map[string]map[string]ReferenceDefinition{}
	if def == nil {
		return result
	}
	for resourceType, rd := range def.Resources {
		if rd == nil {
			continue
		}
		for property, ref := range rd.References {
			if ref.Resource != targetType {
				continue
			}
			if result[resourceType] == nil {
				result[resourceType] = map[string]ReferenceDefinition{}
			}
			result[resourceType][property] = ref
		}
	}
	return result
}
