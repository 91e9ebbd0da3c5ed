package core

import (
	"context"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActions_JSON_Unmarshalling(t *testing.T) {

	type Object struct {
		Actions []Action `json:"actions"`
	}
	var object Object
	jsonRead := `{"actions":["create","query","GET","count"]}`
	err := json.Unmarshal([]byte(jsonRead), &object)
	require.NoError(t, err)
	assert.Equal(t, []Action{ActionCreate, ActionQuery, ActionGet, ActionCount}, object.Actions)

	jsonRead = `{"actions":["invalid"]}`
	err = json.Unmarshal([]byte(jsonRead), &object)
	assert.Error(t, err, "invalid action accepted")
}

func TestCaller_Context(t *testing.T) {
	assert.Nil(t, CallerFromContext(context.Background()))
	assert.True(t, CallerFromContext(context.Background()).Anonymous())

	c := &Caller{UserID: uuid.New(), Name: "Jane"}
	ctx := c.ContextWithCaller(context.Background())
	assert.Equal(t, c, CallerFromContext(ctx))
	assert.False(t, CallerFromContext(ctx).Anonymous())
}

func TestCaller_CanManageApps(t *testing.T) {
	org := "acme"
	tests := []struct {
		name   string
		caller *Caller
		want   bool
	}{
		{"anonymous", nil, false},
		{"maintainer in studio", &Caller{UserID: uuid.New(), Studio: true, OrganizationRoles: map[string]string{org: OrganizationRoleMaintainer}}, true},
		{"owner with scope", &Caller{UserID: uuid.New(), ClientCredentials: true, Scopes: []string{ScopeResourcesManage}, OrganizationRoles: map[string]string{org: OrganizationRoleOwner}}, true},
		{"owner without scope", &Caller{UserID: uuid.New(), ClientCredentials: true, OrganizationRoles: map[string]string{org: OrganizationRoleOwner}}, false},
		{"member in studio", &Caller{UserID: uuid.New(), Studio: true, OrganizationRoles: map[string]string{org: OrganizationRoleMember}}, false},
		{"maintainer of other org", &Caller{UserID: uuid.New(), Studio: true, OrganizationRoles: map[string]string{"other": OrganizationRoleMaintainer}}, false},
		{"maintainer outside studio", &Caller{UserID: uuid.New(), OrganizationRoles: map[string]string{org: OrganizationRoleMaintainer}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caller.CanManageApps(org))
		})
	}
}
