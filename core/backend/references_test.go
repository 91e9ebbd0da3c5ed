package backend

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const referencesDefinition = `{
	"resources": {
		"project": {"schema": {"type": "object", "properties": {"name": {"type": "string"}}}},
		"task": {
			"schema": {"type": "object", "properties": {"project": {"type": ["integer", "null"]}}},
			"references": {"project": {"resource": "project"}}
		},
		"label": {
			"schema": {"type": "object", "properties": {"project": {"type": ["integer", "null"]}}},
			"references": {"project": {"resource": "project", "delete": {"triggers": [{"type": "delete", "cascade": "update"}]}}}
		},
		"milestone": {
			"schema": {"type": "object", "properties": {"project": {"type": "integer"}}},
			"references": {"project": {"resource": "project", "delete": {"triggers": [{"type": "delete", "cascade": "delete"}]}}}
		},
		"comment": {
			"schema": {"type": "object"},
			"references": {"project": {"resource": "project"}}
		},
		"step": {
			"schema": {"type": "object", "properties": {"milestone": {"type": "integer"}}},
			"references": {"milestone": {"resource": "milestone", "delete": {"triggers": [{"type": "delete", "cascade": "delete"}]}}}
		}
	}
}`

func TestReferenceMustExist(t *testing.T) {
	app := createApp(t, referencesDefinition)
	res, err := testService.client.Do(http.MethodPost, as(nil).Resources(app.ID, "task").Path(), nil,
		map[string]any{"project": 987654321})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	_, err = as(nil).Resources(app.ID, "task").Create(map[string]any{"project": nil}, nil)
	assert.NoError(t, err, "null references are allowed")
}

func TestReferenceMustBeAnID(t *testing.T) {
	app := createApp(t, referencesDefinition)
	var project map[string]any
	_, err := as(nil).Resources(app.ID, "project").Create(map[string]any{"name": "p"}, &project)
	require.NoError(t, err)
	projectID := id(t, project)

	res, err := testService.client.Do(http.MethodPost, as(nil).Resources(app.ID, "comment").Path(), nil,
		[]map[string]any{
			{"project": formatID(projectID)},
			{"project": 1.5},
			{"project": map[string]any{"id": projectID}},
			{"project": projectID},
			{"project": nil},
			{},
		})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	var body struct {
		Data struct {
			Errors []struct {
				Property string `json:"property"`
				Name     string `json:"name"`
			} `json:"errors"`
		} `json:"data"`
	}
	require.NoError(t, res.Decode(&body))
	var properties []string
	for _, e := range body.Data.Errors {
		assert.Equal(t, "reference", e.Name)
		properties = append(properties, e.Property)
	}
	assert.Equal(t, []string{"instance[0].project", "instance[1].project", "instance[2].project"}, properties)

	count, err := as(nil).Resources(app.ID, "comment").Count()
	require.NoError(t, err)
	assert.Zero(t, count, "nothing is stored")

	_, err = as(nil).Resources(app.ID, "comment").Create(map[string]any{"project": projectID}, nil)
	assert.NoError(t, err)
}

func TestDeleteBlockedByReference(t *testing.T) {
	app := createApp(t, referencesDefinition)
	var project, task map[string]any
	_, err := as(nil).Resources(app.ID, "project").Create(map[string]any{"name": "p"}, &project)
	require.NoError(t, err)
	_, err = as(nil).Resources(app.ID, "task").Create(map[string]any{"project": project["id"]}, &task)
	require.NoError(t, err)

	res, err := testService.client.Do(http.MethodDelete, as(nil).Resources(app.ID, "project").Item(id(t, project)).Path(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "Cannot delete resource "+formatID(id(t, project))+". There is a resource of type task that references it.", res.Message())

	var body struct {
		Data struct {
			Referencer string `json:"referencer"`
			ID         int64  `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, res.Decode(&body))
	assert.Equal(t, "task", body.Data.Referencer)
	assert.Equal(t, id(t, task), body.Data.ID)

	_, err = as(nil).Resources(app.ID, "project").Item(id(t, project)).Read(nil)
	assert.NoError(t, err, "the project still exists")
}

func TestDeleteCascades(t *testing.T) {
	app := createApp(t, referencesDefinition)
	var project, label, milestone, step map[string]any
	_, err := as(nil).Resources(app.ID, "project").Create(map[string]any{"name": "p"}, &project)
	require.NoError(t, err)
	_, err = as(nil).Resources(app.ID, "label").Create(map[string]any{"project": project["id"]}, &label)
	require.NoError(t, err)
	_, err = as(nil).Resources(app.ID, "milestone").Create(map[string]any{"project": project["id"]}, &milestone)
	require.NoError(t, err)
	_, err = as(nil).Resources(app.ID, "step").Create(map[string]any{"milestone": milestone["id"]}, &step)
	require.NoError(t, err)

	_, err = as(nil).Resources(app.ID, "project").Item(id(t, project)).Delete()
	require.NoError(t, err)

	var updated map[string]any
	_, err = as(nil).Resources(app.ID, "label").Item(id(t, label)).Read(&updated)
	require.NoError(t, err)
	assert.Contains(t, updated, "project")
	assert.Nil(t, updated["project"], "cascade update nulls the reference")

	status, _ := as(nil).Resources(app.ID, "milestone").Item(id(t, milestone)).Read(nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = as(nil).Resources(app.ID, "step").Item(id(t, step)).Read(nil)
	assert.Equal(t, http.StatusNotFound, status, "cascades are followed transitively")

	deleted := map[string][]int64{}
	for _, e := range testService.events.of(app.ID) {
		if e.Action == "delete" {
			deleted[e.Type] = append(deleted[e.Type], e.ResourceIDs...)
		}
	}
	assert.Equal(t, map[string][]int64{
		"project":   {id(t, project)},
		"milestone": {id(t, milestone)},
		"step":      {id(t, step)},
	}, deleted)
}

func TestDeleteBlockedDeepInCascade(t *testing.T) {
	app := createApp(t, `{
		"resources": {
			"project": {"schema": {"type": "object"}},
			"milestone": {
				"schema": {"type": "object"},
				"references": {"project": {"resource": "project", "delete": {"triggers": [{"type": "delete", "cascade": "delete"}]}}}
			},
			"note": {
				"schema": {"type": "object"},
				"references": {"milestone": {"resource": "milestone"}}
			}
		}
	}`)
	var project, milestone map[string]any
	_, err := as(nil).Resources(app.ID, "project").Create(map[string]any{}, &project)
	require.NoError(t, err)
	_, err = as(nil).Resources(app.ID, "milestone").Create(map[string]any{"project": project["id"]}, &milestone)
	require.NoError(t, err)
	_, err = as(nil).Resources(app.ID, "note").Create(map[string]any{"milestone": milestone["id"]}, nil)
	require.NoError(t, err)

	status, err := as(nil).Resources(app.ID, "project").Item(id(t, project)).Delete()
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	_, err = as(nil).Resources(app.ID, "milestone").Item(id(t, milestone)).Read(nil)
	assert.NoError(t, err, "nothing is deleted when the cascade is blocked")
}

func TestDeleteCascadesThousand(t *testing.T) {
	app := createApp(t, referencesDefinition)
	var projects []map[string]any
	_, err := as(nil).Resources(app.ID, "project").Create([]map[string]any{{"name": "a"}, {"name": "b"}}, &projects)
	require.NoError(t, err)

	milestones := make([]map[string]any, 1000)
	for i := range milestones {
		milestones[i] = map[string]any{"project": projects[i%2]["id"]}
	}
	_, err = as(nil).Resources(app.ID, "milestone").Create(milestones, nil)
	require.NoError(t, err)

	_, err = as(nil).Resources(app.ID, "project").DeleteMany(id(t, projects[0]), id(t, projects[1]))
	require.NoError(t, err)

	count, err := as(nil).Resources(app.ID, "milestone").Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}
