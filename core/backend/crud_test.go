package backend

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/tenantkit/core"
)

const notesDefinition = `{
	"resources": {
		"note": {
			"schema": {
				"type": "object",
				"properties": {
					"foo": {"type": "string"},
					"n": {"type": "number"}
				}
			}
		}
	}
}`

func TestRoundTrip(t *testing.T) {
	app := createApp(t, notesDefinition)
	notes := as(nil).Resources(app.ID, "note")

	var created map[string]any
	status, err := notes.Create(map[string]any{"foo": "bar"}, &created)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)

	var fetched map[string]any
	_, err = notes.Item(id(t, created)).Read(&fetched)
	require.NoError(t, err)
	assert.Equal(t, created, fetched)

	keys := []string{}
	for k := range fetched {
		keys = append(keys, k)
	}
	assert.ElementsMatch(t, []string{"id", "$created", "$updated", "foo"}, keys)
	assert.Equal(t, "bar", fetched["foo"])
	assert.Equal(t, fetched["$created"], fetched["$updated"])

	events := testService.events.of(app.ID)
	require.Len(t, events, 1)
	assert.Equal(t, core.ActionCreate, events[0].Action)
	assert.Equal(t, []int64{id(t, created)}, events[0].ResourceIDs)
}

func TestNotFoundMessages(t *testing.T) {
	empty := createApp(t, `{"name": "empty"}`)
	app := createApp(t, notesDefinition)

	testCases := []struct {
		path    string
		message string
	}{
		{"/apps/987654321/resources/note", "App not found"},
		{"/apps/" + strconv.FormatInt(empty.ID, 10) + "/resources/note", "App does not have any resources defined"},
		{"/apps/" + strconv.FormatInt(app.ID, 10) + "/resources/task", "App does not have resources called task"},
		{"/apps/" + strconv.FormatInt(app.ID, 10) + "/resources/note/987654321", "Resource not found"},
		{"/apps/" + strconv.FormatInt(app.ID, 10) + "/resources/note?view=compact", "View compact does not exist for resource type note"},
		{"/apps/" + strconv.FormatInt(app.ID, 10) + "/assets/unknown", "Asset not found"},
	}
	for _, tc := range testCases {
		t.Run(tc.path, func(t *testing.T) {
			res, err := testService.client.Do(http.MethodGet, tc.path, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, http.StatusNotFound, res.StatusCode)
			assert.Equal(t, tc.message, res.Message())
		})
	}
}

func TestValidation(t *testing.T) {
	app := createApp(t, `{
		"resources": {
			"task": {
				"schema": {
					"type": "object",
					"required": ["title"],
					"properties": {"title": {"type": "string"}, "done": {"type": "boolean"}}
				}
			}
		}
	}`)

	res, err := testService.client.Do(http.MethodPost, as(nil).Resources(app.ID, "task").Path(), nil,
		map[string]any{"done": "yes"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	var body struct {
		Error string `json:"error"`
		Data  struct {
			Errors []struct {
				Property string `json:"property"`
				Name     string `json:"name"`
			} `json:"errors"`
		} `json:"data"`
	}
	require.NoError(t, res.Decode(&body))
	assert.Equal(t, "Bad Request", body.Error)
	names := []string{}
	for _, e := range body.Data.Errors {
		names = append(names, e.Name)
	}
	assert.Contains(t, names, "required")
	assert.Contains(t, names, "type")

	count, err := as(nil).Resources(app.ID, "task").Count()
	require.NoError(t, err)
	assert.Zero(t, count, "nothing is written when validation fails")
}

func TestCreateArray(t *testing.T) {
	app := createApp(t, notesDefinition)
	notes := as(nil).Resources(app.ID, "note")

	var created []map[string]any
	_, err := notes.Create([]map[string]any{{"foo": "a"}, {"foo": "b"}}, &created)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "a", created[0]["foo"])
	assert.Equal(t, "b", created[1]["foo"])

	res, err := testService.client.Do(http.MethodPost, notes.Path(), nil, []byte(`[]`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "No resources were provided.", res.Message())
}

func TestCreateCSV(t *testing.T) {
	app := createApp(t, notesDefinition)
	notes := as(nil).Resources(app.ID, "note")

	res, err := testService.client.Do(http.MethodPost, notes.Path(), map[string]string{"Content-Type": "text/csv"},
		[]byte("foo,n\nx,1\ny,2.5\n"))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(res.Body))

	var created []map[string]any
	require.NoError(t, res.Decode(&created))
	require.Len(t, created, 2)
	assert.Equal(t, 2.5, created[1]["n"])
}

func TestUpdateAndPatch(t *testing.T) {
	app := createApp(t, notesDefinition)
	notes := as(nil).Resources(app.ID, "note")

	var created map[string]any
	_, err := notes.Create(map[string]any{"foo": "bar", "n": 1}, &created)
	require.NoError(t, err)
	item := notes.Item(id(t, created))

	testService.clock.advance(t, time.Second)

	var updated map[string]any
	_, err = item.Update(map[string]any{"foo": "baz"}, &updated)
	require.NoError(t, err)
	assert.Equal(t, "baz", updated["foo"])
	assert.NotContains(t, updated, "n", "PUT replaces the data")
	assert.Equal(t, created["$created"], updated["$created"])
	assert.NotEqual(t, updated["$created"], updated["$updated"])

	var patched map[string]any
	_, err = item.Patch(map[string]any{"n": 2}, &patched)
	require.NoError(t, err)
	assert.Equal(t, "baz", patched["foo"])
	assert.Equal(t, 2.0, patched["n"])

	status, err := notes.Item(987654321).Update(map[string]any{"foo": "x"}, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestUpdateMany(t *testing.T) {
	app := createApp(t, notesDefinition)
	notes := as(nil).Resources(app.ID, "note")

	var created []map[string]any
	_, err := notes.Create([]map[string]any{{"foo": "a"}, {"foo": "b"}}, &created)
	require.NoError(t, err)

	var updated []map[string]any
	_, err = notes.UpdateMany([]map[string]any{
		{"id": created[0]["id"], "foo": "A"},
		{"id": created[1]["id"], "foo": "B"},
	}, &updated)
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.Equal(t, "A", updated[0]["foo"])
	assert.Equal(t, "B", updated[1]["foo"])

	res, err := testService.client.Do(http.MethodPut, notes.Path(), nil, []map[string]any{{"foo": "no id"}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "List of resources contained a resource without an ID.", res.Message())

	res, err = testService.client.Do(http.MethodPut, notes.Path(), nil, []map[string]any{
		{"id": created[0]["id"], "foo": "x"},
		{"id": 987654321, "foo": "y"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Equal(t, "One or more resources could not be found.", res.Message())

	var first map[string]any
	_, err = notes.Item(id(t, created[0])).Read(&first)
	require.NoError(t, err)
	assert.Equal(t, "A", first["foo"], "a failed bulk update changes nothing")
}

func TestDelete(t *testing.T) {
	app := createApp(t, notesDefinition)
	notes := as(nil).Resources(app.ID, "note")

	var created []map[string]any
	_, err := notes.Create([]map[string]any{{"foo": "a"}, {"foo": "b"}, {"foo": "c"}}, &created)
	require.NoError(t, err)

	status, err := notes.Item(id(t, created[0])).Delete()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	status, err = notes.Item(id(t, created[0])).Delete()
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, status)

	// unknown ids are ignored by bulk deletes
	_, err = notes.DeleteMany(id(t, created[1]), id(t, created[2]), 987654321)
	require.NoError(t, err)

	count, err := notes.Count()
	require.NoError(t, err)
	assert.Zero(t, count)

	events := testService.events.of(app.ID)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, core.ActionDelete, last.Action)
	assert.ElementsMatch(t, []int64{id(t, created[1]), id(t, created[2])}, last.ResourceIDs)
}

func TestDeleteThousand(t *testing.T) {
	app := createApp(t, notesDefinition)
	notes := as(nil).Resources(app.ID, "note")

	batch := make([]map[string]any, 1000)
	for i := range batch {
		batch[i] = map[string]any{"foo": "note " + strconv.Itoa(i)}
	}
	var created []map[string]any
	_, err := notes.Create(batch, &created)
	require.NoError(t, err)
	require.Len(t, created, 1000)

	ids := make([]int64, len(created))
	for i, resource := range created {
		ids[i] = id(t, resource)
	}
	status, err := notes.DeleteMany(ids...)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	count, err := notes.Count()
	require.NoError(t, err)
	assert.Zero(t, count)

	events := testService.events.of(app.ID)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, core.ActionDelete, last.Action)
	assert.Len(t, last.ResourceIDs, 1000)
}

func TestDeleteManyWithQuery(t *testing.T) {
	app := createApp(t, notesDefinition)
	notes := as(nil).Resources(app.ID, "note")

	var created []map[string]any
	_, err := notes.Create([]map[string]any{{"foo": "a"}, {"foo": "b"}, {"foo": "c"}}, &created)
	require.NoError(t, err)

	ids := formatID(id(t, created[0])) + ", " + formatID(id(t, created[2]))
	_, err = testService.client.RawDelete(notes.WithParameter("ids", ids).Path())
	require.NoError(t, err)

	var left []map[string]any
	_, err = notes.List(&left)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "b", left[0]["foo"])

	for _, path := range []string{notes.Path(), notes.WithParameter("ids", "1,x").Path()} {
		status, err := testService.client.RawDelete(path)
		assert.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, status)
	}
}

func TestEtag(t *testing.T) {
	app := createApp(t, notesDefinition)
	notes := as(nil).Resources(app.ID, "note")

	var created map[string]any
	_, err := notes.Create(map[string]any{"foo": "bar"}, &created)
	require.NoError(t, err)
	path := notes.Item(id(t, created)).Path()

	_, header, err := testService.client.RawGetWithHeader(path, nil, &map[string]any{})
	require.NoError(t, err)
	etag := header.Get("Etag")
	require.NotEmpty(t, etag)

	testCases := []struct {
		ifNoneMatch    string
		expectedStatus int
	}{
		{etag, http.StatusNotModified},
		{etag + `, "1234"`, http.StatusNotModified},
		{"*", http.StatusNotModified},
		{`"54637", "1234"`, http.StatusOK},
	}
	for _, tc := range testCases {
		t.Run(tc.ifNoneMatch, func(t *testing.T) {
			status, _, err := testService.client.RawGetWithHeader(path, map[string]string{"If-None-Match": tc.ifNoneMatch}, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.expectedStatus, status)
		})
	}

	_, err = notes.Item(id(t, created)).Patch(map[string]any{"foo": "baz"}, nil)
	require.NoError(t, err)
	status, _, err := testService.client.RawGetWithHeader(path, map[string]string{"If-None-Match": etag}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status, "the etag changes with the resource")
}

func TestVersion(t *testing.T) {
	var version map[string]string
	_, err := testService.client.RawGet("/version", &version)
	require.NoError(t, err)
	assert.Equal(t, Version, version["version"])
}
