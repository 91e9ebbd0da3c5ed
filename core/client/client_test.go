package client

import (
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/tenantkit/core"
)

func TestPaths(t *testing.T) {
	client := NewWithRouter(nil)

	resources := client.Resources(7, "task")
	assert.Equal(t, "/apps/7/resources/task", resources.Path())
	assert.Equal(t, "/apps/7/resources/task/12", resources.Item(12).Path())

	resources = resources.WithParameter("$filter", "done eq true").WithParameter("$top", "2")
	assert.Equal(t, "/apps/7/resources/task?%24filter=done+eq+true&%24top=2", resources.Path())
	assert.Equal(t, "/apps/7/resources/task/12?%24filter=done+eq+true&%24top=2", resources.Item(12).Path())
	assert.Equal(t, "/apps/7/resources/task/$count?%24filter=done+eq+true&%24top=2", resources.subPath("/$count"))
}

func TestWithHeaderCopies(t *testing.T) {
	client := NewWithRouter(nil)
	a := client.WithHeader("X-A", "a")
	b := a.WithHeader("X-B", "b")
	assert.Len(t, a.defaultHeaders, 1)
	assert.Len(t, b.defaultHeaders, 2)
	assert.Empty(t, client.defaultHeaders)
}

func TestRouterRequests(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		caller := core.CallerFromContext(r.Context())
		name := ""
		if caller != nil {
			name = caller.Name
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"name":"` + name + `","auth":"` + r.Header.Get("Authorization") + `"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/fail", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"statusCode":400,"error":"Bad Request","message":"nope"}`))
	})

	client := NewWithRouter(router).WithCaller(&core.Caller{Name: "ann"}).WithToken("t0k3n")
	var result map[string]string
	status, err := client.RawGet("/echo", &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ann", result["name"])
	assert.Equal(t, "Bearer t0k3n", result["auth"])

	status, err = client.RawPost("/fail", map[string]string{}, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	res, err := client.Do(http.MethodGet, "/fail", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "nope", res.Message())
}
