package backend

import (
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/tenantkit/core/client"
)

func TestCORS(t *testing.T) {
	router := mux.NewRouter()
	New(&Builder{
		DB:             testService.db,
		Router:         router,
		Subscriptions:  testService.backend.subscriptions,
		AllowedOrigins: []string{"https://studio.example"},
	})
	c := client.NewWithRouter(router)
	app := createApp(t, notesDefinition)
	path := c.Resources(app.ID, "note").Path()

	res, err := c.Do(http.MethodOptions, path, map[string]string{
		"Origin":                         "https://studio.example",
		"Access-Control-Request-Method":  http.MethodPost,
		"Access-Control-Request-Headers": "Content-Type",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	assert.Equal(t, "https://studio.example", res.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "600", res.Header.Get("Access-Control-Max-Age"))

	res, err = c.Do(http.MethodGet, path, map[string]string{"Origin": "https://studio.example"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, res.Header.Get("Access-Control-Expose-Headers"), "Etag")

	res, err = c.Do(http.MethodGet, path, map[string]string{"Origin": "https://elsewhere.example"}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode, "same origin policy is enforced by the browser")
	assert.Empty(t, res.Header.Get("Access-Control-Allow-Origin"))
}
