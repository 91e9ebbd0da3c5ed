package backend

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpires(t *testing.T) {
	app := createApp(t, `{
		"resources": {
			"offer": {"schema": {"type": "object"}},
			"session": {"schema": {"type": "object"}, "expires": "1days"}
		}
	}`)
	offers := as(nil).Resources(app.ID, "offer")

	var created map[string]any
	_, err := offers.Create(map[string]any{}, &created)
	require.NoError(t, err)
	assert.NotContains(t, created, "$expires")
	item := offers.Item(id(t, created))

	expires := testService.clock.Now().Add(time.Hour).UTC()
	var updated map[string]any
	_, err = item.Patch(map[string]any{"$expires": expires.Format(time.RFC3339)}, &updated)
	require.NoError(t, err)
	assert.Equal(t, expires.Truncate(time.Second).Format(time.RFC3339), updated["$expires"])

	_, err = item.Read(nil)
	require.NoError(t, err, "retrievable before expiry")

	testService.clock.advance(t, 2*time.Hour)
	status, _ := item.Read(nil)
	assert.Equal(t, http.StatusNotFound, status)
	count, err := offers.Count()
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestExpiresInThePast(t *testing.T) {
	app := createApp(t, `{"resources": {"offer": {"schema": {"type": "object"}}}}`)
	past := testService.clock.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	status, err := as(nil).Resources(app.ID, "offer").Create(map[string]any{"$expires": past}, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestExpiresDuration(t *testing.T) {
	app := createApp(t, `{
		"resources": {
			"offer": {"schema": {"type": "object"}},
			"session": {"schema": {"type": "object"}, "expires": "1days"}
		}
	}`)

	var session map[string]any
	_, err := as(nil).Resources(app.ID, "session").Create(map[string]any{}, &session)
	require.NoError(t, err)
	assert.Contains(t, session, "$expires", "the default expiry of the type applies")

	var offer map[string]any
	_, err = as(nil).Resources(app.ID, "offer").Create(map[string]any{"$expires": "2hours"}, &offer)
	require.NoError(t, err)
	expires, err := time.Parse(time.RFC3339Nano, offer["$expires"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, testService.clock.Now().Add(2*time.Hour), expires, time.Minute)

	testService.clock.advance(t, 3*time.Hour)
	status, _ := as(nil).Resources(app.ID, "offer").Item(id(t, offer)).Read(nil)
	assert.Equal(t, http.StatusNotFound, status)
	_, err = as(nil).Resources(app.ID, "session").Item(id(t, session)).Read(nil)
	assert.NoError(t, err)
}
