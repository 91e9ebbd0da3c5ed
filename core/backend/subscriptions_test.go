package backend

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/tenantkit/core"
	"github.com/relabs-tech/tenantkit/core/notify"
)

const hooksDefinition = `
security:
  default:
    role: Reader
  roles:
    Reader: {}
    Admin: {}
resources:
  ticket:
    schema:
      type: object
      properties:
        subject: {type: string}
    create:
      hooks:
        notification:
          to: [Admin]
    update:
      hooks:
        notification:
          to: [$author]
          subscribe: all
  comment:
    schema:
      type: object
`

func TestNotificationEvents(t *testing.T) {
	app := createApp(t, hooksDefinition)
	reader := addMember(t, app, "reader", "Reader")
	tickets := as(reader).Resources(app.ID, "ticket")

	var created map[string]any
	_, err := tickets.Create(map[string]any{"subject": "broken"}, &created)
	require.NoError(t, err)
	_, err = tickets.Item(id(t, created)).Patch(map[string]any{"subject": "fixed"}, nil)
	require.NoError(t, err)

	events := testService.events.of(app.ID)
	require.Len(t, events, 2)
	assert.Equal(t, core.ActionCreate, events[0].Action)
	assert.Equal(t, []string{"Admin"}, events[0].Recipients)
	assert.False(t, events[0].Subscribable)

	assert.Equal(t, core.ActionUpdate, events[1].Action)
	assert.Equal(t, []string{"$author"}, events[1].Recipients)
	assert.True(t, events[1].Subscribable)
	author := created["$author"].(map[string]any)
	require.Len(t, events[1].AuthorIDs, 1)
	assert.Equal(t, author["id"], events[1].AuthorIDs[0].String())
}

func TestSubscriptions(t *testing.T) {
	app := createApp(t, hooksDefinition)
	reader := addMember(t, app, "reader", "Reader")
	tickets := as(reader).Resources(app.ID, "ticket")
	path := tickets.Path() + "/subscriptions"

	var created map[string]any
	_, err := tickets.Create(map[string]any{"subject": "broken"}, &created)
	require.NoError(t, err)
	itemPath := tickets.Item(id(t, created)).Path() + "/subscriptions"

	var subscription notify.Subscription
	_, err = as(reader).RawPost(path, map[string]string{"action": "update"}, &subscription)
	require.NoError(t, err)
	assert.Equal(t, core.ActionUpdate, subscription.Action)
	assert.Nil(t, subscription.ResourceID)

	_, err = as(reader).RawPost(itemPath, map[string]string{"action": "update"}, nil)
	require.NoError(t, err)
	_, err = as(reader).RawPost(itemPath, map[string]string{"action": "update"}, nil)
	require.NoError(t, err, "subscribing twice is fine")

	var list []notify.Subscription
	_, err = as(reader).RawGet(path, &list)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	_, err = as(reader).RawGet(itemPath, &list)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id(t, created), *list[0].ResourceID)

	testCases := []struct {
		name   string
		client func() (int, error)
		status int
	}{
		{"action without hook", func() (int, error) {
			return as(reader).RawPost(path, map[string]string{"action": "create"}, nil)
		}, http.StatusBadRequest},
		{"action which is not subscribable", func() (int, error) {
			return as(reader).RawPost(path, map[string]string{"action": "get"}, nil)
		}, http.StatusBadRequest},
		{"anonymous", func() (int, error) {
			return as(nil).RawPost(path, map[string]string{"action": "update"}, nil)
		}, http.StatusUnauthorized},
		{"no member", func() (int, error) {
			return as(&core.Caller{UserID: uuid.New()}).RawPost(path, map[string]string{"action": "update"}, nil)
		}, http.StatusForbidden},
		{"unknown resource", func() (int, error) {
			return as(reader).RawPost(tickets.Item(987654321).Path()+"/subscriptions", map[string]string{"action": "update"}, nil)
		}, http.StatusNotFound},
		{"type without hooks", func() (int, error) {
			return as(reader).RawPost(as(nil).Resources(app.ID, "comment").Path()+"/subscriptions", map[string]string{"action": "update"}, nil)
		}, http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			status, err := tc.client()
			assert.Error(t, err)
			assert.Equal(t, tc.status, status)
		})
	}

	res, err := as(reader).Do(http.MethodDelete, itemPath, nil, map[string]string{"action": "update"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, res.StatusCode)
	_, err = as(reader).RawGet(path, &list)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].ResourceID)
}
