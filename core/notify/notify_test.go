package notify_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/tenantkit/core"
	"github.com/relabs-tech/tenantkit/core/notify"
)

type fakeMembers map[string][]uuid.UUID

func (f fakeMembers) MembersWithRoles(ctx context.Context, appID int64, roles []string) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, role := range roles {
		ids = append(ids, f[role]...)
	}
	return ids, nil
}

type fakeSubscribers struct {
	mu        sync.Mutex
	users     []uuid.UUID
	forgotten []int64
}

func (f *fakeSubscribers) Subscribers(ctx context.Context, appID int64, resourceType string, action core.Action, resourceIDs []int64) ([]uuid.UUID, error) {
	return f.users, nil
}

func (f *fakeSubscribers) Forget(ctx context.Context, appID int64, resourceType string, resourceIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forgotten = append(f.forgotten, resourceIDs...)
	return nil
}

type recordingSender struct {
	mu       sync.Mutex
	name     string
	err      error
	panics   bool
	messages []notify.Message
}

func (s *recordingSender) Name() string { return s.name }

func (s *recordingSender) Send(ctx context.Context, message notify.Message) error {
	if s.panics {
		panic("boom")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, message)
	return s.err
}

func TestDispatcher_Recipients(t *testing.T) {
	author, admin, subscriber := uuid.New(), uuid.New(), uuid.New()
	members := fakeMembers{"Admin": {admin, author}}
	subscribers := &fakeSubscribers{users: []uuid.UUID{subscriber}}
	sender := &recordingSender{name: "recording"}

	d := notify.NewDispatcher(notify.Configuration{Workers: 2}, members, subscribers, sender)
	d.Notify(context.Background(), core.Event{
		AppID:        1,
		Type:         "note",
		Action:       core.ActionUpdate,
		ResourceIDs:  []int64{7},
		AuthorIDs:    []uuid.UUID{author},
		Recipients:   []string{notify.RecipientAuthor, "Admin"},
		Subscribable: true,
	})
	d.Close()

	require.Len(t, sender.messages, 1)
	message := sender.messages[0]
	assert.Equal(t, int64(1), message.AppID)
	assert.Equal(t, "note", message.Type)
	assert.Equal(t, core.ActionUpdate, message.Action)
	assert.Equal(t, []int64{7}, message.ResourceIDs)
	assert.ElementsMatch(t, []uuid.UUID{author, admin, subscriber}, message.Recipients)
	assert.Empty(t, subscribers.forgotten)
}

func TestDispatcher_NoRecipients(t *testing.T) {
	subscribers := &fakeSubscribers{users: []uuid.UUID{uuid.New()}}
	sender := &recordingSender{name: "recording"}

	d := notify.NewDispatcher(notify.Configuration{}, fakeMembers{}, subscribers, sender)
	// subscriptions only count for subscribable events
	d.Notify(context.Background(), core.Event{AppID: 1, Type: "note", Action: core.ActionCreate, ResourceIDs: []int64{1}})
	d.Close()
	assert.Empty(t, sender.messages)
}

func TestDispatcher_DeleteForgetsSubscriptions(t *testing.T) {
	subscribers := &fakeSubscribers{}
	d := notify.NewDispatcher(notify.Configuration{Workers: 1}, fakeMembers{}, subscribers)
	d.Notify(context.Background(), core.Event{AppID: 1, Type: "note", Action: core.ActionDelete, ResourceIDs: []int64{3, 4}})
	d.Close()
	assert.Equal(t, []int64{3, 4}, subscribers.forgotten)
}

func TestDispatcher_FailingSenders(t *testing.T) {
	user := uuid.New()
	failing := &recordingSender{name: "failing", err: errors.New("unreachable")}
	panicking := &recordingSender{name: "panicking", panics: true}
	working := &recordingSender{name: "working"}

	d := notify.NewDispatcher(notify.Configuration{Workers: 1}, fakeMembers{}, nil, failing, panicking, working)
	for i := 0; i < 3; i++ {
		d.Notify(context.Background(), core.Event{
			AppID:      1,
			Type:       "note",
			Action:     core.ActionCreate,
			AuthorIDs:  []uuid.UUID{user},
			Recipients: []string{notify.RecipientAuthor},
		})
	}
	d.Close()

	// failing and panicking senders do not affect the others
	assert.Len(t, failing.messages, 3)
	assert.Len(t, working.messages, 3)
}

func TestNewSender(t *testing.T) {
	ctx := context.Background()
	sender, err := notify.NewSender(ctx, notify.SenderConfiguration{})
	require.NoError(t, err)
	assert.Equal(t, "log", sender.Name())
	require.NoError(t, sender.Send(ctx, notify.Message{Type: "note"}))

	_, err = notify.NewSender(ctx, notify.SenderConfiguration{Type: notify.SenderTypeKafka})
	assert.Error(t, err)
	_, err = notify.NewSender(ctx, notify.SenderConfiguration{Type: notify.SenderTypeSQS})
	assert.Error(t, err)
	_, err = notify.NewSender(ctx, notify.SenderConfiguration{Type: "pigeon"})
	assert.Error(t, err)

	sender, err = notify.NewSender(ctx, notify.SenderConfiguration{
		Type:         notify.SenderTypeKafka,
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "notifications",
	})
	require.NoError(t, err)
	assert.Equal(t, "kafka", sender.Name())
}
