package notify_test

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/tenantkit/core"
	"github.com/relabs-tech/tenantkit/core/notify"
	"github.com/relabs-tech/tenantkit/test"
)

func TestKafkaSender(t *testing.T) {
	if testing.Short() {
		t.Skip("requires kafka")
	}
	infra := &test.Infrastructure{}
	defer infra.Terminate()
	brokers := test.Kafka(infra)
	topic := "notifications-" + uuid.NewString()
	require.NoError(t, test.CreateTopic(brokers, topic))

	sender := notify.NewKafkaSender(brokers, topic)
	defer sender.Close()

	author := uuid.New()
	d := notify.NewDispatcher(notify.Configuration{Workers: 1}, fakeMembers{}, nil, sender)
	d.Notify(context.Background(), core.Event{
		AppID:       42,
		Type:        "note",
		Action:      core.ActionCreate,
		ResourceIDs: []int64{1, 2},
		AuthorIDs:   []uuid.UUID{author},
		Recipients:  []string{notify.RecipientAuthor},
	})
	d.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, Partition: 0})
	defer reader.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	m, err := reader.ReadMessage(ctx)
	require.NoError(t, err)

	assert.Equal(t, "42", string(m.Key))
	var message notify.Message
	require.NoError(t, json.Unmarshal(m.Value, &message))
	assert.Equal(t, []int64{1, 2}, message.ResourceIDs)
	assert.Equal(t, []uuid.UUID{author}, message.Recipients)
}
