package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.PublishIngested(context.Background(), EntryIngested{EntryID: "e1"}))
	assert.NoError(t, p.Close())
}

func TestPublishing(t *testing.T) {
	ev := EntryIngested{
		AccountID:  "acc-1",
		EntryID:    "e1",
		MessageID:  "m1",
		Subject:    "Hi",
		Folder:     "spam",
		Spam:       true,
		ReceivedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}

	msg, err := publishing(ev)
	require.NoError(t, err)
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, amqp091.Persistent, msg.DeliveryMode)
	assert.Equal(t, "e1", msg.MessageId)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, "acc-1", decoded["account_id"])
	assert.Equal(t, "spam", decoded["folder"])
	assert.Equal(t, true, decoded["spam"])
}
