package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	URL  string `json:"url"`
	Date string `json:"date"`
}

func TestPublishEncodesAndOrders(t *testing.T) {
	t.Parallel()

	pub := New()
	id1, err := pub.Publish(context.Background(), "visits", note{URL: "https://lib.example.edu", Date: "2010-01-01"})
	require.NoError(t, err)
	id2, err := pub.Publish(context.Background(), "audit", "payload")
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id1)
	assert.Equal(t, "memory-2", id2)

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	assert.JSONEq(t, `{"url":"https://lib.example.edu","date":"2010-01-01"}`, string(msgs[0].Data))
	assert.Equal(t, note{URL: "https://lib.example.edu", Date: "2010-01-01"}, msgs[0].Payload)

	visits := pub.Topic("visits")
	require.Len(t, visits, 1)
	assert.Equal(t, id1, visits[0].ID)
	assert.Empty(t, pub.Topic("missing"))

	msgs[0].Topic = "modified"
	assert.Equal(t, "visits", pub.Messages()[0].Topic, "Messages must return a copy")
}

func TestPublishRejectsBadInput(t *testing.T) {
	t.Parallel()

	pub := New()
	_, err := pub.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(context.Background(), "visits", make(chan int))
	require.ErrorContains(t, err, "marshal payload")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = pub.Publish(ctx, "visits", "x")
	require.ErrorIs(t, err, context.Canceled)

	assert.Empty(t, pub.Messages())
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	pub.FailWith(errors.New("topic not found"))
	_, err := pub.Publish(context.Background(), "visits", "x")
	require.EqualError(t, err, "topic not found")

	pub.FailWith(nil)
	id, err := pub.Publish(context.Background(), "visits", "x")
	require.NoError(t, err)
	assert.Equal(t, "memory-1", id, "failed publishes do not consume IDs")
	assert.Len(t, pub.Messages(), 1)
}
