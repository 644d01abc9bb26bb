package google_test

import (
	"context"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/infigaming-com/substreams-sink-pubsub/domain"
	"github.com/infigaming-com/substreams-sink-pubsub/envelope"
	"github.com/infigaming-com/substreams-sink-pubsub/handler"
	"github.com/infigaming-com/substreams-sink-pubsub/pubsub"
	"github.com/infigaming-com/substreams-sink-pubsub/pubsub/driver/google"
	"github.com/infigaming-com/substreams-sink-pubsub/schema"
)

func newTestClient(t *testing.T) *gcppubsub.Client {
	t.Helper()
	ctx := context.Background()
	server := pstest.NewServer()
	t.Cleanup(func() { _ = server.Close() })

	conn, err := grpc.NewClient(server.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := gcppubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func createTopic(t *testing.T, client *gcppubsub.Client, topicID, subID string) {
	t.Helper()
	ctx := context.Background()
	topic, err := client.CreateTopic(ctx, topicID)
	require.NoError(t, err)
	_, err = client.CreateSubscription(ctx, subID, gcppubsub.SubscriptionConfig{
		Topic:                 topic,
		EnableMessageOrdering: true,
	})
	require.NoError(t, err)
}

func TestTransportPublishOperations(t *testing.T) {
	ctx := context.Background()
	gcpClient := newTestClient(t)
	createTopic(t, gcpClient, "clocks", "clocks-sub")

	transport, err := google.New(ctx, google.Config{
		Client: gcpClient,
		Receive: google.ReceiveSettings{
			NumGoroutines:          1,
			MaxOutstandingMessages: 10,
		},
	})
	require.NoError(t, err)

	client, err := pubsub.New(ctx, transport)
	require.NoError(t, err)

	reg := envelope.NewRegistry()
	require.NoError(t, domain.Register(reg))

	received := make(chan *domain.Clock, 1)
	keys := make(chan string, 1)
	sub, err := client.Subscribe("clocks-sub", pubsub.HandlerFunc(func(ctx context.Context, msg *pubsub.Message) error {
		decoded, err := msg.DecodeEnvelope(reg)
		if err != nil {
			return pubsub.ErrPermanent(err)
		}
		keys <- msg.OrderingKey()
		received <- decoded.(*domain.Clock)
		return nil
	}))
	require.NoError(t, err)

	clock := &domain.Clock{ID: "0xabc", Number: 42}
	ops, err := handler.NewClockHandler(handler.WithBlockOrdering()).Handle(clock)
	require.NoError(t, err)

	ids, err := client.PublishOperations(ctx, ops)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.NotEmpty(t, ids[0])

	select {
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for message")
	case got := <-received:
		assert.Equal(t, clock.Number, got.Number)
		assert.Equal(t, clock.ID, got.ID)
		assert.Equal(t, "42", <-keys)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, sub.Stop(stopCtx))
	require.NoError(t, client.Shutdown(ctx))
}

func TestTransportTopicNotFound(t *testing.T) {
	ctx := context.Background()
	gcpClient := newTestClient(t)

	transport, err := google.New(ctx, google.Config{Client: gcpClient})
	require.NoError(t, err)

	_, err = transport.Publish(ctx, "missing", &pubsub.Envelope{Data: []byte("x")})
	assert.ErrorIs(t, err, google.ErrTopicNotFound)

	client, err := pubsub.New(ctx, transport, pubsub.WithRetryPolicy(pubsub.RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond}))
	require.NoError(t, err)
	start := time.Now()
	_, err = client.PublishMessage(ctx, "missing", &schema.Message{Data: []byte("x")})
	assert.ErrorIs(t, err, google.ErrTopicNotFound)
	assert.Less(t, time.Since(start), time.Second, "missing topic is not retried")
	require.NoError(t, transport.Close(ctx))
}

func TestNewResolvesTopics(t *testing.T) {
	ctx := context.Background()
	gcpClient := newTestClient(t)
	createTopic(t, gcpClient, "clocks", "clocks-sub")

	transport, err := google.New(ctx, google.Config{Client: gcpClient, Topics: []string{"clocks"}})
	require.NoError(t, err)
	require.NoError(t, transport.Close(ctx))

	_, err = google.New(ctx, google.Config{Client: gcpClient, Topics: []string{"clocks", "transfers"}})
	assert.ErrorIs(t, err, google.ErrTopicNotFound)
}

func TestNewRequiresProject(t *testing.T) {
	_, err := google.New(context.Background(), google.Config{})
	assert.Error(t, err)
}
