package pubsub

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/lenscrawl/internal/docstore"
)

func newClient(t *testing.T) *pubsub.Client {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestPublishEvent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client := newClient(t)

	topic, err := client.CreateTopic(ctx, "documents")
	require.NoError(t, err)
	sub, err := client.CreateSubscription(ctx, "documents-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub := New(client)
	defer pub.Close()

	ev := docstore.Event{Action: docstore.ActionDeleted, DocID: "d1", URL: "https://a.test/", Domain: "a.test"}
	id, err := pub.Publish(ctx, "documents", ev)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got := make(chan *pubsub.Message, 1)
	recvCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case got <- msg:
			default:
			}
			stop()
		})
	}()

	select {
	case msg := <-got:
		require.JSONEq(t, `{"action":"deleted","doc_id":"d1","url":"https://a.test/","domain":"a.test"}`, string(msg.Data))
		require.Equal(t, "deleted", msg.Attributes["action"])
		require.Equal(t, "a.test", msg.Attributes["domain"])
	case <-ctx.Done():
		t.Fatal("message was not delivered")
	}
}

func TestPublishAfterClose(t *testing.T) {
	t.Parallel()

	pub := New(newClient(t))
	pub.Close()
	pub.Close()
	_, err := pub.Publish(context.Background(), "documents", "x")
	require.ErrorIs(t, err, ErrClosed)
}

func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "documents", "x")
	require.Error(t, err)
}
