package pubsub

import (
	"context"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

type event struct {
	Keyword string `json:"keyword"`
	Status  string `json:"status"`
}

func (e event) Attributes() map[string]string {
	return map[string]string{"status": e.Status}
}

func newTestPublisher(t *testing.T, topics ...string) (*Publisher, *pstest.Server) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "harvest-test",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	require.NoError(t, err)
	for _, name := range topics {
		_, err := client.CreateTopic(ctx, name)
		require.NoError(t, err)
	}
	pub := NewWithClient(client, "keyword-events")
	t.Cleanup(func() { _ = pub.Close() })
	return pub, srv
}

func TestPublishDeliversJSONWithAttributes(t *testing.T) {
	t.Parallel()

	pub, srv := newTestPublisher(t, "keyword-events")
	id, err := pub.Publish(context.Background(), "", event{Keyword: "bees", Status: "success"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.JSONEq(t, `{"keyword":"bees","status":"success"}`, string(msgs[0].Data))
	require.Equal(t, "success", msgs[0].Attributes["status"])
	require.Equal(t, "application/json", msgs[0].Attributes["content_type"])
}

func TestPublishUnknownTopicFails(t *testing.T) {
	t.Parallel()

	pub, _ := newTestPublisher(t)
	_, err := pub.Publish(context.Background(), "missing", event{Keyword: "cats"})
	require.ErrorContains(t, err, "publish message to missing")
}

func TestPublishWithoutClient(t *testing.T) {
	t.Parallel()

	_, err := (&Publisher{}).Publish(context.Background(), "t", event{})
	require.ErrorContains(t, err, "not configured")
}
