package rmq_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/greyhorse-org/greyhorse/internal/testutils"
	"github.com/greyhorse-org/greyhorse/pkg/broker/rmq"
)

func TestIntegrationRPCRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	t.Parallel()

	cfg := testutils.StartRabbitMQ(t)
	e := rmq.New("it", cfg)
	require.NoError(t, e.Start(t.Context()), "Start should not have failed")
	defer func() { require.NoError(t, e.Stop(context.Background())) }()

	require.NoError(t, e.Ping(t.Context()))

	const queue = "rpc.it.echo"

	// Declare the request queue up front so the first call cannot be lost to
	// a publish racing the server setup.
	err := e.Channel(t.Context(), func(ctx context.Context, ch rmq.Channel) error {
		_, err := ch.QueueDeclare(queue, false, false, false, false, nil)
		return err
	})
	require.NoError(t, err, "Setup: could not declare the request queue")

	server := rmq.NewServer(e, queue, func(ctx context.Context, body []byte) ([]byte, error) {
		return append([]byte("echo: "), body...), nil
	})
	serveCtx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = server.Serve(serveCtx) }()

	client := rmq.NewClient(e, queue)
	defer client.Close()

	callCtx, cancelCall := context.WithTimeout(t.Context(), 30*time.Second)
	defer cancelCall()
	reply, err := client.Call(callCtx, []byte("ping"))
	require.NoError(t, err, "Call should not have failed")
	require.Equal(t, []byte("echo: ping"), reply)
}
