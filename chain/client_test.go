package chain

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lifetimeKey struct{}

func newTestClient(ctx context.Context) *Client {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewClient(ctx, "http://localhost:8899", "ws://localhost:8900", rpc.CommitmentConfirmed, log)
}

func TestDispatchOutlivesCallerContext(t *testing.T) {
	lifetime := context.WithValue(context.Background(), lifetimeKey{}, "process")
	client := newTestClient(lifetime)

	var handlerCtx context.Context
	client.SetHandler(func(ctx context.Context, signature, recipient string) {
		handlerCtx = ctx
	})

	client.dispatch("sig", "recipient")

	require.NotNil(t, handlerCtx)
	assert.NoError(t, handlerCtx.Err(), "notifications must run on the client lifetime, not a request context")
	assert.Equal(t, "process", handlerCtx.Value(lifetimeKey{}))
}

func TestDispatchWithoutHandler(t *testing.T) {
	client := newTestClient(context.Background())
	// Must log and drop, never panic.
	client.dispatch("sig", "recipient")
}

func TestDispatchRecoversHandlerPanic(t *testing.T) {
	client := newTestClient(context.Background())
	client.SetHandler(func(context.Context, string, string) {
		panic("handler bug")
	})
	client.dispatch("sig", "recipient")
}

func TestWatchRejectsInvalidRecipient(t *testing.T) {
	client := newTestClient(context.Background())
	err := client.Watch(context.Background(), "not-a-pubkey")
	assert.Error(t, err)
}

func TestTransactionTransfersRejectsInvalidSignature(t *testing.T) {
	client := newTestClient(context.Background())
	_, _, err := client.TransactionTransfers(context.Background(), "not-a-signature")
	assert.Error(t, err)
}
