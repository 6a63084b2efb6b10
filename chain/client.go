package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"

	payauth "github.com/safu-labs/payauth"
)

// NotificationHandler is invoked once per log notification, scoped to the
// recipient the subscription was opened for. Notifications for one recipient
// are delivered by a single goroutine, so per-address handling is serialized;
// different recipients run concurrently.
type NotificationHandler func(ctx context.Context, signature, recipient string)

// Client is the explicitly owned connection to the chain: an RPC client for
// transaction fetches and a lazily established, process-lifetime WebSocket
// connection carrying one log subscription per watched recipient.
//
// Subscriptions live for the client's lifetime context, never for the context
// of the call that opened them: a Watch from a request handler must keep
// delivering notifications long after that request has completed.
type Client struct {
	lifetime   context.Context
	rpc        *rpc.Client
	wsURL      string
	commitment rpc.CommitmentType
	log        *slog.Logger

	handlerMu sync.RWMutex
	handler   NotificationHandler

	wsMu sync.Mutex
	ws   *ws.Client

	subMu sync.Mutex
	subs  map[solana.PublicKey]*ws.LogSubscription
}

// NewClient creates a chain client. ctx bounds the lifetime of every
// subscription read loop and of notification handling; pass the process
// context, not a request context. The WebSocket connection is not opened
// until the first Watch call.
func NewClient(ctx context.Context, rpcURL, wsURL string, commitment rpc.CommitmentType, log *slog.Logger) *Client {
	if ctx == nil {
		ctx = context.Background()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		lifetime:   ctx,
		rpc:        rpc.New(rpcURL),
		wsURL:      wsURL,
		commitment: commitment,
		log:        log,
		subs:       make(map[solana.PublicKey]*ws.LogSubscription),
	}
}

// SetHandler installs the notification handler. It must be set before the
// first Watch.
func (c *Client) SetHandler(handler NotificationHandler) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.handler = handler
}

// TransactionTransfers fetches the transaction at the client's commitment and
// decodes its native transfers. A transaction the node does not know yet is
// reported as found=false, which callers treat as a recoverable miss.
func (c *Client) TransactionTransfers(ctx context.Context, signature string) ([]payauth.TransferEvent, bool, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, false, fmt.Errorf("invalid signature %q: %w", signature, err)
	}

	maxVersion := uint64(0)
	out, err := c.rpc.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     c.commitment,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get transaction: %w", err)
	}
	if out == nil || out.Transaction == nil {
		return nil, false, nil
	}

	tx, err := out.Transaction.GetTransaction()
	if err != nil {
		return nil, false, fmt.Errorf("decode transaction: %w", err)
	}
	return DecodeTransfers(tx), true, nil
}

// Watch opens a log subscription mentioning the recipient. It is idempotent:
// a recipient that is already watched (or whose first watch is in flight) is
// a no-op, so a first-watch race resolves to exactly one subscription.
//
// ctx scopes only the dial and subscribe calls. The subscription itself is
// bound to the client's lifetime context, so a Watch issued from a request
// handler survives the request.
func (c *Client) Watch(ctx context.Context, recipient string) error {
	pk, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", recipient, err)
	}

	c.subMu.Lock()
	if _, ok := c.subs[pk]; ok {
		c.subMu.Unlock()
		return nil
	}
	// Reserve the slot before subscribing so concurrent first watches for
	// the same recipient bail out above.
	c.subs[pk] = nil
	c.subMu.Unlock()

	wsClient, err := c.wsConn(ctx)
	if err != nil {
		c.release(pk)
		return err
	}
	sub, err := wsClient.LogsSubscribeMentions(pk, c.commitment)
	if err != nil {
		c.release(pk)
		return fmt.Errorf("subscribe logs for %s: %w", recipient, err)
	}

	c.subMu.Lock()
	c.subs[pk] = sub
	c.subMu.Unlock()

	go c.readLoop(pk, sub)
	return nil
}

// Unwatch drops the subscription for a recipient. Callers must only unwatch
// recipients whose challenge reached a terminal state.
func (c *Client) Unwatch(recipient string) {
	pk, err := solana.PublicKeyFromBase58(recipient)
	if err != nil {
		return
	}
	c.subMu.Lock()
	sub, ok := c.subs[pk]
	delete(c.subs, pk)
	c.subMu.Unlock()
	if ok && sub != nil {
		sub.Unsubscribe()
	}
}

// wsConn returns the shared WebSocket connection, dialing it on first use.
func (c *Client) wsConn(ctx context.Context) (*ws.Client, error) {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws != nil {
		return c.ws, nil
	}
	wsClient, err := ws.Connect(ctx, c.wsURL)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.wsURL, err)
	}
	c.ws = wsClient
	return wsClient, nil
}

// Close tears down every subscription and the WebSocket connection.
func (c *Client) Close() {
	c.subMu.Lock()
	for pk, sub := range c.subs {
		if sub != nil {
			sub.Unsubscribe()
		}
		delete(c.subs, pk)
	}
	c.subMu.Unlock()

	c.wsMu.Lock()
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.wsMu.Unlock()
}

func (c *Client) release(pk solana.PublicKey) {
	c.subMu.Lock()
	delete(c.subs, pk)
	c.subMu.Unlock()
}

// readLoop drains one subscription for the client's lifetime. Failed
// transactions are dropped at this level; everything else is handed to the
// notification handler. A handler panic is caught and logged so it can never
// stall the other addresses.
func (c *Client) readLoop(pk solana.PublicKey, sub *ws.LogSubscription) {
	defer sub.Unsubscribe()
	recipient := pk.String()

	for {
		got, err := sub.Recv(c.lifetime)
		if err != nil {
			if c.lifetime.Err() == nil {
				c.log.Warn("log subscription closed", "recipient", recipient, "err", err)
			}
			c.release(pk)
			return
		}
		if got == nil || got.Value.Err != nil {
			continue
		}
		c.dispatch(got.Value.Signature.String(), recipient)
	}
}

// dispatch hands one notification to the handler under the client's lifetime
// context, so store writes during a match never run on an already-cancelled
// request context.
func (c *Client) dispatch(signature, recipient string) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("notification handler panic",
				"recipient", recipient,
				"signature", signature,
				"panic", r)
		}
	}()

	c.handlerMu.RLock()
	handler := c.handler
	c.handlerMu.RUnlock()
	if handler == nil {
		c.log.Warn("notification dropped, no handler installed", "recipient", recipient)
		return
	}
	handler(c.lifetime, signature, recipient)
}

var _ payauth.TransactionSource = (*Client)(nil)
var _ payauth.AddressWatcher = (*Client)(nil)
