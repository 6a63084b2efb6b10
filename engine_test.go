package payauth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	payauth "github.com/safu-labs/payauth"
	"github.com/safu-labs/payauth/store/memory"
)

// fakeWatcher records watched recipients and can be made to fail.
type fakeWatcher struct {
	mu      sync.Mutex
	watched []string
	err     error
}

func (w *fakeWatcher) Watch(_ context.Context, recipient string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.watched = append(w.watched, recipient)
	return nil
}

func newService(store payauth.Store, watcher payauth.AddressWatcher) *payauth.Service {
	factory := payauth.NewFactory(store, discardLogger())
	return payauth.NewService(store, factory, watcher, discardLogger())
}

func TestIssueChallengeStartsWatch(t *testing.T) {
	ctx := context.Background()
	watcher := &fakeWatcher{}
	service := newService(memory.New(), watcher)

	view, err := service.IssueChallenge(ctx, testProject(), payauth.IssueOptions{})
	require.NoError(t, err)
	require.Len(t, watcher.watched, 1)
	assert.Equal(t, view.Recipient, watcher.watched[0])
}

func TestIssueChallengeWatchFailure(t *testing.T) {
	ctx := context.Background()
	watcher := &fakeWatcher{err: errors.New("subscription refused")}
	service := newService(memory.New(), watcher)

	_, err := service.IssueChallenge(ctx, testProject(), payauth.IssueOptions{})
	assert.Error(t, err)
}

func TestPollStatusNotFound(t *testing.T) {
	service := newService(memory.New(), &fakeWatcher{})

	result, err := service.PollStatus(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, payauth.PollNotFound, result.State)
	assert.Empty(t, result.SessionToken)
}

func TestPollStatusPending(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	service := newService(store, &fakeWatcher{})

	require.NoError(t, store.CreateChallenge(ctx, &payauth.Challenge{
		ID:             "ch",
		Recipient:      "r",
		AmountLamports: 7000,
		ExpiresAt:      time.Now().Add(time.Minute),
		Status:         payauth.StatusPending,
		CreatedAt:      time.Now(),
	}))

	result, err := service.PollStatus(ctx, "ch")
	require.NoError(t, err)
	assert.Equal(t, payauth.PollPending, result.State)
}

func TestPollStatusExpiredBeforeSweep(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	service := newService(store, &fakeWatcher{})

	// Still recorded as pending, but the window has closed; the poll must not
	// wait for the sweep to notice.
	require.NoError(t, store.CreateChallenge(ctx, &payauth.Challenge{
		ID:             "ch",
		Recipient:      "r",
		AmountLamports: 7000,
		ExpiresAt:      time.Now().Add(-time.Second),
		Status:         payauth.StatusPending,
		CreatedAt:      time.Now(),
	}))

	result, err := service.PollStatus(ctx, "ch")
	require.NoError(t, err)
	assert.Equal(t, payauth.PollExpired, result.State)
}

func TestPollStatusExpiredAfterSweep(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	service := newService(store, &fakeWatcher{})

	require.NoError(t, store.CreateChallenge(ctx, &payauth.Challenge{
		ID:             "ch",
		Recipient:      "r",
		AmountLamports: 7000,
		ExpiresAt:      time.Now().Add(-time.Minute),
		Status:         payauth.StatusPending,
		CreatedAt:      time.Now(),
	}))
	_, err := store.SweepExpired(ctx, time.Now())
	require.NoError(t, err)

	result, err := service.PollStatus(ctx, "ch")
	require.NoError(t, err)
	assert.Equal(t, payauth.PollExpired, result.State)
}

func TestPollStatusConsumedWithoutSessionReportsPending(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	service := newService(store, &fakeWatcher{})

	require.NoError(t, store.CreateChallenge(ctx, &payauth.Challenge{
		ID:             "ch",
		Recipient:      "r",
		AmountLamports: 7000,
		ExpiresAt:      time.Now().Add(time.Minute),
		Status:         payauth.StatusPending,
		CreatedAt:      time.Now(),
	}))
	_, err := store.TransitionToConsumed(ctx, "ch", payauth.TransferProof{FromPubkey: "payer", Signature: "sig", Lamports: 7000}, time.Now())
	require.NoError(t, err)

	result, err := service.PollStatus(ctx, "ch")
	require.NoError(t, err)
	assert.Equal(t, payauth.PollPending, result.State, "consumed without a session is still in flight, never an error")
}

func TestPollStatusAuthenticated(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	service := newService(store, &fakeWatcher{})

	require.NoError(t, store.CreateChallenge(ctx, &payauth.Challenge{
		ID:             "ch",
		Recipient:      "r",
		AmountLamports: 7000,
		ExpiresAt:      time.Now().Add(time.Minute),
		Status:         payauth.StatusPending,
		CreatedAt:      time.Now(),
	}))
	_, err := store.TransitionToConsumed(ctx, "ch", payauth.TransferProof{FromPubkey: "payer", Signature: "sig", Lamports: 7000}, time.Now())
	require.NoError(t, err)
	require.NoError(t, store.SaveSession(ctx, &payauth.Session{
		ChallengeID: "ch",
		UserPubkey:  "payer",
		Token:       "session-token",
		TxSignature: "sig",
	}))

	result, err := service.PollStatus(ctx, "ch")
	require.NoError(t, err)
	assert.Equal(t, payauth.PollAuthenticated, result.State)
	assert.Equal(t, "session-token", result.SessionToken)
	assert.Equal(t, "payer", result.UserPubkey)
	assert.Equal(t, "sig", result.TxSignature)
}
