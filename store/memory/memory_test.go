package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	payauth "github.com/safu-labs/payauth"
)

func pendingChallenge(id, recipient string, expiresAt time.Time) *payauth.Challenge {
	return &payauth.Challenge{
		ID:             id,
		Recipient:      recipient,
		AmountLamports: 7000,
		ExpiresAt:      expiresAt,
		Status:         payauth.StatusPending,
		CreatedAt:      time.Now(),
	}
}

func TestCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := New()

	ch := pendingChallenge("ch-1", "recipient-1", time.Now().Add(5*time.Minute))
	require.NoError(t, store.CreateChallenge(ctx, ch))

	byID, ok, err := store.ChallengeByID(ctx, "ch-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "recipient-1", byID.Recipient)

	byRecipient, ok, err := store.ChallengeByRecipient(ctx, "recipient-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, byID.ID, byRecipient.ID, "index must resolve to the same record")

	_, ok, err = store.ChallengeByID(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok, "absence is a valid state, not an error")
}

func TestCreateDuplicateRecipient(t *testing.T) {
	ctx := context.Background()
	store := New()

	expiry := time.Now().Add(5 * time.Minute)
	require.NoError(t, store.CreateChallenge(ctx, pendingChallenge("ch-1", "shared", expiry)))

	err := store.CreateChallenge(ctx, pendingChallenge("ch-2", "shared", expiry))
	assert.ErrorIs(t, err, payauth.ErrDuplicateRecipient)

	// Once the first challenge is terminal the recipient may be reused.
	_, err = store.TransitionToConsumed(ctx, "ch-1", payauth.TransferProof{Signature: "sig"}, time.Now())
	require.NoError(t, err)
	assert.NoError(t, store.CreateChallenge(ctx, pendingChallenge("ch-3", "shared", expiry)))
}

func TestTransitionToConsumedOutcomes(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	proof := payauth.TransferProof{FromPubkey: "payer", Signature: "sig-a", Lamports: 7000}

	t.Run("applied then replayed", func(t *testing.T) {
		store := New()
		require.NoError(t, store.CreateChallenge(ctx, pendingChallenge("ch", "r", now.Add(time.Minute))))

		outcome, err := store.TransitionToConsumed(ctx, "ch", proof, now)
		require.NoError(t, err)
		assert.Equal(t, payauth.ConsumeApplied, outcome)

		outcome, err = store.TransitionToConsumed(ctx, "ch", proof, now)
		require.NoError(t, err)
		assert.Equal(t, payauth.ConsumeReplayed, outcome)

		ch, _, _ := store.ChallengeByID(ctx, "ch")
		assert.Equal(t, payauth.StatusConsumed, ch.Status)
		assert.Equal(t, "payer", ch.DetectedFromPubkey)
		assert.Equal(t, "sig-a", ch.TxSignature)
		assert.Equal(t, uint64(7000), ch.ReceivedLamports)
	})

	t.Run("conflict keeps the winner", func(t *testing.T) {
		store := New()
		require.NoError(t, store.CreateChallenge(ctx, pendingChallenge("ch", "r", now.Add(time.Minute))))

		_, err := store.TransitionToConsumed(ctx, "ch", proof, now)
		require.NoError(t, err)

		other := payauth.TransferProof{FromPubkey: "other", Signature: "sig-b", Lamports: 9000}
		outcome, err := store.TransitionToConsumed(ctx, "ch", other, now)
		require.NoError(t, err)
		assert.Equal(t, payauth.ConsumeConflict, outcome)

		ch, _, _ := store.ChallengeByID(ctx, "ch")
		assert.Equal(t, "sig-a", ch.TxSignature, "conflicting attempt must not overwrite")
	})

	t.Run("past expiry", func(t *testing.T) {
		store := New()
		require.NoError(t, store.CreateChallenge(ctx, pendingChallenge("ch", "r", now.Add(-time.Second))))

		outcome, err := store.TransitionToConsumed(ctx, "ch", proof, now)
		require.NoError(t, err)
		assert.Equal(t, payauth.ConsumeExpired, outcome)

		ch, _, _ := store.ChallengeByID(ctx, "ch")
		assert.Equal(t, payauth.StatusPending, ch.Status, "rejection is a no-op, expiry is the sweep's job")
	})

	t.Run("unknown id", func(t *testing.T) {
		store := New()
		outcome, err := store.TransitionToConsumed(ctx, "nope", proof, now)
		require.NoError(t, err)
		assert.Equal(t, payauth.ConsumeNotFound, outcome)
	})
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	store := New()
	now := time.Now()

	require.NoError(t, store.CreateChallenge(ctx, pendingChallenge("stale", "r1", now.Add(-time.Minute))))
	require.NoError(t, store.CreateChallenge(ctx, pendingChallenge("fresh", "r2", now.Add(time.Minute))))
	require.NoError(t, store.CreateChallenge(ctx, pendingChallenge("won", "r3", now.Add(-time.Minute))))

	// A consume that landed before the sweep always wins, even past expiry
	// of the others.
	_, err := store.TransitionToConsumed(ctx, "won", payauth.TransferProof{Signature: "sig"}, now.Add(-2*time.Minute))
	require.NoError(t, err)

	expired, err := store.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"stale"}, expired)

	stale, _, _ := store.ChallengeByID(ctx, "stale")
	assert.Equal(t, payauth.StatusExpired, stale.Status)
	fresh, _, _ := store.ChallengeByID(ctx, "fresh")
	assert.Equal(t, payauth.StatusPending, fresh.Status)
	won, _, _ := store.ChallengeByID(ctx, "won")
	assert.Equal(t, payauth.StatusConsumed, won.Status, "sweep never touches a consumed challenge")
}

func TestConcurrentConsumeSameSignature(t *testing.T) {
	ctx := context.Background()
	store := New()
	require.NoError(t, store.CreateChallenge(ctx, pendingChallenge("ch", "r", time.Now().Add(time.Minute))))

	proof := payauth.TransferProof{FromPubkey: "payer", Signature: "sig", Lamports: 7000}
	outcomes := make([]payauth.ConsumeOutcome, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = store.TransitionToConsumed(ctx, "ch", proof, time.Now())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.ElementsMatch(t, []payauth.ConsumeOutcome{payauth.ConsumeApplied, payauth.ConsumeReplayed}, outcomes)
}

func TestConcurrentConsumeDifferentSignatures(t *testing.T) {
	ctx := context.Background()
	store := New()
	require.NoError(t, store.CreateChallenge(ctx, pendingChallenge("ch", "r", time.Now().Add(time.Minute))))

	proofs := []payauth.TransferProof{
		{FromPubkey: "a", Signature: "sig-a", Lamports: 7000},
		{FromPubkey: "b", Signature: "sig-b", Lamports: 8000},
	}
	outcomes := make([]payauth.ConsumeOutcome, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range proofs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i], errs[i] = store.TransitionToConsumed(ctx, "ch", proofs[i], time.Now())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.ElementsMatch(t, []payauth.ConsumeOutcome{payauth.ConsumeApplied, payauth.ConsumeConflict}, outcomes)

	ch, _, _ := store.ChallengeByID(context.Background(), "ch")
	winner := "sig-a"
	if outcomes[1] == payauth.ConsumeApplied {
		winner = "sig-b"
	}
	assert.Equal(t, winner, ch.TxSignature)
}

func TestSessions(t *testing.T) {
	ctx := context.Background()
	store := New()

	_, ok, err := store.SessionByChallenge(ctx, "ch")
	require.NoError(t, err)
	assert.False(t, ok)

	session := &payauth.Session{
		UserPubkey:  "payer",
		ChallengeID: "ch",
		Token:       "token",
		TxSignature: "sig",
	}
	require.NoError(t, store.SaveSession(ctx, session))

	got, ok, err := store.SessionByChallenge(ctx, "ch")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "payer", got.UserPubkey)
	assert.Equal(t, "token", got.Token)
}
