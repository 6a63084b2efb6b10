package payauth

import (
	"context"
	"time"
)

// Store is the single source of truth for challenges and their sessions.
// Implementations must serialize compare-and-set transitions per record and
// keep the recipient index transactionally consistent with the primary
// records: after any mutation the index never resolves to a stale pointer.
//
// Every mutating call must leave durable backends in a state recoverable
// after a crash; either the mutation and its write both happen or neither
// does.
type Store interface {
	// CreateChallenge inserts a new pending challenge. It fails with
	// ErrDuplicateRecipient when the recipient address already indexes a
	// non-terminal challenge.
	CreateChallenge(ctx context.Context, ch *Challenge) error

	// ChallengeByID looks up a challenge. Absence is a valid state, reported
	// through the boolean rather than an error.
	ChallengeByID(ctx context.Context, id string) (*Challenge, bool, error)

	// ChallengeByRecipient resolves the recipient index and returns the
	// indexed challenge.
	ChallengeByRecipient(ctx context.Context, recipient string) (*Challenge, bool, error)

	// TransitionToConsumed atomically flips a pending challenge to consumed
	// and records the proof, but only while status is pending and
	// now <= ExpiresAt. All other cases are no-ops reported through the
	// outcome: a retry with the winning signature is ConsumeReplayed, a
	// different signature against a consumed challenge is ConsumeConflict.
	TransitionToConsumed(ctx context.Context, id string, proof TransferProof, now time.Time) (ConsumeOutcome, error)

	// SweepExpired transitions every pending challenge with ExpiresAt < now
	// to expired and returns the ids it transitioned. The transition is
	// compare-and-set on pending, so a concurrent consume always wins.
	SweepExpired(ctx context.Context, now time.Time) ([]string, error)

	// SaveSession stores the session for its challenge. At most one session
	// ever exists per challenge, enforced by construction: issuance only
	// follows a ConsumeApplied outcome.
	SaveSession(ctx context.Context, s *Session) error

	// SessionByChallenge returns the session issued for a consumed
	// challenge, if any.
	SessionByChallenge(ctx context.Context, challengeID string) (*Session, bool, error)
}

// TransactionSource fetches an observed transaction and yields its decoded
// native transfers. found=false means the transaction is not available yet
// at the configured commitment; the caller treats that as a recoverable miss.
type TransactionSource interface {
	TransactionTransfers(ctx context.Context, signature string) (transfers []TransferEvent, found bool, err error)
}

// AddressWatcher maintains one live log subscription per watched recipient.
// Watch is idempotent and safe to call concurrently for the same recipient;
// a first-watch race resolves to exactly one subscription.
type AddressWatcher interface {
	Watch(ctx context.Context, recipient string) error
}

// SessionIssuer mints and persists the credential for a freshly consumed
// challenge. A signing failure is fatal to the one matching attempt only.
type SessionIssuer interface {
	Issue(ctx context.Context, challengeID, userPubkey, txSignature string) (*Session, error)
}

// Notifier delivers a consumption event to the challenge's webhook, if any.
// Delivery is best-effort and at-most-once; failures are logged and swallowed.
type Notifier interface {
	Notify(ctx context.Context, ch *Challenge, s *Session)
}
