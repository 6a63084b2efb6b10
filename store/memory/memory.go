// Package memory provides the in-memory Store implementation.
//
// It is suitable for single-instance deployments and for tests; state does
// not survive a restart. For durability use store/bolt, for shared state
// across instances use store/redis.
package memory

import (
	"context"
	"sync"
	"time"

	payauth "github.com/safu-labs/payauth"
)

// Store keeps challenges, the recipient index, and sessions in mutex-guarded
// maps. The single mutex serializes every compare-and-set transition, and
// the recipient index is always updated in the same critical section as the
// primary record.
type Store struct {
	mu         sync.RWMutex
	challenges map[string]*payauth.Challenge
	recipients map[string]string // recipient address -> challenge id
	sessions   map[string]*payauth.Session
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		challenges: make(map[string]*payauth.Challenge),
		recipients: make(map[string]string),
		sessions:   make(map[string]*payauth.Session),
	}
}

// CreateChallenge inserts a pending challenge and indexes its recipient.
func (s *Store) CreateChallenge(_ context.Context, ch *payauth.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.recipients[ch.Recipient]; ok {
		if existing, ok := s.challenges[existingID]; ok && !existing.Status.Terminal() {
			return payauth.ErrDuplicateRecipient
		}
	}

	clone := *ch
	s.challenges[ch.ID] = &clone
	s.recipients[ch.Recipient] = ch.ID
	return nil
}

// ChallengeByID returns a copy of the challenge, if present.
func (s *Store) ChallengeByID(_ context.Context, id string) (*payauth.Challenge, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.challenges[id]
	if !ok {
		return nil, false, nil
	}
	clone := *ch
	return &clone, true, nil
}

// ChallengeByRecipient resolves the recipient index.
func (s *Store) ChallengeByRecipient(_ context.Context, recipient string) (*payauth.Challenge, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.recipients[recipient]
	if !ok {
		return nil, false, nil
	}
	ch, ok := s.challenges[id]
	if !ok {
		return nil, false, nil
	}
	clone := *ch
	return &clone, true, nil
}

// TransitionToConsumed performs the compare-and-set consume under the store
// mutex.
func (s *Store) TransitionToConsumed(_ context.Context, id string, proof payauth.TransferProof, now time.Time) (payauth.ConsumeOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.challenges[id]
	if !ok {
		return payauth.ConsumeNotFound, nil
	}
	return applyConsume(ch, proof, now), nil
}

// applyConsume holds the shared CAS decision table. It mutates ch only on
// the fresh pending -> consumed transition.
func applyConsume(ch *payauth.Challenge, proof payauth.TransferProof, now time.Time) payauth.ConsumeOutcome {
	switch ch.Status {
	case payauth.StatusConsumed:
		if ch.TxSignature == proof.Signature {
			return payauth.ConsumeReplayed
		}
		return payauth.ConsumeConflict
	case payauth.StatusExpired:
		return payauth.ConsumeExpired
	}
	if now.After(ch.ExpiresAt) {
		return payauth.ConsumeExpired
	}

	ch.Status = payauth.StatusConsumed
	ch.DetectedFromPubkey = proof.FromPubkey
	ch.TxSignature = proof.Signature
	ch.ReceivedLamports = proof.Lamports
	return payauth.ConsumeApplied
}

// SweepExpired expires stale pending challenges under the same mutex that
// guards consumption, so a consume that already landed is never overwritten.
func (s *Store) SweepExpired(_ context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, ch := range s.challenges {
		if ch.Status == payauth.StatusPending && now.After(ch.ExpiresAt) {
			ch.Status = payauth.StatusExpired
			expired = append(expired, id)
		}
	}
	return expired, nil
}

// SaveSession stores the session keyed by its challenge id.
func (s *Store) SaveSession(_ context.Context, session *payauth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *session
	s.sessions[session.ChallengeID] = &clone
	return nil
}

// SessionByChallenge returns a copy of the stored session, if any.
func (s *Store) SessionByChallenge(_ context.Context, challengeID string) (*payauth.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[challengeID]
	if !ok {
		return nil, false, nil
	}
	clone := *session
	return &clone, true, nil
}

var _ payauth.Store = (*Store)(nil)
