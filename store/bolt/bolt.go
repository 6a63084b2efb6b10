// Package bolt provides the durable Store implementation on top of bbolt.
//
// Every mutation runs inside a single bbolt write transaction, which gives
// per-key atomic upserts and crash consistency for free: the primary record
// and the recipient index either both commit or neither does, and no torn
// write is ever visible after a restart.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"

	payauth "github.com/safu-labs/payauth"
)

var (
	bucketChallenges = []byte("challenges")
	bucketRecipients = []byte("recipients")
	bucketSessions   = []byte("sessions")
)

// Store persists challenges and sessions in a bbolt database file.
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database at path and ensures the buckets exist.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketChallenges, bucketRecipients, bucketSessions} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init bolt buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateChallenge inserts the record and its recipient index entry in one
// write transaction.
func (s *Store) CreateChallenge(_ context.Context, ch *payauth.Challenge) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		recipients := tx.Bucket(bucketRecipients)
		challenges := tx.Bucket(bucketChallenges)

		if existingID := recipients.Get([]byte(ch.Recipient)); existingID != nil {
			existing, err := decodeChallenge(challenges.Get(existingID))
			if err == nil && existing != nil && !existing.Status.Terminal() {
				return payauth.ErrDuplicateRecipient
			}
		}

		buf, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("encode challenge: %w", err)
		}
		if err := challenges.Put([]byte(ch.ID), buf); err != nil {
			return err
		}
		return recipients.Put([]byte(ch.Recipient), []byte(ch.ID))
	})
}

// ChallengeByID reads one challenge.
func (s *Store) ChallengeByID(_ context.Context, id string) (*payauth.Challenge, bool, error) {
	var ch *payauth.Challenge
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		ch, err = decodeChallenge(tx.Bucket(bucketChallenges).Get([]byte(id)))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return ch, ch != nil, nil
}

// ChallengeByRecipient resolves the index, then the primary record.
func (s *Store) ChallengeByRecipient(_ context.Context, recipient string) (*payauth.Challenge, bool, error) {
	var ch *payauth.Challenge
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket(bucketRecipients).Get([]byte(recipient))
		if id == nil {
			return nil
		}
		var err error
		ch, err = decodeChallenge(tx.Bucket(bucketChallenges).Get(id))
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return ch, ch != nil, nil
}

// TransitionToConsumed runs the compare-and-set inside a write transaction.
// bbolt serializes writers, so concurrent consume attempts and the sweep are
// ordered and exactly one fresh transition can commit.
func (s *Store) TransitionToConsumed(_ context.Context, id string, proof payauth.TransferProof, now time.Time) (payauth.ConsumeOutcome, error) {
	outcome := payauth.ConsumeNotFound
	err := s.db.Update(func(tx *bbolt.Tx) error {
		challenges := tx.Bucket(bucketChallenges)
		ch, err := decodeChallenge(challenges.Get([]byte(id)))
		if err != nil {
			return err
		}
		if ch == nil {
			outcome = payauth.ConsumeNotFound
			return nil
		}

		switch ch.Status {
		case payauth.StatusConsumed:
			if ch.TxSignature == proof.Signature {
				outcome = payauth.ConsumeReplayed
			} else {
				outcome = payauth.ConsumeConflict
			}
			return nil
		case payauth.StatusExpired:
			outcome = payauth.ConsumeExpired
			return nil
		}
		if now.After(ch.ExpiresAt) {
			outcome = payauth.ConsumeExpired
			return nil
		}

		ch.Status = payauth.StatusConsumed
		ch.DetectedFromPubkey = proof.FromPubkey
		ch.TxSignature = proof.Signature
		ch.ReceivedLamports = proof.Lamports

		buf, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("encode challenge: %w", err)
		}
		if err := challenges.Put([]byte(id), buf); err != nil {
			return err
		}
		outcome = payauth.ConsumeApplied
		return nil
	})
	if err != nil {
		return payauth.ConsumeNotFound, err
	}
	return outcome, nil
}

// SweepExpired expires stale pending records in one write transaction.
func (s *Store) SweepExpired(_ context.Context, now time.Time) ([]string, error) {
	var expired []string
	err := s.db.Update(func(tx *bbolt.Tx) error {
		challenges := tx.Bucket(bucketChallenges)
		cursor := challenges.Cursor()
		for key, value := cursor.First(); key != nil; key, value = cursor.Next() {
			ch, err := decodeChallenge(value)
			if err != nil {
				return err
			}
			if ch.Status != payauth.StatusPending || !now.After(ch.ExpiresAt) {
				continue
			}
			ch.Status = payauth.StatusExpired
			buf, err := json.Marshal(ch)
			if err != nil {
				return fmt.Errorf("encode challenge: %w", err)
			}
			if err := challenges.Put(key, buf); err != nil {
				return err
			}
			expired = append(expired, ch.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

// SaveSession stores the session keyed by its challenge id.
func (s *Store) SaveSession(_ context.Context, session *payauth.Session) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buf, err := json.Marshal(session)
		if err != nil {
			return fmt.Errorf("encode session: %w", err)
		}
		return tx.Bucket(bucketSessions).Put([]byte(session.ChallengeID), buf)
	})
}

// SessionByChallenge reads the session for a challenge, if any.
func (s *Store) SessionByChallenge(_ context.Context, challengeID string) (*payauth.Session, bool, error) {
	var session *payauth.Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(bucketSessions).Get([]byte(challengeID))
		if buf == nil {
			return nil
		}
		session = new(payauth.Session)
		return json.Unmarshal(buf, session)
	})
	if err != nil {
		return nil, false, err
	}
	return session, session != nil, nil
}

func decodeChallenge(buf []byte) (*payauth.Challenge, error) {
	if buf == nil {
		return nil, nil
	}
	ch := new(payauth.Challenge)
	if err := json.Unmarshal(buf, ch); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	return ch, nil
}

var _ payauth.Store = (*Store)(nil)
