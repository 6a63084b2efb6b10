// Package redis provides a Store implementation on go-redis for deployments
// that share challenge state across instances.
//
// Compare-and-set transitions use optimistic concurrency: the challenge key
// is WATCHed, the decision is taken on the read value, and the write commits
// only if no other writer touched the key in between. A pending-id set backs
// the sweep so it never scans the whole keyspace.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	payauth "github.com/safu-labs/payauth"
)

const (
	keyChallenge = "payauth:ch:"
	keyRecipient = "payauth:rcpt:"
	keySession   = "payauth:sess:"
	keyPending   = "payauth:pending"
)

// Store keeps challenges, the recipient index, and sessions in redis.
type Store struct {
	client *redis.Client
}

// New creates a redis-backed store around an existing client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// CreateChallenge writes the record, its index entry, and the pending-set
// membership in one MULTI/EXEC, guarded by a WATCH on the recipient key so a
// concurrent create for the same recipient cannot slip past the duplicate
// check.
func (s *Store) CreateChallenge(ctx context.Context, ch *payauth.Challenge) error {
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		existingID, err := tx.Get(ctx, keyRecipient+ch.Recipient).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil && existingID != "" {
			existing, found, err := s.challenge(ctx, tx, existingID)
			if err != nil {
				return err
			}
			if found && !existing.Status.Terminal() {
				return payauth.ErrDuplicateRecipient
			}
		}

		buf, err := json.Marshal(ch)
		if err != nil {
			return fmt.Errorf("encode challenge: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, keyChallenge+ch.ID, buf, 0)
			pipe.Set(ctx, keyRecipient+ch.Recipient, ch.ID, 0)
			pipe.SAdd(ctx, keyPending, ch.ID)
			return nil
		})
		return err
	}, keyRecipient+ch.Recipient)
}

// ChallengeByID reads one challenge.
func (s *Store) ChallengeByID(ctx context.Context, id string) (*payauth.Challenge, bool, error) {
	ch, found, err := s.challenge(ctx, s.client, id)
	if err != nil {
		return nil, false, err
	}
	return ch, found, nil
}

// ChallengeByRecipient resolves the index, then the primary record.
func (s *Store) ChallengeByRecipient(ctx context.Context, recipient string) (*payauth.Challenge, bool, error) {
	id, err := s.client.Get(ctx, keyRecipient+recipient).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return s.challenge(ctx, s.client, id)
}

// redisGetter covers both the plain client and a WATCH transaction.
type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *Store) challenge(ctx context.Context, c redisGetter, id string) (*payauth.Challenge, bool, error) {
	buf, err := c.Get(ctx, keyChallenge+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	ch := new(payauth.Challenge)
	if err := json.Unmarshal(buf, ch); err != nil {
		return nil, false, fmt.Errorf("decode challenge: %w", err)
	}
	return ch, true, nil
}

// TransitionToConsumed runs the compare-and-set under WATCH. A concurrent
// writer invalidates the transaction and the attempt is retried against the
// fresh value, so exactly one fresh transition ever commits.
func (s *Store) TransitionToConsumed(ctx context.Context, id string, proof payauth.TransferProof, now time.Time) (payauth.ConsumeOutcome, error) {
	outcome := payauth.ConsumeNotFound
	key := keyChallenge + id

	for {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			ch, found, err := s.challenge(ctx, tx, id)
			if err != nil {
				return err
			}
			if !found {
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

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, buf, 0)
				pipe.SRem(ctx, keyPending, id)
				return nil
			})
			if err != nil {
				return err
			}
			outcome = payauth.ConsumeApplied
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue // lost the optimistic race, re-read and re-decide
		}
		if err != nil {
			return payauth.ConsumeNotFound, err
		}
		return outcome, nil
	}
}

// SweepExpired walks the pending set and expires stale records one CAS at a
// time, so a consume that commits mid-sweep always wins.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) ([]string, error) {
	ids, err := s.client.SMembers(ctx, keyPending).Result()
	if err != nil {
		return nil, err
	}

	var expired []string
	for _, id := range ids {
		key := keyChallenge + id
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			ch, found, err := s.challenge(ctx, tx, id)
			if err != nil {
				return err
			}
			if !found {
				// Stale set member; drop it.
				return s.client.SRem(ctx, keyPending, id).Err()
			}
			if ch.Status != payauth.StatusPending || !now.After(ch.ExpiresAt) {
				if ch.Status.Terminal() {
					return s.client.SRem(ctx, keyPending, id).Err()
				}
				return nil
			}

			ch.Status = payauth.StatusExpired
			buf, err := json.Marshal(ch)
			if err != nil {
				return fmt.Errorf("encode challenge: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, buf, 0)
				pipe.SRem(ctx, keyPending, id)
				return nil
			})
			if err != nil {
				return err
			}
			expired = append(expired, id)
			return nil
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			// A consume landed first; leave the record alone.
			continue
		}
		if err != nil {
			return expired, err
		}
	}
	return expired, nil
}

// SaveSession stores the session keyed by its challenge id.
func (s *Store) SaveSession(ctx context.Context, session *payauth.Session) error {
	buf, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	return s.client.Set(ctx, keySession+session.ChallengeID, buf, 0).Err()
}

// SessionByChallenge reads the session for a challenge, if any.
func (s *Store) SessionByChallenge(ctx context.Context, challengeID string) (*payauth.Session, bool, error) {
	buf, err := s.client.Get(ctx, keySession+challengeID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	session := new(payauth.Session)
	if err := json.Unmarshal(buf, session); err != nil {
		return nil, false, fmt.Errorf("decode session: %w", err)
	}
	return session, true, nil
}

var _ payauth.Store = (*Store)(nil)
