package payauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/safu-labs/payauth/metrics"
)

// Service is the facade the HTTP layer talks to: challenge issuance with its
// watch side effect, and the polling contract.
type Service struct {
	store   Store
	factory *Factory
	watcher AddressWatcher
	log     *slog.Logger
	nowFn   func() time.Time
}

// NewService wires the engine facade.
func NewService(store Store, factory *Factory, watcher AddressWatcher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:   store,
		factory: factory,
		watcher: watcher,
		log:     log,
		nowFn:   time.Now,
	}
}

// IssueChallenge mints a challenge for the project and starts watching its
// recipient. The returned view carries no secret key material.
func (s *Service) IssueChallenge(ctx context.Context, project Project, opts IssueOptions) (ChallengeView, error) {
	ch, err := s.factory.Issue(ctx, project, opts)
	if err != nil {
		return ChallengeView{}, err
	}
	metrics.ChallengesIssued.Inc()

	if err := s.watcher.Watch(ctx, ch.Recipient); err != nil {
		// The challenge exists and can still be observed once the
		// subscription recovers; surface the failure to the caller so it
		// can retry with a fresh challenge.
		return ChallengeView{}, fmt.Errorf("watch recipient: %w", err)
	}
	return ch.View(), nil
}

// PollStatus implements the polling contract. A consumed challenge whose
// session is still being issued reports pending, never authenticated and
// never an error.
func (s *Service) PollStatus(ctx context.Context, id string) (PollResult, error) {
	ch, ok, err := s.store.ChallengeByID(ctx, id)
	if err != nil {
		return PollResult{}, err
	}
	if !ok {
		return PollResult{State: PollNotFound}, nil
	}

	switch ch.Status {
	case StatusConsumed:
		session, ok, err := s.store.SessionByChallenge(ctx, id)
		if err != nil {
			return PollResult{}, err
		}
		if !ok {
			return PollResult{State: PollPending}, nil
		}
		return PollResult{
			State:        PollAuthenticated,
			SessionToken: session.Token,
			UserPubkey:   session.UserPubkey,
			TxSignature:  session.TxSignature,
		}, nil
	case StatusExpired:
		return PollResult{State: PollExpired}, nil
	default:
		// Report expiry as soon as the window closes, even before the
		// sweep records it.
		if s.nowFn().After(ch.ExpiresAt) {
			return PollResult{State: PollExpired}, nil
		}
		return PollResult{State: PollPending}, nil
	}
}
