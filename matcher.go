package payauth

import (
	"context"
	"log/slog"
	"time"

	"github.com/safu-labs/payauth/metrics"
)

// Matcher turns chain notifications into consumed challenges. It is invoked
// once per log notification, scoped to the recipient the subscription was
// opened for. Nothing in here ever panics or returns an error across the
// notification boundary; foreseeable failure becomes a skip-and-log.
type Matcher struct {
	store    Store
	source   TransactionSource
	sessions SessionIssuer
	notifier Notifier
	log      *slog.Logger
	nowFn    func() time.Time
}

// NewMatcher wires a matcher from its collaborators. The notifier may be nil
// when no webhook delivery is configured.
func NewMatcher(store Store, source TransactionSource, sessions SessionIssuer, notifier Notifier, log *slog.Logger) *Matcher {
	if log == nil {
		log = slog.Default()
	}
	return &Matcher{
		store:    store,
		source:   source,
		sessions: sessions,
		notifier: notifier,
		log:      log,
		nowFn:    time.Now,
	}
}

// HandleNotification processes one (signature, recipient) notification.
//
// The transaction body may lag the log notification at the configured
// commitment; "not found" is a recoverable miss, not an error. Each decoded
// transfer is evaluated independently against the challenge indexed by its
// destination: one transaction can consume several distinct challenges, and
// an under-paying transfer never accumulates toward a later one.
func (m *Matcher) HandleNotification(ctx context.Context, signature, recipient string) {
	log := m.log.With("signature", signature, "recipient", recipient)

	transfers, found, err := m.source.TransactionTransfers(ctx, signature)
	if err != nil {
		log.Warn("transaction fetch failed", "err", err)
		return
	}
	if !found {
		log.Debug("transaction not yet available")
		metrics.MatcherSkips.WithLabelValues("tx_unavailable").Inc()
		return
	}

	for _, tr := range transfers {
		m.matchTransfer(ctx, log, signature, tr)
	}
}

// matchTransfer applies the independent filters from the matching contract
// and, on a pass, attempts the compare-and-set consume.
func (m *Matcher) matchTransfer(ctx context.Context, log *slog.Logger, signature string, tr TransferEvent) {
	ch, ok, err := m.store.ChallengeByRecipient(ctx, tr.Destination)
	if err != nil {
		log.Warn("recipient lookup failed", "destination", tr.Destination, "err", err)
		return
	}
	if !ok {
		// Not a watched recipient for this instruction; other instructions
		// in the same transaction may still match.
		return
	}
	if ch.Status != StatusPending {
		metrics.MatcherSkips.WithLabelValues("not_pending").Inc()
		return
	}
	now := m.nowFn()
	if now.After(ch.ExpiresAt) {
		log.Info("transfer after expiry", "challenge", ch.ID)
		metrics.MatcherSkips.WithLabelValues("expired").Inc()
		return
	}
	if tr.Lamports < ch.AmountLamports {
		log.Info("underpaid transfer",
			"challenge", ch.ID,
			"received", tr.Lamports,
			"required", ch.AmountLamports)
		metrics.MatcherSkips.WithLabelValues("underpaid").Inc()
		return
	}

	proof := TransferProof{
		FromPubkey: tr.Source,
		Signature:  signature,
		Lamports:   tr.Lamports,
	}
	outcome, err := m.store.TransitionToConsumed(ctx, ch.ID, proof, now)
	if err != nil {
		log.Error("consume transition failed", "challenge", ch.ID, "err", err)
		return
	}

	switch outcome {
	case ConsumeApplied:
		metrics.ChallengesConsumed.Inc()
		log.Info("challenge consumed",
			"challenge", ch.ID,
			"payer", tr.Source,
			"lamports", tr.Lamports)
		m.finalize(ctx, log, ch, proof)
	case ConsumeReplayed:
		// Same signature landed twice; the session already exists.
		log.Debug("duplicate notification for winning signature", "challenge", ch.ID)
	default:
		log.Info("lost consume race", "challenge", ch.ID, "outcome", outcome.String())
		metrics.MatcherSkips.WithLabelValues(outcome.String()).Inc()
	}
}

// finalize issues the session and fires the webhook after a fresh transition.
// A signing failure is fatal to this one match: the challenge stays consumed
// and only a new challenge can recover the session.
func (m *Matcher) finalize(ctx context.Context, log *slog.Logger, ch *Challenge, proof TransferProof) {
	session, err := m.sessions.Issue(ctx, ch.ID, proof.FromPubkey, proof.Signature)
	if err != nil {
		log.Error("session issuance failed", "challenge", ch.ID, "err", err)
		return
	}
	metrics.SessionsIssued.Inc()

	if m.notifier != nil {
		consumed := *ch
		consumed.Status = StatusConsumed
		consumed.DetectedFromPubkey = proof.FromPubkey
		consumed.TxSignature = proof.Signature
		consumed.ReceivedLamports = proof.Lamports
		m.notifier.Notify(ctx, &consumed, session)
	}
}
