package payauth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
)

// MinLamportsFloor is the hard anti-spam floor on challenge amounts. Project
// policy and per-request overrides are clamped up to it, never below.
const MinLamportsFloor uint64 = 1_000

// Factory mints challenges: a fresh single-use keypair, an amount under
// project policy, and an expiry window.
type Factory struct {
	store Store
	log   *slog.Logger
	nowFn func() time.Time
}

// NewFactory creates a challenge factory backed by the given store.
func NewFactory(store Store, log *slog.Logger) *Factory {
	if log == nil {
		log = slog.Default()
	}
	return &Factory{
		store: store,
		log:   log,
		nowFn: time.Now,
	}
}

// Issue creates a pending challenge for the project and persists it.
//
// The recipient keypair is generated here and never reused: recipients are
// single-use by construction, which is what lets chain events join back to a
// unique challenge. The secret half is retained on the stored record so the
// issuing side could in principle control the address; it never appears in
// the returned view.
func (f *Factory) Issue(ctx context.Context, project Project, opts IssueOptions) (*Challenge, error) {
	wallet := solana.NewWallet()

	amount := project.MinLamports
	if opts.AmountLamports > 0 {
		amount = opts.AmountLamports
	}
	if amount < MinLamportsFloor {
		amount = MinLamportsFloor
	}

	webhookURL := project.WebhookURL
	if opts.WebhookURL != "" {
		webhookURL = opts.WebhookURL
	}

	now := f.nowFn()
	ch := &Challenge{
		ID:              uuid.NewString(),
		Recipient:       wallet.PublicKey().String(),
		RecipientSecret: wallet.PrivateKey.String(),
		AmountLamports:  amount,
		ExpiresAt:       now.Add(project.ChallengeTTL),
		Status:          StatusPending,
		ProjectID:       project.ID,
		WebhookURL:      webhookURL,
		WebhookSecret:   project.WebhookSecret,
		CreatedAt:       now,
	}

	if err := f.store.CreateChallenge(ctx, ch); err != nil {
		// ErrDuplicateRecipient is practically unreachable with fresh
		// keypairs but must not be swallowed.
		return nil, fmt.Errorf("create challenge: %w", err)
	}

	f.log.Info("challenge issued",
		"challenge", ch.ID,
		"project", ch.ProjectID,
		"recipient", ch.Recipient,
		"lamports", ch.AmountLamports,
		"expiresAt", ch.ExpiresAt)
	return ch, nil
}
