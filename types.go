package payauth

import (
	"time"
)

// ChallengeStatus is the lifecycle state of a payment challenge.
// Transitions only move pending -> consumed or pending -> expired;
// consumed and expired are terminal.
type ChallengeStatus string

const (
	StatusPending  ChallengeStatus = "pending"
	StatusConsumed ChallengeStatus = "consumed"
	StatusExpired  ChallengeStatus = "expired"
)

// Terminal reports whether the status admits no further transitions.
func (s ChallengeStatus) Terminal() bool {
	return s == StatusConsumed || s == StatusExpired
}

// Challenge is a single-use authentication attempt: the user proves control of
// their wallet by sending AmountLamports (or more) to Recipient before ExpiresAt.
type Challenge struct {
	ID              string          `json:"id"`
	Recipient       string          `json:"recipient"`
	RecipientSecret string          `json:"recipientSecret,omitempty"`
	AmountLamports  uint64          `json:"amountLamports"`
	ExpiresAt       time.Time       `json:"expiresAt"`
	Status          ChallengeStatus `json:"status"`

	// Populated only on the pending -> consumed transition.
	DetectedFromPubkey string `json:"detectedFromPubkey,omitempty"`
	TxSignature        string `json:"txSignature,omitempty"`
	ReceivedLamports   uint64 `json:"receivedLamports,omitempty"`

	// Tenancy attribution, opaque to the matching engine. The webhook secret
	// is carried on the record so delivery can sign with the project's key
	// even when the project registry is unavailable at match time.
	ProjectID     string `json:"projectId,omitempty"`
	WebhookURL    string `json:"webhookUrl,omitempty"`
	WebhookSecret string `json:"webhookSecret,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// View returns the caller-facing projection of a challenge with the
// recipient secret redacted.
func (c *Challenge) View() ChallengeView {
	return ChallengeView{
		ID:             c.ID,
		Recipient:      c.Recipient,
		AmountLamports: c.AmountLamports,
		ExpiresAt:      c.ExpiresAt,
	}
}

// ChallengeView is what issuing clients see: enough to construct the payment,
// never the recipient's key material.
type ChallengeView struct {
	ID             string    `json:"id"`
	Recipient      string    `json:"recipient"`
	AmountLamports uint64    `json:"amountLamports"`
	ExpiresAt      time.Time `json:"expiresAt"`
}

// Session is the credential issued to the payer address after its challenge
// is consumed. Sessions are created exactly once per challenge and never
// mutated afterwards.
type Session struct {
	UserPubkey  string    `json:"userPubkey"`
	ChallengeID string    `json:"challengeId"`
	IssuedAt    time.Time `json:"issuedAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
	Token       string    `json:"token"`
	TxSignature string    `json:"txSignature"`
}

// TransferProof captures the observed on-chain transfer that consumed a
// challenge. It is immutable evidence recorded on the challenge.
type TransferProof struct {
	FromPubkey string
	Signature  string
	Lamports   uint64
}

// TransferEvent is a decoded native transfer inside an observed transaction.
// The chain layer yields a closed set of recognized instructions; everything
// that is not a system transfer is dropped before it reaches the matcher.
type TransferEvent struct {
	Source      string
	Destination string
	Lamports    uint64
}

// Project holds the per-tenant policy a challenge is minted under.
type Project struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	MinLamports   uint64        `json:"minLamports"`
	ChallengeTTL  time.Duration `json:"challengeTtl"`
	Commitment    string        `json:"commitment"`
	WebhookURL    string        `json:"webhookUrl,omitempty"`
	WebhookSecret string        `json:"-"`
}

// IssueOptions carries per-request overrides accepted at challenge creation.
type IssueOptions struct {
	// AmountLamports overrides the project minimum when non-zero. The
	// effective amount is still clamped to the anti-spam floor.
	AmountLamports uint64
	// WebhookURL overrides the project webhook for this challenge only.
	WebhookURL string
}

// PollState is the only set of statuses polling clients ever observe.
// Internal skip reasons (underpaid, conflict, ...) stay in operational logs.
type PollState string

const (
	PollNotFound      PollState = "not_found"
	PollPending       PollState = "pending"
	PollExpired       PollState = "expired"
	PollAuthenticated PollState = "authenticated"
)

// PollResult is the response to a status poll. Token fields are set only
// when State is PollAuthenticated.
type PollResult struct {
	State        PollState `json:"status"`
	SessionToken string    `json:"sessionToken,omitempty"`
	UserPubkey   string    `json:"userPubkey,omitempty"`
	TxSignature  string    `json:"txSignature,omitempty"`
}

// ConsumeOutcome is the typed result of a compare-and-set consume attempt.
// Losing a race is an expected, frequent outcome, not an error (callers
// branch on the outcome instead of unwrapping error values).
type ConsumeOutcome int

const (
	// ConsumeApplied means this call performed the pending -> consumed
	// transition. Exactly one caller per challenge ever observes it.
	ConsumeApplied ConsumeOutcome = iota
	// ConsumeReplayed means the challenge was already consumed by this same
	// transaction signature; the retry is idempotent and no session may be
	// re-issued.
	ConsumeReplayed
	// ConsumeConflict means the challenge was consumed by a different
	// signature. The attempt lost the race and must not overwrite anything.
	ConsumeConflict
	// ConsumeExpired means the challenge is past its expiry (or already
	// swept to expired).
	ConsumeExpired
	// ConsumeNotFound means no challenge exists for the id.
	ConsumeNotFound
)

func (o ConsumeOutcome) String() string {
	switch o {
	case ConsumeApplied:
		return "applied"
	case ConsumeReplayed:
		return "replayed"
	case ConsumeConflict:
		return "conflict"
	case ConsumeExpired:
		return "expired"
	case ConsumeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// ConsumedEvent is the webhook payload emitted after a fresh consumption.
type ConsumedEvent struct {
	Event            string `json:"event"`
	ChallengeID      string `json:"challengeId"`
	ProjectID        string `json:"projectId"`
	UserPubkey       string `json:"userPubkey"`
	TxSignature      string `json:"txSignature"`
	ReceivedLamports uint64 `json:"receivedLamports"`
	AmountLamports   uint64 `json:"amountLamports"`
	Status           string `json:"status"`
}

// EventChallengeConsumed is the event name carried on consumption webhooks.
const EventChallengeConsumed = "challenge.consumed"
