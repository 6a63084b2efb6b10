// Package webhook delivers consumption events to project callbacks.
//
// Delivery is best-effort and at-most-once: one POST, failure logged and
// swallowed. Integrations needing certainty poll the challenge state instead.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	payauth "github.com/safu-labs/payauth"
	"github.com/safu-labs/payauth/metrics"
)

// SignatureHeader carries the hex HMAC-SHA256 of the payload when the
// notifier is configured with a signing secret.
const SignatureHeader = "X-Payauth-Signature"

// Notifier posts challenge.consumed events to the challenge's webhook URL.
type Notifier struct {
	client *http.Client
	secret string
	log    *slog.Logger
}

// New creates a notifier. secret is the process-wide fallback signing key; a
// challenge carrying a project webhook secret is signed with that instead.
// With neither, payloads are unsigned.
func New(secret string, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{
		client: &http.Client{Timeout: 10 * time.Second},
		secret: secret,
		log:    log,
	}
}

// Notify performs the single best-effort delivery. A challenge without a
// webhook URL is a no-op.
func (n *Notifier) Notify(ctx context.Context, ch *payauth.Challenge, s *payauth.Session) {
	if ch.WebhookURL == "" {
		return
	}
	log := n.log.With("challenge", ch.ID, "url", ch.WebhookURL)

	event := payauth.ConsumedEvent{
		Event:            payauth.EventChallengeConsumed,
		ChallengeID:      ch.ID,
		ProjectID:        ch.ProjectID,
		UserPubkey:       s.UserPubkey,
		TxSignature:      s.TxSignature,
		ReceivedLamports: ch.ReceivedLamports,
		AmountLamports:   ch.AmountLamports,
		Status:           "authenticated",
	}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error("webhook payload encode failed", "err", err)
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		log.Warn("webhook request build failed", "err", err)
		metrics.WebhookDeliveries.WithLabelValues("error").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	secret := n.secret
	if ch.WebhookSecret != "" {
		secret = ch.WebhookSecret
	}
	if secret != "" {
		req.Header.Set(SignatureHeader, sign(secret, payload))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		log.Warn("webhook delivery failed", "err", err)
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("webhook rejected", "status", resp.Status)
		metrics.WebhookDeliveries.WithLabelValues("rejected").Inc()
		return
	}
	metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
	log.Info("webhook delivered")
}

func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

var _ payauth.Notifier = (*Notifier)(nil)
