// Package session mints and verifies the credentials issued to payer
// addresses after their challenge is consumed.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	payauth "github.com/safu-labs/payauth"
)

// DefaultTTL is the fixed validity window of a session credential.
const DefaultTTL = time.Hour

// Claims is the payload of a session token: the payer is the subject, bound
// to the challenge it paid for and the transfer that proved it.
type Claims struct {
	ChallengeID string `json:"challengeId"`
	TxSignature string `json:"tx"`
	jwt.RegisteredClaims
}

// Issuer signs session tokens with a process-wide HS256 key and persists the
// resulting sessions.
type Issuer struct {
	store  payauth.Store
	secret []byte
	ttl    time.Duration
	nowFn  func() time.Time
}

// NewIssuer creates an issuer. The secret must be non-empty; a missing
// signing key is a configuration invariant violation, caught at startup
// instead of on the first match.
func NewIssuer(store payauth.Store, secret []byte) (*Issuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("session signing secret is required")
	}
	return &Issuer{
		store:  store,
		secret: secret,
		ttl:    DefaultTTL,
		nowFn:  time.Now,
	}, nil
}

// Issue mints the token for a freshly consumed challenge and stores the
// session keyed by challenge id.
func (i *Issuer) Issue(ctx context.Context, challengeID, userPubkey, txSignature string) (*payauth.Session, error) {
	now := i.nowFn().Truncate(time.Second)
	expiresAt := now.Add(i.ttl)

	claims := Claims{
		ChallengeID: challengeID,
		TxSignature: txSignature,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userPubkey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return nil, fmt.Errorf("sign session token: %w", err)
	}

	session := &payauth.Session{
		UserPubkey:  userPubkey,
		ChallengeID: challengeID,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
		Token:       token,
		TxSignature: txSignature,
	}
	if err := i.store.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	return session, nil
}

// Verifier validates session tokens for downstream resource servers.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier sharing the issuer's signing key.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify parses and validates a session token, returning its claims.
func (v *Verifier) Verify(token string) (*Claims, error) {
	claims := new(Claims)
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("invalid session token")
	}
	return claims, nil
}

var _ payauth.SessionIssuer = (*Issuer)(nil)
