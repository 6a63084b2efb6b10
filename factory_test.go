package payauth_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	payauth "github.com/safu-labs/payauth"
	"github.com/safu-labs/payauth/store/memory"
)

func testProject() payauth.Project {
	return payauth.Project{
		ID:           "proj",
		Name:         "Test Project",
		MinLamports:  7000,
		ChallengeTTL: 5 * time.Minute,
		Commitment:   "confirmed",
	}
}

func TestIssueChallengeDefaults(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	factory := payauth.NewFactory(store, discardLogger())

	before := time.Now()
	ch, err := factory.Issue(ctx, testProject(), payauth.IssueOptions{})
	require.NoError(t, err)

	assert.NotEmpty(t, ch.ID)
	assert.Equal(t, payauth.StatusPending, ch.Status)
	assert.Equal(t, uint64(7000), ch.AmountLamports)
	assert.Equal(t, "proj", ch.ProjectID)
	assert.WithinDuration(t, before.Add(5*time.Minute), ch.ExpiresAt, 2*time.Second)

	// The recipient is a real base58 public key and its secret is retained on
	// the record.
	_, err = solana.PublicKeyFromBase58(ch.Recipient)
	assert.NoError(t, err)
	assert.NotEmpty(t, ch.RecipientSecret)

	stored, ok, err := store.ChallengeByID(ctx, ch.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ch.Recipient, stored.Recipient)
}

func TestIssueChallengeDistinctRecipients(t *testing.T) {
	ctx := context.Background()
	factory := payauth.NewFactory(memory.New(), discardLogger())

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		ch, err := factory.Issue(ctx, testProject(), payauth.IssueOptions{})
		require.NoError(t, err)
		assert.False(t, seen[ch.Recipient], "recipients must be single-use")
		seen[ch.Recipient] = true
	}
}

func TestIssueChallengeAmountOverride(t *testing.T) {
	ctx := context.Background()
	factory := payauth.NewFactory(memory.New(), discardLogger())

	ch, err := factory.Issue(ctx, testProject(), payauth.IssueOptions{AmountLamports: 12_345})
	require.NoError(t, err)
	assert.Equal(t, uint64(12_345), ch.AmountLamports)
}

func TestIssueChallengeFloorClamp(t *testing.T) {
	ctx := context.Background()
	factory := payauth.NewFactory(memory.New(), discardLogger())

	project := testProject()
	project.MinLamports = 10

	ch, err := factory.Issue(ctx, project, payauth.IssueOptions{})
	require.NoError(t, err)
	assert.Equal(t, payauth.MinLamportsFloor, ch.AmountLamports)

	ch, err = factory.Issue(ctx, project, payauth.IssueOptions{AmountLamports: 5})
	require.NoError(t, err)
	assert.Equal(t, payauth.MinLamportsFloor, ch.AmountLamports)
}

func TestIssueChallengeWebhookOverride(t *testing.T) {
	ctx := context.Background()
	factory := payauth.NewFactory(memory.New(), discardLogger())

	project := testProject()
	project.WebhookURL = "https://project.example/hook"
	project.WebhookSecret = "project-secret"

	ch, err := factory.Issue(ctx, project, payauth.IssueOptions{})
	require.NoError(t, err)
	assert.Equal(t, "https://project.example/hook", ch.WebhookURL)
	assert.Equal(t, "project-secret", ch.WebhookSecret, "the signing key travels with the challenge")

	ch, err = factory.Issue(ctx, project, payauth.IssueOptions{WebhookURL: "https://request.example/hook"})
	require.NoError(t, err)
	assert.Equal(t, "https://request.example/hook", ch.WebhookURL)
}

func TestChallengeViewRedactsSecret(t *testing.T) {
	ctx := context.Background()
	factory := payauth.NewFactory(memory.New(), discardLogger())

	ch, err := factory.Issue(ctx, testProject(), payauth.IssueOptions{})
	require.NoError(t, err)

	view := ch.View()
	assert.Equal(t, ch.ID, view.ID)
	assert.Equal(t, ch.Recipient, view.Recipient)
	assert.Equal(t, ch.AmountLamports, view.AmountLamports)

	encoded, err := json.Marshal(view)
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), ch.RecipientSecret)
}
