//go:build integration

package firestore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/subsync/pkg/billing"
)

const testProjectID = "test-project"

func setupStorage(t *testing.T) *Storage {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	client, err := firestore.NewClient(ctx, testProjectID)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	suffix := time.Now().UnixNano()
	storage, err := New(client, Config{
		SubscriptionsCollection: fmt.Sprintf("test_subs_%d", suffix),
		ProfilesCollection:      fmt.Sprintf("test_profiles_%d", suffix),
		ClockCollection:         fmt.Sprintf("test_clock_%d", suffix),
	})
	require.NoError(t, err)
	return storage
}

func TestStorage_GetSubscription_Missing(t *testing.T) {
	storage := setupStorage(t)

	rec, err := storage.GetSubscription(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestStorage_UpsertOverwritesWholeDocument(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()
	trialEnd := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)

	require.NoError(t, storage.UpsertSubscription(ctx, &billing.Record{
		UserID:               "u1",
		StripeCustomerID:     "cus_1",
		StripeSubscriptionID: "sub_1",
		Status:               billing.StatusTrial,
		Tier:                 billing.TierTrial,
		TrialEndsAt:          &trialEnd,
	}))

	rec, err := storage.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, rec.TrialEndsAt)
	assert.True(t, trialEnd.Equal(*rec.TrialEndsAt))

	require.NoError(t, storage.UpsertSubscription(ctx, &billing.Record{
		UserID:           "u1",
		StripeCustomerID: "cus_1",
		Status:           billing.StatusFree,
		Tier:             billing.TierFree,
	}))

	rec, err = storage.GetSubscription(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, rec.StripeSubscriptionID)
	assert.Nil(t, rec.TrialEndsAt)
	assert.Equal(t, billing.TierFree, rec.Tier)
}

func TestStorage_Profiles(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()

	p, err := storage.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, p)

	require.NoError(t, storage.SetProfile(ctx, &billing.Profile{UserID: "u1", Email: "ada@example.com"}))
	p, err = storage.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", p.Email)
}

func TestStorage_Now(t *testing.T) {
	storage := setupStorage(t)

	serverTime, err := storage.Now(context.Background())
	require.NoError(t, err)
	assert.Equal(t, time.UTC, serverTime.Location())
	assert.WithinDuration(t, time.Now().UTC(), serverTime, 10*time.Second)
}
