package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/subsync/internal/config"
	"github.com/mihaimyh/subsync/pkg/billing"
)

const testUserID = "6f1c2a4e-9b7d-4c3e-8a15-2f0d9e6b7a11"

func TestReconcileCommand_RejectsInvalidUserID(t *testing.T) {
	cmd := newReconcileCommand()
	cmd.SetArgs([]string{"not-a-uuid"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	assert.ErrorIs(t, err, billing.ErrInvalidUserID)
}

func TestReconcileCommand_RequiresStripeKey(t *testing.T) {
	t.Chdir(t.TempDir())
	configPath = ""

	cmd := newReconcileCommand()
	cmd.SetArgs([]string{testUserID})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.ErrorContains(t, cmd.Execute(), "stripe.api_key")
}

func TestProfileCommand_RefusesMemoryStore(t *testing.T) {
	t.Chdir(t.TempDir())
	configPath = ""

	cmd := newProfileCommand()
	cmd.SetArgs([]string{testUserID, "ada@example.com"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorContains(t, err, "durable store.driver")
	assert.ErrorContains(t, err, "set-email")
}

func TestReconcileCommand_RefusesMemoryStore(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("SUBSYNC_STRIPE_API_KEY", "sk_test_cli")
	configPath = ""

	cmd := newReconcileCommand()
	cmd.SetArgs([]string{testUserID})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.ErrorContains(t, err, "durable store.driver")
}

func TestRequireDurableStore(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Driver: config.StorePostgres}}
	assert.NoError(t, requireDurableStore(cfg, "reconcile"))

	cfg.Store.Driver = config.StoreFirestore
	assert.NoError(t, requireDurableStore(cfg, "reconcile"))

	cfg.Store.Driver = config.StoreMemory
	assert.ErrorContains(t, requireDurableStore(cfg, "reconcile"), "memory")
}

func TestMigrateCommand_RequiresPostgres(t *testing.T) {
	t.Chdir(t.TempDir())
	configPath = ""

	cmd := newMigrateCommand()
	cmd.SetArgs(nil)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	assert.ErrorContains(t, cmd.Execute(), "store.driver=postgres")
}

func TestNoLedger(t *testing.T) {
	var l billing.Ledger = noLedger{}
	_, err := l.GetSubscription(t.Context(), "sub_1")
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)
}
