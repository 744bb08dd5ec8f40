package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/subsync/internal/app"
	"github.com/mihaimyh/subsync/internal/config"
	"github.com/mihaimyh/subsync/pkg/billing"
)

func newReconcileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <user-id>",
		Short: "Reconcile one user against Stripe and print the result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			if err := billing.ValidateUserID(userID); err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.RequireStripe(); err != nil {
				return err
			}
			if err := requireDurableStore(cfg, "reconcile"); err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg, app.WithLogger(app.NewLogger(cfg.Log)))
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Server.RequestTimeout)
			defer cancel()

			res, err := a.Reconciler.Reconcile(ctx, userID)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

// noLedger satisfies billing.Ledger for commands that never reach Stripe.
type noLedger struct{}

func (noLedger) Name() string { return "none" }

func (noLedger) GetSubscription(context.Context, string) (*billing.RawSubscription, error) {
	return nil, billing.ErrProviderNotConfigured
}

func (noLedger) LatestSubscription(context.Context, string) (*billing.RawSubscription, error) {
	return nil, billing.ErrProviderNotConfigured
}

func (noLedger) FindCustomersByEmail(context.Context, string, int) ([]string, error) {
	return nil, billing.ErrProviderNotConfigured
}
