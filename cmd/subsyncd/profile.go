package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/subsync/internal/app"
	"github.com/mihaimyh/subsync/internal/config"
	"github.com/mihaimyh/subsync/pkg/billing"
)

// requireDurableStore refuses the memory driver for one-shot commands,
// whose writes would vanish when the process exits.
func requireDurableStore(cfg *config.Config, command string) error {
	if cfg.Store.Driver == config.StoreMemory {
		return fmt.Errorf("%s requires a durable store.driver (postgres or firestore), got %q",
			command, cfg.Store.Driver)
	}
	return nil
}

// profileWriter is implemented by every bundled store.
type profileWriter interface {
	SetProfile(ctx context.Context, p *billing.Profile) error
}

func newProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set-email <user-id> <email>",
		Short: "Record the profile email used to discover Stripe customers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, email := args[0], args[1]
			if err := billing.ValidateUserID(userID); err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := requireDurableStore(cfg, "set-email"); err != nil {
				return err
			}
			a, err := app.New(cmd.Context(), cfg,
				app.WithLogger(app.NewLogger(cfg.Log)),
				app.WithLedger(noLedger{}),
			)
			if err != nil {
				return err
			}
			defer a.Close()

			w, ok := a.Store.(profileWriter)
			if !ok {
				return fmt.Errorf("store %q cannot write profiles", cfg.Store.Driver)
			}
			if err := w.SetProfile(cmd.Context(), &billing.Profile{UserID: userID, Email: email}); err != nil {
				return err
			}
			a.Logger.Info().Str("user_id", userID).Msg("profile email recorded")
			return nil
		},
	}
}
