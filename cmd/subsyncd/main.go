// Command subsyncd serves the subscription sync endpoint and runs
// maintenance tasks against the billing store.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:           "subsyncd",
		Short:         "Reconcile local subscription state with Stripe",
		Long:          `subsyncd keeps each user's locally stored subscription status and tier in line with Stripe.`,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ./configs/config.yaml or ./config.yaml)")

	rootCmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newReconcileCommand(),
		newProfileCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
