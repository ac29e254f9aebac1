// Command fulfillmentctl is the support tool for the fulfillment service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := newRootCmd(newApp(logger)).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "fulfillmentctl",
		Short:         "Support tool for orders, payments and shipments",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(historyCmd(a))
	rootCmd.AddCommand(orderCmd(a))
	rootCmd.AddCommand(quoteCmd(a))
	rootCmd.AddCommand(migrateCmd(a))

	return rootCmd
}
