package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"fulfillment-svc/config"
	"fulfillment-svc/database"
	"fulfillment-svc/ledger"
	"fulfillment-svc/orders"
	"fulfillment-svc/shippingcost"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const commandTimeout = 30 * time.Second

type app struct {
	logger *zap.Logger
	openDB func() (*sql.DB, error)
}

func newApp(logger *zap.Logger) *app {
	return &app{
		logger: logger,
		openDB: func() (*sql.DB, error) {
			cfg, err := config.LoadDB()
			if err != nil {
				return nil, err
			}
			return database.Open(cfg, logger)
		},
	}
}

func (a *app) withDB(cmd *cobra.Command, fn func(ctx context.Context, db *sql.DB) error) error {
	db, err := a.openDB()
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()
	return fn(ctx, db)
}

func historyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history [order-id]",
		Short: "List payment attempts for an order, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				attempts, err := ledger.New(db, a.logger).History(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to load payment history: %w", err)
				}
				if len(attempts) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No payment attempts")
					return nil
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "CREATED\tPROVIDER\tSESSION\tINTENT\tSTATUS\tAMOUNT")
				for _, p := range attempts {
					intent := "-"
					if p.PaymentIntentID != nil {
						intent = *p.PaymentIntentID
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s %s\n",
						p.CreatedAt.UTC().Format(time.RFC3339), p.Provider, p.SessionID, intent,
						p.Status, p.Amount.StringFixed(2), p.Currency)
				}
				return w.Flush()
			})
		},
	}
}

func orderCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "order [order-id]",
		Short: "Show an order as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				order, err := orders.NewPostgresStore(db).Get(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to load order: %w", err)
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(order)
			})
		},
	}
}

func quoteCmd(a *app) *cobra.Command {
	var ratesFile string

	cmd := &cobra.Command{
		Use:   "quote [country] [items]",
		Short: "Compute the shipping cost for a destination and item count",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("items must be an integer: %w", err)
			}
			costs, err := shippingcost.Load(ratesFile)
			if err != nil {
				return err
			}
			quote, err := costs.Cost(args[0], items)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", quote.Cost.StringFixed(2), quote.Currency, quote.Region)
			return nil
		},
	}

	cmd.Flags().StringVar(&ratesFile, "rates", os.Getenv("SHIPPING_RATES_FILE"), "YAML rate table (defaults to the built-in table)")

	return cmd
}

func migrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the fulfillment tables if they do not exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withDB(cmd, func(ctx context.Context, db *sql.DB) error {
				if err := database.Migrate(ctx, db); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			})
		},
	}
}
