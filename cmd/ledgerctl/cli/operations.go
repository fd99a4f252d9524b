package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/periodledger/internal/app"
	"github.com/odyssey-erp/periodledger/internal/statements"
	"github.com/odyssey-erp/periodledger/jobs"
)

func newCarryForwardCommand() *cobra.Command {
	var plan, queue bool
	cmd := &cobra.Command{
		Use:   "carry-forward <source> <dest>",
		Short: "Carry balances from one period into another",
		Long: `Copies products, costs, customers and partners into dest with their
closing balances as openings, and writes one opening cash entry per box.
Running it again moves each carried position by its change since the last
run and keeps what the destination booked meanwhile.`,
		Example: `  ledgerctl carry-forward 2025 2026 --plan
  ledgerctl carry-forward active 2026 --queue`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := services(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if queue {
				opts, ok := svc.RedisOpts()
				if !ok {
					return fmt.Errorf("--queue requires REDIS_ADDR")
				}
				client := jobs.NewClient(opts)
				defer client.Close()
				info, err := client.EnqueueCarryForward(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "queued %s on %s\n", info.ID, info.Queue)
				return nil
			}
			src, err := svc.Registry.Resolve(ctx, args[0])
			if err != nil {
				return err
			}
			dst, err := svc.Registry.Resolve(ctx, args[1])
			if err != nil {
				return err
			}
			run := svc.Migrator.Migrate
			if plan {
				run = svc.Migrator.Plan
			}
			delta, err := run(ctx, src, dst)
			if err != nil {
				return err
			}
			return printJSON(cmd, delta)
		},
	}
	cmd.Flags().BoolVar(&plan, "plan", false, "print the delta without writing")
	cmd.Flags().BoolVar(&queue, "queue", false, "hand the migration to the worker")
	return cmd
}

func newIntegrityCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "integrity [period]",
		Short: "Check derived balances of a period (default: active)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := services(cmd)
			if err != nil {
				return err
			}
			period := "active"
			if len(args) == 1 {
				period = args[0]
			}
			id, err := svc.Registry.Resolve(cmd.Context(), period)
			if err != nil {
				return err
			}
			report, err := jobs.NewIntegrityJob(svc.Registry, svc.Logger, svc.Metrics.Jobs()).Scan(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, report); err != nil {
				return err
			}
			if !report.OK() {
				return fmt.Errorf("period %s has %d integrity issues", id, len(report.Issues))
			}
			return nil
		},
	}
}

func newStatementCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "statement",
		Short: "Print account statements",
	}
	cmd.PersistentFlags().String("pdf", "", "render the statement to this PDF file through Gotenberg")
	cmd.AddCommand(
		&cobra.Command{
			Use:   "customer <period> <customer-id>",
			Short: "Customer statement from the carried-forward opening",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := services(cmd)
				if err != nil {
					return err
				}
				st, err := svc.Statements.CustomerStatement(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return emitStatement(cmd, svc, st)
			},
		},
		&cobra.Command{
			Use:   "partner <period> <partner-id>",
			Short: "Partner capital statement",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := services(cmd)
				if err != nil {
					return err
				}
				st, err := svc.Statements.PartnerStatement(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				return emitStatement(cmd, svc, st)
			},
		},
		&cobra.Command{
			Use:   "boxes <period>",
			Short: "Cash box balances",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := services(cmd)
				if err != nil {
					return err
				}
				sum, err := svc.Statements.CashBoxSummary(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, sum)
			},
		},
	)
	return cmd
}

func emitStatement(cmd *cobra.Command, svc *app.Services, st statements.Statement) error {
	path, _ := cmd.Flags().GetString("pdf")
	if path == "" {
		return printJSON(cmd, st)
	}
	pdf, err := svc.PDF.RenderStatement(cmd.Context(), st)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, pdf, 0o600); err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", path, len(pdf))
	return err
}
