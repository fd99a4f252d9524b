package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/periodledger/internal/periods"
)

func newPeriodsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "periods",
		Short: "List and manage fiscal periods",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List periods, marking the active one",
			Args:  cobra.NoArgs,
			RunE:  runPeriodsList,
		},
		newPeriodsCreateCommand(),
		&cobra.Command{
			Use:   "activate <id>",
			Short: "Make a period the default target",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := services(cmd)
				if err != nil {
					return err
				}
				return svc.Registry.Activate(cmd.Context(), args[0])
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Drop a period and all of its data",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				svc, err := services(cmd)
				if err != nil {
					return err
				}
				return svc.Registry.DeletePeriod(cmd.Context(), args[0])
			},
		},
	)
	return cmd
}

func runPeriodsList(cmd *cobra.Command, _ []string) error {
	svc, err := services(cmd)
	if err != nil {
		return err
	}
	list, err := svc.Registry.Periods(cmd.Context())
	if err != nil {
		return err
	}
	active, err := svc.Registry.ActiveID(cmd.Context())
	if err != nil && !errors.Is(err, periods.ErrNoActivePeriod) {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTART\tACTIVE")
	for _, p := range list {
		mark := ""
		if p.ID == active {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, p.StartDate, mark)
	}
	return w.Flush()
}

func newPeriodsCreateCommand() *cobra.Command {
	var in periods.CreatePeriodInput
	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create and provision a period",
		Example: `  ledgerctl periods create 2026 --name "FY 2026" --start 2026-01-01
  ledgerctl periods create 2026 --activate`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := services(cmd)
			if err != nil {
				return err
			}
			in.ID = args[0]
			p, err := svc.Registry.CreatePeriod(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSON(cmd, p)
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "display name")
	cmd.Flags().StringVar(&in.StartDate, "start", "", "start date (YYYY-MM-DD), used for opening entries")
	cmd.Flags().BoolVar(&in.Activate, "activate", false, "activate after creation")
	return cmd
}
