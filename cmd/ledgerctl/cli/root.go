// Package cli implements the ledgerctl admin commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/periodledger/internal/app"
)

// Opener connects the services a command runs against. The returned func
// releases them.
type Opener func(ctx context.Context) (*app.Services, func(), error)

type servicesKey struct{}

// NewRootCommand builds the command tree. Output goes to out.
func NewRootCommand(open Opener, out io.Writer) *cobra.Command {
	var release func()
	root := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Administer fiscal periods of the ledger",
		Long: `ledgerctl manages fiscal periods, carry-forward migrations, integrity
checks and backups against the store configured by the environment
(STORE_DRIVER, PG_DSN, REDIS_ADDR, BACKUP_S3_*).`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			svc, done, err := open(cmd.Context())
			if err != nil {
				return err
			}
			release = done
			cmd.SetContext(context.WithValue(cmd.Context(), servicesKey{}, svc))
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if release != nil {
				release()
			}
		},
	}
	root.SetOut(out)
	root.AddCommand(
		newPeriodsCommand(),
		newCarryForwardCommand(),
		newIntegrityCommand(),
		newBackupCommand(),
		newStatementCommand(),
	)
	return root
}

func services(cmd *cobra.Command) (*app.Services, error) {
	svc, ok := cmd.Context().Value(servicesKey{}).(*app.Services)
	if !ok || svc == nil {
		return nil, errors.New("ledgerctl: services not initialised")
	}
	return svc, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
