package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/periodledger/internal/backup"
)

func newBackupCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export and restore every period",
	}
	cmd.AddCommand(newBackupExportCommand(), newBackupRestoreCommand())
	return cmd
}

func newBackupExportCommand() *cobra.Command {
	var out string
	var upload bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an archive of all periods",
		Example: `  ledgerctl backup export --out ledger.json
  ledgerctl backup export --upload`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := services(cmd)
			if err != nil {
				return err
			}
			archive, err := svc.Backups.Export(cmd.Context())
			if err != nil {
				return err
			}
			if upload {
				up, err := svc.Uploader(cmd.Context())
				if err != nil {
					return err
				}
				if up == nil {
					return backup.ErrUploadDisabled
				}
				key, err := up.Upload(cmd.Context(), archive)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s\n", key)
				return nil
			}
			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return backup.Encode(w, archive)
		},
	}
	cmd.Flags().StringVar(&out, "out", "-", "output file, - for stdout")
	cmd.Flags().BoolVar(&upload, "upload", false, "upload to the configured bucket instead")
	return cmd
}

func newBackupRestoreCommand() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "restore [file]",
		Short: "Restore periods from an archive file or bucket key",
		Long: `Recreates every archived period, replaces its rows with the archived
ones and re-activates the archived active period. Periods absent from the
archive are left untouched.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := services(cmd)
			if err != nil {
				return err
			}
			var archive backup.Archive
			switch {
			case key != "":
				up, err := svc.Uploader(cmd.Context())
				if err != nil {
					return err
				}
				if up == nil {
					return backup.ErrUploadDisabled
				}
				if archive, err = up.Download(cmd.Context(), key); err != nil {
					return err
				}
			case len(args) == 1:
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				if archive, err = backup.Decode(f); err != nil {
					return err
				}
			default:
				return errors.New("restore needs a file or --key")
			}
			if err := svc.Backups.Restore(cmd.Context(), archive); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restored %d periods\n", len(archive.Periods))
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "object key in the backup bucket")
	return cmd
}
