package commands

import (
	"github.com/JonMunkholm/csvsync/internal/core"
	"github.com/spf13/cobra"
)

func (a *app) exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <model|all>",
		Short: "Write tables to their CSV files, backing up the current files first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			names, ok, err := a.models(out, core.RunExport, args[0])
			if !ok || err != nil {
				return err
			}

			svc, closeStore, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			res, err := svc.Export(cmd.Context(), names, core.ExportOptions{Backup: true})
			if err != nil {
				return err
			}
			for _, f := range res.Files {
				a.printf(out, "%s: %d rows written to %s\n", f.Name, f.Rows, f.Path)
			}
			return nil
		},
	}
}

func (a *app) backupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <model|all>",
		Short: "Copy CSV files to the backup directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			names, ok, err := a.models(out, core.RunBackup, args[0])
			if !ok || err != nil {
				return err
			}

			svc, closeStore, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			results, err := svc.Backup(cmd.Context(), names)
			if err != nil {
				return err
			}
			for _, r := range results {
				if r.Missing {
					a.printf(out, "%s: %s does not exist, skipped\n", r.Name, r.Source)
					continue
				}
				a.printf(out, "%s: backed up to %s\n", r.Name, r.Dest)
			}
			return nil
		},
	}
}
