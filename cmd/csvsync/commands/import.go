package commands

import (
	"fmt"
	"io"
	"strings"

	"github.com/JonMunkholm/csvsync/internal/core"
	"github.com/spf13/cobra"
)

func (a *app) importCmd() *cobra.Command {
	var opts core.ImportOptions

	cmd := &cobra.Command{
		Use:   "import <model|all> [append|overwrite|update|validate]",
		Short: "Import CSV files into the database",
		Long: `Import reads the model's CSV file and writes it to its table inside one
transaction, importing the models it depends on first. "all" imports every
model. Validate mode runs the whole import and rolls it back.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			names, ok, err := a.models(out, core.RunImport, args[0])
			if !ok || err != nil {
				return err
			}
			if len(args) > 1 {
				mode, err := core.ParseMode(args[1])
				if err != nil {
					fmt.Fprintf(out, "Invalid mode: %s\nValid modes: %s\n", args[1], joinModes(core.Modes()))
					return nil
				}
				opts.Mode = mode
			}
			if !a.silent {
				opts.Progress = progressPrinter(out)
			}

			svc, closeStore, err := a.service(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			res, err := svc.Import(cmd.Context(), names, opts)
			if err != nil {
				return err
			}
			a.printImport(out, res)
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "skip this many rows of the requested files")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "import at most this many rows of the requested files (0 = all)")
	return cmd
}

// progressPrinter reports each definition as it starts and finishes.
func progressPrinter(w io.Writer) core.ProgressFunc {
	return func(p core.Progress) {
		switch p.Phase {
		case core.PhaseStarting:
			fmt.Fprintf(w, "%s: importing %d rows\n", p.Definition, p.TotalRows)
		case core.PhaseComplete:
			fmt.Fprintf(w, "%s: done (%d%%)\n", p.Definition, p.Percent())
		}
	}
}

func (a *app) printImport(w io.Writer, res *core.ImportResult) {
	for _, s := range res.Steps {
		a.printf(w, "%-20s %-9s rows=%d created=%d updated=%d unchanged=%d deleted=%d\n",
			s.Name, s.Mode, s.Rows, s.Created, s.Updated, s.Unchanged, s.Deleted)
	}
	if res.Mode == core.ModeValidate {
		a.printf(w, "Validation passed, %d rows checked, nothing written\n", res.Rows())
		return
	}
	a.printf(w, "Imported %d rows\n", res.Rows())
}

func joinModes(modes []core.Mode) string {
	s := make([]string, len(modes))
	for i, m := range modes {
		s[i] = string(m)
	}
	return strings.Join(s, ", ")
}
