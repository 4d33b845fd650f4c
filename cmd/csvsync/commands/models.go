package commands

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/csvsync/internal/core"
	"github.com/spf13/cobra"
)

func (a *app) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the models that can be imported and exported",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			importers, err := a.registry.ImporterNames()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "Import (dependency order):")
			for _, name := range importers {
				def, _ := a.registry.Importer(name)
				line := "  " + name
				if len(def.Dependencies) > 0 {
					line += " (after " + strings.Join(def.Dependencies, ", ") + ")"
				}
				fmt.Fprintln(out, line)
			}

			fmt.Fprintln(out, "Export:")
			for _, name := range a.registry.ExporterNames() {
				def, _ := a.registry.Exporter(name)
				fmt.Fprintf(out, "  %s -> %s\n", name, def.File)
			}

			fmt.Fprintf(out, "Modes: %s\n", joinModes(core.Modes()))
			return nil
		},
	}
}
