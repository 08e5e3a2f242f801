package cli

import (
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tkingovr/aifirewall/internal/config"
	"github.com/tkingovr/aifirewall/internal/module/builtin"
)

var modulesCmd = &cobra.Command{
	Use:   "modules",
	Short: "List built-in modules and the configured pipeline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return printModules(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(modulesCmd)
}

func printModules(w io.Writer, cfg *config.Config) error {
	reg := builtin.NewRegistry(builtin.Deps{Logger: slog.New(slog.DiscardHandler)})

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tMODULE\tENABLED\tAVAILABLE")
	for i, mc := range cfg.Modules {
		fmt.Fprintf(tw, "%d\t%s\t%t\t%t\n", i+1, mc.Name, mc.Enabled, reg.Has(mc.Name))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	configured := make(map[string]bool, len(cfg.Modules))
	for _, mc := range cfg.Modules {
		configured[mc.Name] = true
	}
	var unused []string
	for _, name := range reg.Names() {
		if !configured[name] {
			unused = append(unused, name)
		}
	}
	if len(unused) > 0 {
		fmt.Fprintf(w, "\nalso available: %v\n", unused)
	}
	return nil
}
