package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "aifirewall",
	Short: "aifirewall: content firewall for AI applications",
	Long: `aifirewall inspects text bound for or returned from AI models.
Submitted content runs through an ordered pipeline of security modules
(prompt injection, secret redaction, input controls, policy) and the
combined verdict says whether it may pass. Every module result is
written to an append-only audit log.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML, default ./config/firewall.yaml if present)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// ExitError ends the process with Code without being a failure of the
// command itself.
type ExitError struct {
	Code   int
	Reason string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d: %s", e.Code, e.Reason)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
