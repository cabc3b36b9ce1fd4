// Package cli implements the mgit command surface on top of cobra.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	quiet   bool
	jsonOut bool
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "mgit",
	Short: "Bulk clone and update Git repositories across providers",
	Long: `mgit discovers, clones, and updates Git repositories in bulk across
Azure DevOps, GitHub, and Bitbucket Cloud.

Examples:
  mgit clone-all acme/payments ./repos --provider acme-gh
  mgit pull-all acme/payments ./repos --provider acme-gh
  mgit list "acme/*/api*" --format json
  mgit login --provider github --name acme-gh`,
}

// Execute runs the CLI and returns the error (if any) that should determine
// the process exit code via internal/cliexit. SIGINT/SIGTERM cancel the
// command's context so in-flight bulk operations can wind down cleanly.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.mgit/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress progress output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "emit machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose diagnostic output")

	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	viper.SetEnvPrefix("MGIT")
	viper.AutomaticEnv()

	if cfgFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfgFile = home + "/.mgit/config.yaml"
		}
	}

	if verbose {
		fmt.Fprintln(os.Stderr, "using config file:", cfgFile)
	}
}

func resolvedConfigPath() string {
	return cfgFile
}
