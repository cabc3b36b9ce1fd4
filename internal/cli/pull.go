package cli

import (
	"github.com/spf13/cobra"

	"github.com/mgit-dev/mgit/internal/bulk"
)

var pullAllCmd = &cobra.Command{
	Use:   "pull-all <project> <path>",
	Short: "Update every already-cloned repository under an organization or project",
	Long: `pull-all discovers repositories under <project> (an "org" or
"org/project") and runs "git pull" in every one already cloned under
<path>; repositories not yet present are cloned.

Examples:
  mgit pull-all acme ./repos --provider acme-gh`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBulk(cmd, args[0], args[1], bulk.PolicyPull)
	},
}

func init() {
	rootCmd.AddCommand(pullAllCmd)
	addBulkFlags(pullAllCmd, false)
}
