package cli

import (
	"github.com/spf13/cobra"

	"github.com/mgit-dev/mgit/internal/bulk"
)

var cloneAllCmd = &cobra.Command{
	Use:   "clone-all <project> <path>",
	Short: "Clone every repository under an organization or project",
	Long: `clone-all discovers repositories under <project> (an "org" or
"org/project") and clones each one into <path>, one directory per
repository.

Examples:
  mgit clone-all acme ./repos --provider acme-gh
  mgit clone-all acme/payments ./repos --update-mode pull`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		policy := bulk.ExistingDirPolicy(bulkUpdateMode)
		switch policy {
		case bulk.PolicySkip, bulk.PolicyPull, bulk.PolicyForce:
		default:
			policy = bulk.PolicySkip
		}
		return runBulk(cmd, args[0], args[1], policy)
	},
}

func init() {
	rootCmd.AddCommand(cloneAllCmd)
	addBulkFlags(cloneAllCmd, true)
}
