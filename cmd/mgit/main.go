// Command mgit bulk-clones and updates Git repositories across Azure
// DevOps, GitHub, and Bitbucket Cloud.
package main

import (
	"fmt"
	"os"

	"github.com/mgit-dev/mgit/internal/cli"
	"github.com/mgit-dev/mgit/internal/cliexit"

	_ "github.com/mgit-dev/mgit/internal/provider/azuredevops"
	_ "github.com/mgit-dev/mgit/internal/provider/bitbucket"
	_ "github.com/mgit-dev/mgit/internal/provider/github"
)

func main() {
	err := cli.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(cliexit.Code(err))
}
