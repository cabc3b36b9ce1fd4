package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mgit-dev/mgit/internal/provider"
	"github.com/mgit-dev/mgit/internal/query"
	"github.com/mgit-dev/mgit/internal/queryengine"
)

var (
	listProvider string
	listLimit    int
	listFormat   string
	listLanguage string
	listArchived string
	listTopics   string
)

var listCmd = &cobra.Command{
	Use:   "list <query>",
	Short: "Search for repositories matching an org/project/repo pattern",
	Long: `list streams matching repositories from every configured provider
account that could plausibly contain them.

Examples:
  mgit list "acme/*/api*"
  mgit list "*/*/*" --format json --limit 50`,
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVar(&listProvider, "provider", "", "restrict to a single configured account")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "stop after this many matches (0 = unlimited)")
	listCmd.Flags().StringVar(&listFormat, "format", "table", "output format: table or json")
	listCmd.Flags().StringVar(&listLanguage, "language", "", "restrict to repositories whose primary language matches (provider-dependent)")
	listCmd.Flags().StringVar(&listArchived, "archived", "", "restrict to archived (true) or non-archived (false) repositories; empty means either")
	listCmd.Flags().StringVar(&listTopics, "topics", "", "comma-separated list of topics every matching repository must have (provider-dependent)")
}

func repositoryFiltersFromFlags() (provider.RepositoryFilters, error) {
	f := provider.RepositoryFilters{Language: listLanguage}
	if listArchived != "" {
		b, err := strconv.ParseBool(listArchived)
		if err != nil {
			return provider.RepositoryFilters{}, fmt.Errorf("%w: --archived must be true or false, got %q", provider.ErrInvalidArgument, listArchived)
		}
		f.Archived = &b
	}
	for _, t := range strings.Split(listTopics, ",") {
		if t = strings.TrimSpace(t); t != "" {
			f.Topics = append(f.Topics, t)
		}
	}
	return f, nil
}

type listRow struct {
	Account       string  `json:"account"`
	Provider      string  `json:"provider"`
	Organization  string  `json:"organization"`
	Project       string  `json:"project"`
	Name          string  `json:"name"`
	CloneURL      string  `json:"clone_url"`
	DefaultBranch string  `json:"default_branch"`
	Private       bool    `json:"private"`
	RateRemaining *int    `json:"rate_limit_remaining,omitempty"`
}

func runList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	pattern := args[0]

	q, err := query.Compile(pattern)
	if err != nil {
		return err
	}

	filters, err := repositoryFiltersFromFlags()
	if err != nil {
		return err
	}

	lc, err := loadConfiguration()
	if err != nil {
		return err
	}
	accounts, err := lc.selectAccounts(listProvider)
	if err != nil {
		return err
	}

	accountAdapters := make([]queryengine.AccountAdapter, 0, len(accounts))
	for name, adapter := range accounts {
		accountAdapters = append(accountAdapters, queryengine.AccountAdapter{Name: name, Adapter: adapter})
	}

	qe := queryengine.New(5)
	matches, errs := qe.StreamFiltered(ctx, q, accountAdapters, listLimit, filters)

	var rows []listRow
	for m := range matches {
		row := listRow{
			Account:       m.Account,
			Provider:      string(m.Repository.Provider),
			Organization:  m.Repository.Organization,
			Project:       m.Repository.Project,
			Name:          m.Repository.Name,
			CloneURL:      m.Repository.CloneURL,
			DefaultBranch: m.Repository.DefaultBranch,
			Private:       m.Repository.Private,
		}
		if adapter, ok := accounts[m.Account]; ok {
			if rl, ok := adapter.RateLimitInfo(); ok {
				row.RateRemaining = &rl.Remaining
			}
		}
		rows = append(rows, row)
	}
	if err := <-errs; err != nil {
		return err
	}

	if len(rows) == 0 {
		if !jsonOut {
			pterm.Warning.Println("no repositories matched")
		} else {
			fmt.Println("[]")
		}
		return nil
	}

	if listFormat == "json" || jsonOut {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	return renderTable(rows)
}

func renderTable(rows []listRow) error {
	data := pterm.TableData{{"ACCOUNT", "ORG", "PROJECT", "REPO", "BRANCH"}}
	for _, r := range rows {
		data = append(data, []string{r.Account, r.Organization, r.Project, r.Name, r.DefaultBranch})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}
