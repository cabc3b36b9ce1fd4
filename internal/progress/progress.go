// Package progress renders live feedback for a bulk clone/pull run.
package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/mgit-dev/mgit/internal/bulk"
)

// Reporter consumes bulk.Event values and renders them to the terminal.
// Repository operations run concurrently, so output is line-oriented rather
// than a single spinner: several repositories may be in flight at once.
type Reporter struct {
	quiet      bool
	jsonOutput bool

	mu      sync.Mutex
	started map[string]time.Time
}

// New builds a Reporter. quiet suppresses all but the final summary;
// jsonOutput suppresses human-readable lines entirely, since JSON mode emits
// its own structured output elsewhere.
func New(quiet, jsonOutput bool) *Reporter {
	return &Reporter{
		quiet:      quiet,
		jsonOutput: jsonOutput,
		started:    make(map[string]time.Time),
	}
}

// ShowHeader prints the run banner.
func (r *Reporter) ShowHeader(targetDir string, repoCount int) {
	if r.quiet || r.jsonOutput {
		return
	}
	pterm.DefaultBox.WithTitle(pterm.Bold.Sprint("mgit")).
		WithTitleTopCenter().
		WithBoxStyle(pterm.NewStyle(pterm.FgCyan)).
		Println(fmt.Sprintf("%d repositories -> %s", repoCount, targetDir))
	fmt.Println()
}

// Consume drains events until the channel closes, printing one line per
// started and completed event.
func (r *Reporter) Consume(events <-chan bulk.Event) {
	for e := range events {
		r.handle(e)
	}
}

func (r *Reporter) handle(e bulk.Event) {
	if r.jsonOutput {
		return
	}

	name := e.Repository.FullName
	if name == "" {
		name = e.Repository.Name
	}

	switch e.Kind {
	case bulk.EventStarted:
		r.mu.Lock()
		r.started[name] = time.Now()
		r.mu.Unlock()
		if !r.quiet {
			pterm.Printf("%s %s\n", pterm.Cyan("●"), name)
		}

	case bulk.EventProgress:
		if !r.quiet {
			pterm.Printf("  %s %s: %s\n", pterm.Gray("..."), name, e.Message)
		}

	case bulk.EventCompleted:
		r.mu.Lock()
		delete(r.started, name)
		r.mu.Unlock()
		if r.quiet {
			return
		}
		r.printCompleted(name, e.Outcome)
	}
}

func (r *Reporter) printCompleted(name string, oc bulk.RepoOutcome) {
	dur := formatDuration(oc.Duration)
	switch oc.Outcome {
	case bulk.OutcomeCloned:
		pterm.Printf("%s %s cloned [%s]\n", pterm.Green("✓"), name, dur)
	case bulk.OutcomePulled:
		pterm.Printf("%s %s updated [%s]\n", pterm.Green("✓"), name, dur)
	case bulk.OutcomeSkipped:
		pterm.Printf("%s %s skipped: %s\n", pterm.Gray("○"), name, oc.Reason)
	case bulk.OutcomeWouldRun:
		pterm.Printf("%s %s would run\n", pterm.Gray("○"), name)
	case bulk.OutcomeFailed:
		pterm.Printf("%s %s failed: %s\n", pterm.Red("✗"), name, oc.Reason)
	}
}

// Summary prints the final counts table for a completed run.
func (r *Reporter) Summary(result *bulk.BulkResult) {
	if r.jsonOutput {
		return
	}

	fmt.Println()
	pterm.DefaultSection.WithLevel(2).Println("Summary")

	rows := [][2]string{
		{"Cloned", fmt.Sprint(result.CountByOutcome(bulk.OutcomeCloned))},
		{"Pulled", fmt.Sprint(result.CountByOutcome(bulk.OutcomePulled))},
		{"Skipped", fmt.Sprint(result.CountByOutcome(bulk.OutcomeSkipped))},
		{"Failed", fmt.Sprint(result.CountByOutcome(bulk.OutcomeFailed))},
	}
	if result.CountByOutcome(bulk.OutcomeWouldRun) > 0 {
		rows = append(rows, [2]string{"Would run", fmt.Sprint(result.CountByOutcome(bulk.OutcomeWouldRun))})
	}
	for _, row := range rows {
		pterm.Printf("  %-10s %s\n", row[0], row[1])
	}
	if result.Canceled {
		fmt.Println()
		pterm.Warning.Println("run was canceled before all repositories finished")
	}
}

// ShowError prints a top-level failure with remediation suggestions.
func (r *Reporter) ShowError(err error, suggestions []string) {
	if r.quiet || r.jsonOutput {
		return
	}
	fmt.Println()
	pterm.Error.Println(err.Error())
	if len(suggestions) > 0 {
		fmt.Println()
		pterm.Info.Println("Suggestions:")
		for i, s := range suggestions {
			pterm.Printf("   %d. %s\n", i+1, s)
		}
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.1fs", d.Seconds())
}
