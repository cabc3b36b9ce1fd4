package config

import "fmt"

// Validate reports whether r is usable: every account resolves to a known
// provider kind with a non-empty token, and the concurrency setting is
// within bounds. Load already enforces most of this during resolution;
// Validate lets callers re-check a Resolved value built by hand (tests, or
// the "config show" command after an in-memory edit).
func (r *Resolved) Validate() error {
	if r.Concurrency <= 0 || r.Concurrency > maxConcurrency {
		return fmt.Errorf("concurrency %d out of range (1-%d)", r.Concurrency, maxConcurrency)
	}

	for name, acc := range r.Accounts {
		if acc.Token == "" {
			return fmt.Errorf("account %q has no token", name)
		}
		if acc.Kind == "" {
			return fmt.Errorf("account %q has no provider kind", name)
		}
	}

	return nil
}
