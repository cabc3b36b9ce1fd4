package cli

import (
	"fmt"

	"github.com/mgit-dev/mgit/internal/config"
	"github.com/mgit-dev/mgit/internal/provider"
)

// loadedConfig resolves the configuration file and builds one Adapter per
// configured account.
type loadedConfig struct {
	resolved *config.Resolved
	adapters map[string]provider.Adapter
}

func loadConfiguration() (*loadedConfig, error) {
	resolved, err := config.Load(resolvedConfigPath())
	if err != nil {
		return nil, err
	}
	if err := resolved.Validate(); err != nil {
		return nil, err
	}

	adapters := make(map[string]provider.Adapter, len(resolved.Accounts))
	for name, acc := range resolved.Accounts {
		adapter, err := provider.New(acc)
		if err != nil {
			return nil, fmt.Errorf("account %q: %w", name, err)
		}
		adapters[name] = adapter
	}

	return &loadedConfig{resolved: resolved, adapters: adapters}, nil
}

// selectAccounts returns the accounts to operate over: a single named
// account if providerName is non-empty, otherwise every configured account.
func (lc *loadedConfig) selectAccounts(providerName string) (map[string]provider.Adapter, error) {
	if providerName == "" {
		return lc.adapters, nil
	}
	adapter, ok := lc.adapters[providerName]
	if !ok {
		return nil, fmt.Errorf("%w: unknown account %q", provider.ErrInvalidArgument, providerName)
	}
	return map[string]provider.Adapter{providerName: adapter}, nil
}
