// Package account persists provider accounts configured via the login
// command to a YAML file with owner-only permissions.
package account

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/mgit-dev/mgit/internal/provider"
)

// Store is implemented by FileStore and MemoryStore.
type Store interface {
	Save(acc provider.Account) error
	Get(name string) (provider.Account, error)
	List() ([]provider.Account, error)
	Delete(name string) error
}

// FileStore persists accounts to a YAML file, loaded once at construction
// and rewritten in full on every mutation.
type FileStore struct {
	path     string
	mu       sync.RWMutex
	accounts map[string]provider.Account
}

// NewFileStore opens (or initializes) the account store at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, accounts: make(map[string]provider.Account)}

	if _, err := os.Stat(path); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("failed to load accounts: %w", err)
		}
	}

	return s, nil
}

func (s *FileStore) Save(acc provider.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts[acc.Name] = acc
	return s.persist()
}

func (s *FileStore) Get(name string) (provider.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[name]
	if !ok {
		return provider.Account{}, fmt.Errorf("account %q not found", name)
	}
	return acc, nil
}

func (s *FileStore) List() ([]provider.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]provider.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	return out, nil
}

func (s *FileStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[name]; !ok {
		return fmt.Errorf("account %q not found", name)
	}
	delete(s.accounts, name)
	return s.persist()
}

type fileFormat struct {
	Accounts []provider.Account `yaml:"accounts"`
}

func (s *FileStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}

	for _, acc := range f.Accounts {
		s.accounts[acc.Name] = acc
	}
	return nil
}

func (s *FileStore) persist() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	accs := make([]provider.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		accs = append(accs, acc)
	}

	data, err := yaml.Marshal(fileFormat{Accounts: accs})
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0o600)
}

// MemoryStore is an in-memory Store, used by tests and the "config"
// command's dry-run preview.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]provider.Account
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]provider.Account)}
}

func (s *MemoryStore) Save(acc provider.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.Name] = acc
	return nil
}

func (s *MemoryStore) Get(name string) (provider.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[name]
	if !ok {
		return provider.Account{}, fmt.Errorf("account %q not found", name)
	}
	return acc, nil
}

func (s *MemoryStore) List() ([]provider.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]provider.Account, 0, len(s.accounts))
	for _, acc := range s.accounts {
		out = append(out, acc)
	}
	return out, nil
}

func (s *MemoryStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[name]; !ok {
		return fmt.Errorf("account %q not found", name)
	}
	delete(s.accounts, name)
	return nil
}

// DefaultStorePath returns "~/.mgit/accounts.yaml".
func DefaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mgit/accounts.yaml"
	}
	return filepath.Join(home, ".mgit", "accounts.yaml")
}
