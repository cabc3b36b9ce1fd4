package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mgit-dev/mgit/internal/mask"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or edit the configuration file",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration with credentials masked",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a global configuration value (target_dir or concurrency)",
	Args:  cobra.ExactArgs(2),
	RunE:  runConfigSet,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	lc, err := loadConfiguration()
	if err != nil {
		return err
	}

	m := mask.New()
	type accountView struct {
		Kind       string `yaml:"kind"`
		BaseURL    string `yaml:"base_url,omitempty"`
		Token      string `yaml:"token"`
		Username   string `yaml:"username,omitempty"`
		DefaultOrg string `yaml:"default_org,omitempty"`
	}
	view := struct {
		TargetDir   string                 `yaml:"target_dir"`
		Concurrency int                    `yaml:"concurrency"`
		Accounts    map[string]accountView `yaml:"accounts"`
	}{
		TargetDir:   lc.resolved.TargetDir,
		Concurrency: lc.resolved.Concurrency,
		Accounts:    make(map[string]accountView, len(lc.resolved.Accounts)),
	}
	for name, acc := range lc.resolved.Accounts {
		view.Accounts[name] = accountView{
			Kind:       string(acc.Kind),
			BaseURL:    acc.BaseURL,
			Token:      m.Mask(acc.Token),
			Username:   acc.Username,
			DefaultOrg: acc.DefaultOrg,
		}
	}

	data, err := yaml.Marshal(view)
	if err != nil {
		return err
	}
	fmt.Print(string(data))
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	path := resolvedConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}

	var file map[string]interface{}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	global, _ := file["global"].(map[string]interface{})
	if global == nil {
		global = map[string]interface{}{}
	}
	global[args[0]] = args[1]
	file["global"] = global

	out, err := yaml.Marshal(file)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("set global.%s = %s\n", args[0], args[1])
	return nil
}
