package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/dailyix/am"
)

// AmCmd represents the am command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Manage configuration",
	Long: `Manage dailyix configuration.

Configuration is merged from, lowest to highest precedence:
  - built-in defaults
  - /etc/dailyix/config.toml
  - ~/.dailyix/config.toml
  - dailyix.toml in the current or a parent directory
  - DAILYIX_* environment variables (DB_PATH overrides the database path)`,
}

var amInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with every default",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAmInit,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the merged configuration",
	RunE:  runAmShow,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amInitCmd)
	AmCmd.AddCommand(amShowCmd)
}

func runAmInit(cmd *cobra.Command, args []string) error {
	path := am.UserConfigPath()
	if len(args) == 1 {
		path = args[0]
	}
	if err := am.WriteDefault(path); err != nil {
		return err
	}
	pterm.Success.Printf("Wrote default configuration to %s\n", path)
	return nil
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	switch configFormat {
	case "json":
		data, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
		fmt.Println(string(data))

	case "yaml":
		data, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
		fmt.Printf("# dailyix configuration\n%s", string(data))

	case "toml":
		text, err := am.Render(cfg)
		if err != nil {
			return err
		}
		fmt.Printf("# dailyix configuration\n%s", text)

	default:
		return fmt.Errorf("unsupported format: %s (supported: toml, json, yaml)", configFormat)
	}
	return nil
}
