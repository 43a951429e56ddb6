package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/continuity/internal/output"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "continuity"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage continuity configuration.

Running bare 'continuity config' is the same as 'continuity config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	rootCmd.AddCommand(configCmd)
}

// configKey is one setting: its dotted viper key and the comment written
// above it by config init.
type configKey struct {
	Key     string
	Comment string
	Secret  bool
}

// configSection groups the keys of one YAML mapping. The unnamed section
// holds top-level keys.
type configSection struct {
	Name    string
	Comment string
	Keys    []configKey
}

var configSections = []configSection{
	{Keys: []configKey{
		{Key: "state_dir", Comment: "Run file and serve log (default: ~/.config/continuity)"},
		{Key: "data_dir", Comment: "Sessions, contexts, locks, and timesheet.db (default: <state_dir>/data)"},
		{Key: "log_level", Comment: "debug, info, warn, or error"},
	}},
	{Name: "rpc", Comment: "JSON-RPC dispatcher", Keys: []configKey{
		{Key: "rpc.timeout", Comment: "Upper bound for a single tool call"},
	}},
	{Name: "http", Comment: "HTTP transport (continuity serve)", Keys: []configKey{
		{Key: "http.host"},
		{Key: "http.port"},
		{Key: "http.client_idle_timeout", Comment: "Drop a client's connection state after this long without requests (0 keeps it)"},
	}},
	{Name: "context", Comment: "Context tools", Keys: []configKey{
		{Key: "context.default_namespace", Comment: "Namespace each new connection starts in"},
	}},
	{Name: "timesheet", Comment: "LLM timesheet", Keys: []configKey{
		{Key: "timesheet.sprint_days", Comment: "Nominal sprint length in days"},
		{Key: "timesheet.repo_path", Comment: "Repository tree llm_punch_out may auto-detect files in (default: cwd)"},
	}},
	{Name: "anthropic", Comment: "Sprint narratives (optional; ANTHROPIC_API_KEY also works)", Keys: []configKey{
		{Key: "anthropic.api_key", Secret: true},
		{Key: "anthropic.model"},
	}},
}

// envVarFor maps a dotted key to the environment variable viper reads.
func envVarFor(key string) string {
	return "CONTINUITY_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// configValue returns the effective value of key as written to and shown
// from the config file.
func configValue(key string) any {
	switch key {
	case "data_dir":
		return dataDir()
	case "rpc.timeout", "http.client_idle_timeout":
		return viper.GetDuration(key).String()
	case "context.default_namespace":
		return defaultNamespace()
	default:
		return viper.Get(key)
	}
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// renderConfig builds config.yaml from the effective values. Secrets are
// left out so the file can be shared.
func renderConfig() ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, sec := range configSections {
		target := root
		if sec.Name != "" {
			target = &yaml.Node{Kind: yaml.MappingNode}
			root.Content = append(root.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: sec.Name, HeadComment: yamlComment(sec.Comment)},
				target)
		}
		for _, k := range sec.Keys {
			if k.Secret {
				continue
			}
			var val yaml.Node
			if err := val.Encode(configValue(k.Key)); err != nil {
				return nil, fmt.Errorf("encode %s: %w", k.Key, err)
			}
			name := k.Key[strings.LastIndex(k.Key, ".")+1:]
			target.Content = append(target.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: name, HeadComment: yamlComment(k.Comment)},
				&val)
		}
	}

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: "# continuity configuration\n# See: continuity config show (for effective values and sources)",
		Content:     []*yaml.Node{root},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func yamlComment(s string) string {
	if s == "" {
		return ""
	}
	return "# " + s
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	data, err := renderConfig()
	if err != nil {
		return err
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, string(data))
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(cfgPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, string(data))
	return nil
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}

	fileValues := readConfigFileValues(cfgPath)

	for _, sec := range configSections {
		fmt.Fprintln(ui.Out)
		if sec.Name != "" {
			fmt.Fprintf(ui.Out, "%s  %s\n", output.Cyan(sec.Name), sec.Comment)
		}
		for _, k := range sec.Keys {
			val := configValue(k.Key)
			if k.Secret && viper.GetString(k.Key) != "" {
				val = "********"
			}
			source := detectSource(k.Key, envVarFor(k.Key), fileValues)
			fmt.Fprintf(ui.Out, "  %-27s %v  %s\n", k.Key, val, source)
		}
	}
	return nil
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set; set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'continuity config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}
