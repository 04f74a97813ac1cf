package cmd

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = defaultConfigDir

func defaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "scorecard"), nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage scorecard configuration.

Running bare 'scorecard config' is the same as 'scorecard config show'.`,
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

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# scorecard configuration
# See: scorecard config show (for effective values and sources)

# State/data directory (default: ~/.config/scorecard)
# state_dir: {{ .StateDir }}

# SQLite database path (default: ~/.config/scorecard/scorecard.db)
# db_path: {{ .DBPath }}

# Remote scorecard server
api:
  # Base URL; when set, commands talk to this server instead of db_path
  url: "{{ .APIURL }}"

  # Request timeout (default: 30s)
  timeout: {{ .APITimeout }}

# HTTP API server
serve:
  # Port for 'scorecard serve' (default: 8080)
  port: {{ .ServePort }}

# Display settings
display:
  # Locale used for date display strings (default: en-US)
  locale: "{{ .Locale }}"

# Logging
log:
  # debug, info, warn, error (default: error)
  level: "{{ .LogLevel }}"

  # console or json (default: console)
  format: "{{ .LogFormat }}"
`

type configTemplateData struct {
	StateDir   string
	DBPath     string
	APIURL     string
	APITimeout string
	ServePort  int
	Locale     string
	LogLevel   string
	LogFormat  string
}

func configFilePath() (string, error) {
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return eris.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	data := configTemplateData{
		StateDir:   viper.GetString("state_dir"),
		DBPath:     viper.GetString("db_path"),
		APIURL:     viper.GetString("api.url"),
		APITimeout: viper.GetString("api.timeout"),
		ServePort:  viper.GetInt("serve.port"),
		Locale:     viper.GetString("display.locale"),
		LogLevel:   viper.GetString("log.level"),
		LogFormat:  viper.GetString("log.format"),
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return eris.Wrap(err, "template parse error")
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return eris.Wrap(err, "template execute error")
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0755); err != nil {
		return eris.Wrap(err, "failed to create config directory")
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return eris.Wrap(err, "failed to write config file")
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes.
type configKeyInfo struct {
	Key    string
	EnvVar string
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", EnvVar: "SCORECARD_STATE_DIR"},
	{Key: "db_path", EnvVar: "SCORECARD_DB_PATH"},
	{Key: "api.url", EnvVar: "SCORECARD_API_URL"},
	{Key: "api.timeout", EnvVar: "SCORECARD_API_TIMEOUT"},
	{Key: "serve.port", EnvVar: "SCORECARD_SERVE_PORT"},
	{Key: "display.locale", EnvVar: "SCORECARD_DISPLAY_LOCALE"},
	{Key: "log.level", EnvVar: "SCORECARD_LOG_LEVEL"},
	{Key: "log.format", EnvVar: "SCORECARD_LOG_FORMAT"},
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
	fmt.Fprintln(ui.Out)

	fileValues := readConfigFileValues(cfgPath)

	for _, k := range configKeys {
		val := viper.Get(k.Key)
		source := detectSource(k.Key, k.EnvVar, fileValues)
		fmt.Fprintf(ui.Out, "  %-16s %v  %s\n", k.Key, val, source)
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
		return eris.New("$EDITOR is not set (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return eris.Errorf("config file not found: %s (run 'scorecard config init' first)", cfgPath)
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
