package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/joescharf/scorecard/internal/client"
	"github.com/joescharf/scorecard/internal/errreport"
	"github.com/joescharf/scorecard/internal/output"
	"github.com/joescharf/scorecard/internal/store"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	dataStore store.Store
	apiClient *client.Client

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "scorecard",
	Short: "Review scorecards: score, edit, and appeal reviews",
	Long: `scorecard imports weighted review scorecards, records reviewer
answers and comments against them, computes scores and progress, and
manages appeals on review comments.

Commands work against a local SQLite database, or against a remote
scorecard server when api.url is configured.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	err := rootCmd.Execute()
	if dataStore != nil {
		_ = dataStore.Close()
	}
	if err != nil {
		if ui == nil {
			ui = output.New()
		}
		errreport.New(ui, zap.L()).HandleError(err)
	}
	_ = zap.L().Sync()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/scorecard/config.yaml)")
	rootCmd.PersistentFlags().String("api-url", "", "Scorecard server URL (default: use the local database)")
	_ = viper.BindPFlag("api.url", rootCmd.PersistentFlags().Lookup("api-url"))
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		dir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(dir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SCORECARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

// setDefaults registers every config key with its default value.
func setDefaults() {
	dir, _ := configDirFunc()

	viper.SetDefault("state_dir", dir)
	viper.SetDefault("db_path", filepath.Join(dir, "scorecard.db"))
	viper.SetDefault("api.url", "")
	viper.SetDefault("api.timeout", "30s")
	viper.SetDefault("serve.port", 8080)
	viper.SetDefault("display.locale", "en-US")
	viper.SetDefault("log.level", "error")
	viper.SetDefault("log.format", "console")
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	if err := initLogger(viper.GetString("log.level"), viper.GetString("log.format")); err != nil {
		ui.Warning("%v", err)
	}

	// The store is opened lazily so config and version run without a db.
}

// getStore returns the shared store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := viper.GetString("db_path")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, eris.Wrap(err, "open database")
	}

	if err := s.Migrate(cmdContext(rootCmd)); err != nil {
		_ = s.Close()
		return nil, eris.Wrap(err, "migrate database")
	}

	ui.VerboseLog("Using database %s", dbPath)
	dataStore = s
	return dataStore, nil
}

// getBackend returns the remote client when api.url is set, otherwise the
// local store.
func getBackend() (backend, error) {
	if url := viper.GetString("api.url"); url != "" {
		if apiClient == nil {
			apiClient = client.New(url, viper.GetDuration("api.timeout"))
			ui.VerboseLog("Using scorecard server %s", url)
		}
		return apiClient, nil
	}
	return getStore()
}

// cmdContext returns the command's context, or Background when run outside
// cobra's Execute.
func cmdContext(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}
