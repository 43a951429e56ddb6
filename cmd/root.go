package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/continuity/internal/api"
	"github.com/joescharf/continuity/internal/git"
	"github.com/joescharf/continuity/internal/llm"
	"github.com/joescharf/continuity/internal/output"
	"github.com/joescharf/continuity/internal/registry"
	"github.com/joescharf/continuity/internal/rpc"
	"github.com/joescharf/continuity/internal/storage"
	"github.com/joescharf/continuity/internal/store"
	"github.com/joescharf/continuity/internal/tools"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui        *output.UI
	backend   *storage.FileBackend
	dataStore store.Store

	verbose bool
	dryRun  bool
)

var rootCmd = &cobra.Command{
	Use:   "continuity",
	Short: "Session and context continuity for LLM tools",
	Long: `continuity keeps conversational state alive across LLM sessions.

It serves a JSON-RPC 2.0 tool server over stdio or HTTP with versioned
session snapshots, a namespaced key/value context store with expiry, and an
LLM timesheet that tracks tasks and sprints per contributor.`,
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
	closeDeps()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output and debug logging")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "Show what would happen without making changes")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/continuity/config.yaml)")
}

func setDefaults(stateDir string) {
	viper.SetDefault("state_dir", stateDir)
	viper.SetDefault("data_dir", "")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("rpc.timeout", rpc.DefaultTimeout)
	viper.SetDefault("http.host", "127.0.0.1")
	viper.SetDefault("http.port", 8765)
	viper.SetDefault("http.client_idle_timeout", api.DefaultClientIdleTimeout)
	viper.SetDefault("context.default_namespace", "default")
	viper.SetDefault("timesheet.sprint_days", tools.DefaultSprintDays)
	viper.SetDefault("timesheet.repo_path", "")
	viper.SetDefault("anthropic.api_key", "")
	viper.SetDefault("anthropic.model", llm.DefaultModel)
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		configDir, err := configDirFunc()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("CONTINUITY")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	defaultDir, _ := defaultConfigDir()
	setDefaults(defaultDir)

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose
	ui.DryRun = dryRun

	// Logs go to stderr: stdout carries the stdio protocol.
	slog.SetDefault(newLogger(os.Stderr))

	// Storage is opened lazily so config/version run without a data dir.
}

// newLogger builds the JSON logger at the configured level.
func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(viper.GetString("log_level"))); err != nil {
		level = slog.LevelInfo
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// dataDir is where sessions, contexts, locks, and the timesheet live.
func dataDir() string {
	if dir := viper.GetString("data_dir"); dir != "" {
		return dir
	}
	return filepath.Join(viper.GetString("state_dir"), "data")
}

// getBackend returns the shared file backend, initializing it on first call.
func getBackend() (*storage.FileBackend, error) {
	if backend != nil {
		return backend, nil
	}
	b, err := storage.NewFileBackend(dataDir())
	if err != nil {
		return nil, fmt.Errorf("open data directory: %w", err)
	}
	backend = b
	return backend, nil
}

// getStore returns the shared timesheet store, initializing it on first call.
func getStore() (store.Store, error) {
	if dataStore != nil {
		return dataStore, nil
	}

	dbPath := filepath.Join(dataDir(), "timesheet.db")
	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	dataStore = s
	return dataStore, nil
}

func closeDeps() {
	if dataStore != nil {
		_ = dataStore.Close()
		dataStore = nil
	}
}

// newService wires the tools over the backend and, when it opens, the
// timesheet store.
func newService() (*tools.Service, error) {
	b, err := getBackend()
	if err != nil {
		return nil, err
	}

	opts := []tools.Option{
		tools.WithGit(git.NewClient()),
		tools.WithSprintDays(viper.GetInt("timesheet.sprint_days")),
		tools.WithRepoPath(viper.GetString("timesheet.repo_path")),
	}
	if s, err := getStore(); err != nil {
		slog.Warn("timesheet tools disabled", "error", err)
	} else {
		opts = append(opts, tools.WithStore(s))
	}
	if c := newLLMClient(); c != nil {
		opts = append(opts, tools.WithNarrator(c))
	}
	return tools.NewService(b, opts...), nil
}

// newDispatcher builds the registry and the dispatcher every transport shares.
func newDispatcher() (*rpc.Dispatcher, error) {
	svc, err := newService()
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	if err := svc.Register(reg); err != nil {
		return nil, err
	}

	return rpc.NewDispatcher(reg,
		rpc.WithTimeout(viper.GetDuration("rpc.timeout")),
		rpc.WithLogger(slog.Default()),
		rpc.WithRedactedPath(backend.Root()),
	), nil
}

func defaultNamespace() string {
	if ns := viper.GetString("context.default_namespace"); ns != "" {
		return ns
	}
	return "default"
}
