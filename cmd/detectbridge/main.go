// Command detectbridge bridges a detection GraphQL API to a local store and
// a live dashboard.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/worldsio/detectbridge"
	"github.com/worldsio/detectbridge/db"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	configDir string
	verbose   bool

	cfg    *detectbridge.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "detectbridge",
	Short: "Bridge a detection GraphQL API to a local store and dashboard",
	Long: `detectbridge subscribes to live detections per device, stores them in
SQLite, creates events upstream and serves a dashboard over the store.

Configuration is read from environment variables and, when --config-dir is
set, from config.yaml in that directory. Environment variables win.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = detectbridge.LoadConfig(configDir)
		if err != nil {
			return err
		}

		config := zap.NewProductionConfig()
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("parsing log level %q : %w", cfg.LogLevel, err)
		}
		if verbose {
			level = zapcore.DebugLevel
		}
		config.Level = zap.NewAtomicLevelAt(level)
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "directory holding config.yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(serveCmd, queriesCmd, mutationsCmd, subscribeCmd, statsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openBridge opens the store and builds a bridge. The upstream client is
// attached when the credentials are configured, or always when
// requireUpstream is set.
func openBridge(requireUpstream bool, options ...func(*detectbridge.Bridge) error) (*detectbridge.Bridge, error) {
	repo, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening database %s : %w", cfg.DatabasePath, err)
	}

	base := []func(*detectbridge.Bridge) error{
		detectbridge.WithConfig(cfg),
		detectbridge.WithLogger(logger),
		detectbridge.WithRepo(repo),
	}

	client, err := detectbridge.NewUpstream(cfg, logger)
	switch {
	case err == nil:
		base = append(base, detectbridge.WithUpstream(client))
	case requireUpstream:
		repo.Close()
		return nil, err
	default:
		logger.Warn("running without the upstream api", zap.Error(err))
	}

	if cfg.RulesScript != "" {
		base = append(base, detectbridge.WithRulesScript(cfg.RulesScript))
	}

	bridge, err := detectbridge.New(append(base, options...)...)
	if err != nil {
		repo.Close()
		return nil, err
	}
	return bridge, nil
}

func printJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
