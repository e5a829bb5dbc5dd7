package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xaenox/guildscribe/internal/storage"
	"github.com/xaenox/guildscribe/pkg/config"
)

var (
	envFile    string
	configFile string
	dbPath     string
	outDir     string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "guildscribe",
	Short: "Scrape, summarise and explore a community chat server",
	Long: `guildscribe scrapes a Discord server into a local database, summarises every
thread, channel, category, user and tag with an LLM, embeds the results and
projects them for exploration.

Each stage is its own command and reads what the previous one stored:
  guildscribe scrape      # Discord -> database
  guildscribe analyze     # database -> LLM analyses
  guildscribe embed       # analyses -> embeddings + projections
  guildscribe export      # markdown + CSV under --out
  guildscribe serve       # dashboard
  guildscribe bot         # Telegram digest bot`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(config.Options{EnvFile: envFile, ConfigFile: configFile})
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		if cmd.Flags().Changed("db") {
			if err := cfg.Set("database.path", dbPath); err != nil {
				return err
			}
		}
		if cmd.Flags().Changed("out") {
			if err := cfg.Set("output.dir", outDir); err != nil {
				return err
			}
		}
		logger, err = newLogger(cfg.Log)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded into the environment")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (overrides database.path)")
	rootCmd.PersistentFlags().StringVar(&outDir, "out", "", "output directory (overrides output.dir)")

	rootCmd.AddCommand(scrapeCmd, analyzeCmd, embedCmd, exportCmd, serveCmd, botCmd, showCmd, statsCmd, promptCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLogger(c config.LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if c.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", c.Level, err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

// mustConfig aborts the process when a key the command needs is unset.
func mustConfig(keys ...string) {
	if err := cfg.Require(keys...); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
}

func openStore() storage.Storage {
	var (
		store storage.Storage
		err   error
	)
	switch cfg.Database.Driver {
	case "postgres":
		logger.Info("Using PostgreSQL storage", zap.String("host", cfg.Database.Host), zap.String("dbname", cfg.Database.DBName))
		store, err = storage.OpenPostgres(storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}, logger)
	case "sqlite", "":
		logger.Info("Using SQLite storage", zap.String("path", cfg.Database.Path))
		store, err = storage.OpenSQLite(cfg.Database.Path, logger)
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	return store
}
