package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Discord    DiscordConfig    `mapstructure:"discord"`
	Database   DatabaseConfig   `mapstructure:"database"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	Projection ProjectionConfig `mapstructure:"projection"`
	Output     OutputConfig     `mapstructure:"output"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Web        WebConfig        `mapstructure:"web"`
	Log        LogConfig        `mapstructure:"log"`

	v *viper.Viper
}

type DiscordConfig struct {
	Token               string `mapstructure:"token"`
	ServerID            string `mapstructure:"server_id"`
	MinSentinelMessages int    `mapstructure:"min_sentinel_messages"`
	HistoryLimit        int    `mapstructure:"history_limit"`
	Concurrency         int    `mapstructure:"concurrency"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type OpenAIConfig struct {
	APIKey        string  `mapstructure:"api_key"`
	BaseURL       string  `mapstructure:"base_url"`
	Model         string  `mapstructure:"model"`
	ContextWindow int     `mapstructure:"context_window"`
	BudgetRatio   float64 `mapstructure:"budget_ratio"`
	MaxTokens     int     `mapstructure:"max_tokens"`
	Temperature   float64 `mapstructure:"temperature"`
	Concurrency   int     `mapstructure:"concurrency"`
}

// TokenBudget is the per-chunk token allowance.
func (c OpenAIConfig) TokenBudget() int {
	return int(float64(c.ContextWindow) * c.BudgetRatio)
}

type EmbeddingsConfig struct {
	Provider    string `mapstructure:"provider"`
	BaseURL     string `mapstructure:"base_url"`
	Model       string `mapstructure:"model"`
	Concurrency int    `mapstructure:"concurrency"`
}

type ProjectionConfig struct {
	Seed           uint64    `mapstructure:"seed"`
	Perplexities   []float64 `mapstructure:"perplexities"`
	Neighbors      []int     `mapstructure:"neighbors"`
	MinDists       []float64 `mapstructure:"min_dists"`
	PCAComponents  int       `mapstructure:"pca_components"`
	TSNEIterations int       `mapstructure:"tsne_iterations"`
	UMAPEpochs     int       `mapstructure:"umap_epochs"`
}

type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	ChatID int64  `mapstructure:"chat_id"`
}

type WebConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Options selects the files Load reads. Empty paths are skipped.
type Options struct {
	EnvFile    string
	ConfigFile string
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Driver:   "postgres",
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("discord.token", "")
	v.SetDefault("discord.server_id", "")
	v.SetDefault("discord.min_sentinel_messages", 5)
	v.SetDefault("discord.history_limit", 0)
	v.SetDefault("discord.concurrency", 5)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/guild.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "guildscribe")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.context_window", 128000)
	v.SetDefault("openai.budget_ratio", 0.8)
	v.SetDefault("openai.max_tokens", 4096)
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("openai.concurrency", 4)

	v.SetDefault("embeddings.provider", "ollama")
	v.SetDefault("embeddings.base_url", "http://localhost:11434")
	v.SetDefault("embeddings.model", "nomic-embed-text")
	v.SetDefault("embeddings.concurrency", 8)

	v.SetDefault("projection.seed", 42)
	v.SetDefault("projection.perplexities", []float64{5, 10, 15, 20, 25, 30, 35, 40, 45, 50})
	v.SetDefault("projection.neighbors", []int{5, 10, 15, 20, 25, 30, 35, 40, 45, 50})
	v.SetDefault("projection.min_dists", []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9})
	v.SetDefault("projection.pca_components", 10)
	v.SetDefault("projection.tsne_iterations", 1000)
	v.SetDefault("projection.umap_epochs", 200)

	v.SetDefault("output.dir", "./out")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.chat_id", 0)
	v.SetDefault("web.host", "localhost")
	v.SetDefault("web.port", 8050)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// Load reads the .env file into the process environment, then merges
// defaults, the optional config file and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := gotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	// Enable environment variable support: DISCORD_TOKEN -> discord.token
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", opts.ConfigFile, err)
		}
	}

	config := &Config{v: v}
	if err := config.decode(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) decode() error {
	if err := c.v.Unmarshal(c); err != nil {
		return err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := c.v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		dbConfig.Path = c.Database.Path
		c.Database = dbConfig
	}
	return nil
}

// EnvName maps a config key to its environment variable.
func EnvName(key string) string {
	return strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Require returns an error naming every key that has no value.
func (c *Config) Require(keys ...string) error {
	var missing []string
	for _, k := range keys {
		if c.v == nil || !c.v.IsSet(k) || strings.TrimSpace(c.v.GetString(k)) == "" || c.v.GetString(k) == "0" {
			missing = append(missing, fmt.Sprintf("%s (%s)", EnvName(k), k))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Set overrides a value after loading, used for command line flags.
func (c *Config) Set(key string, value interface{}) error {
	c.v.Set(key, value)
	return c.decode()
}
