// Package config loads application configuration from file and
// environment, following a viper + godotenv setup.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"flashpipe/internal/core"
)

// Config holds all application configuration.
type Config struct {
	App       App       `mapstructure:"app"`
	Database  Database  `mapstructure:"database"`
	Fetch     Fetch     `mapstructure:"fetch"`
	Extract   Extract   `mapstructure:"extract"`
	Dedupe    Dedupe    `mapstructure:"dedupe"`
	Embedding Embedding `mapstructure:"embedding"`
	Cluster   Cluster   `mapstructure:"cluster"`
	Summarize Summarize `mapstructure:"summarize"`
	Score     Score     `mapstructure:"score"`
	Alerts    Alerts    `mapstructure:"alerts"`
	Inference Inference `mapstructure:"inference"`
}

// App holds general application configuration.
type App struct {
	Tier     string `mapstructure:"tier"`
	LogLevel string `mapstructure:"log_level"`
	// BatchLimit caps how many unprocessed entries one run selects.
	BatchLimit int `mapstructure:"batch_limit"`
}

// PipelineTier returns the configured tier.
func (a App) PipelineTier() core.Tier { return core.Tier(a.Tier) }

// Database holds Postgres configuration.
type Database struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// Fetch holds HTTP fetcher configuration.
type Fetch struct {
	MaxConcurrent       int     `mapstructure:"max_concurrent"`
	PerDomain           int     `mapstructure:"per_domain"`
	TimeoutSeconds      int     `mapstructure:"timeout_seconds"`
	RequestDelaySeconds float64 `mapstructure:"request_delay_seconds"`
	UserAgent           string  `mapstructure:"user_agent"`
	BrowserEnabled      bool    `mapstructure:"browser_enabled"`
	BrowserTimeoutSecs  int     `mapstructure:"browser_timeout_seconds"`
}

// Extract holds extraction cascade configuration.
type Extract struct {
	MinContentLength int `mapstructure:"min_content_length"`
}

// Dedupe holds deduplication configuration.
type Dedupe struct {
	MinhashPermutations int     `mapstructure:"minhash_permutations"`
	MinhashThreshold    float64 `mapstructure:"minhash_threshold"`
	ShingleSize         int     `mapstructure:"shingle_size"`
}

// Embedding holds embedder configuration.
type Embedding struct {
	Model     string `mapstructure:"model"`
	Dimension int    `mapstructure:"dimension"`
	BatchSize int    `mapstructure:"batch_size"`
}

// Cluster holds clustering configuration.
type Cluster struct {
	KNNK            int     `mapstructure:"knn_k"`
	CosineThreshold float64 `mapstructure:"cosine_threshold"`
}

// Summarize holds two-stage summarization configuration.
type Summarize struct {
	LocalWorkers    int     `mapstructure:"local_workers"`
	LocalMaxTokens  int     `mapstructure:"local_max_tokens"`
	OracleAPIKey    string  `mapstructure:"oracle_api_key"`
	OracleModel     string  `mapstructure:"oracle_model"`
	PremiumModel    string  `mapstructure:"premium_model"`
	PremiumTopPct   float64 `mapstructure:"premium_top_pct"`
	OracleBatchSize int     `mapstructure:"oracle_batch_size"`
}

// Score holds hotspot scoring configuration.
type Score struct {
	VolumeWeight    float64 `mapstructure:"volume_weight"`
	DiversityWeight float64 `mapstructure:"diversity_weight"`
	LanguageWeight  float64 `mapstructure:"language_weight"`
	BurstWeight     float64 `mapstructure:"burst_weight"`
	FlagTopK        int     `mapstructure:"flag_top_k"`
}

// Alerts holds alert dispatch configuration.
type Alerts struct {
	WebhookURL      string `mapstructure:"webhook_url"`
	SlackWebhookURL string `mapstructure:"slack_webhook_url"`
}

// Inference holds the model-serving service configuration used for
// NER, embeddings, and title translation.
type Inference struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	NERModel       string `mapstructure:"ner_model"`
}

var globalConfig *Config

// Load loads the configuration from file, environment, and defaults.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	// Load .env file if it exists (local development).
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".flashpipe")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset clears the cached configuration. Test use only.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	viper.SetDefault("app.tier", "A")
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.batch_limit", 10000)

	viper.SetDefault("database.max_open_conns", 20)
	viper.SetDefault("database.max_idle_conns", 5)

	viper.SetDefault("fetch.max_concurrent", 50)
	viper.SetDefault("fetch.per_domain", 3)
	viper.SetDefault("fetch.timeout_seconds", 30)
	viper.SetDefault("fetch.request_delay_seconds", 0.25)
	viper.SetDefault("fetch.user_agent", "Mozilla/5.0 (compatible; FlashpipeBot/1.0)")
	viper.SetDefault("fetch.browser_enabled", false)
	viper.SetDefault("fetch.browser_timeout_seconds", 45)

	viper.SetDefault("extract.min_content_length", 250)

	viper.SetDefault("dedupe.minhash_permutations", 128)
	viper.SetDefault("dedupe.minhash_threshold", 0.8)
	viper.SetDefault("dedupe.shingle_size", 5)

	viper.SetDefault("embedding.model", "all-MiniLM-L6-v2")
	viper.SetDefault("embedding.dimension", 384)
	viper.SetDefault("embedding.batch_size", 64)

	viper.SetDefault("cluster.knn_k", 10)
	viper.SetDefault("cluster.cosine_threshold", 0.65)

	viper.SetDefault("summarize.local_workers", 8)
	viper.SetDefault("summarize.local_max_tokens", 80)
	viper.SetDefault("summarize.oracle_model", "gemini-flash-lite-latest")
	viper.SetDefault("summarize.premium_model", "gemini-2.5-flash")
	viper.SetDefault("summarize.premium_top_pct", 0.10)
	viper.SetDefault("summarize.oracle_batch_size", 20)

	viper.SetDefault("score.volume_weight", 0.40)
	viper.SetDefault("score.diversity_weight", 0.25)
	viper.SetDefault("score.language_weight", 0.15)
	viper.SetDefault("score.burst_weight", 0.20)
	viper.SetDefault("score.flag_top_k", 10)

	viper.SetDefault("inference.timeout_seconds", 60)
	viper.SetDefault("inference.ner_model", "distilbert-multilingual-ner")
}

// bindEnvironmentVariables maps the flat operator-facing variable names
// onto config keys.
func bindEnvironmentVariables() {
	bindEnvKeys("app.tier", []string{"PIPELINE_TIER"})
	bindEnvKeys("app.batch_limit", []string{"PIPELINE_BATCH_LIMIT"})
	bindEnvKeys("database.dsn", []string{"DATABASE_URL", "DATABASE_DSN"})
	bindEnvKeys("fetch.max_concurrent", []string{"MAX_CONCURRENT_FETCHES"})
	bindEnvKeys("fetch.per_domain", []string{"PER_DOMAIN_CONCURRENCY"})
	bindEnvKeys("fetch.timeout_seconds", []string{"FETCH_TIMEOUT_SECONDS"})
	bindEnvKeys("fetch.request_delay_seconds", []string{"REQUEST_DELAY_SECONDS"})
	bindEnvKeys("fetch.browser_enabled", []string{"PLAYWRIGHT_ENABLED", "BROWSER_ENABLED"})
	bindEnvKeys("extract.min_content_length", []string{"MIN_CONTENT_LENGTH"})
	bindEnvKeys("dedupe.minhash_threshold", []string{"MINHASH_THRESHOLD"})
	bindEnvKeys("embedding.batch_size", []string{"EMBEDDING_BATCH_SIZE"})
	bindEnvKeys("cluster.knn_k", []string{"CLUSTER_KNN_K"})
	bindEnvKeys("cluster.cosine_threshold", []string{"CLUSTER_COSINE_THRESHOLD"})
	bindEnvKeys("summarize.local_workers", []string{"LOCAL_SUMMARIZER_WORKERS"})
	bindEnvKeys("summarize.oracle_api_key", []string{"ORACLE_API_KEY", "GEMINI_API_KEY"})
	bindEnvKeys("alerts.webhook_url", []string{"ALERT_WEBHOOK_URL"})
	bindEnvKeys("alerts.slack_webhook_url", []string{"SLACK_WEBHOOK_URL"})
	bindEnvKeys("inference.endpoint", []string{"INFERENCE_ENDPOINT"})
	bindEnvKeys("inference.api_key", []string{"INFERENCE_API_KEY"})
}

func bindEnvKeys(configKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if err := viper.BindEnv(configKey, envKey); err != nil {
			fmt.Printf("Warning: failed to bind %s: %v\n", envKey, err)
		}
	}
}

func validateConfig(config *Config) error {
	switch core.Tier(config.App.Tier) {
	case core.TierA, core.TierB, core.TierC:
	default:
		return fmt.Errorf("invalid pipeline tier %q (want A, B, or C)", config.App.Tier)
	}

	if config.Dedupe.MinhashThreshold < 0 || config.Dedupe.MinhashThreshold > 1 {
		return fmt.Errorf("minhash_threshold must be in [0,1], got %v", config.Dedupe.MinhashThreshold)
	}
	if config.Cluster.CosineThreshold < 0 || config.Cluster.CosineThreshold > 1 {
		return fmt.Errorf("cosine_threshold must be in [0,1], got %v", config.Cluster.CosineThreshold)
	}
	if config.Fetch.MaxConcurrent <= 0 || config.Fetch.PerDomain <= 0 {
		return fmt.Errorf("fetch concurrency limits must be positive")
	}
	return nil
}
