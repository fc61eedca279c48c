package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/gregtusar/statarb/pkg/secrets"
	"github.com/gregtusar/statarb/pkg/strategy"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Sink     SinkConfig     `mapstructure:"sink"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	GCP      GCPConfig      `mapstructure:"gcp"`
}

type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type FeedConfig struct {
	Mode              string  `mapstructure:"mode"` // "poll" or "websocket"
	BaseURL           string  `mapstructure:"base_url"`
	WebSocketURL      string  `mapstructure:"websocket_url"`
	PollInterval      int     `mapstructure:"poll_interval"` // seconds
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	ReconnectDelay    int     `mapstructure:"reconnect_delay"`
	MaxReconnects     int     `mapstructure:"max_reconnects"`
	HistorySize       int     `mapstructure:"history_size"`

	// Legacy authentication
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"`

	// JWT authentication
	AuthType      string `mapstructure:"auth_type"` // "none", "legacy" or "jwt"
	APIKeyName    string `mapstructure:"api_key_name"`
	PrivateKeyPEM string `mapstructure:"private_key_pem"`
}

type StrategyConfig struct {
	Estimator         string   `mapstructure:"estimator"` // "kalman" or "johansen"
	Tokens            []string `mapstructure:"tokens"`
	LookbackWindow    int      `mapstructure:"lookback_window"`
	UseDynamicHedge   bool     `mapstructure:"use_dynamic_hedge"`
	Deviations        float64  `mapstructure:"deviations"`
	Delta             float64  `mapstructure:"delta"`
	ObservationNoise  float64  `mapstructure:"observation_noise"`
	Qty               int      `mapstructure:"qty"`
	ExcludeZeroSpread bool     `mapstructure:"exclude_zero_spread"`
}

type SinkConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Addr         string `mapstructure:"addr"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	Stream       string `mapstructure:"stream"`
	StreamMaxLen int64  `mapstructure:"stream_max_len"`
	TLSEnabled   bool   `mapstructure:"tls_enabled"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/statarb")
	}

	v.SetEnvPrefix("STATARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&config)

	if config.GCP.UseSecrets && config.GCP.ProjectID != "" {
		ctx := context.Background()
		logger := logrus.New()
		if err := loadSecretsFromGCP(ctx, &config, logger); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	defaults := strategy.DefaultParams()

	// Server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)

	// Feed defaults
	v.SetDefault("feed.mode", "poll")
	v.SetDefault("feed.base_url", "http://localhost:9000")
	v.SetDefault("feed.websocket_url", "ws://localhost:9000/ws")
	v.SetDefault("feed.poll_interval", 60)
	v.SetDefault("feed.requests_per_second", 5.0)
	v.SetDefault("feed.burst", 5)
	v.SetDefault("feed.reconnect_delay", 5)
	v.SetDefault("feed.max_reconnects", 10)
	v.SetDefault("feed.history_size", 256)
	v.SetDefault("feed.auth_type", "none")

	// Strategy defaults
	v.SetDefault("strategy.estimator", strategy.KalmanName)
	v.SetDefault("strategy.tokens", []string{})
	v.SetDefault("strategy.lookback_window", defaults.Lookback)
	v.SetDefault("strategy.use_dynamic_hedge", defaults.UseDynamicHedge)
	v.SetDefault("strategy.deviations", defaults.Deviations)
	v.SetDefault("strategy.delta", defaults.Delta)
	v.SetDefault("strategy.observation_noise", defaults.ObservationNoise)
	v.SetDefault("strategy.qty", defaults.Qty)
	v.SetDefault("strategy.exclude_zero_spread", defaults.ExcludeZeroSpread)

	// Sink defaults
	v.SetDefault("sink.redis.enabled", false)
	v.SetDefault("sink.redis.addr", "localhost:6379")
	v.SetDefault("sink.redis.db", 0)
	v.SetDefault("sink.redis.stream", "statarb:signals")
	v.SetDefault("sink.redis.stream_max_len", 10000)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")

	// GCP defaults
	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	secretNames := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.feed_api_key", secretNames.FeedAPIKey)
	v.SetDefault("gcp.secret_names.feed_api_secret", secretNames.FeedAPISecret)
	v.SetDefault("gcp.secret_names.feed_passphrase", secretNames.FeedPassphrase)
	v.SetDefault("gcp.secret_names.feed_api_key_name", secretNames.FeedAPIKeyName)
	v.SetDefault("gcp.secret_names.feed_private_key", secretNames.FeedPrivateKey)
	v.SetDefault("gcp.secret_names.redis_password", secretNames.RedisPassword)
}

func overrideFromEnv(config *Config) {
	if apiKey := os.Getenv("FEED_API_KEY"); apiKey != "" {
		config.Feed.APIKey = apiKey
	}
	if apiSecret := os.Getenv("FEED_API_SECRET"); apiSecret != "" {
		config.Feed.APISecret = apiSecret
	}
	if passphrase := os.Getenv("FEED_PASSPHRASE"); passphrase != "" {
		config.Feed.Passphrase = passphrase
	}
	if apiKeyName := os.Getenv("FEED_API_KEY_NAME"); apiKeyName != "" {
		config.Feed.APIKeyName = apiKeyName
	}
	if privateKey := os.Getenv("FEED_PRIVATE_KEY"); privateKey != "" {
		config.Feed.PrivateKeyPEM = privateKey
	}
	if tokens := os.Getenv("STATARB_TOKENS"); tokens != "" {
		config.Strategy.Tokens = splitList(tokens)
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Sink.Redis.Password = password
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		config.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		config.GCP.UseSecrets = true
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the strategy parameters that cannot be defaulted.
func (c *Config) Validate() error {
	s := c.Strategy
	var errs []string
	if len(s.Tokens) < 2 {
		errs = append(errs, fmt.Sprintf("strategy.tokens: need at least 2 tokens, got %d", len(s.Tokens)))
	}
	switch s.Estimator {
	case strategy.KalmanName:
	case strategy.JohansenName:
		if !s.UseDynamicHedge {
			errs = append(errs, "strategy.use_dynamic_hedge: johansen estimator always sizes from the hedge vector")
		}
		if need := strategy.MinJohansenLookback(len(s.Tokens)); s.LookbackWindow < need {
			errs = append(errs, fmt.Sprintf("strategy.lookback_window: johansen with %d tokens needs >= %d, got %d", len(s.Tokens), need, s.LookbackWindow))
		}
	default:
		errs = append(errs, fmt.Sprintf("strategy.estimator: unknown estimator %q", s.Estimator))
	}
	if s.LookbackWindow < 2 {
		errs = append(errs, fmt.Sprintf("strategy.lookback_window: must be >= 2, got %d", s.LookbackWindow))
	}
	if s.Deviations <= 0 {
		errs = append(errs, fmt.Sprintf("strategy.deviations: must be > 0, got %v", s.Deviations))
	}
	if s.Delta <= 0 || s.Delta >= 1 {
		errs = append(errs, fmt.Sprintf("strategy.delta: must be in (0, 1), got %v", s.Delta))
	}
	if s.ObservationNoise <= 0 {
		errs = append(errs, fmt.Sprintf("strategy.observation_noise: must be > 0, got %v", s.ObservationNoise))
	}
	if s.Qty < 1 {
		errs = append(errs, fmt.Sprintf("strategy.qty: must be >= 1, got %d", s.Qty))
	}
	if c.Feed.HistorySize < s.LookbackWindow {
		errs = append(errs, fmt.Sprintf("feed.history_size: must hold the lookback window (%d), got %d", s.LookbackWindow, c.Feed.HistorySize))
	}
	switch c.Feed.Mode {
	case "poll", "websocket":
	default:
		errs = append(errs, fmt.Sprintf("feed.mode: unknown mode %q", c.Feed.Mode))
	}
	if c.Sink.Redis.Enabled && c.Sink.Redis.Stream == "" {
		errs = append(errs, "sink.redis.stream: required when redis sink is enabled")
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Params converts the strategy section into estimator parameters.
func (s StrategyConfig) Params() strategy.Params {
	return strategy.Params{
		Lookback:          s.LookbackWindow,
		Deviations:        s.Deviations,
		Delta:             s.Delta,
		ObservationNoise:  s.ObservationNoise,
		Qty:               s.Qty,
		UseDynamicHedge:   s.UseDynamicHedge,
		ExcludeZeroSpread: s.ExcludeZeroSpread,
	}
}

func loadSecretsFromGCP(ctx context.Context, config *Config, logger *logrus.Logger) error {
	secretManager, err := secrets.NewGCPSecretManager(ctx, config.GCP.ProjectID, config.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer secretManager.Close()

	names := config.GCP.SecretNames
	fill := func(dst *string, name string) {
		if *dst == "" && name != "" {
			*dst = secretManager.GetSecretWithDefault(ctx, name, "")
		}
	}
	fill(&config.Feed.APIKey, names.FeedAPIKey)
	fill(&config.Feed.APISecret, names.FeedAPISecret)
	fill(&config.Feed.Passphrase, names.FeedPassphrase)
	fill(&config.Feed.APIKeyName, names.FeedAPIKeyName)
	fill(&config.Feed.PrivateKeyPEM, names.FeedPrivateKey)
	fill(&config.Sink.Redis.Password, names.RedisPassword)

	logger.Info("Successfully loaded secrets from GCP Secret Manager")
	return nil
}
