package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type SchedulerConfig struct {
	// SweepInterval is how often the scheduler scans polling jobs for due work.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// CheckTimeout bounds a single trigger check during a sweep.
	CheckTimeout time.Duration `mapstructure:"check_timeout"`
}

type ExecutorConfig struct {
	ReactionConcurrency int           `mapstructure:"reaction_concurrency"`
	ReactionTimeout     time.Duration `mapstructure:"reaction_timeout"`
}

type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
}

type WebhookConfig struct {
	// TwitchSecret is the shared secret registered with Twitch EventSub;
	// inbound notifications are HMAC-verified against it.
	TwitchSecret string `mapstructure:"twitch_secret"`
}

type OAuthClientConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RedirectURI  string `mapstructure:"redirect_uri"`
}

type ProvidersConfig struct {
	Twitch  OAuthClientConfig `mapstructure:"twitch"`
	Spotify OAuthClientConfig `mapstructure:"spotify"`
	// DiscordBotToken authenticates outbound Discord messages.
	DiscordBotToken string `mapstructure:"discord_bot_token"`
	// TwitchBotToken authenticates outbound Twitch chat messages.
	TwitchBotToken string `mapstructure:"twitch_bot_token"`
	// NewsAPIKey authenticates EventRegistry article lookups.
	NewsAPIKey string `mapstructure:"news_api_key"`
}

type EmailConfig struct {
	From     string `mapstructure:"from"`
	SMTPHost string `mapstructure:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type Config struct {
	DatabaseURL string          `mapstructure:"database_url"`
	ServerPort  string          `mapstructure:"server_port"`
	JWTSecret   string          `mapstructure:"jwt_secret"`
	Scheduler   SchedulerConfig `mapstructure:"scheduler"`
	Executor    ExecutorConfig  `mapstructure:"executor"`
	Temporal    TemporalConfig  `mapstructure:"temporal"`
	Webhook     WebhookConfig   `mapstructure:"webhook"`
	Providers   ProvidersConfig `mapstructure:"providers"`
	Email       EmailConfig     `mapstructure:"email"`
}

// Load reads the configuration from a YAML file and returns a Config instance.
func Load() *Config {
	// Secrets may come from a local .env file in development.
	_ = godotenv.Load()

	v := viper.New()

	// Look for config in the current directory and ./config
	v.AddConfigPath(".")
	v.SetConfigName("config")
	v.AddConfigPath("./config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		log.Fatalf("Error unmarshalling config: %v", err)
	}

	// Fallback defaults
	if config.ServerPort == "" {
		config.ServerPort = "8080"
	}

	if config.DatabaseURL == "" {
		log.Fatal("Database URL must be set in the config file")
	}
	if config.JWTSecret == "" {
		log.Fatal("JWT secret must be set in the config file")
	}

	if config.Scheduler.SweepInterval == 0 {
		config.Scheduler.SweepInterval = 30 * time.Second
	}
	if config.Scheduler.CheckTimeout == 0 {
		config.Scheduler.CheckTimeout = 20 * time.Second
	}
	if config.Executor.ReactionConcurrency == 0 {
		config.Executor.ReactionConcurrency = 16
	}
	if config.Executor.ReactionTimeout == 0 {
		config.Executor.ReactionTimeout = 30 * time.Second
	}
	if config.Temporal.HostPort == "" {
		config.Temporal.HostPort = "localhost:7233"
	}
	if config.Temporal.Namespace == "" {
		config.Temporal.Namespace = "default"
	}
	if config.Email.SMTPPort == 0 {
		config.Email.SMTPPort = 587
	}

	return &config
}
