package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/spf13/viper"
)

// Config is everything the bot binary needs. Values come from config.yaml in
// the working directory, overridden by GRADER_-prefixed environment variables.
type Config struct {
	Port       string `mapstructure:"PORT"`
	WebhookURL string `mapstructure:"WEBHOOK_URL"` // empty = long polling

	TelegramBotToken string `mapstructure:"TELEGRAM_BOT_TOKEN"`
	BackendURL       string `mapstructure:"BACKEND_URL"`
	DatabaseURL      string `mapstructure:"DATABASE_URL"`

	HTTPTimeout time.Duration `mapstructure:"HTTP_TIMEOUT"`
	// Extraction runs model inference server-side; it gets its own budget.
	ExtractTimeout time.Duration `mapstructure:"EXTRACT_TIMEOUT"`

	HistoryPageSize int `mapstructure:"HISTORY_PAGE_SIZE"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.SetDefault("PORT", "8080")
	viper.SetDefault("WEBHOOK_URL", "")
	viper.SetDefault("TELEGRAM_BOT_TOKEN", "")
	viper.SetDefault("BACKEND_URL", "")
	viper.SetDefault("DATABASE_URL", "")
	viper.SetDefault("HTTP_TIMEOUT", "30s")
	viper.SetDefault("EXTRACT_TIMEOUT", "3m")
	viper.SetDefault("HISTORY_PAGE_SIZE", 10)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")

	if err := viper.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if errors.As(err, &nf) {
			log.Println("config.yaml not found, using environment variables and defaults")
		} else {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	viper.SetEnvPrefix("GRADER")
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if cfg.TelegramBotToken == "" {
		return nil, errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.BackendURL == "" {
		return nil, errors.New("BACKEND_URL is required")
	}
	return &cfg, nil
}
