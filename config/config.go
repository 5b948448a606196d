package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling.
type ServerConfig struct {
	HTTPPort        string `mapstructure:"HTTP_PORT"`
	MongoURI        string `mapstructure:"MONGO_URI"`
	MongoDBName     string `mapstructure:"MONGO_DB_NAME"`
	RedisAddr       string `mapstructure:"REDIS_ADDR"`
	LogLevel        string `mapstructure:"LOG_LEVEL"`
	LogPretty       bool   `mapstructure:"LOG_PRETTY"`
	OtelServiceName string `mapstructure:"OTEL_SERVICE_NAME"`

	// Google OAuth client registration.
	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	OAuthRedirectURL   string `mapstructure:"OAUTH_REDIRECT_URL"`

	// SiteURL identifies the site in Search Console and doubles as the
	// default tenant when no X-Tenant-Id header is sent.
	SiteURL string `mapstructure:"SITE_URL"`

	// ManagementKey gates connect/disconnect. Empty disables the gate.
	ManagementKey string `mapstructure:"MANAGEMENT_KEY"`
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/wp-seo/")
	v.AddConfigPath("$HOME/.wp-seo")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("MONGO_URI", "")
	v.SetDefault("MONGO_DB_NAME", "wp_seo")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("OTEL_SERVICE_NAME", "wp-seo")
	v.SetDefault("SITE_URL", "http://localhost")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, env vars and defaults carry it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
