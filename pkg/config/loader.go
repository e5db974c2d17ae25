package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/app/configs")

	viper.SetEnvPrefix("PAYMENTS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Allow common env vars without PAYMENTS_ prefix for Docker/VM deploys
	viper.BindEnv("database.url", "DATABASE_URL", "PAYMENTS_DATABASE_URL")
	viper.BindEnv("redis.url", "REDIS_URL", "PAYMENTS_REDIS_URL")
	viper.BindEnv("nats.url", "NATS_URL", "PAYMENTS_NATS_URL")
	viper.BindEnv("rabbitmq.url", "RABBITMQ_URL", "PAYMENTS_RABBITMQ_URL")
	viper.BindEnv("vault.address", "VAULT_ADDR")
	viper.BindEnv("vault.token", "VAULT_TOKEN")
	viper.BindEnv("stripe.secret_key", "STRIPE_SECRET_KEY")
	viper.BindEnv("step_up.api_key", "STEPUP_API_KEY")
	viper.BindEnv("app.environment", "PAYMENTS_ENVIRONMENT")
	viper.BindEnv("logging.level", "LOG_LEVEL")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// env vars only
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "payments-core")
	viper.SetDefault("pool.health_check_interval", 30*time.Second)
	viper.SetDefault("pool.max_bank_sockets", 8)
	viper.SetDefault("pool.dial_timeout", 5*time.Second)
	viper.SetDefault("secrets.dir", "./secrets")
	viper.SetDefault("secrets.master_key_path", "./secrets/.master.key")
	viper.SetDefault("step_up.challenge_lifetime", time.Hour)
	viper.SetDefault("step_up.completed_retain", 5*time.Minute)
	viper.SetDefault("step_up.sweep_interval", 5*time.Minute)
	viper.SetDefault("crypto.poll_interval", 30*time.Second)
	viper.SetDefault("crypto.default_tolerance", 0.001)
	viper.SetDefault("routing.high_value_threshold", 1_000_000)
	viper.SetDefault("routing.risk_threshold", 70)
	viper.SetDefault("routing.history_size", 100)
}
