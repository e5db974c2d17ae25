package config

import "time"

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	RabbitMQ RabbitMQConfig `mapstructure:"rabbitmq"`
	Vault    VaultConfig    `mapstructure:"vault"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Bank     BankConfig     `mapstructure:"bank"`
	StepUp   StepUpConfig   `mapstructure:"step_up"`
	Crypto   CryptoConfig   `mapstructure:"crypto"`
	Routing  RoutingConfig  `mapstructure:"routing"`
	Stripe   StripeConfig   `mapstructure:"stripe"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	MaxReconnects int           `mapstructure:"max_reconnects"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
}

type RabbitMQConfig struct {
	URL string `mapstructure:"url"`
}

type VaultConfig struct {
	Address   string `mapstructure:"address"`
	Token     string `mapstructure:"token"`
	MountPath string `mapstructure:"mount_path"`
}

type SecretsConfig struct {
	Dir           string `mapstructure:"dir"`
	MasterKeyPath string `mapstructure:"master_key_path"`
}

type PoolConfig struct {
	HealthCheckInterval time.Duration `mapstructure:"health_check_interval"`
	MaxBankSockets      int           `mapstructure:"max_bank_sockets"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
}

// BankConfig holds per-rail bank endpoint settings, keyed by rail id.
type BankConfig struct {
	Rails map[string]BankRailConfig `mapstructure:"rails"`
}

type BankRailConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	MerchantID      string        `mapstructure:"merchant_id"`
	TerminalID      string        `mapstructure:"terminal_id"`
	AcquirerID      string        `mapstructure:"acquirer_id"`
	MessageTimeout  time.Duration `mapstructure:"message_timeout"`
	CredentialName  string        `mapstructure:"credential_name"`
	MerchantNameLoc string        `mapstructure:"merchant_name_loc"`
}

type StepUpConfig struct {
	ServerURL         string        `mapstructure:"server_url"`
	APIKey            string        `mapstructure:"api_key"`
	TokenSigningKey   string        `mapstructure:"token_signing_key"`
	ChallengeLifetime time.Duration `mapstructure:"challenge_lifetime"`
	CompletedRetain   time.Duration `mapstructure:"completed_retain"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

type CryptoConfig struct {
	NodeURLs              map[string]string `mapstructure:"node_urls"`
	RequiredConfirmations map[string]int    `mapstructure:"required_confirmations"`
	// Tolerances are fractional (0.001 = 0.1%); currencies without an
	// entry use DefaultTolerance.
	Tolerances       map[string]float64 `mapstructure:"tolerances"`
	DefaultTolerance float64            `mapstructure:"default_tolerance"`
	PollInterval     time.Duration      `mapstructure:"poll_interval"`
}

type RoutingConfig struct {
	HighValueThreshold int64   `mapstructure:"high_value_threshold"`
	RiskThreshold      float64 `mapstructure:"risk_threshold"`
	HistorySize        int     `mapstructure:"history_size"`
}

type StripeConfig struct {
	SecretKey string `mapstructure:"secret_key"`
	Currency  string `mapstructure:"currency"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
