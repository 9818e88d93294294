package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
	} `yaml:"server"`
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Payments struct {
		SuccessURL string `yaml:"success_url"`
		FailureURL string `yaml:"failure_url"`
		Wallet     struct {
			Receiver           string `yaml:"receiver"`
			NotificationSecret string `yaml:"notification_secret"`
			Token              string `yaml:"token"`
		} `yaml:"wallet"`
		Acquiring struct {
			MerchantID  string `yaml:"merchant_id"`
			Secret      string `yaml:"secret"`
			RefundKey   string `yaml:"refund_key"`
			BaseURL     string `yaml:"base_url"`
			CallbackURL string `yaml:"callback_url"`
		} `yaml:"acquiring"`
		PollInterval   string `yaml:"poll_interval"`
		InterCallDelay string `yaml:"inter_call_delay"`
		Retry          struct {
			BaseDelay   string `yaml:"base_delay"`
			MaxAttempts int    `yaml:"max_attempts"`
			Exponential bool   `yaml:"exponential"`
		} `yaml:"retry"`
	} `yaml:"payments"`
	Firebase struct {
		CredentialsFile string `yaml:"credentials_file"`
	} `yaml:"firebase"`
}

func LoadConfig() Config {
	var cfg Config

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config/config.yaml"
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("Failed to read config file: %v", err)
	}

	err = yaml.Unmarshal(data, &cfg)
	if err != nil {
		log.Fatalf("Failed to unmarshal config data: %v", err)
	}
	applySecrets(&cfg)
	applyDefaults(&cfg)
	return cfg
}

// applySecrets lets the environment (.env in dev) override anything the yaml
// should not carry.
func applySecrets(cfg *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&cfg.Database.URL, "DATABASE_URL")
	set(&cfg.Redis.Addr, "REDIS_ADDR")
	set(&cfg.Redis.Password, "REDIS_PASSWORD")
	set(&cfg.Payments.Wallet.Receiver, "WALLET_RECEIVER")
	set(&cfg.Payments.Wallet.NotificationSecret, "WALLET_NOTIFICATION_SECRET")
	set(&cfg.Payments.Wallet.Token, "WALLET_TOKEN")
	set(&cfg.Payments.Acquiring.MerchantID, "ACQUIRING_MERCHANT_ID")
	set(&cfg.Payments.Acquiring.Secret, "ACQUIRING_SECRET")
	set(&cfg.Payments.Acquiring.RefundKey, "ACQUIRING_REFUND_KEY")
	set(&cfg.Firebase.CredentialsFile, "FIREBASE_CREDENTIALS_FILE")
}

func applyDefaults(cfg *Config) {
	if cfg.Payments.Retry.MaxAttempts <= 0 {
		cfg.Payments.Retry.MaxAttempts = 3
	}
}

// parseDuration reads a yaml duration string, falling back when empty or
// malformed.
func parseDuration(v string, fallback time.Duration) time.Duration {
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("config: bad duration %q, using %s", v, fallback)
		return fallback
	}
	return d
}

func (c Config) PollInterval() time.Duration {
	return parseDuration(c.Payments.PollInterval, time.Minute)
}

func (c Config) InterCallDelay() time.Duration {
	return parseDuration(c.Payments.InterCallDelay, 200*time.Millisecond)
}

func (c Config) RetryBaseDelay() time.Duration {
	return parseDuration(c.Payments.Retry.BaseDelay, 5*time.Second)
}
