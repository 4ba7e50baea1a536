package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Dash struct {
		Network     string `yaml:"network"`      // mainnet or testnet
		ExplorerURL string `yaml:"explorer_url"` // optional override
	} `yaml:"dash"`
	Oracle struct {
		CoinGeckoURL string `yaml:"coingecko_url"`
		CoinbaseURL  string `yaml:"coinbase_url"`
		BinanceURL   string `yaml:"binance_url"`
	} `yaml:"oracle"`
	Payment struct {
		ExpiryHours                int    `yaml:"expiry_hours"`
		MinConfirmations           int64  `yaml:"min_confirmations"`
		AmountTolerance            string `yaml:"amount_tolerance"`
		PriceUpdateIntervalSeconds int    `yaml:"price_update_interval_seconds"`
	} `yaml:"payment"`
	Plans map[string]string `yaml:"plans"` // plan name -> USD price
	Worker struct {
		IntervalSeconds    int    `yaml:"interval_seconds"`
		DeliverySchedule   string `yaml:"delivery_schedule"`
		DeliveryDelayHours int    `yaml:"delivery_delay_hours"`
	} `yaml:"worker"`
	RateLimit struct {
		Requests      int `yaml:"requests"`
		WindowSeconds int `yaml:"window_seconds"`
	} `yaml:"ratelimit"`
	Mail struct {
		From       string `yaml:"from"`
		AdminEmail string `yaml:"admin_email"`
	} `yaml:"mail"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	if cfg.Dash.Network != "mainnet" && cfg.Dash.Network != "testnet" {
		return nil, fmt.Errorf("dash.network must be mainnet or testnet, got %q", cfg.Dash.Network)
	}
	if len(cfg.Plans) == 0 {
		return nil, errors.New("at least one plan is required")
	}
	if _, err := cfg.PlanPrices(); err != nil {
		return nil, err
	}
	if _, err := cfg.Tolerance(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Testnet() bool {
	return c.Dash.Network == "testnet"
}

func (c *Config) PlanPrices() (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(c.Plans))
	for name, usd := range c.Plans {
		price, err := decimal.NewFromString(usd)
		if err != nil || !price.IsPositive() {
			return nil, fmt.Errorf("plan %q: invalid usd price %q", name, usd)
		}
		out[name] = price
	}
	return out, nil
}

func (c *Config) Tolerance() (decimal.Decimal, error) {
	tol, err := decimal.NewFromString(c.Payment.AmountTolerance)
	if err != nil || !tol.IsPositive() {
		return decimal.Zero, fmt.Errorf("payment.amount_tolerance: invalid value %q", c.Payment.AmountTolerance)
	}
	return tol, nil
}

func (c *Config) Expiry() time.Duration {
	return time.Duration(c.Payment.ExpiryHours) * time.Hour
}

func (c *Config) PriceUpdateInterval() time.Duration {
	return time.Duration(c.Payment.PriceUpdateIntervalSeconds) * time.Second
}

func (c *Config) WorkerInterval() time.Duration {
	return time.Duration(c.Worker.IntervalSeconds) * time.Second
}

func (c *Config) DeliveryDelay() time.Duration {
	return time.Duration(c.Worker.DeliveryDelayHours) * time.Hour
}

func applyDefaults(cfg *Config) {
	if cfg.Dash.Network == "" {
		cfg.Dash.Network = "testnet"
	}
	if cfg.Payment.ExpiryHours <= 0 {
		cfg.Payment.ExpiryHours = 72
	}
	if cfg.Payment.MinConfirmations <= 0 {
		cfg.Payment.MinConfirmations = 3
	}
	if cfg.Payment.AmountTolerance == "" {
		cfg.Payment.AmountTolerance = "0.001"
	}
	if cfg.Payment.PriceUpdateIntervalSeconds <= 0 {
		cfg.Payment.PriceUpdateIntervalSeconds = 120
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 60
	}
	if cfg.Worker.DeliverySchedule == "" {
		cfg.Worker.DeliverySchedule = "@hourly"
	}
	if cfg.Worker.DeliveryDelayHours <= 0 {
		cfg.Worker.DeliveryDelayHours = 24
	}
	if cfg.RateLimit.Requests <= 0 {
		cfg.RateLimit.Requests = 5
	}
	if cfg.RateLimit.WindowSeconds <= 0 {
		cfg.RateLimit.WindowSeconds = 900
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("DASH_NETWORK"); v != "" {
		cfg.Dash.Network = v
	}
	if v := os.Getenv("EXPLORER_URL"); v != "" {
		cfg.Dash.ExplorerURL = v
	}
	if v := os.Getenv("PAYMENT_EXPIRY_HOURS"); v != "" {
		cfg.Payment.ExpiryHours = atoiOr(cfg.Payment.ExpiryHours, v)
	}
	if v := os.Getenv("MIN_CONFIRMATIONS"); v != "" {
		cfg.Payment.MinConfirmations = atoi64Or(cfg.Payment.MinConfirmations, v)
	}
	if v := os.Getenv("AMOUNT_TOLERANCE"); v != "" {
		cfg.Payment.AmountTolerance = v
	}
	if v := os.Getenv("PRICE_UPDATE_INTERVAL"); v != "" {
		cfg.Payment.PriceUpdateIntervalSeconds = atoiOr(cfg.Payment.PriceUpdateIntervalSeconds, v)
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoiOr(cfg.Worker.IntervalSeconds, v)
	}
	if v := os.Getenv("DELIVERY_SCHEDULE"); v != "" {
		cfg.Worker.DeliverySchedule = v
	}
	if v := os.Getenv("DELIVERY_DELAY_HOURS"); v != "" {
		cfg.Worker.DeliveryDelayHours = atoiOr(cfg.Worker.DeliveryDelayHours, v)
	}
	if v := os.Getenv("RATE_LIMIT_REQUESTS"); v != "" {
		cfg.RateLimit.Requests = atoiOr(cfg.RateLimit.Requests, v)
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW_SECONDS"); v != "" {
		cfg.RateLimit.WindowSeconds = atoiOr(cfg.RateLimit.WindowSeconds, v)
	}
	if v := os.Getenv("MAIL_FROM"); v != "" {
		cfg.Mail.From = v
	}
	if v := os.Getenv("ADMIN_EMAIL"); v != "" {
		cfg.Mail.AdminEmail = v
	}
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
