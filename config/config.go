package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	ModeServe = "serve"
	ModeTUI   = "tui"
)

type Config struct {
	Mode       string
	ListenAddr string

	APIBaseURL   string
	APIGatewayID string
	APIStage     string

	DefaultUserID     string
	HomeCurrency      string
	SecondaryCurrency string
	TransactionsLimit int

	RequestTimeout time.Duration
	SettleTimeout  time.Duration
	PollInitial    time.Duration
	PollMax        time.Duration

	WALDir string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	QuoteTTL      time.Duration

	Environment string
	// Rates overrides the built-in preview table, keyed "FROM:TO".
	Rates map[string]decimal.Decimal

	// Warnings are non-fatal problems to log at startup.
	Warnings []string
}

// ConfigTmp is the raw yaml form of Config.
type ConfigTmp struct {
	ListenAddr        string            `yaml:"listen_addr,omitempty"`
	APIBaseURL        string            `yaml:"api_base_url,omitempty"`
	APIGatewayID      string            `yaml:"api_gateway_id,omitempty"`
	APIStage          string            `yaml:"api_stage,omitempty"`
	DefaultUserID     string            `yaml:"default_user_id,omitempty"`
	HomeCurrency      string            `yaml:"home_currency,omitempty"`
	SecondaryCurrency string            `yaml:"secondary_currency,omitempty"`
	TransactionsLimit int               `yaml:"transactions_limit,omitempty"`
	RequestTimeout    time.Duration     `yaml:"request_timeout,omitempty"`
	SettleTimeout     time.Duration     `yaml:"settle_timeout,omitempty"`
	PollInitial       time.Duration     `yaml:"poll_initial,omitempty"`
	PollMax           time.Duration     `yaml:"poll_max,omitempty"`
	WALDir            string            `yaml:"wal_dir,omitempty"`
	RedisAddr         string            `yaml:"redis_addr,omitempty"`
	RedisPassword     string            `yaml:"redis_password,omitempty"`
	RedisDB           int               `yaml:"redis_db,omitempty"`
	QuoteTTL          time.Duration     `yaml:"quote_ttl,omitempty"`
	Rates             map[string]string `yaml:"rates,omitempty"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Mode:              ModeServe,
		ListenAddr:        ":3000",
		APIBaseURL:        "http://localhost:4566",
		APIStage:          "dev",
		DefaultUserID:     "c1",
		HomeCurrency:      "USD",
		SecondaryCurrency: "EUR",
		TransactionsLimit: 10,
		RequestTimeout:    10 * time.Second,
		SettleTimeout:     30 * time.Second,
		PollInitial:       500 * time.Millisecond,
		PollMax:           5 * time.Second,
		WALDir:            "./wal",
		QuoteTTL:          30 * time.Second,
	}
}

// Get loads the configuration from the process flags, environment and files.
func Get() (Config, error) {
	return Load(os.Args[1:])
}

// Load applies, in order: defaults, the yaml file, the .env file and the
// environment, and finally explicit flags.
func Load(args []string) (Config, error) {
	f, err := parseFlags(args)
	if err != nil {
		return Config{}, err
	}

	cfg := Default()

	if f.configPath != "" {
		if err := applyYaml(&cfg, f.configPath); err != nil {
			return Config{}, err
		}
	}

	if err := loadEnvFile(f.envFile, f.envFileSet); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}

	f.apply(&cfg)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if cfg.APIGatewayID == "" {
		cfg.Warnings = append(cfg.Warnings, "API_GATEWAY_ID is not set, requests go to an empty gateway id")
	}
	return cfg, nil
}

func applyYaml(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read yaml config")
	}
	var c ConfigTmp
	if err := yaml.Unmarshal(data, &c); err != nil {
		return errors.Wrap(err, "parse yaml config")
	}

	setString(&cfg.ListenAddr, c.ListenAddr)
	setString(&cfg.APIBaseURL, c.APIBaseURL)
	setString(&cfg.APIGatewayID, c.APIGatewayID)
	setString(&cfg.APIStage, c.APIStage)
	setString(&cfg.DefaultUserID, c.DefaultUserID)
	setString(&cfg.HomeCurrency, c.HomeCurrency)
	setString(&cfg.SecondaryCurrency, c.SecondaryCurrency)
	setString(&cfg.WALDir, c.WALDir)
	setString(&cfg.RedisAddr, c.RedisAddr)
	setString(&cfg.RedisPassword, c.RedisPassword)
	if c.TransactionsLimit != 0 {
		cfg.TransactionsLimit = c.TransactionsLimit
	}
	if c.RedisDB != 0 {
		cfg.RedisDB = c.RedisDB
	}
	setDuration(&cfg.RequestTimeout, c.RequestTimeout)
	setDuration(&cfg.SettleTimeout, c.SettleTimeout)
	setDuration(&cfg.PollInitial, c.PollInitial)
	setDuration(&cfg.PollMax, c.PollMax)
	setDuration(&cfg.QuoteTTL, c.QuoteTTL)

	if len(c.Rates) > 0 {
		cfg.Rates = make(map[string]decimal.Decimal, len(c.Rates))
		for pair, raw := range c.Rates {
			rate, err := decimal.NewFromString(raw)
			if err != nil {
				return fmt.Errorf("incorrect rate for %s in yaml config (must be a decimal), error: %w", pair, err)
			}
			cfg.Rates[strings.ToUpper(pair)] = rate
		}
	}
	return nil
}

// loadEnvFile reads a .env file. The default file may be missing, an explicit
// one may not.
func loadEnvFile(path string, explicit bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return errors.Wrapf(err, "env file %s", path)
		}
		return nil
	}
	return errors.Wrapf(godotenv.Load(path), "load env file %s", path)
}

func applyEnv(cfg *Config) error {
	cfg.ListenAddr = getEnv("LISTEN_ADDR", cfg.ListenAddr)
	cfg.APIBaseURL = getEnv("API_BASE_URL", cfg.APIBaseURL)
	cfg.APIGatewayID = getEnv("API_GATEWAY_ID", cfg.APIGatewayID)
	cfg.APIStage = getEnv("API_STAGE", cfg.APIStage)
	cfg.DefaultUserID = getEnv("DEFAULT_USER_ID", cfg.DefaultUserID)
	cfg.HomeCurrency = getEnv("HOME_CURRENCY", cfg.HomeCurrency)
	cfg.SecondaryCurrency = getEnv("SECONDARY_CURRENCY", cfg.SecondaryCurrency)
	cfg.WALDir = getEnv("WAL_DIR", cfg.WALDir)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)

	var err error
	if cfg.TransactionsLimit, err = getEnvInt("TRANSACTIONS_LIMIT", cfg.TransactionsLimit); err != nil {
		return err
	}
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", cfg.RedisDB); err != nil {
		return err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"REQUEST_TIMEOUT", &cfg.RequestTimeout},
		{"SETTLE_TIMEOUT", &cfg.SettleTimeout},
		{"POLL_INITIAL", &cfg.PollInitial},
		{"POLL_MAX", &cfg.PollMax},
		{"QUOTE_TTL", &cfg.QuoteTTL},
	}
	for _, d := range durations {
		if *d.dst, err = getEnvDuration(d.key, *d.dst); err != nil {
			return err
		}
	}
	return nil
}

func (c Config) validate() error {
	if c.Mode != ModeServe && c.Mode != ModeTUI {
		return fmt.Errorf("invalid --mode provided, --mode=%s", c.Mode)
	}
	if c.TransactionsLimit <= 0 {
		return fmt.Errorf("transactions limit must be positive, got %d", c.TransactionsLimit)
	}
	if c.PollInitial <= 0 || c.PollMax < c.PollInitial {
		return fmt.Errorf("invalid poll intervals: initial %s, max %s", c.PollInitial, c.PollMax)
	}
	if c.SettleTimeout <= 0 {
		return fmt.Errorf("settle timeout must be positive, got %s", c.SettleTimeout)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "%s must be an integer", key)
	}
	return v, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := getEnv(key, "")
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "%s must be a duration", key)
	}
	return d, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}
