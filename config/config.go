package config

import (
	"fmt"
	"os"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

const envPrefix = "KEYSHOP_"

// DBConfig Database config
type DBConfig struct {
	Type     string `yaml:"type"` // postgres | sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"` // database name, or file path for sqlite
	User     string `yaml:"user"`
	Passwd   string `yaml:"passwd"`
	MaxConn  int    `yaml:"max_conn"`
	IdleConn int    `yaml:"idle_conn"`
	Debug    bool   `yaml:"debug"`
}

// SysConfig System config
type SysConfig struct {
	Appid    string `yaml:"appid"`
	Location string `yaml:"location"`
	Workdir  string `yaml:"workdir"`
	NodeID   int64  `yaml:"node_id"`
	Debug    bool   `yaml:"debug"`
}

// WebConfig WEB config
type WebConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LogConfig logger config
type LogConfig struct {
	Mode       string `yaml:"mode"` // development | production
	FileEnable bool   `yaml:"file_enable"`
	Filename   string `yaml:"filename"`
}

// AuthConfig bearer token settings
type AuthConfig struct {
	JwtSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

// ShopConfig checkout and inventory behaviour
type ShopConfig struct {
	Currency          string        `yaml:"currency"`
	Locale            string        `yaml:"locale"` // BCP 47 tag used to format amounts in mails
	DefaultCountry    string        `yaml:"default_country"`
	LockTimeout       time.Duration `yaml:"lock_timeout"`
	LowStockThreshold int           `yaml:"low_stock_threshold"`
}

// MailConfig SMTP settings for order confirmations
type MailConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	User    string `yaml:"user"`
	Passwd  string `yaml:"passwd"`
	From    string `yaml:"from"`
	Workers int    `yaml:"workers"`
}

// RedisConfig catalog cache; an empty Addr disables the cache.
type RedisConfig struct {
	Addr   string        `yaml:"addr"`
	Passwd string        `yaml:"passwd"`
	DB     int           `yaml:"db"`
	TTL    time.Duration `yaml:"ttl"`
}

type AppConfig struct {
	System   SysConfig   `yaml:"system"`
	Web      WebConfig   `yaml:"web"`
	Database DBConfig    `yaml:"database"`
	Logger   LogConfig   `yaml:"logger"`
	Auth     AuthConfig  `yaml:"auth"`
	Shop     ShopConfig  `yaml:"shop"`
	Mail     MailConfig  `yaml:"mail"`
	Redis    RedisConfig `yaml:"redis"`
}

func (c *AppConfig) GetLogDir() string {
	return path.Join(c.System.Workdir, "logs")
}

func (c *AppConfig) GetDataDir() string {
	return path.Join(c.System.Workdir, "data")
}

func (c *AppConfig) initDirs() {
	if c.System.Workdir == "" {
		return
	}
	_ = os.MkdirAll(c.GetLogDir(), 0o755)
	_ = os.MkdirAll(c.GetDataDir(), 0o755)
}

// Validate checks the settings the shop cannot run without.
func (c *AppConfig) Validate() error {
	if _, err := currency.ParseISO(c.Shop.Currency); err != nil {
		return fmt.Errorf("shop.currency %q: %w", c.Shop.Currency, err)
	}
	if _, err := language.Parse(c.Shop.Locale); err != nil {
		return fmt.Errorf("shop.locale %q: %w", c.Shop.Locale, err)
	}
	if strings.TrimSpace(c.Shop.DefaultCountry) == "" {
		return fmt.Errorf("shop.default_country is required")
	}
	if c.Shop.LockTimeout <= 0 {
		return fmt.Errorf("shop.lock_timeout must be positive")
	}
	switch c.Database.Type {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	if strings.TrimSpace(c.Auth.JwtSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	return nil
}

func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		System: SysConfig{
			Appid:    "KeyShop",
			Location: "Europe/Warsaw",
			Workdir:  "/var/keyshop",
			NodeID:   1,
			Debug:    true,
		},
		Web: WebConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Database: DBConfig{
			Type:     "postgres",
			Host:     "127.0.0.1",
			Port:     5432,
			Name:     "keyshop",
			User:     "postgres",
			Passwd:   "myroot",
			MaxConn:  100,
			IdleConn: 10,
			Debug:    false,
		},
		Logger: LogConfig{
			Mode:       "development",
			FileEnable: true,
			Filename:   "/var/keyshop/logs/keyshop.log",
		},
		Auth: AuthConfig{
			JwtSecret: "super-secret-key-change-me",
			TokenTTL:  7 * 24 * time.Hour,
		},
		Shop: ShopConfig{
			Currency:          "PLN",
			Locale:            "pl",
			DefaultCountry:    "Poland",
			LockTimeout:       3 * time.Second,
			LowStockThreshold: 5,
		},
		Mail: MailConfig{
			Enabled: false,
			Port:    587,
			From:    "shop@keyshop.local",
			Workers: 4,
		},
		Redis: RedisConfig{
			TTL: 30 * time.Second,
		},
	}
}

// LoadConfig reads the yaml file (falling back to /etc/keyshop.yml and then
// the defaults) and applies KEYSHOP_<SECTION>_<KEY> environment overrides.
func LoadConfig(cfile string) (*AppConfig, error) {
	if cfile == "" {
		cfile = "keyshop.yml"
	}
	if !fileExists(cfile) {
		cfile = "/etc/keyshop.yml"
	}
	cfg := DefaultAppConfig()
	if fileExists(cfile) {
		data, err := os.ReadFile(cfile)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", cfile, err)
		}
	}
	if err := applyEnv(cfg, os.Environ()); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.initDirs()
	return cfg, nil
}

// applyEnv decodes KEYSHOP_DATABASE_MAX_CONN=50 style variables onto cfg.
func applyEnv(cfg *AppConfig, environ []string) error {
	overrides := map[string]interface{}{}
	for _, kv := range environ {
		if !strings.HasPrefix(kv, envPrefix) {
			continue
		}
		name, value, found := strings.Cut(strings.TrimPrefix(kv, envPrefix), "=")
		if !found {
			continue
		}
		section, key, found := strings.Cut(strings.ToLower(name), "_")
		if !found || key == "" {
			continue
		}
		sec, _ := overrides[section].(map[string]interface{})
		if sec == nil {
			sec = map[string]interface{}{}
			overrides[section] = sec
		}
		sec[key] = value
	}
	if len(overrides) == 0 {
		return nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "yaml",
		WeaklyTypedInput: true,
		Result:           cfg,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			emptyBoolHook,
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(overrides); err != nil {
		return fmt.Errorf("environment overrides: %w", err)
	}
	return nil
}

// emptyBoolHook treats an empty variable as false instead of a decode error.
func emptyBoolHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() == reflect.String && to.Kind() == reflect.Bool && data.(string) == "" {
		return false, nil
	}
	return data, nil
}

func fileExists(file string) bool {
	info, err := os.Stat(file)
	return err == nil && !info.IsDir()
}
