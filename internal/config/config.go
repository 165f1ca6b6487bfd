package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
)

// DefaultPath 預設設定檔位置
const DefaultPath = "config/config.yaml"

// 資料庫 driver
const (
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
)

// Config 服務的完整設定，main 建立一次後注入各元件
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	MySQL        mysql.Config       `yaml:"mysql"`
	Schema       SchemaConfig       `yaml:"schema"`
	Ledger       LedgerConfig       `yaml:"ledger"`
	Notification NotificationConfig `yaml:"notification"`
	Log          LogConfig          `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// LegacyWithdrawNoop 提款端點收到非 Retiro 時回 200 (舊服務行為)
	LegacyWithdrawNoop bool `yaml:"legacy_withdraw_noop"`
}

// Addr 監聽位址
func (s ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"`      // mysql | sqlite
	SQLitePath string `yaml:"sqlite_path"` // driver 為 sqlite 時使用
}

type SchemaConfig struct {
	SeedAccounts   bool `yaml:"seed_accounts"`
	MigrateOnStart bool `yaml:"migrate_on_start"`
}

type LedgerConfig struct {
	AllowOverdraft bool `yaml:"allow_overdraft"`
	HashCardKeys   bool `yaml:"hash_card_keys"`
}

type NotificationConfig struct {
	Enabled         bool          `yaml:"enabled"`
	From            string        `yaml:"from"`
	Recipient       string        `yaml:"recipient"`
	UseAccountEmail bool          `yaml:"use_account_email"`
	RabbitMQURL     string        `yaml:"rabbitmq_url"`
	Exchange        string        `yaml:"exchange"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	QueueSize       int           `yaml:"queue_size"`
	Workers         int           `yaml:"workers"`
	MaxRetries      int           `yaml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	// JournalPath 空字串表示不寫 journal
	JournalPath string `yaml:"journal_path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// SlogLevel 轉成 slog.Level
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Default 回傳預設設定
func Default() Config {
	cfg := Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:     DriverMySQL,
			SQLitePath: "data/bank.db",
		},
		MySQL: mysql.Config{
			Host:     "127.0.0.1",
			Port:     3306,
			LogLevel: "error",
		},
		Schema: SchemaConfig{
			SeedAccounts:   true,
			MigrateOnStart: true,
		},
		Ledger: LedgerConfig{
			AllowOverdraft: true,
			HashCardKeys:   false,
		},
		Notification: NotificationConfig{
			Enabled:         true,
			Exchange:        "notifications",
			DialTimeout:     10 * time.Second,
			QueueSize:       256,
			Workers:         2,
			MaxRetries:      5,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
	cfg.MySQL.ApplyDefaults()
	return cfg
}

// Load 讀取設定
//
// 順序: 預設值 -> YAML 檔 -> 環境變數
//
// 參數:
//
//	path: YAML 檔路徑，空字串則略過
//	required: 為 false 時檔案不存在不算錯誤
func Load(path string, required bool) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	// yaml 可能把連線池設成 0
	cfg.MySQL.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envBinding 環境變數與設定欄位的對應
type envBinding struct {
	key string
	env string
	set func(cfg *Config, value string) error
}

func setString(dst func(cfg *Config) *string) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		*dst(cfg) = value
		return nil
	}
}

func setInt(dst func(cfg *Config) *int) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*dst(cfg) = n
		return nil
	}
}

func setBool(dst func(cfg *Config) *bool) func(*Config, string) error {
	return func(cfg *Config, value string) error {
		b, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*dst(cfg) = b
		return nil
	}
}

// envBindings 沿用既有部署的環境變數名稱
var envBindings = []envBinding{
	{key: "mysql.host", env: "ENV_HOST_MYSQL", set: setString(func(c *Config) *string { return &c.MySQL.Host })},
	{key: "mysql.user", env: "ENV_USER_MYSQL", set: setString(func(c *Config) *string { return &c.MySQL.User })},
	{key: "mysql.password", env: "ENV_PASSWORD_MYSQL", set: setString(func(c *Config) *string { return &c.MySQL.Password })},
	{key: "mysql.db_name", env: "ENV_DATABASE_MYSQL", set: setString(func(c *Config) *string { return &c.MySQL.DBName })},
	{key: "mysql.port", env: "ENV_PORT_MYSQL", set: setInt(func(c *Config) *int { return &c.MySQL.Port })},
	{key: "notification.from", env: "ENV_SES_EMAIL_FROM", set: setString(func(c *Config) *string { return &c.Notification.From })},
	{key: "notification.recipient", env: "NOTIFICATION_RECIPIENT", set: setString(func(c *Config) *string { return &c.Notification.Recipient })},
	{key: "notification.rabbitmq_url", env: "RABBITMQ_URL", set: setString(func(c *Config) *string { return &c.Notification.RabbitMQURL })},
	{key: "server.port", env: "SERVER_PORT", set: setInt(func(c *Config) *int { return &c.Server.Port })},
	{key: "database.driver", env: "DB_DRIVER", set: setString(func(c *Config) *string { return &c.Database.Driver })},
	{key: "database.sqlite_path", env: "SQLITE_PATH", set: setString(func(c *Config) *string { return &c.Database.SQLitePath })},
	{key: "ledger.allow_overdraft", env: "LEDGER_ALLOW_OVERDRAFT", set: setBool(func(c *Config) *bool { return &c.Ledger.AllowOverdraft })},
	{key: "log.level", env: "LOG_LEVEL", set: setString(func(c *Config) *string { return &c.Log.Level })},
}

// applyEnv 以環境變數覆蓋設定
func applyEnv(cfg *Config) error {
	v := viper.New()
	for _, b := range envBindings {
		if err := v.BindEnv(b.key, b.env); err != nil {
			return fmt.Errorf("bind %s: %w", b.env, err)
		}
		if !v.IsSet(b.key) {
			continue
		}
		if err := b.set(cfg, v.GetString(b.key)); err != nil {
			return fmt.Errorf("invalid %s: %w", b.env, err)
		}
	}
	return nil
}

// Validate 檢查設定
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case DriverMySQL:
		if err := c.MySQL.Validate(); err != nil {
			return err
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			return errors.New("database.sqlite_path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log.level %q", c.Log.Level)
	}

	if c.Notification.Enabled {
		if c.Notification.Workers <= 0 || c.Notification.QueueSize <= 0 {
			return errors.New("notification.workers and notification.queue_size must be positive")
		}
		if c.Notification.MaxRetries < 0 {
			return errors.New("notification.max_retries must not be negative")
		}
	}
	return nil
}
