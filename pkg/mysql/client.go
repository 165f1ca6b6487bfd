package mysql

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Client 封裝 GORM DB 實例
type Client struct {
	db *gorm.DB
}

// NewClient 建立並回傳一個新的 MySQL 客戶端實例 (GORM)
//
// 參數:
//
//	ctx: 取消時停止重試
//	cfg: Config - MySQL 連線配置
//	log: 重試時的紀錄器
//
// 回傳值:
//
//	*Client: 封裝後的 MySQL 客戶端
//	error: 若連線失敗則回傳錯誤
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	if log == nil {
		log = slog.Default()
	}
	cfg.ApplyDefaults()

	gormConfig := &gorm.Config{
		// 帳務寫入一律走明確的 Transaction，單筆查詢不需要預設 transaction
		SkipDefaultTransaction: true,
		Logger:                 NewLogger(cfg.LogLevel),
	}

	var db *gorm.DB
	attempt := 0
	connect := func() error {
		attempt++
		var err error
		db, err = gorm.Open(mysql.Open(cfg.DSN()), gormConfig)
		if err != nil {
			return err
		}
		rawDB, err := db.DB()
		if err != nil {
			return backoff.Permanent(err)
		}
		return rawDB.PingContext(ctx)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(cfg.RetryInterval), uint64(cfg.ConnectRetries-1)),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		log.Warn("failed to connect to mysql, retrying",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", cfg.ConnectRetries),
			slog.Duration("retry_in", wait),
			slog.Any("error", err))
	}
	if err := backoff.RetryNotify(connect, policy, notify); err != nil {
		return nil, fmt.Errorf("failed to connect to mysql after %d attempts: %w", attempt, err)
	}

	// 取得底層 sql.DB 物件以設定連線池
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.db: %w", err)
	}
	ConfigurePool(sqlDB, cfg)

	log.Info("mysql connected",
		slog.String("host", cfg.Host),
		slog.Int("port", cfg.Port),
		slog.String("db", cfg.DBName))
	return &Client{db: db}, nil
}

// DB 回傳底層的 *gorm.DB 實例，供業務邏輯層使用
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Close 關閉資料庫連線
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// poolSetter 為 *sql.DB 的連線池設定子集
type poolSetter interface {
	SetMaxOpenConns(n int)
	SetMaxIdleConns(n int)
	SetConnMaxLifetime(d time.Duration)
}

// ConfigurePool 套用連線池參數
// 每個請求只借用一條連線，上限由 MaxOpenConns 決定
func ConfigurePool(db poolSetter, cfg Config) {
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
}

// NewLogger 根據配置建立 GORM Logger
func NewLogger(level string) logger.Interface {
	var logLevel logger.LogLevel
	switch level {
	case "info":
		logLevel = logger.Info
	case "warn":
		logLevel = logger.Warn
	case "error":
		logLevel = logger.Error
	case "silent":
		logLevel = logger.Silent
	default:
		logLevel = logger.Error // 預設只記錄錯誤
	}

	return logger.Default.LogMode(logLevel)
}
