package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/adapter/out/notify"
	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/adapter/out/sqlstore"
	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/usecase"
	"github.com/JoeShih716/go-bank-ledger/internal/config"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
	"github.com/JoeShih716/go-bank-ledger/pkg/rabbitmq"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

// application 組好的服務元件
type application struct {
	log        *slog.Logger
	db         *gorm.DB
	core       *usecase.CoreUseCase
	dispatcher *notify.Dispatcher

	// 依建立的反向順序關閉
	closers []func() error
}

// newApplication 連線資料庫並組裝 usecase 與通知
func newApplication(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *application, err error) {
	app := &application{log: log}
	defer func() {
		if err != nil {
			_ = app.closeResources()
		}
	}()

	// 1. 資料庫
	db, closeDB, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	app.db = db
	app.closers = append(app.closers, closeDB)

	// 2. 帳務引擎
	policy := domain.Policy{
		AllowOverdraft: cfg.Ledger.AllowOverdraft,
		HashCardKeys:   cfg.Ledger.HashCardKeys,
	}
	ledger := sqlstore.NewLedger(db, policy)
	schema := sqlstore.NewSchemaManager(db, sqlstore.SchemaOptions{
		SeedAccounts: cfg.Schema.SeedAccounts,
		HashCardKeys: cfg.Ledger.HashCardKeys,
	})

	// 3. 通知
	var notifier usecase.Notifier
	if cfg.Notification.Enabled {
		if app.dispatcher, err = app.newDispatcher(cfg.Notification); err != nil {
			return nil, err
		}
		notifier = app.dispatcher
	}

	// 4. UseCase
	app.core = usecase.NewCoreUseCase(ledger, schema, notifier, log)
	return app, nil
}

func (app *application) newDispatcher(cfg config.NotificationConfig) (*notify.Dispatcher, error) {
	var sender notify.Sender = &notify.LogSender{Log: app.log}
	if cfg.RabbitMQURL != "" {
		var publisher rabbitmq.Publisher
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQURL, cfg.DialTimeout, app.log)
		if err != nil {
			app.log.Warn("rabbitmq producer unavailable, using fallback", slog.Any("error", err))
			publisher = &rabbitmq.FallbackProducer{Log: app.log}
		} else {
			publisher = producer
		}
		app.closers = append(app.closers, func() error {
			publisher.Close()
			return nil
		})
		sender = notify.NewRabbitSender(publisher, cfg.Exchange)
	}

	var journal notify.Journal
	if cfg.JournalPath != "" {
		w, err := wal.Open(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("open notification journal: %w", err)
		}
		app.closers = append(app.closers, w.Close)
		journal = w
	}

	dispatcher := notify.NewDispatcher(sender, journal, notify.Options{
		From:            cfg.From,
		Recipient:       cfg.Recipient,
		UseAccountEmail: cfg.UseAccountEmail,
		QueueSize:       cfg.QueueSize,
		Workers:         cfg.Workers,
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.InitialInterval,
		MaxInterval:     cfg.MaxInterval,
	}, app.log)
	if err := dispatcher.Start(); err != nil {
		return nil, err
	}
	return dispatcher, nil
}

// close 先讓通知寄完，再關閉 broker、journal 與連線池
func (app *application) close(ctx context.Context) error {
	var errs []error
	if app.dispatcher != nil {
		if err := app.dispatcher.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop notification dispatcher: %w", err))
		}
	}
	if err := app.closeResources(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// shutdown 以獨立的逾時 context 關閉，錯誤只記錄
// 呼叫端的 context 可能已取消，不能拿來等通知寄完
func (app *application) shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := app.close(ctx); err != nil {
		app.log.Error("shutdown incomplete", slog.Any("error", err))
	}
}

func (app *application) closeResources() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		if err := app.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}

// openDatabase 依 database.driver 建立 gorm 連線
func openDatabase(ctx context.Context, cfg *config.Config, log *slog.Logger) (*gorm.DB, func() error, error) {
	switch cfg.Database.Driver {
	case config.DriverMySQL:
		client, err := mysql.NewClient(ctx, cfg.MySQL, log)
		if err != nil {
			return nil, nil, err
		}
		return client.DB(), client.Close, nil
	case config.DriverSQLite:
		return openSQLite(cfg.Database.SQLitePath, cfg.MySQL.LogLevel, log)
	default:
		return nil, nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// openSQLite 本機模式，資料放在單一檔案
func openSQLite(path, logLevel string, log *slog.Logger) (*gorm.DB, func() error, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on&_busy_timeout=5000"), &gorm.Config{
		Logger: mysql.NewLogger(logLevel),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get sql.db: %w", err)
	}
	// SQLite 只允許一個寫入者，共用單一連線讓 transaction 依序執行
	sqlDB.SetMaxOpenConns(1)

	log.Info("sqlite opened", slog.String("path", path))
	return db, sqlDB.Close, nil
}
