package sqlstore

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratesqlite3 "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/usecase"
)

//go:embed migrations
var migrationsFS embed.FS

// SchemaOptions 控制初始資料
type SchemaOptions struct {
	// SeedAccounts 是否放入範例帳戶 (已存在則略過)
	SeedAccounts bool
	// HashCardKeys 範例帳戶的密碼是否以 bcrypt 雜湊
	HashCardKeys bool
}

// seedAccounts 初始帳戶，以 numeroCuenta / tarjetaDebito 的 unique 限制避免重複
var seedAccounts = []sqlAccount{
	{
		Number:     "1001",
		Balance:    decimal.RequireFromString("5000.00"),
		Holder:     "John Doe",
		CardNumber: "1234-5678-9012-3456",
		CardKey:    "123456",
		Email:      strPtr("john.doe@example.com"),
	},
	{
		Number:     "1002",
		Balance:    decimal.RequireFromString("8000.00"),
		Holder:     "Jane Smith",
		CardNumber: "9876-5432-1098-7654",
		CardKey:    "654321",
		Email:      strPtr("jane.smith@example.com"),
	},
}

// SchemaManager 以 golang-migrate 建立資料表，再放入初始帳戶
type SchemaManager struct {
	db   *gorm.DB
	opts SchemaOptions
}

// NewSchemaManager 建立 SchemaManager
func NewSchemaManager(db *gorm.DB, opts SchemaOptions) *SchemaManager {
	return &SchemaManager{
		db:   db,
		opts: opts,
	}
}

// EnsureSchema 建立 CuentaBancaria / Transaccion 並放入初始帳戶
// 可重複呼叫: 已套用的 migration 與已存在的帳戶都會略過
func (m *SchemaManager) EnsureSchema(ctx context.Context) error {
	if err := m.migrate(ctx); err != nil {
		return fmt.Errorf("%w: migrate: %w", domain.ErrStorage, err)
	}
	if !m.opts.SeedAccounts {
		return nil
	}
	if err := m.seed(ctx); err != nil {
		return fmt.Errorf("%w: seed accounts: %w", domain.ErrStorage, err)
	}
	return nil
}

func (m *SchemaManager) migrate(ctx context.Context) error {
	driver, dir, release, err := m.migrationDriver(ctx)
	if err != nil {
		return err
	}
	defer release()

	sourceDriver, err := iofs.New(migrationsFS, "migrations/"+dir)
	if err != nil {
		return fmt.Errorf("failed to create iofs source driver: %w", err)
	}

	mg, err := migrate.NewWithInstance("iofs", sourceDriver, dir, driver)
	if err != nil {
		return fmt.Errorf("failed to set up migrate instance: %w", err)
	}

	if err := mg.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migration(up): %w", err)
	}
	return nil
}

// migrationDriver 依 gorm dialector 選擇 migrate driver 與 migration 目錄
// release 只歸還專用連線，不會關閉共用的連線池
func (m *SchemaManager) migrationDriver(ctx context.Context) (database.Driver, string, func(), error) {
	sqlDB, err := m.db.DB()
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to get sql.db: %w", err)
	}

	switch name := m.db.Dialector.Name(); name {
	case "mysql":
		conn, err := sqlDB.Conn(ctx)
		if err != nil {
			return nil, "", nil, fmt.Errorf("failed to acquire connection: %w", err)
		}
		driver, err := migratemysql.WithConnection(ctx, conn, &migratemysql.Config{})
		if err != nil {
			conn.Close()
			return nil, "", nil, fmt.Errorf("failed to set up migrate driver: %w", err)
		}
		return driver, "mysql", func() { _ = driver.Close() }, nil
	case "sqlite", "sqlite3":
		// sqlite3 driver 的 Close 會關掉整個 *sql.DB，這裡不呼叫
		driver, err := migratesqlite3.WithInstance(sqlDB, &migratesqlite3.Config{})
		if err != nil {
			return nil, "", nil, fmt.Errorf("failed to set up migrate driver: %w", err)
		}
		return driver, "sqlite3", func() {}, nil
	default:
		return nil, "", nil, fmt.Errorf("unsupported dialect %q", name)
	}
}

func (m *SchemaManager) seed(ctx context.Context) error {
	rows := make([]sqlAccount, 0, len(seedAccounts))
	for _, account := range seedAccounts {
		if m.opts.HashCardKeys {
			hashed, err := hashCardKey(account.CardKey)
			if err != nil {
				return err
			}
			account.CardKey = hashed
		}
		rows = append(rows, account)
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
	})
}

func strPtr(s string) *string {
	return &s
}

var _ usecase.SchemaManager = (*SchemaManager)(nil)
