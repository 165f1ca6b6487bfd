package sqlstore

import (
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/domain"
)

// sqlAccount 對應資料庫的 CuentaBancaria 表
type sqlAccount struct {
	ID         int64           `gorm:"column:id;primaryKey;autoIncrement"`
	Number     string          `gorm:"column:numeroCuenta"`
	Balance    decimal.Decimal `gorm:"column:saldo"`
	Holder     string          `gorm:"column:titular"`
	CardNumber string          `gorm:"column:tarjetaDebito"`
	CardKey    string          `gorm:"column:claveTarjeta"`
	Email      *string         `gorm:"column:correoElectronico"`
}

func (*sqlAccount) TableName() string {
	return "CuentaBancaria"
}

func (a *sqlAccount) toDomain() domain.Account {
	return domain.Account{
		ID:         a.ID,
		Number:     a.Number,
		Holder:     a.Holder,
		CardNumber: a.CardNumber,
		CardKey:    a.CardKey,
		Email:      a.Email,
		Balance:    a.Balance,
	}
}

// sqlTransaction 對應資料庫的 Transaccion 表
type sqlTransaction struct {
	ID        int64           `gorm:"column:id;primaryKey;autoIncrement"`
	Kind      string          `gorm:"column:tipo"`
	Amount    decimal.Decimal `gorm:"column:monto"`
	CreatedAt time.Time       `gorm:"column:fecha;autoCreateTime"` // 寫入時自動帶入時間
	AccountID int64           `gorm:"column:idCuenta"`
}

func (*sqlTransaction) TableName() string {
	return "Transaccion"
}

func (t *sqlTransaction) toDomain() domain.Transaction {
	return domain.Transaction{
		ID:        t.ID,
		AccountID: t.AccountID,
		Kind:      domain.OperationKind(t.Kind),
		Amount:    t.Amount,
		CreatedAt: t.CreatedAt,
	}
}

// hashCardKey 以 bcrypt 雜湊卡片密碼
func hashCardKey(key string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}
