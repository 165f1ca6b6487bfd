package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OperationKind 交易類型
// 值直接對應 Transaccion.tipo 欄位的 ENUM，也是請求中 tipoDesposito 的內容
type OperationKind string

const (
	// 存款
	OperationDeposit OperationKind = "Deposito"
	// 提款
	OperationWithdrawal OperationKind = "Retiro"
	// 變更卡片密碼
	OperationPinChange OperationKind = "Cambio de Clave"
)

// Valid 是否為支援的三種類型之一
func (k OperationKind) Valid() bool {
	switch k {
	case OperationDeposit, OperationWithdrawal, OperationPinChange:
		return true
	}
	return false
}

// AffectsBalance PinChange 以外的操作都會改變餘額
func (k OperationKind) AffectsBalance() bool {
	return k == OperationDeposit || k == OperationWithdrawal
}

// ParseOperationKind 將字串轉為 OperationKind
func ParseOperationKind(s string) (OperationKind, error) {
	k := OperationKind(s)
	if !k.Valid() {
		return "", ErrUnsupportedOperation
	}
	return k, nil
}

// 金額與餘額欄位皆為 DECIMAL(10,2)
const (
	AmountScale         = 2
	AmountIntegerDigits = 8
)

// MaxAmount 欄位可存的最大絕對值 99999999.99
var MaxAmount = decimal.New(1, AmountIntegerDigits).Sub(decimal.New(1, -AmountScale))

// ValidateAmount 檢查金額可以原樣寫入 DECIMAL(10,2)
// 先只看指數與位數，超出範圍的值不做任何運算
func ValidateAmount(amount decimal.Decimal) error {
	exp := amount.Exponent()
	if exp > AmountIntegerDigits || exp < -(AmountScale+AmountIntegerDigits) {
		return ErrInvalidAmount
	}
	if amount.NumDigits()+int(exp) > AmountIntegerDigits {
		return ErrInvalidAmount
	}
	// 0.005 這類金額在資料庫會被各自捨入，交易金額與餘額變動會對不起來
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return ErrInvalidAmount
	}
	return nil
}

// Transaction 交易紀錄，只新增不修改
type Transaction struct {
	ID        int64
	AccountID int64
	Kind      OperationKind
	Amount    decimal.Decimal
	CreatedAt time.Time
}

// Operation 一筆要套用到帳戶上的操作
type Operation struct {
	AccountID int64
	Kind      OperationKind
	// Amount: Deposit/Withdrawal 的金額，PinChange 一律為 0
	Amount decimal.Decimal
	// NewKey: 只有 PinChange 使用
	NewKey string
}

// Validate 在碰觸資料庫之前檢查操作內容
// PinChange 會把 Amount 強制設為 0
func (o *Operation) Validate() error {
	if !o.Kind.Valid() {
		return ErrUnsupportedOperation
	}
	switch o.Kind {
	case OperationPinChange:
		if o.NewKey == "" {
			return ErrMissingNewKey
		}
		o.Amount = decimal.Zero
	default:
		if err := ValidateAmount(o.Amount); err != nil {
			return err
		}
		if o.Amount.IsNegative() {
			return ErrNegativeAmount
		}
	}
	return nil
}

// Result 成功 commit 後的結果
//
// 對 Deposit/Withdrawal 而言 Account.Balance - PreviousBalance 等於 ±Transaction.Amount，
// PinChange 的 Transaction.Amount 為 0 且餘額不變
type Result struct {
	Transaction     Transaction
	Account         Account
	PreviousBalance decimal.Decimal
}
