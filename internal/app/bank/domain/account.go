package domain

import "github.com/shopspring/decimal"

// Account 銀行帳戶 (CuentaBancaria)
type Account struct {
	ID         int64
	Number     string
	Holder     string
	CardNumber string
	// CardKey: 卡片密碼，依 Policy.HashCardKeys 決定是否為 bcrypt 雜湊
	CardKey string
	Email   *string
	Balance decimal.Decimal
}

// Policy 帳務規則
// 預設值維持既有系統的行為：允許透支、密碼明文儲存
type Policy struct {
	AllowOverdraft bool
	HashCardKeys   bool
}

// DefaultPolicy 回傳既有系統的行為
func DefaultPolicy() Policy {
	return Policy{
		AllowOverdraft: true,
		HashCardKeys:   false,
	}
}

// Deposit 存款
func (a *Account) Deposit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}

	balance := a.Balance.Add(amount)
	if balance.Abs().GreaterThan(MaxAmount) {
		return ErrBalanceOutOfRange
	}
	a.Balance = balance
	return nil
}

// Withdraw 提款，allowOverdraft 為 false 時檢查餘額
func (a *Account) Withdraw(amount decimal.Decimal, allowOverdraft bool) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}

	if !allowOverdraft && a.Balance.LessThan(amount) {
		return ErrInsufficientBalance
	}

	balance := a.Balance.Sub(amount)
	if balance.Abs().GreaterThan(MaxAmount) {
		return ErrBalanceOutOfRange
	}
	a.Balance = balance
	return nil
}

// ChangeKey 設定新的卡片密碼 (已經過雜湊或明文，由呼叫端決定)
func (a *Account) ChangeKey(key string) error {
	if key == "" {
		return ErrMissingNewKey
	}
	a.CardKey = key
	return nil
}

// Apply 依照操作類型更新帳戶狀態
// key 為 PinChange 要寫入的值 (可能已雜湊)
func (a *Account) Apply(op Operation, key string, policy Policy) error {
	switch op.Kind {
	case OperationDeposit:
		return a.Deposit(op.Amount)
	case OperationWithdrawal:
		return a.Withdraw(op.Amount, policy.AllowOverdraft)
	case OperationPinChange:
		return a.ChangeKey(key)
	}
	return ErrUnsupportedOperation
}
