package domain

import "errors"

var (
	// ErrUnsupportedOperation 不支援的操作類型
	ErrUnsupportedOperation = errors.New("unsupported operation kind")

	// ErrNegativeAmount 金額不可為負數
	ErrNegativeAmount = errors.New("amount must not be negative")

	// ErrInvalidAmount 金額超出 DECIMAL(10,2) 的範圍或小數超過兩位
	ErrInvalidAmount = errors.New("amount out of range or more than 2 decimal places")

	// ErrBalanceOutOfRange 套用後的餘額超出 DECIMAL(10,2) 的範圍
	ErrBalanceOutOfRange = errors.New("resulting balance out of range")

	// ErrMissingNewKey 變更卡片密碼時缺少新密碼
	ErrMissingNewKey = errors.New("new card key is required")

	// ErrInsufficientBalance 餘額不足 (僅在不允許透支時回傳)
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAccountNotFound 找不到帳戶
	ErrAccountNotFound = errors.New("account not found")

	// ErrStorage 資料庫連線或查詢失敗，原始錯誤會以 %w 包在後面
	ErrStorage = errors.New("storage failure")
)

// IsValidationError 判斷錯誤是否屬於呼叫端可修正的錯誤 (對應 4xx)
func IsValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrUnsupportedOperation),
		errors.Is(err, ErrNegativeAmount),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrBalanceOutOfRange),
		errors.Is(err, ErrMissingNewKey),
		errors.Is(err, ErrInsufficientBalance),
		errors.Is(err, ErrAccountNotFound):
		return true
	}
	return false
}
