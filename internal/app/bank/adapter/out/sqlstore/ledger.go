package sqlstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/usecase"
)

// Ledger 以 gorm transaction 實作帳務引擎
// 交易紀錄與帳戶更新在同一個 transaction 內，任一步失敗整筆 rollback
type Ledger struct {
	db     *gorm.DB
	policy domain.Policy
}

// NewLedger 建立 Ledger
//
// 參數:
//
//	db: gorm 連線 (底層為連線池)
//	policy: 透支與密碼儲存規則
func NewLedger(db *gorm.DB, policy domain.Policy) *Ledger {
	return &Ledger{
		db:     db,
		policy: policy,
	}
}

// ApplyOperation 套用一筆 Deposit/Withdrawal/PinChange
//
// 流程: 鎖定帳戶列 -> 檢查規則 -> 新增 Transaccion -> 更新 CuentaBancaria -> commit
//
// 回傳:
//
//	*domain.Result: commit 後的帳戶狀態與交易紀錄
//	error: 驗證錯誤 (domain.ErrXxx) 或包著 domain.ErrStorage 的資料庫錯誤
func (l *Ledger) ApplyOperation(ctx context.Context, op domain.Operation) (*domain.Result, error) {
	// 驗證失敗就不碰資料庫
	if err := op.Validate(); err != nil {
		return nil, err
	}

	key := op.NewKey
	if op.Kind == domain.OperationPinChange && l.policy.HashCardKeys {
		hashed, err := hashCardKey(op.NewKey)
		if err != nil {
			return nil, fmt.Errorf("hash card key: %w", err)
		}
		key = hashed
	}

	var result domain.Result
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 悲觀鎖，讓同帳戶的 read-modify-write 由資料庫排序
		var row sqlAccount
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", op.AccountID).
			First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrAccountNotFound
		}
		if err != nil {
			return fmt.Errorf("%w: select account: %w", domain.ErrStorage, err)
		}

		account := row.toDomain()
		previous := account.Balance
		if err := account.Apply(op, key, l.policy); err != nil {
			return err
		}

		// 建立交易紀錄
		transaction := sqlTransaction{
			Kind:      string(op.Kind),
			Amount:    op.Amount,
			AccountID: op.AccountID,
		}
		if err := tx.Create(&transaction).Error; err != nil {
			return fmt.Errorf("%w: insert transaction: %w", domain.ErrStorage, err)
		}

		// 更新帳戶
		updates := map[string]any{}
		if op.Kind.AffectsBalance() {
			updates["saldo"] = account.Balance
		} else {
			updates["claveTarjeta"] = account.CardKey
		}
		res := tx.Model(&sqlAccount{}).Where("id = ?", op.AccountID).Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("%w: update account: %w", domain.ErrStorage, res.Error)
		}
		if res.RowsAffected == 0 {
			return domain.ErrAccountNotFound
		}

		result = domain.Result{
			Transaction:     transaction.toDomain(),
			Account:         account,
			PreviousBalance: previous,
		}
		return nil
	})
	if err != nil {
		if domain.IsValidationError(err) || errors.Is(err, domain.ErrStorage) {
			return nil, err
		}
		// begin/commit 失敗
		return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}
	return &result, nil
}

// GetAccount 取得帳戶
func (l *Ledger) GetAccount(ctx context.Context, accountID int64) (*domain.Account, error) {
	var row sqlAccount
	err := l.db.WithContext(ctx).Where("id = ?", accountID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: select account: %w", domain.ErrStorage, err)
	}
	account := row.toDomain()
	return &account, nil
}

var _ usecase.Ledger = (*Ledger)(nil)
