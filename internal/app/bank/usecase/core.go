package usecase

import (
	"context"
	"errors"
	"log/slog"

	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/domain"
)

// CoreUseCase 是核心業務邏輯層
type CoreUseCase struct {
	ledger   Ledger
	schema   SchemaManager
	notifier Notifier
	logger   *slog.Logger
}

// NewCoreUseCase 建立核心業務邏輯層，notifier 可為 nil
func NewCoreUseCase(ledger Ledger, schema SchemaManager, notifier Notifier, logger *slog.Logger) *CoreUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &CoreUseCase{
		ledger:   ledger,
		schema:   schema,
		notifier: notifier,
		logger:   logger,
	}
}

// ApplyOperation 處理一筆帳戶操作
// 存款成功 commit 後才會交給 notifier，通知失敗不影響已寫入的交易
func (c *CoreUseCase) ApplyOperation(ctx context.Context, op domain.Operation) (*domain.Result, error) {
	result, err := c.ledger.ApplyOperation(ctx, op)
	if err != nil {
		if domain.IsValidationError(err) {
			c.logger.InfoContext(ctx, "operation rejected",
				"account_id", op.AccountID, "kind", op.Kind, "error", err)
		} else {
			c.logger.ErrorContext(ctx, "operation failed",
				"account_id", op.AccountID, "kind", op.Kind, "error", err)
		}
		return nil, err
	}

	c.logger.InfoContext(ctx, "operation committed",
		"account_id", result.Account.ID,
		"kind", result.Transaction.Kind,
		"transaction_id", result.Transaction.ID,
		"amount", result.Transaction.Amount.StringFixed(2))

	if result.Transaction.Kind == domain.OperationDeposit && c.notifier != nil {
		c.notifier.DepositCommitted(ctx, result)
	}
	return result, nil
}

// GetAccount 取得帳戶
func (c *CoreUseCase) GetAccount(ctx context.Context, accountID int64) (*domain.Account, error) {
	return c.ledger.GetAccount(ctx, accountID)
}

// EnsureSchema 建立資料表並放入初始帳戶，可重複呼叫
func (c *CoreUseCase) EnsureSchema(ctx context.Context) error {
	if c.schema == nil {
		return errors.New("schema manager not configured")
	}
	if err := c.schema.EnsureSchema(ctx); err != nil {
		c.logger.ErrorContext(ctx, "ensure schema failed", "error", err)
		return err
	}
	c.logger.InfoContext(ctx, "schema ready")
	return nil
}
