package usecase

import (
	"context"

	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/domain"
)

// Ledger 是帳務引擎的介面
type Ledger interface {
	// ApplyOperation 在同一個 unit of work 內寫入交易紀錄並更新帳戶，
	// 不再分 Deposit/Withdraw/PinChange，直接看 op.Kind 決定
	ApplyOperation(ctx context.Context, op domain.Operation) (*domain.Result, error)
	// GetAccount 取得帳戶目前狀態
	GetAccount(ctx context.Context, accountID int64) (*domain.Account, error)
}

// SchemaManager 確保資料表存在並放入初始帳戶
type SchemaManager interface {
	EnsureSchema(ctx context.Context) error
}

// Notifier 在 commit 之後接收通知，不可阻塞呼叫端，失敗也不回報
type Notifier interface {
	DepositCommitted(ctx context.Context, result *domain.Result)
}
