package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/domain"
)

// Service 由 usecase.CoreUseCase 實作
type Service interface {
	ApplyOperation(ctx context.Context, op domain.Operation) (*domain.Result, error)
	EnsureSchema(ctx context.Context) error
}

// route 一個操作端點的設定
type route struct {
	kind            domain.OperationKind
	mismatchStatus  int
	mismatchMessage string
}

// Handler 把 HTTP 請求轉成帳戶操作
type Handler struct {
	svc    Service
	log    *slog.Logger
	routes map[domain.OperationKind]route
}

// NewHandler 建立 Handler
//
// 參數:
//
//	svc: 核心業務邏輯
//	log: 紀錄器
//	legacyWithdrawNoop: 為 true 時，提款端點收到非 Retiro 的請求回 200 (舊服務的行為)
func NewHandler(svc Service, log *slog.Logger, legacyWithdrawNoop bool) *Handler {
	if log == nil {
		log = slog.Default()
	}
	withdrawStatus := http.StatusBadRequest
	if legacyWithdrawNoop {
		withdrawStatus = http.StatusOK
	}
	return &Handler{
		svc: svc,
		log: log,
		routes: map[domain.OperationKind]route{
			domain.OperationDeposit:    {kind: domain.OperationDeposit, mismatchStatus: http.StatusBadRequest, mismatchMessage: MsgNotDeposit},
			domain.OperationWithdrawal: {kind: domain.OperationWithdrawal, mismatchStatus: withdrawStatus, mismatchMessage: MsgNotWithdrawal},
			domain.OperationPinChange:  {kind: domain.OperationPinChange, mismatchStatus: http.StatusBadRequest, mismatchMessage: MsgNotPinChange},
		},
	}
}

// DepositMoney POST /utpcDepositMoney
func (h *Handler) DepositMoney(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.routes[domain.OperationDeposit])
}

// WithdrawMoney POST /utpcWithdrawMoney
func (h *Handler) WithdrawMoney(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.routes[domain.OperationWithdrawal])
}

// ChangeCardKey POST /utpcChangeDCardKey
func (h *Handler) ChangeCardKey(w http.ResponseWriter, r *http.Request) {
	h.apply(w, r, h.routes[domain.OperationPinChange])
}

// CreateDDL POST /utpcCreateDDL
func (h *Handler) CreateDDL(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.EnsureSchema(r.Context()); err != nil {
		writeMessage(w, http.StatusInternalServerError, MsgError)
		return
	}
	writeMessage(w, http.StatusOK, MsgSuccess)
}

// Health GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handler) apply(w http.ResponseWriter, r *http.Request, rt route) {
	ctx := r.Context()

	req, err := decodeOperation(w, r)
	if err != nil {
		h.log.WarnContext(ctx, "malformed request body", slog.String("kind", string(rt.kind)), slog.Any("error", err))
		writeMessage(w, http.StatusInternalServerError, MsgError)
		return
	}

	// 先確認操作類別，再解析其他欄位
	if !req.isKind(rt.kind) {
		writeMessage(w, rt.mismatchStatus, rt.mismatchMessage)
		return
	}

	op, err := req.operation(rt.kind)
	if err != nil {
		h.log.InfoContext(ctx, "invalid request field", slog.String("kind", string(rt.kind)), slog.Any("error", err))
		writeMessage(w, http.StatusBadRequest, MsgInvalidRequest)
		return
	}

	if _, err := h.svc.ApplyOperation(ctx, op); err != nil {
		// 錯誤細節只留在 log (usecase 已記錄)
		if domain.IsValidationError(err) {
			writeMessage(w, http.StatusBadRequest, MsgInvalidRequest)
			return
		}
		writeMessage(w, http.StatusInternalServerError, MsgError)
		return
	}
	writeMessage(w, http.StatusOK, MsgSuccess)
}
