package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/domain"
)

// serviceStub 記錄收到的操作
type serviceStub struct {
	ops       []domain.Operation
	applyErr  error
	schemaErr error
	schemas   int
}

func (s *serviceStub) ApplyOperation(_ context.Context, op domain.Operation) (*domain.Result, error) {
	s.ops = append(s.ops, op)
	if s.applyErr != nil {
		return nil, s.applyErr
	}
	return &domain.Result{Transaction: domain.Transaction{Kind: op.Kind, Amount: op.Amount}}, nil
}

func (s *serviceStub) EnsureSchema(context.Context) error {
	s.schemas++
	return s.schemaErr
}

func newTestRouter(svc Service, legacy bool) http.Handler {
	return NewRouter(svc, RouterOptions{
		Logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
		LegacyWithdrawNoop: legacy,
	})
}

func post(t *testing.T, h http.Handler, path, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp MessageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not a message: %q", rec.Body.String())
	}
	return rec.Code, resp.Message
}

func TestOperationRoutes(t *testing.T) {
	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantMsg    string
		wantOp     *domain.Operation
	}{
		{
			name:       "deposit",
			path:       "/utpcDepositMoney",
			body:       `{"idTarjetNumber": 1, "tipoDesposito": "Deposito", "monto": 100.5}`,
			wantStatus: http.StatusOK,
			wantMsg:    MsgSuccess,
			wantOp:     &domain.Operation{AccountID: 1, Kind: domain.OperationDeposit, Amount: decimal.RequireFromString("100.5")},
		},
		{
			name:       "deposit with string fields",
			path:       "/utpcDepositMoney",
			body:       `{"idTarjetNumber": "2", "tipoDesposito": "Deposito", "monto": "20.25"}`,
			wantStatus: http.StatusOK,
			wantMsg:    MsgSuccess,
			wantOp:     &domain.Operation{AccountID: 2, Kind: domain.OperationDeposit, Amount: decimal.RequireFromString("20.25")},
		},
		{
			name:       "withdrawal",
			path:       "/utpcWithdrawMoney",
			body:       `{"idTarjetNumber": 1, "tipoDesposito": "Retiro", "monto": 30}`,
			wantStatus: http.StatusOK,
			wantMsg:    MsgSuccess,
			wantOp:     &domain.Operation{AccountID: 1, Kind: domain.OperationWithdrawal, Amount: decimal.NewFromInt(30)},
		},
		{
			name:       "pin change",
			path:       "/utpcChangeDCardKey",
			body:       `{"idTarjetNumber": 2, "tipoDesposito": "Cambio de Clave", "newKey": "999000"}`,
			wantStatus: http.StatusOK,
			wantMsg:    MsgSuccess,
			wantOp:     &domain.Operation{AccountID: 2, Kind: domain.OperationPinChange, NewKey: "999000"},
		},
		{
			name:       "pin change numeric key",
			path:       "/utpcChangeDCardKey",
			body:       `{"idTarjetNumber": 2, "tipoDesposito": "Cambio de Clave", "newKey": 123456}`,
			wantStatus: http.StatusOK,
			wantMsg:    MsgSuccess,
			wantOp:     &domain.Operation{AccountID: 2, Kind: domain.OperationPinChange, NewKey: "123456"},
		},
		{
			name:       "deposit tag mismatch",
			path:       "/utpcDepositMoney",
			body:       `{"idTarjetNumber": 1, "tipoDesposito": "Retiro", "monto": 10}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    MsgNotDeposit,
		},
		{
			name:       "withdrawal tag mismatch",
			path:       "/utpcWithdrawMoney",
			body:       `{"idTarjetNumber": 1, "tipoDesposito": "Deposito", "monto": 10}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    MsgNotWithdrawal,
		},
		{
			name:       "pin change tag mismatch",
			path:       "/utpcChangeDCardKey",
			body:       `{"idTarjetNumber": 1, "tipoDesposito": "Deposito", "newKey": "1"}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    MsgNotPinChange,
		},
		{
			name:       "missing tag",
			path:       "/utpcDepositMoney",
			body:       `{"idTarjetNumber": 1, "monto": 10}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    MsgNotDeposit,
		},
		{
			name:       "non string tag",
			path:       "/utpcDepositMoney",
			body:       `{"idTarjetNumber": 1, "tipoDesposito": 5, "monto": 10}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    MsgNotDeposit,
		},
		{
			name:       "tag mismatch wins over missing fields",
			path:       "/utpcDepositMoney",
			body:       `{"tipoDesposito": "Retiro"}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    MsgNotDeposit,
		},
		{
			name:       "missing amount",
			path:       "/utpcDepositMoney",
			body:       `{"idTarjetNumber": 1, "tipoDesposito": "Deposito"}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    MsgInvalidRequest,
		},
		{
			name:       "malformed amount",
			path:       "/utpcWithdrawMoney",
			body:       `{"idTarjetNumber": 1, "tipoDesposito": "Retiro", "monto": "diez"}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    MsgInvalidRequest,
		},
		{
			name:       "fractional account id",
			path:       "/utpcDepositMoney",
			body:       `{"idTarjetNumber": 1.5, "tipoDesposito": "Deposito", "monto": 1}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    MsgInvalidRequest,
		},
		{
			name:       "missing new key",
			path:       "/utpcChangeDCardKey",
			body:       `{"idTarjetNumber": 1, "tipoDesposito": "Cambio de Clave"}`,
			wantStatus: http.StatusBadRequest,
			wantMsg:    MsgInvalidRequest,
		},
		{
			name:       "malformed json deposit",
			path:       "/utpcDepositMoney",
			body:       `{"idTarjetNumber": 1, "tipoDesposito": "Deposito", "monto": `,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    MsgError,
		},
		{
			name:       "malformed json withdrawal",
			path:       "/utpcWithdrawMoney",
			body:       `not json`,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    MsgError,
		},
		{
			name:       "empty body pin change",
			path:       "/utpcChangeDCardKey",
			body:       ``,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    MsgError,
		},
		{
			name:       "trailing data",
			path:       "/utpcDepositMoney",
			body:       `{"idTarjetNumber": 1, "tipoDesposito": "Deposito", "monto": 1} {}`,
			wantStatus: http.StatusInternalServerError,
			wantMsg:    MsgError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &serviceStub{}
			status, msg := post(t, newTestRouter(svc, false), tt.path, tt.body)

			if status != tt.wantStatus || msg != tt.wantMsg {
				t.Fatalf("expected %d %q, got %d %q", tt.wantStatus, tt.wantMsg, status, msg)
			}

			if tt.wantOp == nil {
				if len(svc.ops) != 0 {
					t.Fatalf("expected no ledger call, got %+v", svc.ops)
				}
				return
			}
			if len(svc.ops) != 1 {
				t.Fatalf("expected 1 ledger call, got %d", len(svc.ops))
			}
			got := svc.ops[0]
			if got.AccountID != tt.wantOp.AccountID || got.Kind != tt.wantOp.Kind ||
				!got.Amount.Equal(tt.wantOp.Amount) || got.NewKey != tt.wantOp.NewKey {
				t.Fatalf("expected op %+v, got %+v", *tt.wantOp, got)
			}
		})
	}
}

func TestWithdrawMismatch_LegacyNoop(t *testing.T) {
	svc := &serviceStub{}
	status, msg := post(t, newTestRouter(svc, true), "/utpcWithdrawMoney",
		`{"idTarjetNumber": 1, "tipoDesposito": "Deposito", "monto": 10}`)

	if status != http.StatusOK || msg != MsgNotWithdrawal {
		t.Fatalf("expected 200 %q, got %d %q", MsgNotWithdrawal, status, msg)
	}
	if len(svc.ops) != 0 {
		t.Fatalf("expected no ledger call, got %+v", svc.ops)
	}
}

func TestLedgerErrorsAreGeneric(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
	}{
		{name: "unknown account", err: domain.ErrAccountNotFound, wantStatus: http.StatusBadRequest, wantMsg: MsgInvalidRequest},
		{name: "insufficient balance", err: domain.ErrInsufficientBalance, wantStatus: http.StatusBadRequest, wantMsg: MsgInvalidRequest},
		{name: "negative amount", err: domain.ErrNegativeAmount, wantStatus: http.StatusBadRequest, wantMsg: MsgInvalidRequest},
		{
			name:       "storage",
			err:        fmt.Errorf("%w: update account: dial tcp 10.0.0.5:3306: connection refused", domain.ErrStorage),
			wantStatus: http.StatusInternalServerError,
			wantMsg:    MsgError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &serviceStub{applyErr: tt.err}
			router := newTestRouter(svc, false)

			req := httptest.NewRequest(http.MethodPost, "/utpcDepositMoney",
				strings.NewReader(`{"idTarjetNumber": 1, "tipoDesposito": "Deposito", "monto": 10}`))
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			body := rec.Body.String()
			if !strings.Contains(body, tt.wantMsg) {
				t.Fatalf("expected message %q, got %s", tt.wantMsg, body)
			}
			if strings.Contains(body, "connection refused") || strings.Contains(body, "account") {
				t.Fatalf("internal error detail leaked: %s", body)
			}
		})
	}
}

func TestCreateDDL(t *testing.T) {
	svc := &serviceStub{}
	router := newTestRouter(svc, false)

	status, msg := post(t, router, "/utpcCreateDDL", ``)
	if status != http.StatusOK || msg != MsgSuccess || svc.schemas != 1 {
		t.Fatalf("expected success, got %d %q (calls=%d)", status, msg, svc.schemas)
	}

	svc.schemaErr = fmt.Errorf("%w: migrate: boom", domain.ErrStorage)
	status, msg = post(t, router, "/utpcCreateDDL", ``)
	if status != http.StatusInternalServerError || msg != MsgError {
		t.Fatalf("expected 500 Error, got %d %q", status, msg)
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&serviceStub{}, false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/utpcDepositMoney", nil)
	req.Header.Set("Origin", "https://bank.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")
	rec := httptest.NewRecorder()

	newTestRouter(&serviceStub{}, false).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected Access-Control-Allow-Origin *, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, http.MethodPost) {
		t.Fatalf("expected POST in allowed methods, got %q", got)
	}
}

func TestUnknownMethod(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(&serviceStub{}, false).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/utpcDepositMoney", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
