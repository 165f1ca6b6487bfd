package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/domain"
)

const maxBodyBytes = 1 << 20

var (
	errMissingField = errors.New("missing field")
	errBadField     = errors.New("malformed field")
)

// operationRequest 請求內容
// 欄位先保留原始 JSON，確認操作類別之後才解析
type operationRequest struct {
	AccountID json.RawMessage `json:"idTarjetNumber"`
	Kind      json.RawMessage `json:"tipoDesposito"`
	Amount    json.RawMessage `json:"monto"`
	NewKey    json.RawMessage `json:"newKey"`
}

func decodeOperation(w http.ResponseWriter, r *http.Request) (*operationRequest, error) {
	var req operationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		return nil, err
	}
	// 只接受一個 JSON 物件
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after request body")
	}
	return &req, nil
}

// isKind 檢查 tipoDesposito 是否為指定的操作，非字串一律視為不符
func (req *operationRequest) isKind(kind domain.OperationKind) bool {
	var tag string
	if err := json.Unmarshal(req.Kind, &tag); err != nil {
		return false
	}
	return tag == string(kind)
}

// operation 依操作類別取出需要的欄位
func (req *operationRequest) operation(kind domain.OperationKind) (domain.Operation, error) {
	accountID, err := parseAccountID(req.AccountID)
	if err != nil {
		return domain.Operation{}, fmt.Errorf("idTarjetNumber: %w", err)
	}
	op := domain.Operation{AccountID: accountID, Kind: kind}

	switch kind {
	case domain.OperationDeposit, domain.OperationWithdrawal:
		if op.Amount, err = parseAmount(req.Amount); err != nil {
			return domain.Operation{}, fmt.Errorf("monto: %w", err)
		}
	case domain.OperationPinChange:
		if op.NewKey, err = parseKey(req.NewKey); err != nil {
			return domain.Operation{}, fmt.Errorf("newKey: %w", err)
		}
	}
	return op, nil
}

func missing(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// parseAccountID 接受數字或數字字串
func parseAccountID(raw json.RawMessage) (int64, error) {
	if missing(raw) {
		return 0, errMissingField
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, errBadField
	}
	id, err := n.Int64()
	if err != nil || id <= 0 {
		return 0, errBadField
	}
	return id, nil
}

func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	if missing(raw) {
		return decimal.Zero, errMissingField
	}
	var amount decimal.Decimal
	if err := json.Unmarshal(raw, &amount); err != nil {
		return decimal.Zero, errBadField
	}
	return amount, nil
}

// parseKey 卡片密碼可能以數字送來
func parseKey(raw json.RawMessage) (string, error) {
	if missing(raw) {
		return "", errMissingField
	}
	var key string
	if err := json.Unmarshal(raw, &key); err == nil {
		return key, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", errBadField
	}
	return n.String(), nil
}
