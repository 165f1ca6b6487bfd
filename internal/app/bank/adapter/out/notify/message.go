package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/shopspring/decimal"
)

// DepositNotice 一筆已 commit 的存款，等待寄出通知
type DepositNotice struct {
	ID            string          `json:"id"`
	AccountID     int64           `json:"account_id"`
	TransactionID int64           `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Recipient     string          `json:"recipient"`
	CreatedAt     time.Time       `json:"created_at"`
}

// EmailMessage 送往郵件服務的請求
type EmailMessage struct {
	ID        string    `json:"id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Subject   string    `json:"subject"`
	HTML      string    `json:"html"`
	CreatedAt time.Time `json:"created_at"`
}

var depositBody = template.Must(template.New("deposit").Parse(`<html>
  <head></head>
  <body>
    <h1 style="text-align:center">{{.Subject}}</h1>
    <p>Se realizo el {{.Subject}}</p>
  </body>
</html>
`))

// DepositSubject 存款通知的主旨
func DepositSubject(amount decimal.Decimal) string {
	return fmt.Sprintf("Deposito de %s realizado", amount.String())
}

// RenderDeposit 把存款通知轉成郵件
func RenderDeposit(notice DepositNotice, from string) (EmailMessage, error) {
	subject := DepositSubject(notice.Amount)

	var buf bytes.Buffer
	if err := depositBody.Execute(&buf, struct{ Subject string }{Subject: subject}); err != nil {
		return EmailMessage{}, fmt.Errorf("render deposit email: %w", err)
	}

	return EmailMessage{
		ID:        notice.ID,
		From:      from,
		To:        notice.Recipient,
		Subject:   subject,
		HTML:      buf.String(),
		CreatedAt: notice.CreatedAt,
	}, nil
}
