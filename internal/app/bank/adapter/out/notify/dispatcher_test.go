package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/domain"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingSender 記錄收到的郵件，前 failures 次回傳錯誤
type recordingSender struct {
	mu       sync.Mutex
	failures int
	calls    int
	sent     []EmailMessage
	notify   chan EmailMessage
}

func newRecordingSender(failures int) *recordingSender {
	return &recordingSender{failures: failures, notify: make(chan EmailMessage, 16)}
}

func (s *recordingSender) Send(_ context.Context, msg EmailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("broker down")
	}
	s.sent = append(s.sent, msg)
	s.notify <- msg
	return nil
}

func (s *recordingSender) snapshot() (int, []EmailMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]EmailMessage(nil), s.sent...)
}

func fastOptions() Options {
	return Options{
		From:            "bank@example.com",
		Recipient:       "ops@example.com",
		QueueSize:       8,
		Workers:         1,
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func depositResult(accountID int64, amount string, email *string) *domain.Result {
	return &domain.Result{
		Transaction: domain.Transaction{
			ID:        7,
			AccountID: accountID,
			Kind:      domain.OperationDeposit,
			Amount:    decimal.RequireFromString(amount),
		},
		Account: domain.Account{ID: accountID, Email: email},
	}
}

func waitForMessage(t *testing.T, ch <-chan EmailMessage) EmailMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for email")
		return EmailMessage{}
	}
}

func stopDispatcher(t *testing.T, d *Dispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
}

func TestRenderDeposit(t *testing.T) {
	notice := DepositNotice{ID: "n-1", Amount: decimal.RequireFromString("250.75"), Recipient: "to@example.com"}

	msg, err := RenderDeposit(notice, "from@example.com")
	if err != nil {
		t.Fatalf("RenderDeposit returned error: %v", err)
	}
	if msg.Subject != "Deposito de 250.75 realizado" {
		t.Fatalf("unexpected subject: %q", msg.Subject)
	}
	if !strings.Contains(msg.HTML, "<p>Se realizo el Deposito de 250.75 realizado</p>") {
		t.Fatalf("unexpected html body: %s", msg.HTML)
	}
	if msg.From != "from@example.com" || msg.To != "to@example.com" || msg.ID != "n-1" {
		t.Fatalf("unexpected envelope: %+v", msg)
	}
}

func TestDispatcher_SendsDepositNotice(t *testing.T) {
	sender := newRecordingSender(0)
	d := NewDispatcher(sender, nil, fastOptions(), discardLogger())
	if err := d.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer stopDispatcher(t, d)

	d.DepositCommitted(context.Background(), depositResult(1, "100", nil))

	msg := waitForMessage(t, sender.notify)
	if msg.To != "ops@example.com" {
		t.Fatalf("expected configured recipient, got %q", msg.To)
	}
	if msg.Subject != "Deposito de 100 realizado" {
		t.Fatalf("unexpected subject: %q", msg.Subject)
	}
	if msg.ID == "" {
		t.Fatal("expected message id")
	}
}

func TestDispatcher_UsesAccountEmailWhenEnabled(t *testing.T) {
	sender := newRecordingSender(0)
	opts := fastOptions()
	opts.UseAccountEmail = true
	d := NewDispatcher(sender, nil, opts, discardLogger())
	if err := d.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	defer stopDispatcher(t, d)

	email := "john.doe@example.com"
	d.DepositCommitted(context.Background(), depositResult(1, "5", &email))
	if msg := waitForMessage(t, sender.notify); msg.To != email {
		t.Fatalf("expected account email, got %q", msg.To)
	}

	// 沒有 email 的帳戶退回設定的收件者
	d.DepositCommitted(context.Background(), depositResult(2, "5", nil))
	if msg := waitForMessage(t, sender.notify); msg.To != "ops@example.com" {
		t.Fatalf("expected fallback recipient, got %q", msg.To)
	}
}

func TestDispatcher_RetriesUntilSent(t *testing.T) {
	sender := newRecordingSender(2)
	d := NewDispatcher(sender, nil, fastOptions(), discardLogger())
	if err := d.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	d.DepositCommitted(context.Background(), depositResult(1, "10", nil))
	waitForMessage(t, sender.notify)
	stopDispatcher(t, d)

	if calls, sent := sender.snapshot(); calls != 3 || len(sent) != 1 {
		t.Fatalf("expected 3 calls and 1 sent, got %d calls and %d sent", calls, len(sent))
	}
}

func TestDispatcher_GivesUpAfterMaxRetries(t *testing.T) {
	sender := newRecordingSender(100)
	opts := fastOptions()
	opts.MaxRetries = 2
	d := NewDispatcher(sender, nil, opts, discardLogger())

	d.DepositCommitted(context.Background(), depositResult(1, "10", nil))
	if err := d.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	stopDispatcher(t, d)

	// 1 次原始 + 2 次重試
	if calls, sent := sender.snapshot(); calls != 3 || len(sent) != 0 {
		t.Fatalf("expected 3 calls and nothing sent, got %d calls and %d sent", calls, len(sent))
	}
}

func TestDispatcher_DropsWhenQueueFull(t *testing.T) {
	sender := newRecordingSender(0)
	opts := fastOptions()
	opts.QueueSize = 1
	d := NewDispatcher(sender, nil, opts, discardLogger())

	// 尚未 Start，第二筆放不進佇列
	d.DepositCommitted(context.Background(), depositResult(1, "1", nil))
	d.DepositCommitted(context.Background(), depositResult(1, "2", nil))

	if err := d.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	stopDispatcher(t, d)

	_, sent := sender.snapshot()
	if len(sent) != 1 || sent[0].Subject != "Deposito de 1 realizado" {
		t.Fatalf("expected only the first notice, got %+v", sent)
	}
}

func TestDispatcher_StopDrainsQueue(t *testing.T) {
	sender := newRecordingSender(0)
	d := NewDispatcher(sender, nil, fastOptions(), discardLogger())

	for _, amount := range []string{"1", "2", "3"} {
		d.DepositCommitted(context.Background(), depositResult(1, amount, nil))
	}
	if err := d.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	stopDispatcher(t, d)

	if _, sent := sender.snapshot(); len(sent) != 3 {
		t.Fatalf("expected 3 sent after drain, got %d", len(sent))
	}

	// 停止後不再收件
	d.DepositCommitted(context.Background(), depositResult(1, "4", nil))
	if _, sent := sender.snapshot(); len(sent) != 3 {
		t.Fatalf("expected no delivery after stop, got %d", len(sent))
	}
}

func readJournal(t *testing.T, w *wal.WAL) []journalRecord {
	t.Helper()
	var out []journalRecord
	if err := w.ReadAll(func(raw json.RawMessage) error {
		var rec journalRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	}); err != nil {
		t.Fatalf("read journal: %v", err)
	}
	return out
}

func TestDispatcher_ReplaysJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notify.wal")
	journal, err := wal.Open(path)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer journal.Close()

	delivered := DepositNotice{ID: "done", AccountID: 1, Amount: decimal.NewFromInt(1), Recipient: "a@example.com"}
	undelivered := DepositNotice{ID: "pending", AccountID: 2, Amount: decimal.NewFromInt(2), Recipient: "b@example.com"}
	for _, rec := range []journalRecord{
		{Op: opEnqueue, ID: delivered.ID, Notice: &delivered},
		{Op: opEnqueue, ID: undelivered.ID, Notice: &undelivered},
		{Op: opAck, ID: delivered.ID, Status: statusSent},
	} {
		if err := journal.Append(rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	sender := newRecordingSender(0)
	d := NewDispatcher(sender, journal, fastOptions(), discardLogger())
	if err := d.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	msg := waitForMessage(t, sender.notify)
	stopDispatcher(t, d)

	if msg.ID != "pending" || msg.To != "b@example.com" {
		t.Fatalf("expected replay of pending notice, got %+v", msg)
	}
	if _, sent := sender.snapshot(); len(sent) != 1 {
		t.Fatalf("expected exactly one replayed email, got %d", len(sent))
	}

	// 壓縮後只剩 pending 的 enqueue，加上這次寄出的 ack
	records := readJournal(t, journal)
	if len(records) != 2 {
		t.Fatalf("expected 2 journal records, got %+v", records)
	}
	if records[0].Op != opEnqueue || records[0].ID != "pending" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].Op != opAck || records[1].ID != "pending" || records[1].Status != statusSent {
		t.Fatalf("unexpected ack record: %+v", records[1])
	}
}

func TestDispatcher_JournalsNewNotices(t *testing.T) {
	journal, err := wal.Open(filepath.Join(t.TempDir(), "notify.wal"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	defer journal.Close()

	sender := newRecordingSender(0)
	d := NewDispatcher(sender, journal, fastOptions(), discardLogger())
	if err := d.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	d.DepositCommitted(context.Background(), depositResult(1, "3", nil))
	msg := waitForMessage(t, sender.notify)
	stopDispatcher(t, d)

	records := readJournal(t, journal)
	if len(records) != 2 || records[0].Op != opEnqueue || records[1].Op != opAck || records[1].ID != msg.ID {
		t.Fatalf("unexpected journal: %+v", records)
	}
	if records[0].Notice == nil || !records[0].Notice.Amount.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("enqueue record missing notice: %+v", records[0])
	}
}

type publishRecorder struct {
	exchange, routingKey string
	body                 any
}

func (p *publishRecorder) Publish(_ context.Context, exchange, routingKey string, body any) error {
	p.exchange, p.routingKey, p.body = exchange, routingKey, body
	return nil
}

func (p *publishRecorder) Close() {}

func TestRabbitSender_PublishesEmailRequest(t *testing.T) {
	pub := &publishRecorder{}
	sender := NewRabbitSender(pub, "notifications")
	msg := EmailMessage{ID: "m-1", To: "to@example.com", Subject: "s"}

	if err := sender.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if pub.exchange != "notifications" || pub.routingKey != RoutingKeyEmail {
		t.Fatalf("unexpected routing: %s / %s", pub.exchange, pub.routingKey)
	}
	got, ok := pub.body.(EmailMessage)
	if !ok || got.ID != "m-1" {
		t.Fatalf("unexpected body: %#v", pub.body)
	}

	raw, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	for _, key := range []string{`"id"`, `"from"`, `"to"`, `"subject"`, `"html"`, `"created_at"`} {
		if !strings.Contains(string(raw), key) {
			t.Errorf("email request missing %s: %s", key, raw)
		}
	}
}
