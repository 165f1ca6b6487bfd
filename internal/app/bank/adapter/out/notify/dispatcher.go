package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/bank/usecase"
)

// Journal 通知的持久化紀錄 (pkg/wal)
type Journal interface {
	Append(v any) error
	ReadAll(callback func(raw json.RawMessage) error) error
	Rewrite(entries []any) error
}

const (
	opEnqueue = "enqueue"
	opAck     = "ack"

	statusSent   = "sent"
	statusFailed = "failed"
)

// journalRecord 一行 journal
// enqueue 帶 notice，ack 只帶 id
type journalRecord struct {
	Op     string         `json:"op"`
	ID     string         `json:"id"`
	Notice *DepositNotice `json:"notice,omitempty"`
	Status string         `json:"status,omitempty"`
}

// Options 通知派送設定
type Options struct {
	From            string
	Recipient       string
	UseAccountEmail bool

	QueueSize       int
	Workers         int
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (o *Options) applyDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 500 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 30 * time.Second
	}
}

// Dispatcher 非同步寄出存款通知
// DepositCommitted 只做非阻塞的入列，寄送與重試都在 worker 內
type Dispatcher struct {
	sender  Sender
	journal Journal
	opts    Options
	log     *slog.Logger

	queue   chan DepositNotice
	stop    chan struct{}
	stopped atomic.Bool
	once    sync.Once
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewDispatcher 建立 Dispatcher
//
// 參數:
//
//	sender: 實際寄送者 (RabbitSender / LogSender)
//	journal: 可為 nil，為 nil 時重啟後不補寄
//	opts: 佇列大小、worker 數量與重試設定
//	log: 紀錄器
func NewDispatcher(sender Sender, journal Journal, opts Options, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	opts.applyDefaults()
	return &Dispatcher{
		sender:  sender,
		journal: journal,
		opts:    opts,
		log:     log,
		queue:   make(chan DepositNotice, opts.QueueSize),
		stop:    make(chan struct{}),
	}
}

// DepositCommitted 收到已 commit 的存款，放進佇列
// 佇列滿時丟棄並記錄 warning，不阻塞呼叫端
func (d *Dispatcher) DepositCommitted(ctx context.Context, result *domain.Result) {
	if result == nil {
		return
	}
	recipient := d.recipientFor(result.Account)
	if recipient == "" {
		d.log.WarnContext(ctx, "deposit notice skipped, no recipient",
			slog.Int64("account_id", result.Account.ID))
		return
	}

	notice := DepositNotice{
		ID:            uuid.NewString(),
		AccountID:     result.Account.ID,
		TransactionID: result.Transaction.ID,
		Amount:        result.Transaction.Amount,
		Recipient:     recipient,
		CreatedAt:     time.Now().UTC(),
	}

	if d.journal != nil {
		if err := d.journal.Append(journalRecord{Op: opEnqueue, ID: notice.ID, Notice: &notice}); err != nil {
			d.log.WarnContext(ctx, "journal append failed", slog.String("id", notice.ID), slog.Any("error", err))
		}
	}

	if d.stopped.Load() {
		d.log.WarnContext(ctx, "dispatcher stopped, deposit notice not queued", slog.String("id", notice.ID))
		return
	}

	select {
	case d.queue <- notice:
	default:
		d.log.WarnContext(ctx, "notification queue full, deposit notice dropped",
			slog.String("id", notice.ID),
			slog.Int64("account_id", notice.AccountID))
	}
}

func (d *Dispatcher) recipientFor(account domain.Account) string {
	if d.opts.UseAccountEmail && account.Email != nil && *account.Email != "" {
		return *account.Email
	}
	return d.opts.Recipient
}

// Start 補寄 journal 中未完成的通知並啟動 worker
// worker 使用自己的 context，Stop 時才取消
func (d *Dispatcher) Start() error {
	pending, err := d.recover()
	if err != nil {
		return fmt.Errorf("recover notification journal: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel

	for i := 0; i < d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(runCtx)
	}

	if len(pending) > 0 {
		d.log.Info("replaying undelivered deposit notices", slog.Int("count", len(pending)))
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for _, n := range pending {
				select {
				case d.queue <- n:
				case <-d.stop:
					return
				}
			}
		}()
	}
	return nil
}

// Stop 停止收件，等 worker 把佇列寄完
// ctx 逾時時取消進行中的寄送並回傳 ctx.Err()
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.once.Do(func() {
		d.stopped.Store(true)
		close(d.stop)
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if d.cancel != nil {
			d.cancel()
		}
		return nil
	case <-ctx.Done():
		if d.cancel != nil {
			d.cancel()
		}
		<-done
		return ctx.Err()
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.queue:
			d.deliver(ctx, n)
		case <-d.stop:
			// 寄完佇列剩下的
			for {
				select {
				case n := <-d.queue:
					d.deliver(ctx, n)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, notice DepositNotice) {
	msg, err := RenderDeposit(notice, d.opts.From)
	if err != nil {
		d.log.Error("deposit notice render failed", slog.String("id", notice.ID), slog.Any("error", err))
		d.ack(notice.ID, statusFailed)
		return
	}

	attempt := 0
	send := func() error {
		attempt++
		return d.sender.Send(ctx, msg)
	}
	notify := func(err error, wait time.Duration) {
		d.log.Warn("deposit notice send failed, retrying",
			slog.String("id", notice.ID),
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", wait),
			slog.Any("error", err))
	}

	if err := backoff.RetryNotify(send, d.retryPolicy(ctx), notify); err != nil {
		if errors.Is(err, context.Canceled) || ctx.Err() != nil {
			// 關閉中斷，留在 journal 等下次啟動補寄
			d.log.Warn("deposit notice interrupted", slog.String("id", notice.ID))
			return
		}
		d.log.Error("deposit notice dropped after retries",
			slog.String("id", notice.ID),
			slog.Int("attempts", attempt),
			slog.Any("error", err))
		d.ack(notice.ID, statusFailed)
		return
	}

	d.log.Info("deposit notice sent",
		slog.String("id", notice.ID),
		slog.Int64("account_id", notice.AccountID),
		slog.String("to", msg.To))
	d.ack(notice.ID, statusSent)
}

func (d *Dispatcher) retryPolicy(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.opts.InitialInterval
	eb.MaxInterval = d.opts.MaxInterval
	eb.MaxElapsedTime = 0 // 次數由 MaxRetries 限制
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(d.opts.MaxRetries)), ctx)
}

func (d *Dispatcher) ack(id, status string) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Append(journalRecord{Op: opAck, ID: id, Status: status}); err != nil {
		d.log.Warn("journal ack failed", slog.String("id", id), slog.Any("error", err))
	}
}

// recover 讀出 enqueue 之後沒有 ack 的通知，並把 journal 壓縮成只剩這些
func (d *Dispatcher) recover() ([]DepositNotice, error) {
	if d.journal == nil {
		return nil, nil
	}

	var order []string
	pending := map[string]DepositNotice{}
	err := d.journal.ReadAll(func(raw json.RawMessage) error {
		var rec journalRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		switch rec.Op {
		case opEnqueue:
			if rec.Notice == nil {
				return nil
			}
			if _, ok := pending[rec.ID]; !ok {
				order = append(order, rec.ID)
			}
			pending[rec.ID] = *rec.Notice
		case opAck:
			delete(pending, rec.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	notices := make([]DepositNotice, 0, len(pending))
	entries := make([]any, 0, len(pending))
	for _, id := range order {
		n, ok := pending[id]
		if !ok {
			continue
		}
		notices = append(notices, n)
		entries = append(entries, journalRecord{Op: opEnqueue, ID: id, Notice: &n})
	}

	if err := d.journal.Rewrite(entries); err != nil {
		return nil, err
	}
	return notices, nil
}

var _ usecase.Notifier = (*Dispatcher)(nil)
