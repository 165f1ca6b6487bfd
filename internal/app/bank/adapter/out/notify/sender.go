package notify

import (
	"context"
	"log/slog"

	"github.com/JoeShih716/go-bank-ledger/pkg/rabbitmq"
)

// RoutingKeyEmail 郵件請求的 routing key
const RoutingKeyEmail = "email.send"

// Sender 把郵件交給外部服務
type Sender interface {
	Send(ctx context.Context, msg EmailMessage) error
}

// RabbitSender 以 JSON 發布郵件請求到 topic exchange，由郵件服務消費
type RabbitSender struct {
	publisher rabbitmq.Publisher
	exchange  string
}

// NewRabbitSender 建立 RabbitSender
func NewRabbitSender(publisher rabbitmq.Publisher, exchange string) *RabbitSender {
	return &RabbitSender{publisher: publisher, exchange: exchange}
}

func (s *RabbitSender) Send(ctx context.Context, msg EmailMessage) error {
	return s.publisher.Publish(ctx, s.exchange, RoutingKeyEmail, msg)
}

// LogSender 只寫 log，沒有 broker 時使用
type LogSender struct {
	Log *slog.Logger
}

func (s *LogSender) Send(ctx context.Context, msg EmailMessage) error {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log.InfoContext(ctx, "email not sent, no broker configured",
		slog.String("id", msg.ID),
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject))
	return nil
}
