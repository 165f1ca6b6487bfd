package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

// ErrInvalidURL AMQP 連線字串格式錯誤
var ErrInvalidURL = errors.New("rabbitmq: scheme must be amqp:// or amqps://")

// Publisher 可發布訊息的對象
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body any) error
	Close()
}

// EventProducer 持有 RabbitMQ 連線與 channel
// channel 不是 goroutine-safe，發布時以 mu 保護
type EventProducer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	log     *slog.Logger
	mu      sync.Mutex
}

// NewEventProducer 連線到 RabbitMQ
//
// 參數:
//
//	amqpURL: amqp:// 或 amqps:// 連線字串
//	dialTimeout: 連線逾時，避免啟動時卡住
//	log: 紀錄器
func NewEventProducer(amqpURL string, dialTimeout time.Duration, log *slog.Logger) (*EventProducer, error) {
	if log == nil {
		log = slog.Default()
	}
	cleanURL, err := SanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp091.DialConfig(cleanURL, amqp091.Config{Dial: amqp091.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, fmt.Errorf("rabbitmq dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq channel: %w", err)
	}

	return &EventProducer{conn: conn, channel: ch, log: log}, nil
}

// Publish 以 JSON 發布訊息到 durable topic exchange
// channel 失效時重開一次再試
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("rabbitmq marshal: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publish(ctx, exchange, routingKey, jsonBody)
	if err == nil {
		return nil
	}

	p.log.Warn("publish failed, reopening channel",
		slog.String("exchange", exchange),
		slog.String("routing_key", routingKey),
		slog.Any("error", err))

	ch, chErr := p.conn.Channel()
	if chErr != nil {
		return fmt.Errorf("rabbitmq reopen channel: %w", errors.Join(err, chErr))
	}
	_ = p.channel.Close()
	p.channel = ch
	return p.publish(ctx, exchange, routingKey, jsonBody)
}

func (p *EventProducer) publish(ctx context.Context, exchange, routingKey string, body []byte) error {
	if err := p.channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // autoDelete
		false,    // internal
		false,    // noWait
		nil,      // args
	); err != nil {
		return fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return p.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// Close 關閉 channel 與連線
func (p *EventProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

// FallbackProducer 啟動時連不上 RabbitMQ 時使用，只記錄不發送
type FallbackProducer struct {
	Log *slog.Logger
}

func (p *FallbackProducer) Publish(_ context.Context, exchange, routingKey string, _ any) error {
	log := p.Log
	if log == nil {
		log = slog.Default()
	}
	log.Warn("publish skipped, rabbitmq unavailable",
		slog.String("exchange", exchange),
		slog.String("routing_key", routingKey))
	return nil
}

func (p *FallbackProducer) Close() {}

// SanitizeURL 去掉前後空白與引號，並確認 scheme
func SanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	// 從第一個 amqp 開始截取
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", ErrInvalidURL
	}
	return clean, nil
}

var (
	_ Publisher = (*EventProducer)(nil)
	_ Publisher = (*FallbackProducer)(nil)
)
