package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ec-checkout/internal/domain/model"

	"github.com/segmentio/kafka-go"
)

const DefaultAuditTopic = "checkout-audit"

// kafka.Writerのうち使う部分（テストで差し替える）
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// 分析基盤向けの監査イベント
type AuditMessage struct {
	EventType  string          `json:"eventType"`
	UserID     int64           `json:"userId,omitempty"`
	CartID     int64           `json:"cartId,omitempty"`
	SessionID  string          `json:"sessionId,omitempty"`
	EventID    string          `json:"providerEventId,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	DurationMS *int64          `json:"durationMs,omitempty"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
}

type AuditPublisher struct {
	writer MessageWriter
}

func NewAuditPublisher(w MessageWriter) *AuditPublisher {
	return &AuditPublisher{writer: w}
}

// brokersCSVが空ならnil（Kafka無効）
func NewAuditWriter(brokersCSV, topic string) *kafka.Writer {
	brokers := ParseBrokers(brokersCSV)
	if len(brokers) == 0 {
		return nil
	}
	if topic == "" {
		topic = DefaultAuditTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func ParseBrokers(csv string) []string {
	brokers := []string{}
	for _, b := range strings.Split(csv, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

func (p *AuditPublisher) Name() string { return "kafka" }

func (p *AuditPublisher) Write(ctx context.Context, entry model.AuditLog) error {
	msg := AuditMessage{
		EventType:  string(entry.Action),
		UserID:     entry.UserID,
		CartID:     entry.CartID,
		SessionID:  entry.CheckoutSessionID,
		EventID:    entry.ProviderEventID,
		Timestamp:  entry.CreatedAt.UTC(),
		DurationMS: entry.DurationMS,
	}
	if entry.AttributesJSON != "" && json.Valid([]byte(entry.AttributesJSON)) {
		msg.Attributes = json.RawMessage(entry.AttributesJSON)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal audit message: %w", err)
	}

	return p.writer.WriteMessages(ctx, kafka.Message{
		// 同一セッションのイベント順序を保つ
		Key:   []byte(partitionKey(entry)),
		Value: data,
		Time:  msg.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(entry.Action)},
		},
	})
}

func (p *AuditPublisher) Close() error {
	return p.writer.Close()
}

func partitionKey(entry model.AuditLog) string {
	if entry.CheckoutSessionID != "" {
		return entry.CheckoutSessionID
	}
	return "cart-" + strconv.FormatInt(entry.CartID, 10)
}
