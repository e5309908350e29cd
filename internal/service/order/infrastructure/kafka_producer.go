package infrastructure

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"verbapost/internal/pkg/logger"
	"verbapost/internal/pkg/mq"
	"verbapost/internal/service/order/domain"
)

const (
	EventTypeHeader          = "event-type"
	EventTypeLetterFinalized = "LetterFinalized"
	EventTypeHeirloomQueued  = "HeirloomQueued"
)

// LetterEventProducer 把订单完成事件写入 Kafka，消息 key 为订单 ID。
type LetterEventProducer struct {
	writer *kafka.Writer
}

func NewLetterEventProducer(writer *kafka.Writer) *LetterEventProducer {
	return &LetterEventProducer{writer: writer}
}

func (p *LetterEventProducer) PublishFinalized(ctx context.Context, event *domain.LetterFinalized) error {
	return p.publish(ctx, EventTypeLetterFinalized, event.OrderID, event)
}

func (p *LetterEventProducer) PublishHeirloomQueued(ctx context.Context, event *domain.HeirloomQueued) error {
	return p.publish(ctx, EventTypeHeirloomQueued, event.OrderID, event)
}

func (p *LetterEventProducer) publish(ctx context.Context, eventType, key string, event any) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return errors.Wrapf(err, "marshal %s event", eventType)
	}
	header := kafka.Header{Key: EventTypeHeader, Value: []byte(eventType)}
	if err := mq.ProduceMessage(ctx, p.writer, []byte(key), eventBytes, header); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("order", key).Str("event", eventType).Msg("failed to produce message to kafka")
		return errors.Wrapf(err, "produce %s event", eventType)
	}
	return nil
}

// Close 关闭底层的 Kafka writer。
func (p *LetterEventProducer) Close() error {
	return p.writer.Close()
}

// LogEventPublisher 在未配置 Kafka 时使用，只记录事件
type LogEventPublisher struct{}

func (LogEventPublisher) PublishFinalized(ctx context.Context, event *domain.LetterFinalized) error {
	logger.Ctx(ctx).Info().Str("order", event.OrderID).Str("tier", string(event.Tier)).
		Strs("mailed", event.Mailed).Strs("mail_failed", event.MailFailed).Msg("letter finalized")
	return nil
}

func (LogEventPublisher) PublishHeirloomQueued(ctx context.Context, event *domain.HeirloomQueued) error {
	logger.Ctx(ctx).Info().Str("order", event.OrderID).Str("document", event.DocumentRef).Msg("heirloom letter queued for printing")
	return nil
}
