package infrastructure

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"verbapost/internal/pkg/logger"
	"verbapost/internal/pkg/mq"
	"verbapost/internal/service/order/domain"
)

// HeirloomQueueHandler 处理一条 "Heirloom 信件待打印" 事件
type HeirloomQueueHandler func(ctx context.Context, event *domain.HeirloomQueued) error

// HeirloomQueueConsumer 是驱动适配器：监听信件事件主题，
// 把 HeirloomQueued 事件交给人工履约的处理函数，其余事件直接提交。
type HeirloomQueueConsumer struct {
	reader *kafka.Reader
	handle HeirloomQueueHandler
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewHeirloomQueueConsumer(reader *kafka.Reader, handle HeirloomQueueHandler) *HeirloomQueueConsumer {
	return &HeirloomQueueConsumer{reader: reader, handle: handle}
}

// Start 在后台开始消费，直到 Stop 被调用。
func (a *HeirloomQueueConsumer) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Ctx(ctx).Info().Str("topic", a.reader.Config().Topic).Msg("heirloom queue consumer started")
		for {
			msg, err := a.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					logger.Ctx(ctx).Info().Msg("heirloom queue consumer shutting down")
					return
				}
				logger.Ctx(ctx).Error().Err(err).Msg("could not read message, retrying")
				time.Sleep(time.Second)
				continue
			}

			a.processMessage(ctx, msg)

			if err := a.reader.CommitMessages(ctx, msg); err != nil {
				logger.Ctx(ctx).Error().Err(err).Msg("failed to commit message")
			}
		}
	}()
}

// Stop 优雅地停止消费者。
func (a *HeirloomQueueConsumer) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	if err := a.reader.Close(); err != nil {
		logger.Ctx(context.Background()).Error().Err(err).Msg("failed to close kafka reader")
	}
}

func (a *HeirloomQueueConsumer) processMessage(parentCtx context.Context, msg kafka.Message) {
	carrier := mq.KafkaHeaderCarrier(msg.Headers)
	if carrier.Get(EventTypeHeader) != EventTypeHeirloomQueued {
		return
	}

	ctx := otel.GetTextMapPropagator().Extract(parentCtx, &carrier)
	ctx, span := otel.Tracer("verbapost").Start(ctx, "consumer.HeirloomQueued")
	defer span.End()

	var event domain.HeirloomQueued
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Str("key", string(msg.Key)).Msg("failed to unmarshal heirloom event, message skipped")
		return
	}
	if err := a.handle(ctx, &event); err != nil {
		span.RecordError(err)
		logger.Ctx(ctx).Error().Err(err).Str("order", event.OrderID).Msg("failed to handle heirloom event")
	}
}
