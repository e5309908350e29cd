package saga

import (
	"go.opentelemetry.io/otel/attribute"

	"verbapost/internal/pkg/logger"
	"verbapost/internal/service/order/domain"
)

// NotificationHandler 是链的最后一步：发布完成事件并保存寄件地址。
// 这两件事都不影响订单结果，失败只记录告警。
type NotificationHandler struct {
	NextHandler
}

func (h *NotificationHandler) Handle(fc *FinalizeContext) error {
	ctx, span := fc.Tracer.Start(fc.Ctx, "saga.Notification")
	defer span.End()

	o := fc.Order
	span.SetAttributes(attribute.String("messaging.system", "kafka"))

	if fc.Events != nil {
		if err := fc.Events.PublishFinalized(ctx, domain.NewLetterFinalized(o, fc.Now())); err != nil {
			span.RecordError(err)
			logger.Ctx(ctx).Error().Err(err).Str("order", o.ID).Msg("WARN: failed to publish letter finalized event")
		}
		if o.Fulfilment == domain.FulfilmentQueued {
			artifacts := o.Artifacts()
			event := &domain.HeirloomQueued{OrderID: o.ID, Email: o.Email, At: fc.Now()}
			if len(artifacts) > 0 {
				event.DocumentRef = artifacts[0].DocumentRef
			}
			if err := fc.Events.PublishHeirloomQueued(ctx, event); err != nil {
				span.RecordError(err)
				logger.Ctx(ctx).Error().Err(err).Str("order", o.ID).Msg("WARN: failed to publish heirloom queued event")
			}
		}
	}

	if fc.Accounts != nil && o.AccountID != "" {
		if err := fc.Accounts.SaveAddress(ctx, o.AccountID, o.Sender); err != nil {
			span.RecordError(err)
			logger.Ctx(ctx).Error().Err(err).Str("order", o.ID).Msg("WARN: failed to save sender address to account")
		}
	}

	span.AddEvent("letter finalized and notification sent (or attempted)")
	return h.executeNext(fc)
}
