package saga

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"verbapost/internal/pkg/logger"
	"verbapost/internal/service/order/application/fanout"
	"verbapost/internal/service/order/domain"
)

// RecipientsHandler 确定收件人列表。结果随订单持久化，重试时不再查询目录服务。
type RecipientsHandler struct {
	NextHandler
}

func (h *RecipientsHandler) Handle(fc *FinalizeContext) error {
	ctx, span := fc.Tracer.Start(fc.Ctx, "saga.ResolveRecipients")
	defer span.End()

	o := fc.Order
	if len(o.Recipients) > 0 {
		span.AddEvent("recipients already resolved")
		return h.executeNext(fc)
	}

	if o.Tier != domain.TierCivic {
		if o.Recipient == nil {
			return &domain.ValidationError{Field: "recipient", Reason: "is required"}
		}
		o.SetRecipients(fanout.Prepare([]domain.Recipient{{
			Name:    o.Recipient.Name,
			Address: *o.Recipient,
		}}), fc.Now())
		return h.executeNext(fc)
	}

	reps, err := fc.Directory.Lookup(ctx, o.Sender)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "representative lookup failed")
		logger.Ctx(ctx).Error().Err(err).Str("order", o.ID).Str("collaborator", "representative-directory").
			Msg("representative lookup failed")
		return &domain.CollaboratorError{Collaborator: "representative-directory", Op: "lookup", Err: err}
	}

	recipients := fanout.FromRepresentatives(reps)
	span.SetAttributes(
		attribute.Int("directory.results", len(reps)),
		attribute.Int("directory.distinct", len(recipients)),
	)
	if len(recipients) == 0 {
		logger.Ctx(ctx).Warn().Str("order", o.ID).Msg("representative lookup returned no officials, failing order")
		if err := o.Fail(domain.ErrNoRecipients.Error(), fc.Now()); err != nil {
			return err
		}
		return domain.ErrNoRecipients
	}

	o.SetRecipients(recipients, fc.Now())
	return h.executeNext(fc)
}
