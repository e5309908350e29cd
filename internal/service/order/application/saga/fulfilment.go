package saga

import (
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"verbapost/internal/pkg/logger"
	"verbapost/internal/service/order/domain"
)

// FulfilmentHandler 根据扇出结果决定订单去向：
//   - 没有任何文档：FatalRenderError，订单失败；
//   - 部分收件人缺文档：停留在 Finalizing，可重试；
//   - Heirloom：进入人工寄送队列；
//   - 其他：至少一封寄出即完成，失败名单记为 PartialFanoutFailure。
type FulfilmentHandler struct {
	NextHandler
}

func (h *FulfilmentHandler) Handle(fc *FinalizeContext) error {
	ctx, span := fc.Tracer.Start(fc.Ctx, "saga.Fulfilment")
	defer span.End()

	o := fc.Order
	now := fc.Now()

	var missing, renderErrs, mailed, mailFailed, mailErrs []string
	for _, d := range o.Deliveries {
		switch {
		case d.DocumentRef == "":
			missing = append(missing, d.Recipient.Name)
			renderErrs = append(renderErrs, d.RenderError)
		case d.Mailed:
			mailed = append(mailed, d.Recipient.Name)
		case d.MailError != "":
			mailFailed = append(mailFailed, d.Recipient.Name)
			mailErrs = append(mailErrs, d.MailError)
		}
	}
	span.SetAttributes(
		attribute.Int("fulfilment.missing", len(missing)),
		attribute.Int("fulfilment.mailed", len(mailed)),
		attribute.Int("fulfilment.mail_failed", len(mailFailed)),
	)

	if len(missing) == len(o.Deliveries) {
		err := &domain.FatalRenderError{Err: errors.New(strings.Join(renderErrs, "; "))}
		if failErr := o.Fail(err.Error(), now); failErr != nil {
			return failErr
		}
		logger.Ctx(ctx).Error().Err(err).Str("order", o.ID).Msg("no document could be rendered, order failed")
		return err
	}
	if len(missing) > 0 {
		err := &domain.CollaboratorError{
			Collaborator: "pdf-renderer",
			Op:           "render",
			Err:          fmt.Errorf("no document for %s", strings.Join(missing, ", ")),
		}
		o.LastError = err.Error()
		return err
	}

	if !o.Tier.Mailed() {
		if err := o.Complete(domain.FulfilmentQueued, now); err != nil {
			return err
		}
		return h.executeNext(fc)
	}

	if len(mailed) == 0 {
		err := &domain.CollaboratorError{Collaborator: "mail", Op: "submit", Err: errors.New(strings.Join(mailErrs, "; "))}
		o.LastError = err.Error()
		return err
	}

	if err := o.Complete(domain.FulfilmentMailed, now); err != nil {
		return err
	}
	if len(mailFailed) > 0 {
		fc.Partial = &domain.PartialFanoutFailure{Failed: mailFailed, Succeeded: mailed}
		o.LastError = fc.Partial.Error()
		logger.Ctx(ctx).Warn().Str("order", o.ID).Strs("failed", mailFailed).Msg("civic letter partially mailed")
	}
	return h.executeNext(fc)
}
