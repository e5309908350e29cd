package saga

import (
	"verbapost/internal/service/order/application/fanout"
)

// FanOutHandler 为每个收件人生成 PDF 并（非 Heirloom）提交邮寄。
type FanOutHandler struct {
	NextHandler
}

func (h *FanOutHandler) Handle(fc *FinalizeContext) error {
	ctx, span := fc.Tracer.Start(fc.Ctx, "saga.FanOut")
	defer span.End()

	o := fc.Order
	res := fc.Assembler.Run(ctx, fanout.Job{
		OrderID:      o.ID,
		Tier:         o.Tier,
		Language:     o.Language,
		Sender:       o.Sender,
		Body:         o.Transcript,
		SignatureRef: o.SignatureRef,
		Recipients:   o.Recipients,
		Previous:     o.Deliveries,
		Date:         fc.Now(),
	})
	o.RecordDeliveries(res.Deliveries, fc.Now())
	fc.Result = res

	span.AddEvent("fan-out finished")
	return h.executeNext(fc)
}
