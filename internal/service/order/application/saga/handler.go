package saga

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"verbapost/internal/service/order/application/fanout"
	"verbapost/internal/service/order/domain"
	"verbapost/internal/service/order/domain/port"
)

// FinalizeContext 在定稿责任链中传递上下文数据。
// Order 是应用层持有的工作副本，各步骤直接在其上记录结果。
type FinalizeContext struct {
	Ctx    context.Context
	Order  *domain.Order
	Tracer trace.Tracer
	Now    func() time.Time

	// 依赖出站端口
	Directory port.RepresentativeDirectory
	Assembler *fanout.Assembler
	Blobs     port.BlobStore
	Accounts  port.AccountStore
	Events    port.LetterEventPublisher

	// 步骤产出
	Result  *fanout.Result
	Partial *domain.PartialFanoutFailure
}

// Handler 是责任链中的一个步骤。
type Handler interface {
	SetNext(handler Handler) Handler
	Handle(fc *FinalizeContext) error
}

type NextHandler struct {
	next Handler
}

func (h *NextHandler) SetNext(handler Handler) Handler {
	h.next = handler
	return handler
}

func (h *NextHandler) executeNext(fc *FinalizeContext) error {
	if h.next != nil {
		return h.next.Handle(fc)
	}
	return nil
}

// NewFinalizeChain 组装定稿流程：解析收件人 -> 扇出 -> 打包 -> 履约判定 -> 通知。
func NewFinalizeChain() Handler {
	chain := new(RecipientsHandler)
	chain.
		SetNext(new(FanOutHandler)).
		SetNext(new(ArchiveHandler)).
		SetNext(new(FulfilmentHandler)).
		SetNext(new(NotificationHandler))
	return chain
}
