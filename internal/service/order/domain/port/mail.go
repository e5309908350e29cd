package port

import (
	"context"

	"verbapost/internal/service/order/domain"
)

// MailRequest 是一次邮寄提交。
type MailRequest struct {
	DocumentRef    string
	To             domain.Address
	From           domain.Address
	Description    string
	IdempotencyKey string // 同一订单同一收件人保持不变，防止重复寄送
}

// MailConfirmation 是邮寄服务的回执。
type MailConfirmation struct {
	ID               string
	ExpectedDelivery string
}

// MailService 是实体信件投递服务的出站端口。
type MailService interface {
	Submit(ctx context.Context, req MailRequest) (*MailConfirmation, error)
}
