package port

import "context"

// PaymentStatus 是收银台会话的支付状态
type PaymentStatus int

const (
	PaymentPaid PaymentStatus = iota + 1
	PaymentUnpaid
)

func (s PaymentStatus) String() string {
	switch s {
	case PaymentPaid:
		return "paid"
	case PaymentUnpaid:
		return "unpaid"
	}
	return "unknown"
}

// CheckoutRequest 是创建收银台会话所需的参数。
type CheckoutRequest struct {
	OrderID        string
	Description    string
	AmountCents    int64
	ReturnURL      string // 需包含恢复令牌
	CancelURL      string
	IdempotencyKey string
}

// CheckoutSession 是新建会话的结果。
type CheckoutSession struct {
	SessionID string
	URL       string
}

// CheckoutService 是第三方支付的出站端口。
type CheckoutService interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	CheckStatus(ctx context.Context, sessionID string) (PaymentStatus, error)
}
