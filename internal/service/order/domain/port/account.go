package port

import (
	"context"

	"verbapost/internal/service/order/domain"
)

// Account 是用户账号。
type Account struct {
	ID    string
	Email string
}

// AccountStore 是身份/账号存储的出站端口。
type AccountStore interface {
	CreateOrGet(ctx context.Context, email string) (*Account, error)
	// GetSavedAddress 返回账号保存的寄件地址，没有时返回 (nil, nil)。
	GetSavedAddress(ctx context.Context, accountID string) (*domain.Address, error)
	SaveAddress(ctx context.Context, accountID string, addr domain.Address) error
}
