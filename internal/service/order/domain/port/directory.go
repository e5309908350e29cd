package port

import (
	"context"

	"verbapost/internal/service/order/domain"
)

// Representative 是查询到的一位民选官员。
type Representative struct {
	Name    string
	Title   string
	Address domain.Address
}

// RepresentativeDirectory 根据寄件人地址查找其民选代表，结果可能为空、可能有重复。
type RepresentativeDirectory interface {
	Lookup(ctx context.Context, sender domain.Address) ([]Representative, error)
}
