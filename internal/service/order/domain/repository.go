// internal/service/order/domain/repository.go
package domain

import "context"

// OrderRepository 定义了订单聚合的持久化接口。
// 它位于领域层，但由基础设施层实现。
type OrderRepository interface {
	// Save 创建 (Version == 0) 或以乐观锁方式更新订单。
	// 版本不匹配时返回 ErrVersionConflict；成功后 order.Version 递增。
	Save(ctx context.Context, order *Order) error

	// FindByID 根据 ID（恢复令牌）查找订单，不存在时返回 ErrOrderNotFound。
	FindByID(ctx context.Context, id string) (*Order, error)

	// Delete 删除订单（"开始新的信件"）。
	Delete(ctx context.Context, id string) error

	// ListByFulfilment 列出指定等级、指定履约状态的已完成订单，按更新时间升序。
	ListByFulfilment(ctx context.Context, tier Tier, status FulfilmentStatus) ([]*Order, error)
}
