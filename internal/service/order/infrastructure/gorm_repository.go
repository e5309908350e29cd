package infrastructure

import (
	"context"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"verbapost/internal/service/order/domain"
)

// GormOrderRepository 是 domain.OrderRepository 的 GORM 实现，使用 version 列做乐观锁
type GormOrderRepository struct {
	db *gorm.DB
}

// NewGormOrderRepository 创建一个新的 GORM 仓储实例
func NewGormOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

func (r *GormOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	model := FromDomainOrder(order)
	if order.Version == 0 {
		model.Version = 1
		if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrVersionConflict
			}
			return errors.Wrapf(err, "insert order %s", order.ID)
		}
		order.Version = 1
		return nil
	}

	model.Version = order.Version + 1
	// Select("*") 让零值字段（例如清空的转写文本）同样被写回
	res := r.db.WithContext(ctx).Model(&OrderModel{}).
		Where("id = ? AND version = ?", order.ID, order.Version).
		Select("*").Omit("id", "created_at").
		Updates(model)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "update order %s", order.ID)
	}
	if res.RowsAffected == 0 {
		return domain.ErrVersionConflict
	}
	order.Version = model.Version
	return nil
}

func (r *GormOrderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrapf(err, "find order %s", id)
	}
	return ToDomainOrder(&model), nil
}

func (r *GormOrderRepository) Delete(ctx context.Context, id string) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&OrderModel{}).Error; err != nil {
		return errors.Wrapf(err, "delete order %s", id)
	}
	return nil
}

func (r *GormOrderRepository) ListByFulfilment(ctx context.Context, tier domain.Tier, status domain.FulfilmentStatus) ([]*domain.Order, error) {
	var models []*OrderModel
	err := r.db.WithContext(ctx).
		Where("tier = ? AND fulfilment = ? AND stage = ?", string(tier), string(status), string(domain.StageComplete)).
		Order("updated_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "list orders by fulfilment")
	}
	orders := make([]*domain.Order, len(models))
	for i, m := range models {
		orders[i] = ToDomainOrder(m)
	}
	return orders, nil
}
