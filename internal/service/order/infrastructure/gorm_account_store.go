package infrastructure

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"verbapost/internal/service/order/domain"
	"verbapost/internal/service/order/domain/port"
)

// GormAccountStore 是 port.AccountStore 的 GORM 实现
type GormAccountStore struct {
	db *gorm.DB
}

func NewGormAccountStore(db *gorm.DB) *GormAccountStore {
	return &GormAccountStore{db: db}
}

// CreateOrGet 按邮箱查找账号，不存在时创建。并发创建依赖 email 唯一索引。
func (s *GormAccountStore) CreateOrGet(ctx context.Context, email string) (*port.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, &domain.ValidationError{Field: "email", Reason: "is required"}
	}

	model := AccountModel{ID: uuid.NewString(), Email: email}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "email"}}, DoNothing: true}).
		Create(&model).Error
	if err != nil {
		return nil, errors.Wrapf(err, "create account %s", email)
	}
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		return nil, errors.Wrapf(err, "load account %s", email)
	}
	return &port.Account{ID: model.ID, Email: model.Email}, nil
}

func (s *GormAccountStore) GetSavedAddress(ctx context.Context, accountID string) (*domain.Address, error) {
	var model AccountModel
	err := s.db.WithContext(ctx).Where("id = ?", accountID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "load account %s", accountID)
	}
	return savedAddress(&model), nil
}

func (s *GormAccountStore) SaveAddress(ctx context.Context, accountID string, addr domain.Address) error {
	updateData := map[string]interface{}{
		"sender_name":   nullString(addr.Name),
		"sender_street": nullString(addr.Street),
		"sender_city":   nullString(addr.City),
		"sender_state":  nullString(addr.State),
		"sender_zip":    nullString(addr.Zip),
	}
	res := s.db.WithContext(ctx).Model(&AccountModel{}).Where("id = ?", accountID).Updates(updateData)
	if res.Error != nil {
		return errors.Wrapf(res.Error, "save address for account %s", accountID)
	}
	if res.RowsAffected == 0 {
		return errors.Errorf("account %s not found", accountID)
	}
	return nil
}
