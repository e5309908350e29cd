package infrastructure

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"verbapost/internal/service/order/domain"
	"verbapost/internal/service/order/domain/port"
)

// MemoryOrderRepository 是进程内的订单仓储，用于本地运行与测试。
// 保存与读取都做深拷贝，行为与数据库实现一致。
type MemoryOrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*domain.Order
}

func NewMemoryOrderRepository() *MemoryOrderRepository {
	return &MemoryOrderRepository{orders: make(map[string]*domain.Order)}
}

func (r *MemoryOrderRepository) Save(_ context.Context, order *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.orders[order.ID]
	switch {
	case order.Version == 0 && ok:
		return domain.ErrVersionConflict
	case order.Version != 0 && (!ok || stored.Version != order.Version):
		return domain.ErrVersionConflict
	}
	order.Version++
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *MemoryOrderRepository) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r *MemoryOrderRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	delete(r.orders, id)
	r.mu.Unlock()
	return nil
}

func (r *MemoryOrderRepository) ListByFulfilment(_ context.Context, tier domain.Tier, status domain.FulfilmentStatus) ([]*domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Order
	for _, o := range r.orders {
		if o.Tier == tier && o.Fulfilment == status && o.Stage == domain.StageComplete {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

// MemoryAccountStore 是进程内的账号存储
type MemoryAccountStore struct {
	mu        sync.Mutex
	byEmail   map[string]*port.Account
	addresses map[string]domain.Address
}

func NewMemoryAccountStore() *MemoryAccountStore {
	return &MemoryAccountStore{
		byEmail:   make(map[string]*port.Account),
		addresses: make(map[string]domain.Address),
	}
}

func (s *MemoryAccountStore) CreateOrGet(_ context.Context, email string) (*port.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, &domain.ValidationError{Field: "email", Reason: "is required"}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.byEmail[email]; ok {
		c := *acct
		return &c, nil
	}
	acct := &port.Account{ID: uuid.NewString(), Email: email}
	s.byEmail[email] = acct
	c := *acct
	return &c, nil
}

func (s *MemoryAccountStore) GetSavedAddress(_ context.Context, accountID string) (*domain.Address, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := s.addresses[accountID]
	if !ok {
		return nil, nil
	}
	return &addr, nil
}

func (s *MemoryAccountStore) SaveAddress(_ context.Context, accountID string, addr domain.Address) error {
	s.mu.Lock()
	s.addresses[accountID] = addr
	s.mu.Unlock()
	return nil
}
