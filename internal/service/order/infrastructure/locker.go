package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"verbapost/internal/pkg/logger"
	"verbapost/internal/pkg/redis"
	"verbapost/internal/service/order/domain"
)

// MemoryLocker 是单进程的订单互斥锁
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]*lockSlot
	wait  time.Duration
}

type lockSlot struct {
	ch   chan struct{}
	refs int
}

// NewMemoryLocker wait 为等待锁的上限，0 表示只受 ctx 控制。
func NewMemoryLocker(wait time.Duration) *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]*lockSlot), wait: wait}
}

func (l *MemoryLocker) Lock(ctx context.Context, orderID string) (func(), error) {
	l.mu.Lock()
	slot, ok := l.slots[orderID]
	if !ok {
		slot = &lockSlot{ch: make(chan struct{}, 1)}
		l.slots[orderID] = slot
	}
	slot.refs++
	l.mu.Unlock()

	if l.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	select {
	case slot.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(orderID, slot)
		return nil, fmt.Errorf("%w: %s", domain.ErrLockTimeout, orderID)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-slot.ch
			l.release(orderID, slot)
		})
	}, nil
}

func (l *MemoryLocker) release(orderID string, slot *lockSlot) {
	l.mu.Lock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, orderID)
	}
	l.mu.Unlock()
}

const releaseLockScriptName = "release_order_lock"

// KEYS[1]: 锁 key；ARGV[1]: 持有者令牌。只有持有者才能删除。
const releaseLockScript = `
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`

// RedisLocker 使用 SET NX PX 实现跨实例的订单互斥，TTL 防止持有者崩溃后死锁
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	wait   time.Duration
	retry  time.Duration
}

// NewRedisLocker 在创建时加载释放锁的 Lua 脚本。
func NewRedisLocker(ctx context.Context, client *redis.Client, ttl, wait time.Duration) (*RedisLocker, error) {
	if err := client.LoadScriptFromContent(ctx, releaseLockScriptName, releaseLockScript); err != nil {
		return nil, fmt.Errorf("failed to load lock release script: %w", err)
	}
	return &RedisLocker{client: client, ttl: ttl, wait: wait, retry: 50 * time.Millisecond}, nil
}

func lockKey(orderID string) string {
	return fmt.Sprintf("verbapost:order_lock:{%s}", orderID)
}

func (l *RedisLocker) Lock(ctx context.Context, orderID string) (func(), error) {
	key := lockKey(orderID)
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.client.GetClient().SetNX(ctx, key, token, l.ttl).Result()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("acquire order lock %s: %w", orderID, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", domain.ErrLockTimeout, orderID)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", domain.ErrLockTimeout, orderID)
		case <-time.After(l.retry):
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// 请求的 ctx 可能已经取消，释放锁使用独立的 ctx
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if _, err := l.client.RunScript(releaseCtx, releaseLockScriptName, []string{key}, token); err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("order", orderID).Msg("failed to release order lock, it will expire by ttl")
			}
		})
	}, nil
}
