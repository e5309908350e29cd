// internal/zookeeper/lock.go
package zookeeper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"

	"verbapost/internal/pkg/logger"
	"verbapost/internal/service/order/domain"
)

const lockPrefix = "lock-"

// OrderLocker 用临时顺序节点实现订单级分布式锁。
// 每个订单一个父节点：<root>/<orderID>/lock-0000000001
type OrderLocker struct {
	conn *zk.Conn
	root string
	wait time.Duration
}

// Connect 连接 ZooKeeper 集群并确保锁根节点存在。
func Connect(servers []string, sessionTimeout time.Duration, root string, wait time.Duration) (*OrderLocker, error) {
	conn, _, err := zk.Connect(servers, sessionTimeout, zk.WithLogInfo(false))
	if err != nil {
		return nil, fmt.Errorf("connect zookeeper %v: %w", servers, err)
	}
	l := &OrderLocker{conn: conn, root: strings.TrimSuffix(root, "/"), wait: wait}
	if err := l.ensurePath(l.root); err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

// ensurePath 逐级创建持久节点，已存在的节点忽略。
func (l *OrderLocker) ensurePath(path string) error {
	current := ""
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		current += "/" + part
		_, err := l.conn.Create(current, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && !errors.Is(err, zk.ErrNodeExists) {
			return fmt.Errorf("create lock node %s: %w", current, err)
		}
	}
	return nil
}

// Lock 获取订单锁，阻塞直到获得锁、ctx 结束或等待超时。
func (l *OrderLocker) Lock(ctx context.Context, orderID string) (func(), error) {
	path := l.root + "/" + orderID
	if err := l.ensurePath(path); err != nil {
		return nil, err
	}

	// 受保护的节点名带 GUID 前缀，会话重连后仍能找回自己创建的节点
	node, err := l.conn.CreateProtectedEphemeralSequential(path+"/"+lockPrefix, nil, zk.WorldACL(zk.PermAll))
	if err != nil {
		return nil, fmt.Errorf("create sequential node: %w", err)
	}
	myName := strings.TrimPrefix(node, path+"/")

	timeout := time.NewTimer(l.wait)
	defer timeout.Stop()

	for {
		children, _, err := l.conn.Children(path)
		if err != nil {
			l.remove(node)
			return nil, fmt.Errorf("list lock nodes: %w", err)
		}
		sortBySequence(children)

		idx := -1
		for i, child := range children {
			if child == myName {
				idx = i
				break
			}
		}
		switch {
		case idx < 0:
			return nil, fmt.Errorf("lock node %s disappeared", node)
		case idx == 0:
			return l.unlocker(ctx, orderID, node), nil
		}

		// 只监听前一个节点，避免惊群
		exists, _, events, err := l.conn.ExistsW(path + "/" + children[idx-1])
		if err != nil {
			l.remove(node)
			return nil, fmt.Errorf("watch previous node: %w", err)
		}
		if !exists {
			continue
		}

		select {
		case <-events:
		case <-ctx.Done():
			l.remove(node)
			return nil, fmt.Errorf("%w: %s", domain.ErrLockTimeout, orderID)
		case <-timeout.C:
			l.remove(node)
			return nil, fmt.Errorf("%w: %s", domain.ErrLockTimeout, orderID)
		}
	}
}

func (l *OrderLocker) unlocker(ctx context.Context, orderID, node string) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			if err := l.remove(node); err != nil {
				logger.Ctx(ctx).Error().Err(err).Str("order", orderID).Msg("failed to release zookeeper lock")
			}
		})
	}
}

func (l *OrderLocker) remove(node string) error {
	err := l.conn.Delete(node, -1)
	if err != nil && !errors.Is(err, zk.ErrNoNode) {
		return fmt.Errorf("delete lock node: %w", err)
	}
	return nil
}

// Close 关闭会话，会话内的临时节点随之删除。
func (l *OrderLocker) Close() {
	l.conn.Close()
}

// sortBySequence 按节点名末尾的 10 位序号排序。
func sortBySequence(children []string) {
	sort.SliceStable(children, func(i, j int) bool {
		return sequenceOf(children[i]) < sequenceOf(children[j])
	})
}

func sequenceOf(name string) string {
	if i := strings.LastIndex(name, lockPrefix); i >= 0 {
		return name[i+len(lockPrefix):]
	}
	return name
}
