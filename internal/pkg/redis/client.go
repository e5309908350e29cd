// internal/pkg/redis/client.go
package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client 封装 go-redis 客户端，并维护按名称注册的 Lua 脚本。
type Client struct {
	rdb     *redis.Client
	mu      sync.RWMutex
	scripts map[string]*redis.Script
}

// NewClient 连接 Redis 并做一次 PING 检查。
func NewClient(ctx context.Context, addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Client{rdb: rdb, scripts: make(map[string]*redis.Script)}, nil
}

// LoadScriptFromContent 注册脚本并预加载到服务端脚本缓存。
func (c *Client) LoadScriptFromContent(ctx context.Context, name, src string) error {
	script := redis.NewScript(src)
	if err := script.Load(ctx, c.rdb).Err(); err != nil {
		return fmt.Errorf("load script %s: %w", name, err)
	}
	c.mu.Lock()
	c.scripts[name] = script
	c.mu.Unlock()
	return nil
}

// RunScript 执行已注册的脚本（EVALSHA，缓存丢失时自动回退 EVAL）。
func (c *Client) RunScript(ctx context.Context, name string, keys []string, args ...interface{}) (interface{}, error) {
	c.mu.RLock()
	script, ok := c.scripts[name]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("script %s is not loaded", name)
	}
	return script.Run(ctx, c.rdb, keys, args...).Result()
}

// GetClient 返回底层客户端。
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
