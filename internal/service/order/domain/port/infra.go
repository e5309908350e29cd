package port

import (
	"context"
	"io"

	"verbapost/internal/service/order/domain"
)

// OrderLocker 保证同一时刻只有一个请求在推进某个订单。
type OrderLocker interface {
	// Lock 阻塞直到获得锁或 ctx 结束，返回的 unlock 必须被调用。
	Lock(ctx context.Context, orderID string) (unlock func(), err error)
}

// BlobStore 保存录音、签名、PDF 与压缩包。
type BlobStore interface {
	Put(ctx context.Context, name string, r io.Reader) (string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}

// LetterEventPublisher 发布订单完成相关的领域事件。
type LetterEventPublisher interface {
	PublishFinalized(ctx context.Context, event *domain.LetterFinalized) error
	PublishHeirloomQueued(ctx context.Context, event *domain.HeirloomQueued) error
}

// StageObserver 在每次订单持久化之后收到通知（用于推送）。
type StageObserver interface {
	OrderChanged(ctx context.Context, order *domain.Order)
}
