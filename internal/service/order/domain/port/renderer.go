package port

import (
	"context"
	"time"

	"verbapost/internal/service/order/domain"
)

// RenderRequest 描述一封待排版的信。
type RenderRequest struct {
	OrderID        string
	DocumentName   string // 生成文件名，由扇出组件确定
	Body           string
	RecipientBlock string
	SenderBlock    string
	Style          domain.Tier
	Language       string
	SignatureRef   string // 可为空
	Date           time.Time
}

// Renderer 是 PDF 生成服务的出站端口，返回文档引用。
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (string, error)
}
