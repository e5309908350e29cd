package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrOrderNotFound     = errors.New("order not found")
	ErrVersionConflict   = errors.New("order was modified concurrently")
	ErrLockTimeout       = errors.New("timed out waiting for order lock")
	// ErrPaymentUnconfirmed 不是失败：收银台会话存在但尚未支付，订单停留在 PaymentPending。
	ErrPaymentUnconfirmed = errors.New("payment not yet confirmed")
	ErrNoArtifacts        = errors.New("order has no produced documents")
	ErrNoRecipients       = errors.New("no recipients could be resolved for this letter")
)

// ValidationError 表示用户输入有误，总是可恢复的：在同一阶段重新提交即可。
type ValidationError struct {
	Field    string
	Reason   string
	Expected string // 例如 ZIP 与州不匹配时的正确州代码
}

func (e *ValidationError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Expected != "" {
		msg += " (expected " + e.Expected + ")"
	}
	return msg
}

// CollaboratorError 包装任意外部服务失败，可通过重试或阶段回退恢复。
type CollaboratorError struct {
	Collaborator string
	Op           string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Collaborator, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// PartialFanoutFailure 描述部分收件人邮寄失败。订单仍然完成，失败名单需要展示给用户。
type PartialFanoutFailure struct {
	Failed    []string
	Succeeded []string
}

func (e *PartialFanoutFailure) Error() string {
	return fmt.Sprintf("mailing failed for %d of %d recipients: %s",
		len(e.Failed), len(e.Failed)+len(e.Succeeded), strings.Join(e.Failed, ", "))
}

// FatalRenderError 表示无法生成任何 PDF，订单进入 Failed。
type FatalRenderError struct {
	Err error
}

func (e *FatalRenderError) Error() string {
	return "letter could not be rendered: " + e.Err.Error()
}

func (e *FatalRenderError) Unwrap() error { return e.Err }
