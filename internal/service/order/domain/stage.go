// internal/service/order/domain/stage.go
package domain

import "fmt"

// Stage 定义了信件订单在工作流中的阶段，同一时刻只有一个活动阶段
type Stage string

const (
	StageAddressCapture   Stage = "ADDRESS_CAPTURE"   // 收集寄件人/收件人地址
	StageSignatureCapture Stage = "SIGNATURE_CAPTURE" // 选择服务等级、上传签名（可选）
	StagePaymentPending   Stage = "PAYMENT_PENDING"   // 已创建收银台会话，等待支付确认
	StageRecording        Stage = "RECORDING"         // 已支付，等待录音
	StageTranscribing     Stage = "TRANSCRIBING"      // 正在调用语音转写
	StageEditing          Stage = "EDITING"           // 用户编辑/润色正文
	StageFinalizing       Stage = "FINALIZING"        // 生成 PDF、投递
	StageComplete         Stage = "COMPLETE"          // 终态：成功
	StageFailed           Stage = "FAILED"            // 终态：不可恢复的失败
)

// Event 是驱动阶段迁移的领域事件
type Event string

const (
	EventAddressesAccepted   Event = "addresses_accepted"
	EventAddressesReopened   Event = "addresses_reopened"
	EventCheckoutOpened      Event = "checkout_opened"
	EventPaymentConfirmed    Event = "payment_confirmed"
	EventAudioAccepted       Event = "audio_accepted"
	EventTranscribed         Event = "transcribed"
	EventTranscriptionFailed Event = "transcription_failed"
	EventTextApproved        Event = "text_approved"
	EventReRecord            Event = "re_record"
	EventFulfilled           Event = "fulfilled"
	EventFatal               Event = "fatal"
)

var stageOrder = map[Stage]int{
	StageAddressCapture:   1,
	StageSignatureCapture: 2,
	StagePaymentPending:   3,
	StageRecording:        4,
	StageTranscribing:     5,
	StageEditing:          6,
	StageFinalizing:       7,
	StageComplete:         8,
	StageFailed:           8,
}

// IsTerminal 报告阶段是否为终态
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageFailed
}

// Reached 报告 s 是否已到达（或越过）other 阶段
func (s Stage) Reached(other Stage) bool {
	return stageOrder[s] >= stageOrder[other]
}

// Transition 是纯函数形式的迁移表：只允许向前推进，
// 以及显式的 "重新录音" / "转写失败重试" / "返回修改地址" 回退。
func Transition(current Stage, event Event) (Stage, error) {
	switch current {
	case StageAddressCapture:
		switch event {
		case EventAddressesAccepted:
			return StageSignatureCapture, nil
		}
	case StageSignatureCapture:
		switch event {
		case EventCheckoutOpened:
			return StagePaymentPending, nil
		case EventAddressesReopened:
			return StageAddressCapture, nil
		}
	case StagePaymentPending:
		switch event {
		case EventPaymentConfirmed:
			return StageRecording, nil
		}
	case StageRecording:
		switch event {
		case EventAudioAccepted:
			return StageTranscribing, nil
		}
	case StageTranscribing:
		switch event {
		case EventTranscribed:
			return StageEditing, nil
		case EventTranscriptionFailed:
			return StageRecording, nil
		}
	case StageEditing:
		switch event {
		case EventTextApproved:
			return StageFinalizing, nil
		case EventReRecord:
			return StageRecording, nil
		}
	case StageFinalizing:
		switch event {
		case EventFulfilled:
			return StageComplete, nil
		case EventFatal:
			return StageFailed, nil
		}
	case StageComplete, StageFailed:
	default:
		return current, fmt.Errorf("unknown stage %q", current)
	}
	return current, invalidTransition(current, event)
}

func invalidTransition(stage Stage, event Event) error {
	return fmt.Errorf("%w: %s --(%s)--> ?", ErrInvalidTransition, stage, event)
}
