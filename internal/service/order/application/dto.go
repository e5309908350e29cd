// internal/service/order/application/dto.go
package application

import (
	"time"

	"verbapost/internal/service/order/domain"
)

// Action 是 Advance 接受的用户操作
type Action string

const (
	ActionSubmitAddresses    Action = "submit_addresses"
	ActionEditAddresses      Action = "edit_addresses"
	ActionSubmitSignature    Action = "submit_signature"
	ActionConfirmPayment     Action = "confirm_payment"
	ActionCorrectSender      Action = "correct_sender"
	ActionSubmitAudio        Action = "submit_audio"
	ActionResolveOverage     Action = "resolve_overage"
	ActionRetryTranscription Action = "retry_transcription"
	ActionEditText           Action = "edit_text"
	ActionPolish             Action = "polish"
	ActionApprove            Action = "approve"
	ActionReRecord           Action = "re_record"
	ActionFinalize           Action = "finalize"
	ActionStartNew           Action = "start_new"
)

// CheckoutKindOverage 标记附加费收银台的回跳
const CheckoutKindOverage = "overage"

// AudioUpload 描述一段已经写入 BlobStore 的录音
type AudioUpload struct {
	Ref             string
	Filename        string
	DurationSeconds float64
	SizeBytes       int64
}

// AdvanceInput 是一次阶段推进的输入，只有与 Action 相关的字段会被读取
type AdvanceInput struct {
	Action Action `json:"action"`

	Email     string          `json:"email,omitempty"`
	Tier      string          `json:"tier,omitempty"`
	Language  string          `json:"language,omitempty"`
	Sender    *domain.Address `json:"sender,omitempty"`
	Recipient *domain.Address `json:"recipient,omitempty"`

	SignatureRef string `json:"signature_ref,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	Kind      string `json:"kind,omitempty"`

	Audio         *AudioUpload `json:"-"`
	AcceptOverage *bool        `json:"accept_overage,omitempty"`

	Text string `json:"text,omitempty"`
}

// RecipientView 是单个收件人的投递进度
type RecipientView struct {
	Name         string `json:"name"`
	Title        string `json:"title,omitempty"`
	DocumentName string `json:"documentName"`
	Rendered     bool   `json:"rendered"`
	Mailed       bool   `json:"mailed"`
	Confirmation string `json:"confirmation,omitempty"`
	Error        string `json:"error,omitempty"`
}

// AudioView 是当前录音的摘要
type AudioView struct {
	Filename         string  `json:"filename"`
	DurationSeconds  float64 `json:"durationSeconds"`
	SizeBytes        int64   `json:"sizeBytes"`
	ExceedsAllowance bool    `json:"exceedsAllowance"`
}

// OrderState 是 get_order_state 的响应，也是每次推进后返回给客户端的快照
type OrderState struct {
	OrderID   string          `json:"orderId"`
	Stage     domain.Stage    `json:"stage"`
	Tier      domain.Tier     `json:"tier,omitempty"`
	Language  string          `json:"language"`
	Email     string          `json:"email,omitempty"`
	Sender    domain.Address  `json:"sender"`
	Recipient *domain.Address `json:"recipient,omitempty"`

	HasSignature     bool   `json:"hasSignature"`
	PriceCents       int64  `json:"priceCents,omitempty"`
	Price            string `json:"price,omitempty"`
	CheckoutURL      string `json:"checkoutUrl,omitempty"`
	PaymentConfirmed bool   `json:"paymentConfirmed"`

	Audio                   *AudioView `json:"audio,omitempty"`
	AwaitingOverageDecision bool       `json:"awaitingOverageDecision"`
	AwaitingOveragePayment  bool       `json:"awaitingOveragePayment"`
	OverageFee              string     `json:"overageFee,omitempty"`
	OverageCheckoutURL      string     `json:"overageCheckoutUrl,omitempty"`

	Transcript string          `json:"transcript,omitempty"`
	Recipients []RecipientView `json:"recipients,omitempty"`
	Download   bool            `json:"downloadAvailable"`
	Fulfilment string          `json:"fulfilment,omitempty"`
	LastError  string          `json:"lastError,omitempty"`

	AllowedActions []Action  `json:"allowedActions"`
	Version        int64     `json:"version"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// allowedActions 按阶段列出当前可以提交的操作
func allowedActions(o *domain.Order) []Action {
	var actions []Action
	switch o.Stage {
	case domain.StageAddressCapture:
		actions = []Action{ActionSubmitAddresses}
	case domain.StageSignatureCapture:
		actions = []Action{ActionSubmitSignature, ActionEditAddresses}
	case domain.StagePaymentPending:
		actions = []Action{ActionConfirmPayment, ActionCorrectSender}
	case domain.StageRecording:
		switch {
		case o.AwaitingOverageDecision():
			actions = []Action{ActionResolveOverage}
		case o.AwaitingOveragePayment():
			actions = []Action{ActionConfirmPayment, ActionResolveOverage}
		case o.ReadyForTranscription():
			actions = []Action{ActionRetryTranscription, ActionSubmitAudio}
		default:
			actions = []Action{ActionSubmitAudio}
		}
		actions = append(actions, ActionCorrectSender)
	case domain.StageEditing:
		actions = []Action{ActionEditText, ActionPolish, ActionApprove, ActionReRecord, ActionCorrectSender}
	case domain.StageFinalizing:
		actions = []Action{ActionFinalize}
	}
	return append(actions, ActionStartNew)
}
