// internal/service/order/domain/order.go
package domain

import (
	"strings"
	"time"
)

// FulfilmentStatus 记录订单完成之后的履约情况
type FulfilmentStatus string

const (
	FulfilmentNone   FulfilmentStatus = ""
	FulfilmentMailed FulfilmentStatus = "MAILED" // 已提交邮寄服务
	FulfilmentQueued FulfilmentStatus = "QUEUED" // Heirloom：等待人工打印寄送
	FulfilmentSent   FulfilmentStatus = "SENT"   // Heirloom：人工已寄出
)

// CheckoutSession 是外部收银台会话的引用 (payment_reference)
type CheckoutSession struct {
	SessionID      string     `json:"session_id"`
	URL            string     `json:"url"`
	IdempotencyKey string     `json:"idempotency_key"`
	AmountCents    int64      `json:"amount_cents"`
	ConfirmedAt    *time.Time `json:"confirmed_at,omitempty"`
}

func (c *CheckoutSession) Confirmed() bool {
	return c != nil && c.ConfirmedAt != nil
}

// AudioCapture 是一次完成的录音
type AudioCapture struct {
	Ref              string  `json:"ref"`
	Filename         string  `json:"filename"`
	DurationSeconds  float64 `json:"duration_seconds"`
	SizeBytes        int64   `json:"size_bytes"`
	ExceedsAllowance bool    `json:"exceeds_allowance"`
}

// Recipient 是一个已解析的投递目标
type Recipient struct {
	Key          string  `json:"key"` // 规范化后的全名，用于去重
	Name         string  `json:"name"`
	Title        string  `json:"title,omitempty"`
	Address      Address `json:"address"`
	DocumentName string  `json:"document_name"`
}

// Delivery 记录单个收件人的扇出结果（produced_artifacts 的一项）
type Delivery struct {
	Recipient    Recipient `json:"recipient"`
	DocumentRef  string    `json:"document_ref,omitempty"`
	RenderError  string    `json:"render_error,omitempty"`
	Mailed       bool      `json:"mailed"`
	Confirmation string    `json:"confirmation,omitempty"`
	MailError    string    `json:"mail_error,omitempty"`
}

// Order 是一个信件订单 (Order Session) 的聚合根
type Order struct {
	ID        string // 同时作为支付回跳时的恢复令牌
	AccountID string
	Email     string
	Stage     Stage
	Tier      Tier
	Language  string

	Sender    Address
	Recipient *Address // Civic 订单为空

	SignatureRef string
	Checkout     *CheckoutSession

	Audio           *AudioCapture
	OverageAgreed   bool
	OverageCheckout *CheckoutSession

	Transcript string

	Recipients    []Recipient
	Deliveries    []Delivery
	ArchiveRef    string
	ArchivedCount int
	Fulfilment    FulfilmentStatus

	LastError string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewOrder 创建一个处于 AddressCapture 阶段的空订单。
func NewOrder(id string, now time.Time) *Order {
	return &Order{
		ID:        id,
		Stage:     StageAddressCapture,
		Language:  "English",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (o *Order) moveTo(event Event, now time.Time) error {
	next, err := Transition(o.Stage, event)
	if err != nil {
		return err
	}
	o.Stage = next
	o.UpdatedAt = now
	return nil
}

func (o *Order) requireStage(action string, stages ...Stage) error {
	for _, s := range stages {
		if o.Stage == s {
			return nil
		}
	}
	return InvalidAction(o.Stage, action)
}

// AcceptAddresses 记录服务等级与地址，校验通过后进入 SignatureCapture。
// 非 Civic 等级寄件人与收件人都必填；Civic 只需要寄件人。
func (o *Order) AcceptAddresses(tier Tier, sender Address, recipient *Address, language string, now time.Time) error {
	if err := o.requireStage("submit_addresses", StageAddressCapture); err != nil {
		return err
	}
	sender = sender.Normalize()
	if err := ValidateAddress(sender, RoleSender); err != nil {
		return err
	}

	var rcpt *Address
	if recipient != nil && !recipient.IsZero() {
		r := recipient.Normalize()
		rcpt = &r
	}
	if rcpt == nil && tier.RequiresRecipient() {
		return &ValidationError{Field: "recipient", Reason: "is required for " + strings.ToLower(string(tier)) + " letters"}
	}
	if rcpt != nil && tier.RequiresRecipient() {
		if err := ValidateAddress(*rcpt, RoleRecipient); err != nil {
			return err
		}
	}
	if !tier.RequiresRecipient() {
		rcpt = nil
	}

	o.Tier = tier
	o.Sender = sender
	o.Recipient = rcpt
	if language != "" {
		o.Language = language
	}
	o.LastError = ""
	return o.moveTo(EventAddressesAccepted, now)
}

// ReopenAddresses 在支付前返回地址填写阶段。
func (o *Order) ReopenAddresses(now time.Time) error {
	return o.moveTo(EventAddressesReopened, now)
}

// ChooseTier 在签名阶段修改服务等级；收银台会话创建后等级即固定。
func (o *Order) ChooseTier(tier Tier, now time.Time) error {
	if tier == "" || tier == o.Tier {
		return nil
	}
	if o.Checkout != nil {
		return &ValidationError{Field: "tier", Reason: "is fixed once checkout has started"}
	}
	if err := o.requireStage("choose_tier", StageSignatureCapture); err != nil {
		return err
	}
	if tier.RequiresRecipient() && o.Recipient == nil {
		return &ValidationError{Field: "recipient", Reason: "is required for " + strings.ToLower(string(tier)) + " letters"}
	}
	if !tier.RequiresRecipient() {
		o.Recipient = nil
	}
	o.Tier = tier
	o.UpdatedAt = now
	return nil
}

// AttachSignature 记录签名图片引用；空字符串表示 "无签名"。
func (o *Order) AttachSignature(ref string, now time.Time) error {
	if err := o.requireStage("submit_signature", StageSignatureCapture); err != nil {
		return err
	}
	o.SignatureRef = ref
	o.UpdatedAt = now
	return nil
}

// OpenCheckout 记录新建的收银台会话并进入 PaymentPending。
func (o *Order) OpenCheckout(session CheckoutSession, now time.Time) error {
	if err := o.requireStage("open_checkout", StageSignatureCapture); err != nil {
		return err
	}
	o.Checkout = &session
	return o.moveTo(EventCheckoutOpened, now)
}

// PaymentConfirmed 报告主订单是否已确认支付。
func (o *Order) PaymentConfirmed() bool {
	return o.Checkout.Confirmed()
}

// ConfirmPayment 支付确认后进入 Recording。只能执行一次。
func (o *Order) ConfirmPayment(now time.Time) error {
	if o.Checkout == nil {
		return InvalidAction(o.Stage, "confirm_payment")
	}
	if err := o.moveTo(EventPaymentConfirmed, now); err != nil {
		return err
	}
	o.Checkout.ConfirmedAt = &now
	return nil
}

// CorrectSender 允许在支付后、定稿前修正寄件人地址。
func (o *Order) CorrectSender(sender Address, now time.Time) error {
	if err := o.requireStage("correct_sender", StagePaymentPending, StageRecording, StageEditing); err != nil {
		return err
	}
	sender = sender.Normalize()
	if err := ValidateAddress(sender, RoleSender); err != nil {
		return err
	}
	o.Sender = sender
	o.UpdatedAt = now
	return nil
}

// CaptureAudio 记录一段录音。超出额度时停在 Recording 等待用户决定，
// 否则直接进入 Transcribing。
func (o *Order) CaptureAudio(audio AudioCapture, now time.Time) error {
	if err := o.requireStage("submit_audio", StageRecording); err != nil {
		return err
	}
	if !o.PaymentConfirmed() {
		return InvalidAction(o.Stage, "submit_audio")
	}
	o.Audio = &audio
	o.OverageAgreed = false
	o.Transcript = ""
	o.LastError = ""
	o.UpdatedAt = now
	if audio.ExceedsAllowance {
		return nil
	}
	return o.StartTranscription(now)
}

// AwaitingOverageDecision 报告是否正在等待用户对超额录音做出选择。
func (o *Order) AwaitingOverageDecision() bool {
	return o.Stage == StageRecording && o.Audio != nil && o.Audio.ExceedsAllowance && !o.OverageAgreed
}

// AwaitingOveragePayment 报告用户已同意附加费，但附加费尚未支付。
func (o *Order) AwaitingOveragePayment() bool {
	return o.Stage == StageRecording && o.Audio != nil && o.Audio.ExceedsAllowance &&
		o.OverageAgreed && o.OverageCheckout != nil && !o.OverageCheckout.Confirmed()
}

// DiscardAudio 丢弃当前录音，留在 Recording 重新录制。
func (o *Order) DiscardAudio(now time.Time) error {
	if err := o.requireStage("discard_audio", StageRecording); err != nil {
		return err
	}
	o.Audio = nil
	o.OverageAgreed = false
	o.UpdatedAt = now
	return nil
}

// AgreeOverage 记录用户接受超额附加费。
func (o *Order) AgreeOverage(now time.Time) error {
	if o.Stage != StageRecording || o.Audio == nil || !o.Audio.ExceedsAllowance {
		return InvalidAction(o.Stage, "accept_overage")
	}
	o.OverageAgreed = true
	o.UpdatedAt = now
	return nil
}

// AttachOverageCheckout 记录附加费的收银台会话。
func (o *Order) AttachOverageCheckout(session CheckoutSession, now time.Time) error {
	if !o.OverageAgreed {
		return InvalidAction(o.Stage, "open_overage_checkout")
	}
	o.OverageCheckout = &session
	o.UpdatedAt = now
	return nil
}

// ConfirmOveragePayment 标记附加费已支付。
func (o *Order) ConfirmOveragePayment(now time.Time) error {
	if o.OverageCheckout == nil {
		return InvalidAction(o.Stage, "confirm_overage_payment")
	}
	if !o.OverageCheckout.Confirmed() {
		o.OverageCheckout.ConfirmedAt = &now
		o.UpdatedAt = now
	}
	return nil
}

// ReadyForTranscription 报告当前录音是否满足进入转写的全部条件。
func (o *Order) ReadyForTranscription() bool {
	if o.Stage != StageRecording || o.Audio == nil || !o.PaymentConfirmed() {
		return false
	}
	if !o.Audio.ExceedsAllowance {
		return true
	}
	return o.OverageAgreed && (o.OverageCheckout == nil || o.OverageCheckout.Confirmed())
}

// StartTranscription 进入 Transcribing。超额录音必须已同意（并支付）附加费。
func (o *Order) StartTranscription(now time.Time) error {
	if !o.ReadyForTranscription() {
		return InvalidAction(o.Stage, "start_transcription")
	}
	return o.moveTo(EventAudioAccepted, now)
}

// CompleteTranscription 记录转写文本并进入 Editing。
func (o *Order) CompleteTranscription(text string, now time.Time) error {
	if err := o.moveTo(EventTranscribed, now); err != nil {
		return err
	}
	o.Transcript = text
	o.LastError = ""
	return nil
}

// FailTranscription 转写失败时回到 Recording，保留录音以便重试。
func (o *Order) FailTranscription(reason string, now time.Time) error {
	if err := o.moveTo(EventTranscriptionFailed, now); err != nil {
		return err
	}
	o.LastError = reason
	return nil
}

// EditText 用用户编辑后的文本替换正文。
func (o *Order) EditText(text string, now time.Time) error {
	if err := o.requireStage("edit_text", StageEditing); err != nil {
		return err
	}
	o.Transcript = text
	o.UpdatedAt = now
	return nil
}

// Approve 合并最终文本并进入 Finalizing。
func (o *Order) Approve(text string, now time.Time) error {
	if err := o.requireStage("approve", StageEditing); err != nil {
		return err
	}
	if text != "" {
		o.Transcript = text
	}
	if strings.TrimSpace(o.Transcript) == "" {
		return &ValidationError{Field: "text", Reason: "letter body is empty"}
	}
	return o.moveTo(EventTextApproved, now)
}

// ReRecord 丢弃录音与正文，回到 Recording。不产生新的费用。
func (o *Order) ReRecord(now time.Time) error {
	if err := o.moveTo(EventReRecord, now); err != nil {
		return err
	}
	o.Audio = nil
	o.OverageAgreed = false
	o.Transcript = ""
	o.LastError = ""
	return nil
}

// SetRecipients 记录已解析（去重后）的收件人，之后重试定稿不会再次查询。
func (o *Order) SetRecipients(recipients []Recipient, now time.Time) {
	o.Recipients = recipients
	o.UpdatedAt = now
}

// RecordDeliveries 保存扇出结果。
func (o *Order) RecordDeliveries(deliveries []Delivery, now time.Time) {
	o.Deliveries = deliveries
	o.UpdatedAt = now
}

// Artifacts 返回已生成文档的投递记录，顺序与收件人一致。
func (o *Order) Artifacts() []Delivery {
	var out []Delivery
	for _, d := range o.Deliveries {
		if d.DocumentRef != "" {
			out = append(out, d)
		}
	}
	return out
}

// Complete 进入终态 Complete。
func (o *Order) Complete(status FulfilmentStatus, now time.Time) error {
	if err := o.moveTo(EventFulfilled, now); err != nil {
		return err
	}
	o.Fulfilment = status
	o.LastError = ""
	return nil
}

// Fail 进入终态 Failed。
func (o *Order) Fail(reason string, now time.Time) error {
	if err := o.moveTo(EventFatal, now); err != nil {
		return err
	}
	o.LastError = reason
	return nil
}

// MarkSent 由管理员在 Heirloom 信件寄出后调用。
func (o *Order) MarkSent(now time.Time) error {
	if o.Tier != TierHeirloom || o.Stage != StageComplete || o.Fulfilment != FulfilmentQueued {
		return InvalidAction(o.Stage, "mark_sent")
	}
	o.Fulfilment = FulfilmentSent
	o.UpdatedAt = now
	return nil
}

// Clone 深拷贝订单，应用层在副本上执行迁移，失败时原值不受影响。
func (o *Order) Clone() *Order {
	c := *o
	if o.Recipient != nil {
		r := *o.Recipient
		c.Recipient = &r
	}
	c.Checkout = cloneCheckout(o.Checkout)
	c.OverageCheckout = cloneCheckout(o.OverageCheckout)
	if o.Audio != nil {
		a := *o.Audio
		c.Audio = &a
	}
	c.Recipients = append([]Recipient(nil), o.Recipients...)
	c.Deliveries = append([]Delivery(nil), o.Deliveries...)
	return &c
}

func cloneCheckout(s *CheckoutSession) *CheckoutSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.ConfirmedAt != nil {
		t := *s.ConfirmedAt
		c.ConfirmedAt = &t
	}
	return &c
}

// InvalidAction 返回 "当前阶段不允许该操作" 的错误，errors.Is(err, ErrInvalidTransition) 成立。
func InvalidAction(stage Stage, action string) error {
	return invalidTransition(stage, Event(action))
}
