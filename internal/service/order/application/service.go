// internal/service/order/application/service.go
package application

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"verbapost/internal/pkg/logger"
	"verbapost/internal/service/order/application/fanout"
	"verbapost/internal/service/order/application/pricing"
	"verbapost/internal/service/order/application/saga"
	"verbapost/internal/service/order/domain"
	"verbapost/internal/service/order/domain/port"
)

// Deps 汇集应用服务依赖的领域仓储与出站端口。
type Deps struct {
	Orders      domain.OrderRepository
	Accounts    port.AccountStore
	Locker      port.OrderLocker
	Blobs       port.BlobStore
	Checkout    port.CheckoutService
	Transcriber port.TranscriptionService
	Directory   port.RepresentativeDirectory
	Assembler   *fanout.Assembler
	Events      port.LetterEventPublisher
	Observer    port.StageObserver
	Policy      *pricing.Policy
	Tracer      trace.Tracer

	PublicBaseURL     string
	ProcessingTimeout time.Duration
}

const persistTimeout = 10 * time.Second

// Option 定制应用服务，主要用于测试。
type Option func(*LetterApplicationService)

func WithClock(now func() time.Time) Option {
	return func(s *LetterApplicationService) { s.now = now }
}

func WithIDGenerator(gen func() string) Option {
	return func(s *LetterApplicationService) { s.newID = gen }
}

// LetterApplicationService 是工作流控制器：每次调用在订单锁内
// 校验当前阶段允许的操作，最多调用一个外部协作者，然后持久化结果。
type LetterApplicationService struct {
	Deps
	now   func() time.Time
	newID func() string
}

func NewLetterApplicationService(deps Deps, opts ...Option) *LetterApplicationService {
	if deps.ProcessingTimeout <= 0 {
		deps.ProcessingTimeout = 2 * time.Minute
	}
	s := &LetterApplicationService{
		Deps:  deps,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Advance 推进订单工作流。orderID 为空时只接受 submit_addresses（新建订单）与 start_new。
//
// 出错时返回的订单是调用者应当展示的状态：如果操作已经改变了订单（例如转写失败回到
// Recording），改变会被持久化并随错误一起返回；否则返回未修改的订单。
func (s *LetterApplicationService) Advance(ctx context.Context, orderID string, in *AdvanceInput) (*domain.Order, error) {
	if in == nil || in.Action == "" {
		return nil, &domain.ValidationError{Field: "action", Reason: "is required"}
	}
	ctx, span := s.Tracer.Start(ctx, "app.Advance", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("order.action", string(in.Action)),
	))
	defer span.End()

	o, err := s.advance(ctx, orderID, in)
	if err != nil {
		kind := errorKind(err)
		advanceFailures.WithLabelValues(string(in.Action), kind).Inc()
		if kind != "payment_unconfirmed" {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
		}
		ev := logger.Ctx(ctx).Warn()
		if kind == "collaborator" || kind == "internal" {
			ev = logger.Ctx(ctx).Error()
		}
		ev.Err(err).Str("order", orderID).Str("action", string(in.Action)).Str("kind", kind).Msg("advance did not complete")
	}
	if o != nil {
		span.SetAttributes(attribute.String("order.stage", string(o.Stage)))
	}
	return o, err
}

func (s *LetterApplicationService) advance(ctx context.Context, orderID string, in *AdvanceInput) (*domain.Order, error) {
	if orderID == "" {
		switch in.Action {
		case ActionStartNew:
			return s.startNew(ctx, nil, in)
		case ActionSubmitAddresses:
			return s.create(ctx, in)
		}
		return nil, &domain.ValidationError{Field: "order_id", Reason: "is required for " + string(in.Action)}
	}

	unlock, err := s.Locker.Lock(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.Orders.FindByID(ctx, orderID)
	if err != nil {
		if in.Action == ActionStartNew && errors.Is(err, domain.ErrOrderNotFound) {
			return s.startNew(ctx, nil, in)
		}
		return nil, err
	}
	if in.Action == ActionStartNew {
		return s.startNew(ctx, current, in)
	}

	o := current.Clone()
	work, cancel := context.WithTimeout(ctx, s.ProcessingTimeout)
	dirty, err := s.dispatch(work, o, in)
	cancel()
	if !dirty {
		return current, err
	}
	if saveErr := s.save(ctx, current.Stage, o); saveErr != nil {
		return current, saveErr
	}
	return o, err
}

// create 处理第一次提交地址：校验通过后才分配 ID 并持久化。
func (s *LetterApplicationService) create(ctx context.Context, in *AdvanceInput) (*domain.Order, error) {
	o := domain.NewOrder(s.newID(), s.now())
	work, cancel := context.WithTimeout(ctx, s.ProcessingTimeout)
	defer cancel()
	if _, err := s.submitAddresses(work, o, in); err != nil {
		return nil, err
	}
	if err := s.save(ctx, domain.StageAddressCapture, o); err != nil {
		return nil, err
	}
	logger.Ctx(ctx).Info().Str("order", o.ID).Str("tier", string(o.Tier)).Msg("order session created")
	return o, nil
}

// save 持久化订单。协作者的副作用（例如已提交的邮寄）此时已经发生，
// 因此保存不受处理超时和请求取消的影响，只受 persistTimeout 约束。
func (s *LetterApplicationService) save(ctx context.Context, from domain.Stage, o *domain.Order) error {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.Orders.Save(pctx, o); err != nil {
		return err
	}
	if from != o.Stage {
		stageTransitions.WithLabelValues(string(from), string(o.Stage)).Inc()
		logger.Ctx(ctx).Info().Str("order", o.ID).Str("from", string(from)).Str("stage", string(o.Stage)).Msg("stage changed")
	}
	if s.Observer != nil {
		s.Observer.OrderChanged(ctx, o)
	}
	return nil
}

// dispatch 在订单副本上执行一个操作，dirty 表示副本需要持久化。
func (s *LetterApplicationService) dispatch(ctx context.Context, o *domain.Order, in *AdvanceInput) (dirty bool, err error) {
	now := s.now()
	switch in.Action {
	case ActionSubmitAddresses:
		return s.submitAddresses(ctx, o, in)
	case ActionEditAddresses:
		return changed(o.ReopenAddresses(now))
	case ActionSubmitSignature:
		return s.submitSignature(ctx, o, in)
	case ActionConfirmPayment:
		if in.Kind == CheckoutKindOverage {
			return s.confirmOverage(ctx, o, in)
		}
		return s.confirmPayment(ctx, o, in)
	case ActionCorrectSender:
		if in.Sender == nil {
			return false, &domain.ValidationError{Field: "sender", Reason: "is required"}
		}
		return changed(o.CorrectSender(*in.Sender, now))
	case ActionSubmitAudio:
		return s.submitAudio(ctx, o, in)
	case ActionResolveOverage:
		return s.resolveOverage(ctx, o, in)
	case ActionRetryTranscription:
		if o.Stage == domain.StageRecording && o.Audio == nil {
			return false, &domain.ValidationError{Field: "audio", Reason: "no recording to transcribe"}
		}
		if err := o.StartTranscription(now); err != nil {
			return false, err
		}
		return true, s.transcribe(ctx, o)
	case ActionEditText:
		return changed(o.EditText(in.Text, now))
	case ActionPolish:
		return s.polish(ctx, o, in)
	case ActionApprove:
		if err := o.Approve(in.Text, now); err != nil {
			return false, err
		}
		return true, s.finalize(ctx, o)
	case ActionReRecord:
		return changed(o.ReRecord(now))
	case ActionFinalize:
		if o.Stage != domain.StageFinalizing {
			return false, domain.InvalidAction(o.Stage, string(in.Action))
		}
		return true, s.finalize(ctx, o)
	}
	return false, &domain.ValidationError{Field: "action", Reason: "unknown action " + string(in.Action)}
}

func changed(err error) (bool, error) {
	return err == nil, err
}

func (s *LetterApplicationService) submitAddresses(ctx context.Context, o *domain.Order, in *AdvanceInput) (bool, error) {
	if in.Sender == nil {
		return false, &domain.ValidationError{Field: "sender", Reason: "is required"}
	}
	tier, err := domain.ParseTier(in.Tier)
	if err != nil {
		return false, err
	}
	if err := o.AcceptAddresses(tier, *in.Sender, in.Recipient, in.Language, s.now()); err != nil {
		return false, err
	}
	if in.Email != "" && s.Accounts != nil && o.AccountID == "" {
		acct, err := s.Accounts.CreateOrGet(ctx, in.Email)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("order", o.ID).Str("collaborator", "account-store").
				Msg("account lookup failed, continuing as guest")
		} else {
			o.AccountID = acct.ID
			o.Email = acct.Email
		}
	}
	return true, nil
}

func (s *LetterApplicationService) submitSignature(ctx context.Context, o *domain.Order, in *AdvanceInput) (bool, error) {
	now := s.now()
	var tier domain.Tier
	if in.Tier != "" {
		t, err := domain.ParseTier(in.Tier)
		if err != nil {
			return false, err
		}
		tier = t
	}

	// 重复提交：会话已创建且等级未变，直接返回现有会话。
	if o.Stage == domain.StagePaymentPending && (tier == "" || tier == o.Tier) {
		return false, nil
	}
	if err := o.ChooseTier(tier, now); err != nil {
		return false, err
	}
	if err := o.AttachSignature(in.SignatureRef, now); err != nil {
		return false, err
	}

	price, err := s.Policy.PriceOf(o.Tier)
	if err != nil {
		return false, err
	}
	key := pricing.CheckoutKey(o.Tier, price)

	session, err := s.Checkout.CreateSession(ctx, port.CheckoutRequest{
		OrderID:        o.ID,
		Description:    fmt.Sprintf("VerbaPost %s letter", o.Tier),
		AmountCents:    price,
		ReturnURL:      s.returnURL(o.ID, ""),
		CancelURL:      s.cancelURL(o.ID),
		IdempotencyKey: providerKey(o.ID, key),
	})
	if err != nil {
		// 签名已经有效，保存它，订单停留在 SignatureCapture 以便重试。
		return true, &domain.CollaboratorError{Collaborator: "checkout", Op: "create_session", Err: err}
	}
	return changed(o.OpenCheckout(domain.CheckoutSession{
		SessionID:      session.SessionID,
		URL:            session.URL,
		IdempotencyKey: key,
		AmountCents:    price,
	}, now))
}

// confirmPayment 对收银台状态做一次查询。已确认的订单直接返回，不再查询。
func (s *LetterApplicationService) confirmPayment(ctx context.Context, o *domain.Order, in *AdvanceInput) (bool, error) {
	if o.PaymentConfirmed() {
		return false, nil
	}
	if o.Stage != domain.StagePaymentPending || o.Checkout == nil {
		return false, domain.InvalidAction(o.Stage, string(in.Action))
	}
	if in.SessionID != "" && in.SessionID != o.Checkout.SessionID {
		return false, &domain.ValidationError{Field: "session_id", Reason: "does not belong to this order"}
	}

	status, err := s.Checkout.CheckStatus(ctx, o.Checkout.SessionID)
	if err != nil {
		return false, &domain.CollaboratorError{Collaborator: "checkout", Op: "check_status", Err: err}
	}
	if status != port.PaymentPaid {
		return false, domain.ErrPaymentUnconfirmed
	}
	return changed(o.ConfirmPayment(s.now()))
}

func (s *LetterApplicationService) confirmOverage(ctx context.Context, o *domain.Order, in *AdvanceInput) (bool, error) {
	if o.OverageCheckout == nil || !o.OverageAgreed || o.Stage != domain.StageRecording {
		if o.OverageCheckout.Confirmed() {
			return false, nil
		}
		return false, domain.InvalidAction(o.Stage, "confirm_overage_payment")
	}
	if !o.OverageCheckout.Confirmed() {
		if in.SessionID != "" && in.SessionID != o.OverageCheckout.SessionID {
			return false, &domain.ValidationError{Field: "session_id", Reason: "does not belong to this order"}
		}
		status, err := s.Checkout.CheckStatus(ctx, o.OverageCheckout.SessionID)
		if err != nil {
			return false, &domain.CollaboratorError{Collaborator: "checkout", Op: "check_status", Err: err}
		}
		if status != port.PaymentPaid {
			return false, domain.ErrPaymentUnconfirmed
		}
		if err := o.ConfirmOveragePayment(s.now()); err != nil {
			return false, err
		}
	}
	if o.Audio == nil || !o.ReadyForTranscription() {
		return true, nil
	}
	if err := o.StartTranscription(s.now()); err != nil {
		return true, err
	}
	return true, s.transcribe(ctx, o)
}

func (s *LetterApplicationService) submitAudio(ctx context.Context, o *domain.Order, in *AdvanceInput) (bool, error) {
	if in.Audio == nil || in.Audio.Ref == "" {
		return false, &domain.ValidationError{Field: "audio", Reason: "is required"}
	}
	if o.Stage != domain.StageRecording {
		return false, domain.InvalidAction(o.Stage, string(in.Action))
	}
	if in.Audio.SizeBytes < s.Policy.MinAudioBytes() {
		return false, &domain.ValidationError{Field: "audio", Reason: "recording too short"}
	}

	exceeds, err := s.Policy.ExceedsAllowance(o.Tier, in.Audio.DurationSeconds, in.Audio.SizeBytes)
	if err != nil {
		return false, err
	}
	if err := o.CaptureAudio(domain.AudioCapture{
		Ref:              in.Audio.Ref,
		Filename:         in.Audio.Filename,
		DurationSeconds:  in.Audio.DurationSeconds,
		SizeBytes:        in.Audio.SizeBytes,
		ExceedsAllowance: exceeds,
	}, s.now()); err != nil {
		return false, err
	}
	if o.Stage != domain.StageTranscribing {
		logger.Ctx(ctx).Info().Str("order", o.ID).Float64("seconds", in.Audio.DurationSeconds).
			Int64("bytes", in.Audio.SizeBytes).Msg("recording exceeds allowance, awaiting overage decision")
		return true, nil
	}
	return true, s.transcribe(ctx, o)
}

func (s *LetterApplicationService) resolveOverage(ctx context.Context, o *domain.Order, in *AdvanceInput) (bool, error) {
	if in.AcceptOverage == nil {
		return false, &domain.ValidationError{Field: "accept_overage", Reason: "is required"}
	}
	now := s.now()
	if !*in.AcceptOverage {
		if o.Audio == nil {
			return false, domain.InvalidAction(o.Stage, "discard_audio")
		}
		return changed(o.DiscardAudio(now))
	}
	if o.AwaitingOveragePayment() {
		return false, nil
	}
	if err := o.AgreeOverage(now); err != nil {
		return false, err
	}

	fee := s.Policy.OverageFee()
	if fee > 0 && !o.OverageCheckout.Confirmed() {
		key := pricing.OverageKey(o.Tier, fee)
		session := domain.CheckoutSession{IdempotencyKey: key, AmountCents: fee}
		if o.OverageCheckout != nil && o.OverageCheckout.IdempotencyKey == key {
			session = *o.OverageCheckout
		} else {
			created, err := s.Checkout.CreateSession(ctx, port.CheckoutRequest{
				OrderID:        o.ID,
				Description:    "VerbaPost extended recording",
				AmountCents:    fee,
				ReturnURL:      s.returnURL(o.ID, CheckoutKindOverage),
				CancelURL:      s.cancelURL(o.ID),
				IdempotencyKey: providerKey(o.ID, key),
			})
			if err != nil {
				// 不保存 OverageAgreed：没有会话时不能放行转写。
				return false, &domain.CollaboratorError{Collaborator: "checkout", Op: "create_session", Err: err}
			}
			session.SessionID = created.SessionID
			session.URL = created.URL
		}
		return changed(o.AttachOverageCheckout(session, now))
	}

	if err := o.StartTranscription(now); err != nil {
		return false, err
	}
	return true, s.transcribe(ctx, o)
}

// transcribe 在 Transcribing 阶段同步调用转写服务，失败时订单回到 Recording 并保留录音。
func (s *LetterApplicationService) transcribe(ctx context.Context, o *domain.Order) error {
	ctx, span := s.Tracer.Start(ctx, "app.Transcribe")
	defer span.End()

	fail := func(op string, err error) error {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		cerr := &domain.CollaboratorError{Collaborator: "transcription", Op: op, Err: err}
		if ferr := o.FailTranscription(cerr.Error(), s.now()); ferr != nil {
			return ferr
		}
		return cerr
	}

	audio, err := s.readBlob(ctx, o.Audio.Ref)
	if err != nil {
		return fail("read_audio", err)
	}
	text, err := s.Transcriber.Transcribe(ctx, audio, o.Audio.Filename, o.Language)
	if err != nil {
		return fail("transcribe", err)
	}
	if text == "" {
		return fail("transcribe", errors.New("no speech recognised"))
	}
	span.SetAttributes(attribute.Int("transcript.length", len(text)))
	return o.CompleteTranscription(text, s.now())
}

func (s *LetterApplicationService) readBlob(ctx context.Context, ref string) ([]byte, error) {
	rc, err := s.Blobs.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *LetterApplicationService) polish(ctx context.Context, o *domain.Order, in *AdvanceInput) (bool, error) {
	if o.Stage != domain.StageEditing {
		return false, domain.InvalidAction(o.Stage, string(in.Action))
	}
	text := in.Text
	if text == "" {
		text = o.Transcript
	}
	if text == "" {
		return false, &domain.ValidationError{Field: "text", Reason: "nothing to polish"}
	}
	polished, err := s.Transcriber.Polish(ctx, text, o.Language)
	if err != nil {
		return false, &domain.CollaboratorError{Collaborator: "transcription", Op: "polish", Err: err}
	}
	return changed(o.EditText(polished, s.now()))
}

// finalize 执行定稿责任链。链中的步骤直接修改订单，无论成功与否都需要保存。
func (s *LetterApplicationService) finalize(ctx context.Context, o *domain.Order) error {
	fc := &saga.FinalizeContext{
		Ctx:       ctx,
		Order:     o,
		Tracer:    s.Tracer,
		Now:       s.now,
		Directory: s.Directory,
		Assembler: s.Assembler,
		Blobs:     s.Blobs,
		Accounts:  s.Accounts,
		Events:    s.Events,
	}
	err := saga.NewFinalizeChain().Handle(fc)

	for _, d := range o.Deliveries {
		switch {
		case d.Mailed:
			lettersMailed.WithLabelValues(string(o.Tier), "mailed").Inc()
		case d.MailError != "":
			lettersMailed.WithLabelValues(string(o.Tier), "mail_failed").Inc()
		case d.RenderError != "":
			lettersMailed.WithLabelValues(string(o.Tier), "render_failed").Inc()
		}
	}
	if fc.Partial != nil {
		logger.Ctx(ctx).Warn().Str("order", o.ID).Err(fc.Partial).Msg("letter completed with failed recipients")
	}
	return err
}

// startNew 返回一个未保存的新草稿，寄件人预填为账号保存的地址。
// 尚未定稿的当前订单会被删除；已进入 Finalizing 的订单（包括等待人工寄送的
// Heirloom 订单）保留在仓储中，只是不再作为用户的当前订单。
func (s *LetterApplicationService) startNew(ctx context.Context, current *domain.Order, in *AdvanceInput) (*domain.Order, error) {
	draft := domain.NewOrder("", s.now())
	accountID := ""
	if current != nil {
		if retained(current) {
			logger.Ctx(ctx).Info().Str("order", current.ID).Str("stage", string(current.Stage)).Msg("order kept, starting a new letter")
		} else if err := s.Orders.Delete(ctx, current.ID); err != nil {
			return current, err
		}
		accountID = current.AccountID
		draft.Email = current.Email
		draft.Language = current.Language
	}
	if s.Accounts == nil {
		return draft, nil
	}
	if accountID == "" && in.Email != "" {
		acct, err := s.Accounts.CreateOrGet(ctx, in.Email)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("collaborator", "account-store").Msg("account lookup failed")
			return draft, nil
		}
		accountID = acct.ID
		draft.Email = acct.Email
	}
	if accountID == "" {
		return draft, nil
	}
	saved, err := s.Accounts.GetSavedAddress(ctx, accountID)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("collaborator", "account-store").Msg("saved address unavailable")
		return draft, nil
	}
	if saved != nil {
		draft.Sender = *saved
	}
	return draft, nil
}

// retained 报告订单是否已有用户付费后的工作在进行或待履约，不能被 start_new 删除。
func retained(o *domain.Order) bool {
	return o.Stage.Reached(domain.StageFinalizing) || o.Fulfilment == domain.FulfilmentQueued
}

// GetOrderState 根据恢复令牌读取订单。
func (s *LetterApplicationService) GetOrderState(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := s.Tracer.Start(ctx, "app.GetOrderState", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()
	return s.Orders.FindByID(ctx, orderID)
}

// ListHeirloomQueue 返回等待人工寄送的 Heirloom 订单。
func (s *LetterApplicationService) ListHeirloomQueue(ctx context.Context) ([]*domain.Order, error) {
	ctx, span := s.Tracer.Start(ctx, "app.ListHeirloomQueue")
	defer span.End()
	return s.Orders.ListByFulfilment(ctx, domain.TierHeirloom, domain.FulfilmentQueued)
}

// MarkHeirloomSent 记录人工寄送完成。
func (s *LetterApplicationService) MarkHeirloomSent(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := s.Tracer.Start(ctx, "app.MarkHeirloomSent", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	unlock, err := s.Locker.Lock(ctx, orderID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	current, err := s.Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	o := current.Clone()
	if err := o.MarkSent(s.now()); err != nil {
		return current, err
	}
	if err := s.save(ctx, current.Stage, o); err != nil {
		return current, err
	}
	logger.Ctx(ctx).Info().Str("order", o.ID).Msg("heirloom letter marked as sent")
	return o, nil
}

// OpenDownload 打开可供下载的文档：多份文档时是压缩包，否则是唯一的 PDF。
func (s *LetterApplicationService) OpenDownload(ctx context.Context, orderID string) (io.ReadCloser, string, error) {
	o, err := s.Orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, "", err
	}
	ref, name := downloadRef(o)
	if ref == "" {
		return nil, "", domain.ErrNoArtifacts
	}
	rc, err := s.Blobs.Open(ctx, ref)
	if err != nil {
		return nil, "", &domain.CollaboratorError{Collaborator: "blob-store", Op: "open", Err: err}
	}
	return rc, name, nil
}

func downloadRef(o *domain.Order) (ref, name string) {
	artifacts := o.Artifacts()
	switch {
	case len(artifacts) == 0:
		return "", ""
	case len(artifacts) == 1:
		return artifacts[0].DocumentRef, artifacts[0].Recipient.DocumentName
	case o.ArchiveRef != "" && o.ArchivedCount == len(artifacts):
		if o.Tier == domain.TierCivic {
			return o.ArchiveRef, "Civic.zip"
		}
		return o.ArchiveRef, "letters.zip"
	}
	return "", ""
}

// Describe 把订单转换为对外的状态快照。
func (s *LetterApplicationService) Describe(o *domain.Order) *OrderState {
	st := &OrderState{
		OrderID:          o.ID,
		Stage:            o.Stage,
		Tier:             o.Tier,
		Language:         o.Language,
		Email:            o.Email,
		Sender:           o.Sender,
		Recipient:        o.Recipient,
		HasSignature:     o.SignatureRef != "",
		PaymentConfirmed: o.PaymentConfirmed(),
		Transcript:       o.Transcript,
		Fulfilment:       string(o.Fulfilment),
		LastError:        o.LastError,
		AllowedActions:   allowedActions(o),
		Version:          o.Version,
		UpdatedAt:        o.UpdatedAt,
	}
	if o.Tier != "" {
		if price, err := s.Policy.PriceOf(o.Tier); err == nil {
			st.PriceCents = price
			st.Price = pricing.FormatCents(price)
		}
	}
	if o.Checkout != nil {
		st.CheckoutURL = o.Checkout.URL
		st.PriceCents = o.Checkout.AmountCents
		st.Price = pricing.FormatCents(o.Checkout.AmountCents)
	}
	if o.Audio != nil {
		st.Audio = &AudioView{
			Filename:         o.Audio.Filename,
			DurationSeconds:  o.Audio.DurationSeconds,
			SizeBytes:        o.Audio.SizeBytes,
			ExceedsAllowance: o.Audio.ExceedsAllowance,
		}
	}
	st.AwaitingOverageDecision = o.AwaitingOverageDecision()
	st.AwaitingOveragePayment = o.AwaitingOveragePayment()
	if st.AwaitingOverageDecision || st.AwaitingOveragePayment {
		st.OverageFee = pricing.FormatCents(s.Policy.OverageFee())
	}
	if st.AwaitingOveragePayment {
		st.OverageCheckoutURL = o.OverageCheckout.URL
	}

	byKey := make(map[string]domain.Delivery, len(o.Deliveries))
	for _, d := range o.Deliveries {
		byKey[d.Recipient.Key] = d
	}
	for _, r := range o.Recipients {
		d := byKey[r.Key]
		view := RecipientView{
			Name:         r.Name,
			Title:        r.Title,
			DocumentName: r.DocumentName,
			Rendered:     d.DocumentRef != "",
			Mailed:       d.Mailed,
			Confirmation: d.Confirmation,
			Error:        d.RenderError,
		}
		if view.Error == "" {
			view.Error = d.MailError
		}
		st.Recipients = append(st.Recipients, view)
	}
	ref, _ := downloadRef(o)
	st.Download = ref != ""
	return st
}

func (s *LetterApplicationService) returnURL(orderID, kind string) string {
	u := s.PublicBaseURL + "/checkout/return?order_id=" + url.QueryEscape(orderID) + "&session_id={CHECKOUT_SESSION_ID}"
	if kind != "" {
		u += "&kind=" + url.QueryEscape(kind)
	}
	return u
}

// providerKey 把订单内的幂等键限定到订单范围，支付服务的幂等键是全账号唯一的。
func providerKey(orderID, key string) string {
	return orderID + "-" + key
}

func (s *LetterApplicationService) cancelURL(orderID string) string {
	return s.PublicBaseURL + "/checkout/cancel?order_id=" + url.QueryEscape(orderID)
}

func errorKind(err error) string {
	var (
		verr *domain.ValidationError
		cerr *domain.CollaboratorError
		ferr *domain.FatalRenderError
	)
	switch {
	case errors.Is(err, domain.ErrPaymentUnconfirmed):
		return "payment_unconfirmed"
	case errors.As(err, &verr):
		return "validation"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, domain.ErrOrderNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrVersionConflict), errors.Is(err, domain.ErrLockTimeout):
		return "conflict"
	case errors.As(err, &ferr):
		return "fatal_render"
	case errors.Is(err, domain.ErrNoRecipients):
		return "no_recipients"
	case errors.As(err, &cerr):
		return "collaborator"
	}
	return "internal"
}
