package application

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"verbapost/internal/pkg/blob"
	"verbapost/internal/service/order/application/fanout"
	"verbapost/internal/service/order/application/pricing"
	"verbapost/internal/service/order/domain"
	"verbapost/internal/service/order/domain/port"
	"verbapost/internal/service/order/infrastructure"
)

type fakeCheckout struct {
	mu        sync.Mutex
	created   []port.CheckoutRequest
	checks    int
	paid      map[string]bool
	createErr error
}

func (f *fakeCheckout) CreateSession(_ context.Context, req port.CheckoutRequest) (*port.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	id := fmt.Sprintf("cs_%d", len(f.created))
	return &port.CheckoutSession{SessionID: id, URL: "https://pay.example/" + id}, nil
}

func (f *fakeCheckout) CheckStatus(_ context.Context, sessionID string) (port.PaymentStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checks++
	if f.paid[sessionID] {
		return port.PaymentPaid, nil
	}
	return port.PaymentUnpaid, nil
}

func (f *fakeCheckout) pay(sessionID string) {
	f.mu.Lock()
	f.paid[sessionID] = true
	f.mu.Unlock()
}

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio []byte, _, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if len(audio) == 0 {
		return "", errors.New("empty audio")
	}
	return f.text, nil
}

func (f *fakeTranscriber) Polish(_ context.Context, text, _ string) (string, error) {
	return strings.TrimSpace(text) + ".", nil
}

type fakeDirectory struct {
	reps []port.Representative
}

func (f *fakeDirectory) Lookup(context.Context, domain.Address) ([]port.Representative, error) {
	return f.reps, nil
}

type blobRenderer struct {
	blobs port.BlobStore
}

func (r *blobRenderer) Render(ctx context.Context, req port.RenderRequest) (string, error) {
	return r.blobs.Put(ctx, "orders/"+req.OrderID+"/"+req.DocumentName, strings.NewReader("%PDF "+req.RecipientBlock))
}

type fakeMailer struct {
	mu     sync.Mutex
	calls  int
	failOn map[string]bool
}

func (f *fakeMailer) Submit(_ context.Context, req port.MailRequest) (*port.MailConfirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failOn[req.To.Name] {
		return nil, errors.New("undeliverable")
	}
	return &port.MailConfirmation{ID: "ltr_" + req.To.Name}, nil
}

type fakeEvents struct {
	mu        sync.Mutex
	finalized []*domain.LetterFinalized
	heirloom  []*domain.HeirloomQueued
}

func (f *fakeEvents) PublishFinalized(_ context.Context, e *domain.LetterFinalized) error {
	f.mu.Lock()
	f.finalized = append(f.finalized, e)
	f.mu.Unlock()
	return nil
}

func (f *fakeEvents) PublishHeirloomQueued(_ context.Context, e *domain.HeirloomQueued) error {
	f.mu.Lock()
	f.heirloom = append(f.heirloom, e)
	f.mu.Unlock()
	return nil
}

type recordingObserver struct {
	mu     sync.Mutex
	stages []domain.Stage
}

func (r *recordingObserver) OrderChanged(_ context.Context, o *domain.Order) {
	r.mu.Lock()
	r.stages = append(r.stages, o.Stage)
	r.mu.Unlock()
}

type harness struct {
	svc         *LetterApplicationService
	orders      *infrastructure.MemoryOrderRepository
	accounts    *infrastructure.MemoryAccountStore
	blobs       *blob.FileStore
	checkout    *fakeCheckout
	transcriber *fakeTranscriber
	directory   *fakeDirectory
	mailer      *fakeMailer
	events      *fakeEvents
	observer    *recordingObserver
}

func newHarness(t *testing.T, overageCents int64) *harness {
	t.Helper()
	blobs, err := blob.NewFileStore(t.TempDir())
	require.NoError(t, err)
	policy, err := pricing.NewPolicy(pricing.Config{
		StandardCents:   299,
		HeirloomCents:   599,
		CivicCents:      699,
		OverageCents:    overageCents,
		IncludedSeconds: 180,
		IncludedBytes:   5 << 20,
		MinAudioBytes:   4,
	})
	require.NoError(t, err)

	tracer := noop.NewTracerProvider().Tracer("test")
	h := &harness{
		orders:      infrastructure.NewMemoryOrderRepository(),
		accounts:    infrastructure.NewMemoryAccountStore(),
		blobs:       blobs,
		checkout:    &fakeCheckout{paid: map[string]bool{}},
		transcriber: &fakeTranscriber{text: "Dear Rose, the garden is blooming"},
		directory:   &fakeDirectory{},
		mailer:      &fakeMailer{},
		events:      &fakeEvents{},
		observer:    &recordingObserver{},
	}
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var ids int
	h.svc = NewLetterApplicationService(Deps{
		Orders:        h.orders,
		Accounts:      h.accounts,
		Locker:        infrastructure.NewMemoryLocker(time.Second),
		Blobs:         blobs,
		Checkout:      h.checkout,
		Transcriber:   h.transcriber,
		Directory:     h.directory,
		Assembler:     fanout.NewAssembler(&blobRenderer{blobs: blobs}, h.mailer, tracer, fanout.WithConcurrency(2)),
		Events:        h.events,
		Observer:      h.observer,
		Policy:        policy,
		Tracer:        tracer,
		PublicBaseURL: "https://verbapost.example",
	},
		WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("order-%d", ids)
		}),
	)
	return h
}

func senderAddr() *domain.Address {
	return &domain.Address{Name: "Ann Voter", Street: "1 Main St", City: "Nashville", State: "TN", Zip: "37201"}
}

func recipientAddr() *domain.Address {
	return &domain.Address{Name: "Grandma Rose", Street: "9 Elm St", City: "Albany", State: "NY", Zip: "12207"}
}

func (h *harness) advance(t *testing.T, id string, in *AdvanceInput) *domain.Order {
	t.Helper()
	o, err := h.svc.Advance(context.Background(), id, in)
	require.NoError(t, err)
	return o
}

// toRecording 创建订单、提交签名并完成支付。
func (h *harness) toRecording(t *testing.T, tier domain.Tier) *domain.Order {
	t.Helper()
	in := &AdvanceInput{Action: ActionSubmitAddresses, Tier: string(tier), Email: "ann@example.com", Sender: senderAddr()}
	if tier != domain.TierCivic {
		in.Recipient = recipientAddr()
	}
	o := h.advance(t, "", in)
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionSubmitSignature})
	require.Equal(t, domain.StagePaymentPending, o.Stage)
	h.checkout.pay(o.Checkout.SessionID)
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionConfirmPayment, SessionID: o.Checkout.SessionID})
	require.Equal(t, domain.StageRecording, o.Stage)
	return o
}

func (h *harness) audio(t *testing.T, id string, seconds float64) *AudioUpload {
	t.Helper()
	ref, err := h.blobs.Put(context.Background(), "orders/"+id+"/audio/take.webm", bytes.NewReader([]byte("webm-bytes")))
	require.NoError(t, err)
	return &AudioUpload{Ref: ref, Filename: "take.webm", DurationSeconds: seconds, SizeBytes: 10}
}

func (h *harness) toEditing(t *testing.T, tier domain.Tier) *domain.Order {
	t.Helper()
	o := h.toRecording(t, tier)
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionSubmitAudio, Audio: h.audio(t, o.ID, 42)})
	require.Equal(t, domain.StageEditing, o.Stage)
	return o
}

func TestStandardLetterEndToEnd(t *testing.T) {
	h := newHarness(t, 100)
	o := h.toEditing(t, domain.TierStandard)
	require.Equal(t, "Dear Rose, the garden is blooming", o.Transcript)

	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionPolish})
	require.Equal(t, "Dear Rose, the garden is blooming.", o.Transcript)

	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionApprove})
	require.Equal(t, domain.StageComplete, o.Stage)
	require.Equal(t, domain.FulfilmentMailed, o.Fulfilment)
	require.Equal(t, 1, h.mailer.calls)
	require.Len(t, h.events.finalized, 1)
	require.Equal(t, []string{"Grandma Rose"}, h.events.finalized[0].Mailed)

	saved, err := h.accounts.GetSavedAddress(context.Background(), o.AccountID)
	require.NoError(t, err)
	require.Equal(t, "37201", saved.Zip)

	rc, name, err := h.svc.OpenDownload(context.Background(), o.ID)
	require.NoError(t, err)
	defer rc.Close()
	require.Equal(t, "Grandma_Rose.pdf", name)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(data, []byte("%PDF")))

	require.Equal(t, domain.StageComplete, h.observer.stages[len(h.observer.stages)-1])
}

func TestCreateRejectsInvalidAddressWithoutPersisting(t *testing.T) {
	h := newHarness(t, 100)
	bad := recipientAddr()
	bad.State = "TN"
	bad.Zip = "10001"

	o, err := h.svc.Advance(context.Background(), "", &AdvanceInput{
		Action: ActionSubmitAddresses, Tier: "standard", Sender: senderAddr(), Recipient: bad,
	})
	require.Nil(t, o)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "NY", verr.Expected)
	require.Empty(t, h.observer.stages)
}

func TestSignatureResubmissionReusesCheckout(t *testing.T) {
	h := newHarness(t, 100)
	o := h.advance(t, "", &AdvanceInput{Action: ActionSubmitAddresses, Tier: "STANDARD", Sender: senderAddr(), Recipient: recipientAddr()})

	first := h.advance(t, o.ID, &AdvanceInput{Action: ActionSubmitSignature})
	second := h.advance(t, o.ID, &AdvanceInput{Action: ActionSubmitSignature})

	require.Len(t, h.checkout.created, 1)
	require.Equal(t, first.Checkout.SessionID, second.Checkout.SessionID)
	require.Equal(t, int64(299), h.checkout.created[0].AmountCents)
	require.True(t, strings.HasPrefix(h.checkout.created[0].IdempotencyKey, o.ID+"-"))
	require.Contains(t, h.checkout.created[0].ReturnURL, "order_id="+o.ID)
	require.Contains(t, h.checkout.created[0].ReturnURL, "{CHECKOUT_SESSION_ID}")
}

func TestCheckoutFailureKeepsSignature(t *testing.T) {
	h := newHarness(t, 100)
	o := h.advance(t, "", &AdvanceInput{Action: ActionSubmitAddresses, Tier: "STANDARD", Sender: senderAddr(), Recipient: recipientAddr()})
	h.checkout.createErr = errors.New("stripe unavailable")

	got, err := h.svc.Advance(context.Background(), o.ID, &AdvanceInput{Action: ActionSubmitSignature, SignatureRef: "orders/x/signature.png"})
	var cerr *domain.CollaboratorError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "checkout", cerr.Collaborator)
	require.Equal(t, domain.StageSignatureCapture, got.Stage)

	stored, err := h.orders.FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, "orders/x/signature.png", stored.SignatureRef)

	h.checkout.createErr = nil
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionSubmitSignature, SignatureRef: "orders/x/signature.png"})
	require.Equal(t, domain.StagePaymentPending, o.Stage)
}

func TestConfirmPaymentUnpaidThenNoopAfterConfirmation(t *testing.T) {
	h := newHarness(t, 100)
	o := h.advance(t, "", &AdvanceInput{Action: ActionSubmitAddresses, Tier: "HEIRLOOM", Sender: senderAddr(), Recipient: recipientAddr()})
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionSubmitSignature})

	got, err := h.svc.Advance(context.Background(), o.ID, &AdvanceInput{Action: ActionConfirmPayment})
	require.ErrorIs(t, err, domain.ErrPaymentUnconfirmed)
	require.Equal(t, domain.StagePaymentPending, got.Stage)

	_, err = h.svc.Advance(context.Background(), o.ID, &AdvanceInput{Action: ActionConfirmPayment, SessionID: "cs_other"})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	h.checkout.pay(o.Checkout.SessionID)
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionConfirmPayment})
	require.Equal(t, domain.StageRecording, o.Stage)
	checks := h.checkout.checks

	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionConfirmPayment})
	require.Equal(t, domain.StageRecording, o.Stage)
	require.Equal(t, checks, h.checkout.checks)
}

func TestActionNotAllowedInStage(t *testing.T) {
	h := newHarness(t, 100)
	o := h.advance(t, "", &AdvanceInput{Action: ActionSubmitAddresses, Tier: "STANDARD", Sender: senderAddr(), Recipient: recipientAddr()})

	got, err := h.svc.Advance(context.Background(), o.ID, &AdvanceInput{Action: ActionConfirmPayment})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	require.Equal(t, domain.StageSignatureCapture, got.Stage)

	_, err = h.svc.Advance(context.Background(), "missing", &AdvanceInput{Action: ActionApprove})
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestOverageRequiresDecisionAndPayment(t *testing.T) {
	h := newHarness(t, 100)
	o := h.toRecording(t, domain.TierStandard)

	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionSubmitAudio, Audio: h.audio(t, o.ID, 400)})
	require.Equal(t, domain.StageRecording, o.Stage)
	require.True(t, o.AwaitingOverageDecision())
	require.Equal(t, []Action{ActionResolveOverage, ActionCorrectSender, ActionStartNew}, h.svc.Describe(o).AllowedActions)

	accept := true
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionResolveOverage, AcceptOverage: &accept})
	require.True(t, o.AwaitingOveragePayment())
	require.Len(t, h.checkout.created, 2)
	require.Equal(t, int64(100), h.checkout.created[1].AmountCents)
	require.Contains(t, h.checkout.created[1].ReturnURL, "kind=overage")

	_, err := h.svc.Advance(context.Background(), o.ID, &AdvanceInput{Action: ActionConfirmPayment, Kind: CheckoutKindOverage})
	require.ErrorIs(t, err, domain.ErrPaymentUnconfirmed)

	h.checkout.pay(o.OverageCheckout.SessionID)
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionConfirmPayment, Kind: CheckoutKindOverage})
	require.Equal(t, domain.StageEditing, o.Stage)

	// 重新录音后，已支付的附加费继续有效。
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionReRecord})
	require.Equal(t, domain.StageRecording, o.Stage)
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionSubmitAudio, Audio: h.audio(t, o.ID, 500)})
	require.True(t, o.AwaitingOverageDecision())
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionResolveOverage, AcceptOverage: &accept})
	require.Equal(t, domain.StageEditing, o.Stage)
	require.Len(t, h.checkout.created, 2)
}

func TestOverageDeclineDiscardsAudio(t *testing.T) {
	h := newHarness(t, 100)
	o := h.toRecording(t, domain.TierStandard)
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionSubmitAudio, Audio: h.audio(t, o.ID, 400)})

	decline := false
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionResolveOverage, AcceptOverage: &decline})
	require.Equal(t, domain.StageRecording, o.Stage)
	require.Nil(t, o.Audio)
}

func TestFreeOverageTranscribesImmediately(t *testing.T) {
	h := newHarness(t, 0)
	o := h.toRecording(t, domain.TierStandard)
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionSubmitAudio, Audio: h.audio(t, o.ID, 400)})
	require.True(t, o.AwaitingOverageDecision())

	accept := true
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionResolveOverage, AcceptOverage: &accept})
	require.Equal(t, domain.StageEditing, o.Stage)
	require.Len(t, h.checkout.created, 1)
}

func TestAudioTooShort(t *testing.T) {
	h := newHarness(t, 100)
	o := h.toRecording(t, domain.TierStandard)
	upload := h.audio(t, o.ID, 1)
	upload.SizeBytes = 2

	_, err := h.svc.Advance(context.Background(), o.ID, &AdvanceInput{Action: ActionSubmitAudio, Audio: upload})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "audio", verr.Field)
}

func TestTranscriptionFailureReturnsToRecording(t *testing.T) {
	h := newHarness(t, 100)
	o := h.toRecording(t, domain.TierStandard)
	h.transcriber.err = errors.New("whisper 503")

	got, err := h.svc.Advance(context.Background(), o.ID, &AdvanceInput{Action: ActionSubmitAudio, Audio: h.audio(t, o.ID, 30)})
	var cerr *domain.CollaboratorError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "transcription", cerr.Collaborator)
	require.Equal(t, domain.StageRecording, got.Stage)
	require.NotNil(t, got.Audio)
	require.NotEmpty(t, got.LastError)
	require.Contains(t, h.svc.Describe(got).AllowedActions, ActionRetryTranscription)

	h.transcriber.err = nil
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionRetryTranscription})
	require.Equal(t, domain.StageEditing, o.Stage)
	require.Empty(t, o.LastError)
}

func TestCivicPartialMailFailureCompletes(t *testing.T) {
	h := newHarness(t, 100)
	h.directory.reps = []port.Representative{
		rep("Marsha Blackburn", "U.S. Senator"),
		rep("Bill Hagerty", "U.S. Senator"),
		rep("Andy Ogles", "U.S. Representative"),
		rep("Marsha Blackburn", "U.S. Senator"),
	}
	h.mailer.failOn = map[string]bool{"Bill Hagerty": true}

	o := h.toEditing(t, domain.TierCivic)
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionApprove, Text: "Please fund the library."})

	require.Equal(t, domain.StageComplete, o.Stage)
	require.Len(t, o.Recipients, 3)
	require.Equal(t, 3, h.mailer.calls)
	require.Contains(t, o.LastError, "Bill Hagerty")
	require.Equal(t, 3, o.ArchivedCount)

	rc, name, err := h.svc.OpenDownload(context.Background(), o.ID)
	require.NoError(t, err)
	rc.Close()
	require.Equal(t, "Civic.zip", name)

	state := h.svc.Describe(o)
	require.True(t, state.Download)
	require.Len(t, state.Recipients, 3)
	require.False(t, state.Recipients[1].Mailed)
	require.Equal(t, "undeliverable", state.Recipients[1].Error)
}

func TestCivicWithoutRepresentativesFails(t *testing.T) {
	h := newHarness(t, 100)
	o := h.toEditing(t, domain.TierCivic)

	got, err := h.svc.Advance(context.Background(), o.ID, &AdvanceInput{Action: ActionApprove})
	require.ErrorIs(t, err, domain.ErrNoRecipients)
	require.Equal(t, domain.StageFailed, got.Stage)

	stored, err := h.orders.FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StageFailed, stored.Stage)
	require.Zero(t, h.mailer.calls)
}

func TestStandardMailFailureCanBeRetried(t *testing.T) {
	h := newHarness(t, 100)
	h.mailer.failOn = map[string]bool{"Grandma Rose": true}
	o := h.toEditing(t, domain.TierStandard)

	got, err := h.svc.Advance(context.Background(), o.ID, &AdvanceInput{Action: ActionApprove})
	var cerr *domain.CollaboratorError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "mail", cerr.Collaborator)
	require.Equal(t, domain.StageFinalizing, got.Stage)

	h.mailer.failOn = nil
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionFinalize})
	require.Equal(t, domain.StageComplete, o.Stage)
	require.Equal(t, 2, h.mailer.calls)
}

func TestHeirloomQueue(t *testing.T) {
	h := newHarness(t, 100)
	o := h.toEditing(t, domain.TierHeirloom)
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionApprove})

	require.Equal(t, domain.StageComplete, o.Stage)
	require.Equal(t, domain.FulfilmentQueued, o.Fulfilment)
	require.Zero(t, h.mailer.calls)
	require.Len(t, h.events.heirloom, 1)
	require.NotEmpty(t, h.events.heirloom[0].DocumentRef)

	queue, err := h.svc.ListHeirloomQueue(context.Background())
	require.NoError(t, err)
	require.Len(t, queue, 1)

	sent, err := h.svc.MarkHeirloomSent(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.FulfilmentSent, sent.Fulfilment)

	queue, err = h.svc.ListHeirloomQueue(context.Background())
	require.NoError(t, err)
	require.Empty(t, queue)

	_, err = h.svc.MarkHeirloomSent(context.Background(), o.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestStartNewPrefillsSavedAddress(t *testing.T) {
	h := newHarness(t, 100)
	o := h.toEditing(t, domain.TierStandard)
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionApprove})

	draft := h.advance(t, o.ID, &AdvanceInput{Action: ActionStartNew})
	require.Empty(t, draft.ID)
	require.Equal(t, domain.StageAddressCapture, draft.Stage)
	require.Equal(t, "Nashville", draft.Sender.City)
	require.Equal(t, "ann@example.com", draft.Email)

	// 已完成的订单保留，新草稿不影响它。
	kept, err := h.svc.GetOrderState(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StageComplete, kept.Stage)

	fresh := h.advance(t, "", &AdvanceInput{Action: ActionStartNew, Email: "ann@example.com"})
	require.Equal(t, "1 Main St", fresh.Sender.Street)
}

func TestStartNewDiscardsUnfinishedOrder(t *testing.T) {
	h := newHarness(t, 100)
	o := h.toEditing(t, domain.TierStandard)

	draft := h.advance(t, o.ID, &AdvanceInput{Action: ActionStartNew})
	require.Equal(t, domain.StageAddressCapture, draft.Stage)

	_, err := h.svc.GetOrderState(context.Background(), o.ID)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestStartNewKeepsQueuedHeirloomOrder(t *testing.T) {
	h := newHarness(t, 100)
	o := h.toEditing(t, domain.TierHeirloom)
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionApprove})
	require.Equal(t, domain.FulfilmentQueued, o.Fulfilment)

	draft := h.advance(t, o.ID, &AdvanceInput{Action: ActionStartNew})
	require.Empty(t, draft.ID)

	queue, err := h.svc.ListHeirloomQueue(context.Background())
	require.NoError(t, err)
	require.Len(t, queue, 1)
	require.Equal(t, o.ID, queue[0].ID)

	sent, err := h.svc.MarkHeirloomSent(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.FulfilmentSent, sent.Fulfilment)
}

func TestEditAddressesBeforePayment(t *testing.T) {
	h := newHarness(t, 100)
	o := h.advance(t, "", &AdvanceInput{Action: ActionSubmitAddresses, Tier: "STANDARD", Sender: senderAddr(), Recipient: recipientAddr()})
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionEditAddresses})
	require.Equal(t, domain.StageAddressCapture, o.Stage)

	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionSubmitAddresses, Tier: "CIVIC", Sender: senderAddr()})
	require.Equal(t, domain.TierCivic, o.Tier)
	require.Nil(t, o.Recipient)
}

func TestDescribeShowsPrice(t *testing.T) {
	h := newHarness(t, 100)
	o := h.advance(t, "", &AdvanceInput{Action: ActionSubmitAddresses, Tier: "CIVIC", Sender: senderAddr()})
	st := h.svc.Describe(o)
	require.Equal(t, "$6.99", st.Price)
	require.Equal(t, []Action{ActionSubmitSignature, ActionEditAddresses, ActionStartNew}, st.AllowedActions)
	require.False(t, st.Download)
}

func rep(name, title string) port.Representative {
	return port.Representative{
		Name:    name,
		Title:   title,
		Address: domain.Address{Name: name, Street: "United States Capitol", City: "Washington", State: "DC", Zip: "20510"},
	}
}

// deadlineRepository 像 GORM 一样尊重 ctx：ctx 结束后拒绝写入。
type deadlineRepository struct {
	*infrastructure.MemoryOrderRepository
}

func (r deadlineRepository) Save(ctx context.Context, o *domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.MemoryOrderRepository.Save(ctx, o)
}

// slowMailer 在处理超时之后才返回成功，模拟已被服务端接受的慢请求。
type slowMailer struct {
	fakeMailer
	delay time.Duration
}

func (m *slowMailer) Submit(ctx context.Context, req port.MailRequest) (*port.MailConfirmation, error) {
	time.Sleep(m.delay)
	return m.fakeMailer.Submit(ctx, req)
}

func TestMailingRecordedWhenProcessingDeadlinePasses(t *testing.T) {
	h := newHarness(t, 100)
	o := h.toEditing(t, domain.TierStandard)

	mailer := &slowMailer{delay: 150 * time.Millisecond}
	h.svc.Orders = deadlineRepository{h.orders}
	h.svc.ProcessingTimeout = 50 * time.Millisecond
	h.svc.Assembler = fanout.NewAssembler(&blobRenderer{blobs: h.blobs}, mailer, noop.NewTracerProvider().Tracer("test"))

	_, _ = h.svc.Advance(context.Background(), o.ID, &AdvanceInput{Action: ActionApprove})
	require.Equal(t, 1, mailer.calls)

	stored, err := h.orders.FindByID(context.Background(), o.ID)
	require.NoError(t, err)
	require.True(t, stored.Stage.Reached(domain.StageFinalizing))
	require.Len(t, stored.Deliveries, 1)
	require.True(t, stored.Deliveries[0].Mailed)

	// 再次定稿不会重复邮寄
	if stored.Stage == domain.StageFinalizing {
		_, _ = h.svc.Advance(context.Background(), o.ID, &AdvanceInput{Action: ActionFinalize})
	}
	_, err = h.svc.Advance(context.Background(), o.ID, &AdvanceInput{Action: ActionApprove})
	require.Error(t, err)
	require.Equal(t, 1, mailer.calls)
}

func TestRoundTripAddressesAfterInterruption(t *testing.T) {
	h := newHarness(t, 100)
	sender := &domain.Address{Name: "  Ann Voter ", Street: "1 Main St  Apt 4", City: "Nashville", State: "tn", Zip: "37201"}
	o := h.advance(t, "", &AdvanceInput{Action: ActionSubmitAddresses, Tier: "STANDARD", Sender: sender, Recipient: recipientAddr()})
	o = h.advance(t, o.ID, &AdvanceInput{Action: ActionSubmitSignature})
	require.Equal(t, domain.StagePaymentPending, o.Stage)

	reattached, err := h.svc.GetOrderState(context.Background(), o.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StagePaymentPending, reattached.Stage)
	require.Equal(t, domain.Address{Name: "Ann Voter", Street: "1 Main St  Apt 4", City: "Nashville", State: "TN", Zip: "37201"}, reattached.Sender)
	require.Equal(t, o.Sender, reattached.Sender)
	require.Equal(t, *o.Recipient, *reattached.Recipient)
	require.Equal(t, *recipientAddr(), *reattached.Recipient)
	require.Equal(t, o.Checkout.SessionID, reattached.Checkout.SessionID)
}
