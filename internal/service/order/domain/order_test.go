package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sender() Address {
	return Address{Name: "Ann Voter", Street: "1 Main St", City: "Nashville", State: "TN", Zip: "37201"}
}

func paidOrder(t *testing.T, tier Tier) *Order {
	t.Helper()
	o := NewOrder("order-1", t0)
	var rcpt *Address
	if tier.RequiresRecipient() {
		r := validRecipient()
		rcpt = &r
	}
	require.NoError(t, o.AcceptAddresses(tier, sender(), rcpt, "", t0))
	require.NoError(t, o.AttachSignature("", t0))
	require.NoError(t, o.OpenCheckout(CheckoutSession{SessionID: "cs_1", IdempotencyKey: "k"}, t0))
	require.NoError(t, o.ConfirmPayment(t0))
	return o
}

func TestAcceptAddressesRequiresRecipientUnlessCivic(t *testing.T) {
	o := NewOrder("order-1", t0)
	err := o.AcceptAddresses(TierStandard, sender(), nil, "", t0)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "recipient", verr.Field)
	require.Equal(t, StageAddressCapture, o.Stage)

	r := validRecipient()
	require.NoError(t, o.AcceptAddresses(TierCivic, sender(), &r, "Spanish", t0))
	require.Equal(t, StageSignatureCapture, o.Stage)
	require.Nil(t, o.Recipient)
	require.Equal(t, "Spanish", o.Language)
}

func TestAcceptAddressesRejectsMismatchWithoutStageChange(t *testing.T) {
	o := NewOrder("order-1", t0)
	r := validRecipient()
	r.State = "TN"
	r.Zip = "10001"
	err := o.AcceptAddresses(TierStandard, sender(), &r, "", t0)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "NY", verr.Expected)
	require.Equal(t, StageAddressCapture, o.Stage)
	require.Empty(t, o.Tier)
}

func TestChooseTierFixedAfterCheckout(t *testing.T) {
	o := NewOrder("order-1", t0)
	r := validRecipient()
	require.NoError(t, o.AcceptAddresses(TierStandard, sender(), &r, "", t0))
	require.NoError(t, o.ChooseTier(TierHeirloom, t0))
	require.Equal(t, TierHeirloom, o.Tier)

	require.NoError(t, o.OpenCheckout(CheckoutSession{SessionID: "cs_1"}, t0))
	var verr *ValidationError
	require.ErrorAs(t, o.ChooseTier(TierStandard, t0), &verr)
	require.NoError(t, o.ChooseTier(TierHeirloom, t0))
}

func TestConfirmPaymentOnlyOnce(t *testing.T) {
	o := paidOrder(t, TierStandard)
	require.True(t, o.PaymentConfirmed())
	require.Equal(t, StageRecording, o.Stage)
	require.True(t, errors.Is(o.ConfirmPayment(t0), ErrInvalidTransition))
}

func TestReopenAddressesNotAfterCheckout(t *testing.T) {
	o := NewOrder("order-1", t0)
	r := validRecipient()
	require.NoError(t, o.AcceptAddresses(TierStandard, sender(), &r, "", t0))
	require.NoError(t, o.ReopenAddresses(t0))
	require.Equal(t, StageAddressCapture, o.Stage)

	require.NoError(t, o.AcceptAddresses(TierStandard, sender(), &r, "", t0))
	require.NoError(t, o.OpenCheckout(CheckoutSession{SessionID: "cs_1"}, t0))
	require.True(t, errors.Is(o.ReopenAddresses(t0), ErrInvalidTransition))
}

func TestCaptureAudioWithinAllowance(t *testing.T) {
	o := paidOrder(t, TierStandard)
	require.NoError(t, o.CaptureAudio(AudioCapture{Ref: "a.webm", DurationSeconds: 30, SizeBytes: 4000}, t0))
	require.Equal(t, StageTranscribing, o.Stage)
}

func TestOverageGate(t *testing.T) {
	o := paidOrder(t, TierStandard)
	require.NoError(t, o.CaptureAudio(AudioCapture{Ref: "a.webm", DurationSeconds: 400, ExceedsAllowance: true}, t0))
	require.Equal(t, StageRecording, o.Stage)
	require.True(t, o.AwaitingOverageDecision())
	require.False(t, o.ReadyForTranscription())
	require.True(t, errors.Is(o.StartTranscription(t0), ErrInvalidTransition))

	require.NoError(t, o.AgreeOverage(t0))
	require.NoError(t, o.AttachOverageCheckout(CheckoutSession{SessionID: "cs_over"}, t0))
	require.True(t, o.AwaitingOveragePayment())
	require.False(t, o.ReadyForTranscription())

	require.NoError(t, o.ConfirmOveragePayment(t0))
	require.True(t, o.ReadyForTranscription())
	require.NoError(t, o.StartTranscription(t0))
	require.Equal(t, StageTranscribing, o.Stage)
}

func TestDiscardAudioStaysInRecording(t *testing.T) {
	o := paidOrder(t, TierStandard)
	require.NoError(t, o.CaptureAudio(AudioCapture{Ref: "a.webm", ExceedsAllowance: true}, t0))
	require.NoError(t, o.DiscardAudio(t0))
	require.Nil(t, o.Audio)
	require.Equal(t, StageRecording, o.Stage)
	require.True(t, errors.Is(o.AgreeOverage(t0), ErrInvalidTransition))
}

func TestTranscriptionFailureKeepsAudio(t *testing.T) {
	o := paidOrder(t, TierStandard)
	require.NoError(t, o.CaptureAudio(AudioCapture{Ref: "a.webm"}, t0))
	require.NoError(t, o.FailTranscription("transcription unavailable", t0))
	require.Equal(t, StageRecording, o.Stage)
	require.NotNil(t, o.Audio)
	require.Equal(t, "transcription unavailable", o.LastError)

	require.NoError(t, o.StartTranscription(t0))
	require.NoError(t, o.CompleteTranscription("Dear Rose", t0))
	require.Equal(t, StageEditing, o.Stage)
	require.Empty(t, o.LastError)
}

func TestReRecordKeepsPayment(t *testing.T) {
	o := paidOrder(t, TierStandard)
	require.NoError(t, o.CaptureAudio(AudioCapture{Ref: "a.webm"}, t0))
	require.NoError(t, o.CompleteTranscription("Dear Rose", t0))
	require.NoError(t, o.ReRecord(t0))

	require.Equal(t, StageRecording, o.Stage)
	require.Nil(t, o.Audio)
	require.Empty(t, o.Transcript)
	require.True(t, o.PaymentConfirmed())
}

func TestApproveRejectsEmptyBody(t *testing.T) {
	o := paidOrder(t, TierStandard)
	require.NoError(t, o.CaptureAudio(AudioCapture{Ref: "a.webm"}, t0))
	require.NoError(t, o.CompleteTranscription("  ", t0))

	var verr *ValidationError
	require.ErrorAs(t, o.Approve("", t0), &verr)
	require.Equal(t, StageEditing, o.Stage)

	require.NoError(t, o.Approve("Dear Rose, hello.", t0))
	require.Equal(t, StageFinalizing, o.Stage)
	require.Equal(t, "Dear Rose, hello.", o.Transcript)
}

func TestMarkSentOnlyForQueuedHeirloom(t *testing.T) {
	o := paidOrder(t, TierHeirloom)
	require.NoError(t, o.CaptureAudio(AudioCapture{Ref: "a.webm"}, t0))
	require.NoError(t, o.CompleteTranscription("Dear Rose", t0))
	require.NoError(t, o.Approve("", t0))
	require.True(t, errors.Is(o.MarkSent(t0), ErrInvalidTransition))

	require.NoError(t, o.Complete(FulfilmentQueued, t0))
	require.NoError(t, o.MarkSent(t0))
	require.Equal(t, FulfilmentSent, o.Fulfilment)
	require.True(t, errors.Is(o.MarkSent(t0), ErrInvalidTransition))
}

func TestCloneIsDeep(t *testing.T) {
	o := paidOrder(t, TierStandard)
	o.Recipients = []Recipient{{Name: "Grandma Rose"}}
	c := o.Clone()

	c.Recipient.City = "Troy"
	c.Checkout.SessionID = "cs_2"
	*c.Checkout.ConfirmedAt = t0.Add(time.Hour)
	c.Recipients[0].Name = "Someone Else"

	require.Equal(t, "Albany", o.Recipient.City)
	require.Equal(t, "cs_1", o.Checkout.SessionID)
	require.Equal(t, t0, *o.Checkout.ConfirmedAt)
	require.Equal(t, "Grandma Rose", o.Recipients[0].Name)
}

func TestNewLetterFinalized(t *testing.T) {
	o := paidOrder(t, TierCivic)
	o.Recipients = []Recipient{{Name: "A"}, {Name: "B"}}
	o.Deliveries = []Delivery{
		{Recipient: Recipient{Name: "A"}, DocumentRef: "a.pdf", Mailed: true},
		{Recipient: Recipient{Name: "B"}, DocumentRef: "b.pdf", MailError: "undeliverable"},
	}
	e := NewLetterFinalized(o, t0)
	require.Equal(t, 2, e.Recipients)
	require.Equal(t, []string{"A"}, e.Mailed)
	require.Equal(t, []string{"B"}, e.MailFailed)
}
