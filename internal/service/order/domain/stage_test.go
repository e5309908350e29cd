package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	steps := []struct {
		event Event
		want  Stage
	}{
		{EventAddressesAccepted, StageSignatureCapture},
		{EventCheckoutOpened, StagePaymentPending},
		{EventPaymentConfirmed, StageRecording},
		{EventAudioAccepted, StageTranscribing},
		{EventTranscribed, StageEditing},
		{EventTextApproved, StageFinalizing},
		{EventFulfilled, StageComplete},
	}
	stage := StageAddressCapture
	for _, s := range steps {
		next, err := Transition(stage, s.event)
		require.NoError(t, err, "%s --(%s)", stage, s.event)
		require.Equal(t, s.want, next)
		stage = next
	}
	require.True(t, stage.IsTerminal())
}

func TestTransitionBackEdges(t *testing.T) {
	tests := []struct {
		from  Stage
		event Event
		want  Stage
	}{
		{StageSignatureCapture, EventAddressesReopened, StageAddressCapture},
		{StageTranscribing, EventTranscriptionFailed, StageRecording},
		{StageEditing, EventReRecord, StageRecording},
		{StageFinalizing, EventFatal, StageFailed},
	}
	for _, tc := range tests {
		next, err := Transition(tc.from, tc.event)
		require.NoError(t, err)
		require.Equal(t, tc.want, next)
	}
}

func TestTransitionRejectsUndefinedEdges(t *testing.T) {
	tests := []struct {
		from  Stage
		event Event
	}{
		{StageAddressCapture, EventPaymentConfirmed},
		{StagePaymentPending, EventAddressesReopened},
		{StagePaymentPending, EventCheckoutOpened},
		{StageRecording, EventTranscribed},
		{StageEditing, EventFulfilled},
		{StageComplete, EventReRecord},
		{StageFailed, EventAddressesAccepted},
	}
	for _, tc := range tests {
		next, err := Transition(tc.from, tc.event)
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrInvalidTransition))
		require.Equal(t, tc.from, next)
	}
}

func TestTransitionUnknownStage(t *testing.T) {
	_, err := Transition(Stage("LIMBO"), EventAddressesAccepted)
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrInvalidTransition))
}

func TestStageReached(t *testing.T) {
	require.True(t, StageEditing.Reached(StageRecording))
	require.True(t, StageRecording.Reached(StageRecording))
	require.False(t, StagePaymentPending.Reached(StageRecording))
	require.True(t, StageFailed.Reached(StageFinalizing))
}

func TestParseTier(t *testing.T) {
	tier, err := ParseTier(" civic ")
	require.NoError(t, err)
	require.Equal(t, TierCivic, tier)
	require.False(t, tier.RequiresRecipient())
	require.True(t, tier.Mailed())
	require.False(t, TierHeirloom.Mailed())

	_, err = ParseTier("express")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "tier", verr.Field)
}
