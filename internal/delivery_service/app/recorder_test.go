package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrocall/delivery/internal/delivery_service/domain"
	"github.com/agrocall/delivery/internal/delivery_service/gateway"
)

func testMessage() *domain.LogicalMessage {
	return &domain.LogicalMessage{
		ID:     "msg-1",
		Body:   "Maize prices at Wakulima market: KES 3200 per 90kg bag.",
		Kind:   domain.KindMarketPrice,
		SentAt: time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func testRecipient() domain.Recipient {
	return domain.Recipient{
		ID:         "pn-1",
		CustomerID: "cust-1",
		Number:     "+254711000111",
		Country:    "KE",
	}
}

func TestRecorder_Record_CanonicalStatusMapping(t *testing.T) {
	cases := []struct {
		name      string
		rawStatus string
		code      int
		want      domain.DeliveryStatus
	}{
		{"success", "Success", 101, domain.StatusSuccess},
		{"risk hold", "Failed", 401, domain.StatusRiskHold},
		{"invalid sender", "Failed", 402, domain.StatusInvalidSenderID},
		{"invalid number", "Failed", 403, domain.StatusInvalidPhoneNumber},
		{"unsupported number type", "Failed", 404, domain.StatusUnsupportedNumberType},
		{"insufficient balance", "Failed", 405, domain.StatusInsufficientBalance},
		{"blacklisted", "Failed", 406, domain.StatusUserInBlackList},
		{"could not route", "Failed", 407, domain.StatusCouldNotRoute},
		{"gateway internal error", "Failed", 500, domain.StatusInternalServerError},
		{"gateway error", "Failed", 501, domain.StatusGatewayError},
		{"rejected", "Failed", 502, domain.StatusRejectedByGateway},
		{"unrecognized code stays unknown", "SomethingNew", 999, domain.StatusUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcomes := newMemOutcomeRepo()
			rec := NewRecorder(outcomes, discardLogger())

			res, err := rec.Record(context.Background(), testMessage(), testRecipient(), 1, 1, gateway.RecipientResult{
				Number:     "+254711000111",
				Status:     tc.rawStatus,
				StatusCode: tc.code,
				MessageID:  "ATXid_1",
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Outcome.Status)
			assert.Equal(t, tc.code, res.Outcome.FailureCode)
			assert.Equal(t, tc.rawStatus, res.Outcome.Extras[domain.OutcomeExtrasRawStatus],
				"raw gateway status is preserved in extras even when unmapped")
		})
	}
}

func TestRecorder_Record_SynthesizesGatewayID(t *testing.T) {
	outcomes := newMemOutcomeRepo()
	rec := NewRecorder(outcomes, discardLogger())
	msg := testMessage()
	recipient := testRecipient()

	for _, missing := range []string{"", "None"} {
		res, err := rec.Record(context.Background(), msg, recipient, 1, 1, gateway.RecipientResult{
			Number: recipient.Number, Status: "Success", StatusCode: 101, MessageID: missing,
		})
		require.NoError(t, err)
		assert.NotEmpty(t, res.Outcome.GatewayMessageID)
		assert.Contains(t, res.Outcome.GatewayMessageID, "local_")
		assert.Equal(t,
			domain.SynthesizeGatewayID(msg.Body, recipient.ID, msg.SentAt, 1, msg.ID),
			res.Outcome.GatewayMessageID,
			"placeholder id is deterministic for the same inputs")
	}

	// A real gateway id is stored as-is.
	res, err := rec.Record(context.Background(), msg, recipient, 2, 2, gateway.RecipientResult{
		Number: recipient.Number, Status: "Success", StatusCode: 101, MessageID: "ATXid_real",
	})
	require.NoError(t, err)
	assert.Equal(t, "ATXid_real", res.Outcome.GatewayMessageID)
}

func TestRecorder_Record_OptOutSignal(t *testing.T) {
	outcomes := newMemOutcomeRepo()
	rec := NewRecorder(outcomes, discardLogger())

	res, err := rec.Record(context.Background(), testMessage(), testRecipient(), 1, 1, gateway.RecipientResult{
		Number: "+254711000111", Status: "Failed", StatusCode: 404,
	})
	require.NoError(t, err)
	assert.True(t, res.OptOutCustomer, "unsupported number type means the number can never receive SMS")

	res, err = rec.Record(context.Background(), testMessage(), testRecipient(), 1, 1, gateway.RecipientResult{
		Number: "+254711000111", Status: "Failed", StatusCode: 406,
	})
	require.NoError(t, err)
	assert.False(t, res.OptOutCustomer, "blacklisting is a gateway-side state, not a local opt-out")
}

func TestRecorder_Record_RetryConvergesOnSameRow(t *testing.T) {
	outcomes := newMemOutcomeRepo()
	rec := NewRecorder(outcomes, discardLogger())
	msg := testMessage()
	recipient := testRecipient()

	first, err := rec.Record(context.Background(), msg, recipient, 1, 1, gateway.RecipientResult{
		Number: recipient.Number, Status: "Failed", StatusCode: 500, MessageID: "ATXid_1",
	})
	require.NoError(t, err)

	// Retried sends update the existing row, never add a second one.
	second, err := rec.Record(context.Background(), msg, recipient, 1, 1, gateway.RecipientResult{
		Number: recipient.Number, Status: "Success", StatusCode: 101, MessageID: "ATXid_1",
	})
	require.NoError(t, err)

	assert.Equal(t, first.Outcome.ID, second.Outcome.ID)
	assert.Equal(t, domain.StatusSuccess, second.Outcome.Status)
	assert.Equal(t, 1, outcomes.count())
}

func TestRecorder_ResolveDeliveryReport(t *testing.T) {
	outcomes := newMemOutcomeRepo()
	rec := NewRecorder(outcomes, discardLogger())
	msg := testMessage()
	recipient := testRecipient()

	_, err := rec.Record(context.Background(), msg, recipient, 1, 1, gateway.RecipientResult{
		Number: recipient.Number, Status: "Success", StatusCode: 101, MessageID: "ATXid_9",
	})
	require.NoError(t, err)

	report := domain.DeliveryReport{
		GatewayMessageID: "ATXid_9",
		Status:           "Failed",
		FailureCode:      406,
		Extras:           map[string]string{"network": "Safaricom"},
	}

	res, err := rec.ResolveDeliveryReport(context.Background(), report)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUserInBlackList, res.Outcome.Status)
	assert.Equal(t, "Safaricom", res.Outcome.Extras["network"])
	assert.False(t, res.OptOutCustomer)

	// Gateways redeliver callbacks; a duplicate converges on the same row.
	again, err := rec.ResolveDeliveryReport(context.Background(), report)
	require.NoError(t, err)
	assert.Equal(t, res.Outcome.ID, again.Outcome.ID)
	assert.Equal(t, 1, outcomes.count())
}

func TestRecorder_ResolveDeliveryReport_UnknownID(t *testing.T) {
	rec := NewRecorder(newMemOutcomeRepo(), discardLogger())

	_, err := rec.ResolveDeliveryReport(context.Background(), domain.DeliveryReport{
		GatewayMessageID: "ATXid_never_sent", Status: "Success",
	})
	assert.ErrorIs(t, err, domain.ErrOutcomeNotFound)
}

func TestRecorder_ResolveDeliveryReport_OptOut(t *testing.T) {
	outcomes := newMemOutcomeRepo()
	rec := NewRecorder(outcomes, discardLogger())

	_, err := rec.Record(context.Background(), testMessage(), testRecipient(), 1, 1, gateway.RecipientResult{
		Number: "+254711000111", Status: "Success", StatusCode: 101, MessageID: "ATXid_9",
	})
	require.NoError(t, err)

	res, err := rec.ResolveDeliveryReport(context.Background(), domain.DeliveryReport{
		GatewayMessageID: "ATXid_9", Status: "Failed", FailureCode: 404,
	})
	require.NoError(t, err)
	assert.True(t, res.OptOutCustomer)
}
