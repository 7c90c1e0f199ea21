package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/agrocall/delivery/internal/delivery_service/domain"
	"github.com/agrocall/delivery/internal/delivery_service/gateway"
	"github.com/agrocall/delivery/internal/delivery_service/repository"
)

// Recorder persists delivery outcomes, one row per (recipient, message, segment).
// All writes go through the repository upsert, so recording is idempotent under
// task retries, duplicate callbacks and concurrent workers alike.
type Recorder struct {
	outcomes repository.OutcomeRepository
	logger   *slog.Logger
}

func NewRecorder(outcomes repository.OutcomeRepository, logger *slog.Logger) *Recorder {
	return &Recorder{
		outcomes: outcomes,
		logger:   logger.With("component", "recorder"),
	}
}

// RecordResult is the outcome of one recording call. OptOutCustomer signals the
// caller to flag the owning customer as opted out; the recorder itself never
// writes to the customer store.
type RecordResult struct {
	Outcome        *domain.RecipientOutcome
	OptOutCustomer bool
}

// Record persists the outcome of one segment for one recipient from a raw
// per-recipient gateway response fragment.
func (r *Recorder) Record(ctx context.Context, msg *domain.LogicalMessage, recipient domain.Recipient, segmentIndex, segmentCount int, res gateway.RecipientResult) (RecordResult, error) {
	status := canonicalStatus(res.Status, res.StatusCode)

	gatewayID := res.MessageID
	if gatewayID == "" || gatewayID == "None" {
		gatewayID = domain.SynthesizeGatewayID(msg.Body, recipient.ID, msg.SentAt, segmentIndex, msg.ID)
	}

	outcome := &domain.RecipientOutcome{
		RecipientID:      recipient.ID,
		MessageID:        msg.ID,
		SegmentIndex:     segmentIndex,
		GatewayMessageID: gatewayID,
		Status:           status,
		FailureCode:      res.StatusCode,
		Extras: map[string]string{
			domain.OutcomeExtrasNumber:    res.Number,
			domain.OutcomeExtrasCost:      res.Cost,
			domain.OutcomeExtrasRawStatus: res.Status,
			domain.OutcomeExtrasSegment:   strconv.Itoa(segmentIndex),
			domain.OutcomeExtrasSegments:  strconv.Itoa(segmentCount),
		},
	}

	saved, err := r.outcomes.Upsert(ctx, outcome)
	if err != nil {
		return RecordResult{}, fmt.Errorf("recording outcome for recipient %s segment %d: %w", recipient.ID, segmentIndex, err)
	}

	return RecordResult{
		Outcome:        saved,
		OptOutCustomer: status == domain.StatusUnsupportedNumberType,
	}, nil
}

// ResolveDeliveryReport applies an asynchronous delivery report to the outcome
// row its gateway message id belongs to, updating status/failure/extras in place.
func (r *Recorder) ResolveDeliveryReport(ctx context.Context, report domain.DeliveryReport) (RecordResult, error) {
	status := canonicalStatus(report.Status, report.FailureCode)

	extras := map[string]string{domain.OutcomeExtrasRawStatus: report.Status}
	for k, v := range report.Extras {
		extras[k] = v
	}

	updated, err := r.outcomes.UpdateByGatewayMessageID(ctx, report.GatewayMessageID, status, report.FailureCode, extras)
	if err != nil {
		return RecordResult{}, err
	}

	r.logger.InfoContext(ctx, "Delivery report resolved",
		"gateway_message_id", report.GatewayMessageID, "status", string(status))

	return RecordResult{
		Outcome:        updated,
		OptOutCustomer: status == domain.StatusUnsupportedNumberType,
	}, nil
}

// canonicalStatus maps a raw gateway status to the canonical enumeration: the
// literal success string wins, then the fixed failure-code table; anything else
// is preserved as unknown rather than rejected.
func canonicalStatus(rawStatus string, code int) domain.DeliveryStatus {
	if rawStatus == string(domain.StatusSuccess) {
		return domain.StatusSuccess
	}
	if s, ok := domain.StatusForFailureCode(code); ok {
		return s
	}
	return domain.StatusUnknown
}
