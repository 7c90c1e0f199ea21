package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/agrocall/delivery/internal/delivery_service/domain"
	"github.com/agrocall/delivery/internal/delivery_service/repository"
	"github.com/agrocall/delivery/internal/platform/messagebroker"
)

// ReportProcessor consumes raw delivery reports published by the callback API
// (subject delivery.reports.raw.<provider>) and resolves them into idempotent
// outcome updates. Gateways redeliver callbacks; applying the same report twice
// converges on the same row.
type ReportProcessor struct {
	recorder *Recorder
	stoppers repository.CustomerStopper
	nats     *messagebroker.NATSClient
	logger   *slog.Logger
	sub      *nats.Subscription
}

func NewReportProcessor(recorder *Recorder, stoppers repository.CustomerStopper, natsClient *messagebroker.NATSClient, logger *slog.Logger) *ReportProcessor {
	return &ReportProcessor{
		recorder: recorder,
		stoppers: stoppers,
		nats:     natsClient,
		logger:   logger.With("service", "delivery_reports"),
	}
}

// StartConsuming subscribes to the raw report subject (normally a wildcard,
// delivery.reports.raw.*) with a queue group.
func (p *ReportProcessor) StartConsuming(ctx context.Context, subject, queueGroup string) error {
	if p.nats == nil {
		return errors.New("NATS client not initialized in ReportProcessor")
	}

	handler := func(msg *nats.Msg) {
		provider := providerFromSubject(msg.Subject)
		if provider == "" {
			p.logger.Error("Could not determine provider from report subject", "subject", msg.Subject)
			return
		}

		var report domain.DeliveryReport
		if err := json.Unmarshal(msg.Data, &report); err != nil {
			p.logger.Error("Failed to unmarshal delivery report", "error", err, "subject", msg.Subject)
			deliveryReportsCounter.WithLabelValues(provider, "error").Inc()
			return
		}

		reportCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := p.Process(reportCtx, provider, report); err != nil {
			p.logger.Error("Failed to process delivery report",
				"error", err, "provider", provider, "gateway_message_id", report.GatewayMessageID)
		}
	}

	sub, err := p.nats.SubscribeQueue(ctx, subject, queueGroup, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to delivery reports: %w", err)
	}
	p.sub = sub
	return nil
}

// Process applies one report. Unknown gateway ids are logged and dropped rather
// than errored: the id belongs to a message this deployment never sent, and
// retrying will not change that.
func (p *ReportProcessor) Process(ctx context.Context, provider string, report domain.DeliveryReport) error {
	result, err := p.recorder.ResolveDeliveryReport(ctx, report)
	if err != nil {
		if errors.Is(err, domain.ErrOutcomeNotFound) {
			p.logger.WarnContext(ctx, "Delivery report for unknown gateway message id",
				"provider", provider, "gateway_message_id", report.GatewayMessageID)
			deliveryReportsCounter.WithLabelValues(provider, "unknown_id").Inc()
			return nil
		}
		deliveryReportsCounter.WithLabelValues(provider, "error").Inc()
		return err
	}
	deliveryReportsCounter.WithLabelValues(provider, "updated").Inc()

	if result.OptOutCustomer {
		customerID, err := p.stoppers.MarkStoppedByPhoneNumberID(ctx, result.Outcome.RecipientID)
		if err != nil {
			// Ad-hoc numbers have no owning customer; nothing to flag.
			if errors.Is(err, domain.ErrCustomerNotFound) {
				return nil
			}
			return fmt.Errorf("opting out owner of number %s: %w", result.Outcome.RecipientID, err)
		}
		customerOptOutsCounter.Inc()
		p.logger.InfoContext(ctx, "Customer opted out after delivery report",
			"customer_id", customerID, "gateway_message_id", report.GatewayMessageID)
	}
	return nil
}

// StopConsuming unsubscribes from the report subject.
func (p *ReportProcessor) StopConsuming() {
	if p.sub != nil && p.sub.IsValid() {
		if err := p.sub.Unsubscribe(); err != nil {
			p.logger.Error("Failed to unsubscribe from delivery reports", "error", err)
		}
	}
}

// providerFromSubject extracts <provider> from delivery.reports.raw.<provider>.
func providerFromSubject(subject string) string {
	parts := strings.Split(subject, ".")
	if len(parts) != 4 || parts[0] != "delivery" || parts[1] != "reports" || parts[2] != "raw" {
		return ""
	}
	name := parts[3]
	if name == "*" || name == ">" {
		return ""
	}
	return name
}
