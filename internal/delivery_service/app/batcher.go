package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/agrocall/delivery/internal/delivery_service/domain"
	"github.com/agrocall/delivery/internal/delivery_service/gateway"
	"github.com/agrocall/delivery/internal/delivery_service/pager"
	"github.com/agrocall/delivery/internal/delivery_service/repository"
)

// CountryState tracks one country partition through a send. There is no failed
// terminal state here: per-recipient failures live on outcome rows, and transport
// failures surface as errors while already-recorded outcomes stand.
type CountryState string

const (
	StatePending          CountryState = "pending"
	StateBatchesSubmitted CountryState = "batches_submitted"
	StateCompleted        CountryState = "completed"
)

// CountrySendResult summarizes one country partition of a send.
type CountrySendResult struct {
	Country   string       `json:"country"`
	Provider  string       `json:"provider"`
	Sender    string       `json:"sender"`
	State     CountryState `json:"state"`
	Batches   int          `json:"batches"`
	Recorded  int          `json:"recorded"` // outcome rows written (recipients x segments)
	Failed    int          `json:"failed"`   // recipients with a non-success status
	ErrDetail string       `json:"error,omitempty"`
}

// SendOptions tune one send call.
type SendOptions struct {
	// SenderAlias selects a named credential set; empty means "default".
	SenderAlias string
}

// Batcher partitions a resolved recipient list into gateway-size-limited batches
// and issues one wire call per batch, forwarding each batch's results to the
// recorder as they are received. It performs no retries of its own; retry policy
// belongs to the surrounding task queue and is safe because recording is
// idempotent.
type Batcher struct {
	registry         *gateway.Registry
	clients          gateway.ClientFactory
	recorder         *Recorder
	messages         repository.MessageRepository
	stoppers         repository.CustomerStopper
	maxBatchSize     int
	enqueueThreshold int
	segmentLimit     int
	logger           *slog.Logger
}

func NewBatcher(
	registry *gateway.Registry,
	clients gateway.ClientFactory,
	recorder *Recorder,
	messages repository.MessageRepository,
	stoppers repository.CustomerStopper,
	maxBatchSize, enqueueThreshold, segmentLimit int,
	logger *slog.Logger,
) *Batcher {
	return &Batcher{
		registry:         registry,
		clients:          clients,
		recorder:         recorder,
		messages:         messages,
		stoppers:         stoppers,
		maxBatchSize:     maxBatchSize,
		enqueueThreshold: enqueueThreshold,
		segmentLimit:     segmentLimit,
		logger:           logger.With("component", "batcher"),
	}
}

// Send delivers msg to every recipient in the batch, country by country. It
// returns a per-country outcome map. Configuration errors (unknown alias,
// unknown provider) abort immediately; a transport failure aborts the affected
// country's remaining batches only, and the joined error is returned after all
// other countries have been processed.
func (b *Batcher) Send(ctx context.Context, msg *domain.LogicalMessage, recipients *domain.RecipientBatch, opts SendOptions) (map[string]*CountrySendResult, error) {
	if recipients == nil || recipients.Count() == 0 {
		return nil, domain.ErrEmptyRecipientSet
	}

	segments, err := pager.Paginate(msg.Body, b.segmentLimit)
	if err != nil {
		return nil, fmt.Errorf("paginating message %s: %w", msg.ID, err)
	}

	results := make(map[string]*CountrySendResult, len(recipients.ByCountry))
	var transportErrs []error

	for _, country := range recipients.Countries() {
		cres := &CountrySendResult{Country: country, State: StatePending}
		results[country] = cres

		cred, err := b.registry.Select(country, opts.SenderAlias)
		if err != nil {
			// Unconfigured country or unknown alias is a deployment defect,
			// fatal to the whole send. Outcomes recorded so far stand.
			return results, err
		}
		cres.Provider = cred.Provider
		cres.Sender = cred.Sender

		client, err := b.clients(cred)
		if err != nil {
			return results, err
		}

		// Record which sender identity serves this country on the message
		// before any wire call, so the extras survive a mid-send crash.
		senderExtra := map[string]string{domain.SenderExtrasKey(country): cred.Sender}
		if err := b.messages.MergeExtras(ctx, msg.ID, senderExtra); err != nil {
			return results, fmt.Errorf("recording sender for country %s: %w", country, err)
		}
		if msg.Extras == nil {
			msg.Extras = map[string]string{}
		}
		msg.Extras[domain.SenderExtrasKey(country)] = cred.Sender

		if err := b.sendCountry(ctx, msg, recipients.ByCountry[country], segments, cred, client, cres); err != nil {
			cres.ErrDetail = err.Error()
			transportErrs = append(transportErrs, fmt.Errorf("country %s: %w", country, err))
		}
	}

	return results, errors.Join(transportErrs...)
}

func (b *Batcher) sendCountry(ctx context.Context, msg *domain.LogicalMessage, recipients []domain.Recipient, segments []pager.Segment, cred domain.GatewayCredential, client gateway.Client, cres *CountrySendResult) error {
	for start := 0; start < len(recipients); start += b.maxBatchSize {
		end := start + b.maxBatchSize
		if end > len(recipients) {
			end = len(recipients)
		}
		chunk := recipients[start:end]

		numbers := make([]string, len(chunk))
		byNumber := make(map[string]domain.Recipient, len(chunk))
		for i, r := range chunk {
			numbers[i] = r.Number
			byNumber[r.Number] = r
		}

		req := gateway.BatchRequest{
			Recipients: numbers,
			Body:       msg.Body,
			Sender:     cred.Sender,
			Enqueue:    len(chunk) >= b.enqueueThreshold,
		}

		startedAt := time.Now()
		batchResults, err := client.SendBatch(ctx, req)
		gatewayRequestDurationHist.WithLabelValues(cred.Provider).Observe(time.Since(startedAt).Seconds())
		if err != nil {
			// Transport failure: already-submitted batches keep their recorded
			// outcomes; remaining batches for this country are abandoned to the
			// task queue's retry policy.
			b.logger.ErrorContext(ctx, "Gateway batch submission failed",
				"error", err, "provider", cred.Provider, "country", cres.Country,
				"batch_size", len(chunk), "message_id", msg.ID)
			return err
		}

		cres.Batches++
		cres.State = StateBatchesSubmitted
		batchesSubmittedCounter.WithLabelValues(cred.Provider, cres.Country).Inc()

		b.recordBatch(ctx, msg, byNumber, segments, cred.Provider, batchResults, cres)
	}

	cres.State = StateCompleted
	b.logger.InfoContext(ctx, "Country partition completed",
		"country", cres.Country, "provider", cred.Provider, "batches", cres.Batches,
		"recorded", cres.Recorded, "failed", cres.Failed, "message_id", msg.ID)
	return nil
}

// recordBatch forwards a batch's per-recipient results to the recorder as
// received, one outcome row per physical segment.
func (b *Batcher) recordBatch(ctx context.Context, msg *domain.LogicalMessage, byNumber map[string]domain.Recipient, segments []pager.Segment, provider string, batchResults []gateway.RecipientResult, cres *CountrySendResult) {
	for _, res := range batchResults {
		recipient, ok := byNumber[res.Number]
		if !ok {
			b.logger.WarnContext(ctx, "Gateway returned result for unsubmitted number",
				"number", res.Number, "message_id", msg.ID)
			continue
		}

		recipientFailed := false
		for _, seg := range segments {
			recorded, err := b.recorder.Record(ctx, msg, recipient, seg.Index, len(segments), res)
			if err != nil {
				b.logger.ErrorContext(ctx, "Failed to record outcome",
					"error", err, "recipient_id", recipient.ID, "segment", seg.Index, "message_id", msg.ID)
				continue
			}
			cres.Recorded++
			outcomesRecordedCounter.WithLabelValues(provider, string(recorded.Outcome.Status)).Inc()

			if recorded.Outcome.Status != domain.StatusSuccess {
				recipientFailed = true
			}
			if recorded.OptOutCustomer && recipient.CustomerID != "" {
				b.optOut(ctx, recipient.CustomerID)
			}
		}
		if recipientFailed {
			cres.Failed++
		}
	}
}

func (b *Batcher) optOut(ctx context.Context, customerID string) {
	if err := b.stoppers.MarkStopped(ctx, customerID); err != nil {
		b.logger.ErrorContext(ctx, "Failed to opt out customer after terminal failure",
			"error", err, "customer_id", customerID)
		return
	}
	customerOptOutsCounter.Inc()
	b.logger.InfoContext(ctx, "Customer opted out: number can never receive SMS", "customer_id", customerID)
}
