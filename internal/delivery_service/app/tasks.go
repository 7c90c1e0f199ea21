package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/agrocall/delivery/internal/delivery_service/domain"
	"github.com/agrocall/delivery/internal/delivery_service/repository"
	"github.com/agrocall/delivery/internal/delivery_service/resolver"
	"github.com/agrocall/delivery/internal/platform/messagebroker"
)

// SendJob is the task-queue payload for one logical send. Exactly one of
// CustomerIDs, PhoneNumbers or Filter must be set; PhoneNumbers is the explicit
// literal form, the only way bare numbers are accepted.
//
// MessageID is the idempotency key: the enqueuer fixes it when the job is
// created, so a redelivered or retried job reuses the same logical message and
// outcome recording converges on the existing rows. The job constructors set it;
// a job without one gets a fresh message per run and is only safe for callers
// that never retry.
type SendJob struct {
	MessageID               string             `json:"message_id,omitempty"`
	Kind                    string             `json:"kind"`
	Body                    string             `json:"body"`
	SenderAlias             string             `json:"sender_alias,omitempty"`
	CustomerIDs             []string           `json:"customer_ids,omitempty"`
	PhoneNumbers            []string           `json:"phone_numbers,omitempty"`
	Filter                  *SendJobFilter     `json:"filter,omitempty"`
	IncludeStoppedCustomers bool               `json:"include_stopped_customers,omitempty"`
	ResultsSubject          string             `json:"results_subject,omitempty"`
	Extras                  map[string]string  `json:"extras,omitempty"`
}

// SendJobFilter mirrors domain.FilterCriteria on the wire.
type SendJobFilter struct {
	County            string `json:"county,omitempty"`
	SubscriptionTopic string `json:"subscription_topic,omitempty"`
	Premium           *bool  `json:"premium,omitempty"`
}

// source maps the wire payload onto the tagged recipient source union.
func (j *SendJob) source() (domain.RecipientSource, error) {
	set := 0
	if len(j.CustomerIDs) > 0 {
		set++
	}
	if len(j.PhoneNumbers) > 0 {
		set++
	}
	if j.Filter != nil {
		set++
	}
	if set != 1 {
		return nil, fmt.Errorf("%w: job must set exactly one of customer_ids, phone_numbers, filter", domain.ErrInvalidInputKind)
	}
	switch {
	case len(j.CustomerIDs) > 0:
		return domain.CustomerIDs{IDs: j.CustomerIDs}, nil
	case len(j.PhoneNumbers) > 0:
		return domain.PhoneNumberLiteral{Numbers: j.PhoneNumbers}, nil
	default:
		return domain.FilterCriteria{
			County:            j.Filter.County,
			SubscriptionTopic: j.Filter.SubscriptionTopic,
			Premium:           j.Filter.Premium,
		}, nil
	}
}

// SendReceipt is published to the job's results subject once all batches of a
// send have completed, so downstream systems (e.g. resolving a call-center task
// after its reply SMS goes out) observe completion asynchronously.
type SendReceipt struct {
	MessageID string                        `json:"message_id"`
	Kind      string                        `json:"kind"`
	Countries map[string]*CountrySendResult `json:"countries"`
	Error     string                        `json:"error,omitempty"`
}

// NewMarketPriceJob builds the payload the market-price scheduler enqueues.
func NewMarketPriceJob(body, marketPriceMessageID string, customerIDs []string) SendJob {
	return SendJob{
		MessageID:   uuid.NewString(),
		Kind:        string(domain.KindMarketPrice),
		Body:        body,
		CustomerIDs: customerIDs,
		Extras:      map[string]string{domain.ExtrasMarketPriceID: marketPriceMessageID},
	}
}

// NewTipJob builds the payload for a scheduled agronomy tip to a topic's subscribers.
func NewTipJob(body, topic string) SendJob {
	return SendJob{
		MessageID: uuid.NewString(),
		Kind:      string(domain.KindTip),
		Body:      body,
		Filter:    &SendJobFilter{SubscriptionTopic: topic},
	}
}

// NewWeatherJob builds the payload for a county weather forecast.
func NewWeatherJob(body, county string) SendJob {
	return SendJob{
		MessageID: uuid.NewString(),
		Kind:      string(domain.KindWeather),
		Body:      body,
		Filter:    &SendJobFilter{County: county},
	}
}

// TaskService consumes send jobs from the task queue and runs them through
// resolve -> batch -> record. Jobs are delivered at-least-once; a redelivered job
// reuses the logical message its MessageID names, so outcome recording converges
// on the rows the first run wrote.
type TaskService struct {
	resolver  *resolver.Resolver
	batcher   *Batcher
	messages  repository.MessageRepository
	publisher messagebroker.Publisher
	nats      *messagebroker.NATSClient
	logger    *slog.Logger
	sub       *nats.Subscription
}

func NewTaskService(
	res *resolver.Resolver,
	batcher *Batcher,
	messages repository.MessageRepository,
	publisher messagebroker.Publisher,
	natsClient *messagebroker.NATSClient,
	logger *slog.Logger,
) *TaskService {
	return &TaskService{
		resolver:  res,
		batcher:   batcher,
		messages:  messages,
		publisher: publisher,
		nats:      natsClient,
		logger:    logger.With("service", "delivery_tasks"),
	}
}

// StartConsumingJobs subscribes to the send-job subject with a queue group so
// jobs are load-balanced across worker processes.
func (s *TaskService) StartConsumingJobs(ctx context.Context, subject, queueGroup string) error {
	if s.nats == nil {
		return errors.New("NATS client not initialized in TaskService")
	}

	handler := func(msg *nats.Msg) {
		sendJobsReceivedCounter.WithLabelValues(msg.Subject).Inc()

		var job SendJob
		if err := json.Unmarshal(msg.Data, &job); err != nil {
			s.logger.Error("Failed to unmarshal send job", "error", err, "subject", msg.Subject)
			return
		}

		jobCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if _, err := s.ProcessSendJob(jobCtx, job); err != nil {
			s.logger.Error("Failed to process send job", "error", err, "kind", job.Kind)
		}
	}

	sub, err := s.nats.SubscribeQueue(ctx, subject, queueGroup, handler)
	if err != nil {
		return fmt.Errorf("failed to subscribe to send jobs: %w", err)
	}
	s.sub = sub
	return nil
}

// ProcessSendJob runs one job to completion: create the logical message, resolve
// recipients, deliver, then chain the results callback if one was requested.
func (s *TaskService) ProcessSendJob(ctx context.Context, job SendJob) (*SendReceipt, error) {
	kind := domain.MessageKind(job.Kind)
	if kind == "" {
		kind = domain.KindIndividual
	}

	source, err := job.source()
	if err != nil {
		sendJobsProcessedCounter.WithLabelValues(job.Kind, "error_input").Inc()
		return nil, err
	}

	recipients, err := s.resolver.Resolve(ctx, source, resolver.Options{IncludeStopped: job.IncludeStoppedCustomers})
	if err != nil {
		sendJobsProcessedCounter.WithLabelValues(job.Kind, "error_input").Inc()
		return nil, fmt.Errorf("resolving recipients: %w", err)
	}
	if recipients.Count() == 0 {
		sendJobsProcessedCounter.WithLabelValues(job.Kind, "error_input").Inc()
		return nil, domain.ErrEmptyRecipientSet
	}

	msg, err := s.logicalMessage(ctx, job, kind)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Processing send job",
		"message_id", msg.ID, "kind", string(kind), "recipients", recipients.Count())

	countries, sendErr := s.batcher.Send(ctx, msg, recipients, SendOptions{SenderAlias: job.SenderAlias})

	receipt := &SendReceipt{MessageID: msg.ID, Kind: string(kind), Countries: countries}
	if sendErr != nil {
		receipt.Error = sendErr.Error()
	}

	// The results callback is queued, never invoked synchronously, and is
	// published even for partial sends so downstream systems see what happened.
	if job.ResultsSubject != "" {
		if pubErr := s.publishReceipt(ctx, job.ResultsSubject, receipt); pubErr != nil {
			s.logger.ErrorContext(ctx, "Failed to publish send receipt",
				"error", pubErr, "subject", job.ResultsSubject, "message_id", msg.ID)
		}
	}

	switch {
	case sendErr == nil:
		sendJobsProcessedCounter.WithLabelValues(job.Kind, "success").Inc()
	case errors.Is(sendErr, domain.ErrUnconfiguredCountry) || errors.Is(sendErr, domain.ErrUnknownCredentialAlias):
		sendJobsProcessedCounter.WithLabelValues(job.Kind, "error_config").Inc()
	default:
		sendJobsProcessedCounter.WithLabelValues(job.Kind, "error_transport").Inc()
	}

	return receipt, sendErr
}

// logicalMessage gets or creates the logical message for a job. A job carrying a
// message id is looked up first, so a redelivered job lands on the message its
// first run created and the outcome uniqueness key can engage; only a missing row
// triggers creation under that id.
func (s *TaskService) logicalMessage(ctx context.Context, job SendJob, kind domain.MessageKind) (*domain.LogicalMessage, error) {
	if job.MessageID != "" {
		msg, err := s.messages.GetByID(ctx, job.MessageID)
		switch {
		case err == nil:
			return msg, nil
		case errors.Is(err, domain.ErrMessageNotFound):
			// First delivery of this job; fall through to create.
		default:
			return nil, fmt.Errorf("loading logical message %s: %w", job.MessageID, err)
		}
	}

	msg, err := s.messages.Create(ctx, &domain.LogicalMessage{
		ID:       job.MessageID,
		Body:     job.Body,
		Kind:     kind,
		SenderID: job.SenderAlias,
		Extras:   job.Extras,
	})
	if err != nil {
		return nil, fmt.Errorf("creating logical message: %w", err)
	}
	return msg, nil
}

func (s *TaskService) publishReceipt(ctx context.Context, subject string, receipt *SendReceipt) error {
	data, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("marshaling send receipt: %w", err)
	}
	return s.publisher.Publish(ctx, subject, data)
}

// StopConsumingJobs unsubscribes from the job subject.
func (s *TaskService) StopConsumingJobs() {
	if s.sub != nil && s.sub.IsValid() {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Error("Failed to unsubscribe from send jobs", "error", err)
		}
	}
}
