package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agrocall/delivery/internal/delivery_service/domain"
	"github.com/agrocall/delivery/internal/delivery_service/gateway"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type outcomeKey struct {
	recipientID  string
	messageID    string
	segmentIndex int
}

// memOutcomeRepo mimics the Postgres upsert semantics in memory, including the
// uniqueness constraint on (recipient, message, segment).
type memOutcomeRepo struct {
	mu   sync.Mutex
	rows map[outcomeKey]*domain.RecipientOutcome
}

func newMemOutcomeRepo() *memOutcomeRepo {
	return &memOutcomeRepo{rows: map[outcomeKey]*domain.RecipientOutcome{}}
}

func (m *memOutcomeRepo) Upsert(ctx context.Context, o *domain.RecipientOutcome) (*domain.RecipientOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := outcomeKey{o.RecipientID, o.MessageID, o.SegmentIndex}
	now := time.Now().UTC()

	existing, ok := m.rows[key]
	if !ok {
		saved := *o
		if saved.ID == "" {
			saved.ID = uuid.NewString()
		}
		saved.CreatedAt = now
		saved.UpdatedAt = now
		if saved.Extras == nil {
			saved.Extras = map[string]string{}
		}
		m.rows[key] = &saved
		out := saved
		return &out, nil
	}

	existing.Status = o.Status
	existing.FailureCode = o.FailureCode
	if o.GatewayMessageID != "" {
		existing.GatewayMessageID = o.GatewayMessageID
	}
	for k, v := range o.Extras {
		existing.Extras[k] = v
	}
	existing.UpdatedAt = now
	out := *existing
	return &out, nil
}

func (m *memOutcomeRepo) UpdateByGatewayMessageID(ctx context.Context, gatewayMessageID string, status domain.DeliveryStatus, failureCode int, extras map[string]string) (*domain.RecipientOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, row := range m.rows {
		if row.GatewayMessageID != gatewayMessageID {
			continue
		}
		row.Status = status
		row.FailureCode = failureCode
		for k, v := range extras {
			row.Extras[k] = v
		}
		row.UpdatedAt = time.Now().UTC()
		out := *row
		return &out, nil
	}
	return nil, domain.ErrOutcomeNotFound
}

func (m *memOutcomeRepo) ListByMessage(ctx context.Context, messageID string) ([]*domain.RecipientOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*domain.RecipientOutcome
	for _, row := range m.rows {
		if row.MessageID == messageID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memOutcomeRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memOutcomeRepo) byStatus(status domain.DeliveryStatus) []*domain.RecipientOutcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.RecipientOutcome
	for _, row := range m.rows {
		if row.Status == status {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out
}

type memMessageRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.LogicalMessage
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{rows: map[string]*domain.LogicalMessage{}}
}

func (m *memMessageRepo) Create(ctx context.Context, msg *domain.LogicalMessage) (*domain.LogicalMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.SentAt.IsZero() {
		msg.SentAt = now
	}
	if msg.Extras == nil {
		msg.Extras = map[string]string{}
	}
	cp := *msg
	m.rows[msg.ID] = &cp
	return msg, nil
}

func (m *memMessageRepo) rowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memMessageRepo) GetByID(ctx context.Context, id string) (*domain.LogicalMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.rows[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	cp := *msg
	return &cp, nil
}

func (m *memMessageRepo) MergeExtras(ctx context.Context, id string, extras map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.rows[id]
	if !ok {
		return domain.ErrMessageNotFound
	}
	for k, v := range extras {
		msg.Extras[k] = v
	}
	return nil
}

type memStopper struct {
	mu      sync.Mutex
	stopped map[string]int
}

func newMemStopper() *memStopper {
	return &memStopper{stopped: map[string]int{}}
}

func (m *memStopper) MarkStopped(ctx context.Context, customerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped[customerID]++
	return nil
}

func (m *memStopper) MarkStoppedByPhoneNumberID(ctx context.Context, phoneNumberID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "owner-of-" + phoneNumberID
	m.stopped[id]++
	return id, nil
}

func (m *memStopper) timesStoppedFor(customerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped[customerID]
}

// recordedCall captures one wire call made against the fake gateway.
type recordedCall struct {
	provider string
	req      gateway.BatchRequest
}

// fakeGateway answers every configured provider. Per-number results can be
// overridden; per-provider transport failures can be forced.
type fakeGateway struct {
	mu            sync.Mutex
	calls         []recordedCall
	resultsByNum  map[string]gateway.RecipientResult
	failProviders map[string]error
	nextMessageID int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		resultsByNum:  map[string]gateway.RecipientResult{},
		failProviders: map[string]error{},
	}
}

func (f *fakeGateway) setResult(number string, res gateway.RecipientResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultsByNum[number] = res
}

func (f *fakeGateway) failProvider(provider string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failProviders[provider] = err
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeGateway) factory() gateway.ClientFactory {
	return func(cred domain.GatewayCredential) (gateway.Client, error) {
		return &fakeGatewayClient{gw: f, provider: cred.Provider}, nil
	}
}

type fakeGatewayClient struct {
	gw       *fakeGateway
	provider string
}

func (c *fakeGatewayClient) Name() string { return c.provider }

func (c *fakeGatewayClient) SendBatch(ctx context.Context, req gateway.BatchRequest) ([]gateway.RecipientResult, error) {
	c.gw.mu.Lock()
	defer c.gw.mu.Unlock()

	if err := c.gw.failProviders[c.provider]; err != nil {
		return nil, err
	}

	c.gw.calls = append(c.gw.calls, recordedCall{provider: c.provider, req: req})

	results := make([]gateway.RecipientResult, 0, len(req.Recipients))
	for _, number := range req.Recipients {
		if res, ok := c.gw.resultsByNum[number]; ok {
			results = append(results, res)
			continue
		}
		c.gw.nextMessageID++
		results = append(results, gateway.RecipientResult{
			Number:     number,
			Cost:       "KES 0.8000",
			Status:     "Success",
			StatusCode: 101,
			MessageID:  fmt.Sprintf("ATXid_%d", c.gw.nextMessageID),
		})
	}
	return results, nil
}

type memPublisher struct {
	mu        sync.Mutex
	published map[string][][]byte
}

func newMemPublisher() *memPublisher {
	return &memPublisher{published: map[string][][]byte{}}
}

func (p *memPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published[subject] = append(p.published[subject], data)
	return nil
}
