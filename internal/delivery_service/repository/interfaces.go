package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agrocall/delivery/internal/delivery_service/domain"
)

// DB is the subset of pgxpool.Pool the repositories use. pgxmock pools satisfy it
// too, which is how the repository tests run without a database.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// MessageRepository persists logical messages. There is deliberately no body
// update: the body is immutable once delivery recording has begun.
type MessageRepository interface {
	Create(ctx context.Context, msg *domain.LogicalMessage) (*domain.LogicalMessage, error)
	GetByID(ctx context.Context, id string) (*domain.LogicalMessage, error)
	// MergeExtras merges the given keys into the message extras map (jsonb ||).
	MergeExtras(ctx context.Context, id string, extras map[string]string) error
}

// OutcomeRepository persists recipient outcomes. Upsert is the single write path
// used during sends; concurrent workers racing on the same key resolve through
// the storage-layer unique constraint, never application locking.
type OutcomeRepository interface {
	Upsert(ctx context.Context, outcome *domain.RecipientOutcome) (*domain.RecipientOutcome, error)
	// UpdateByGatewayMessageID applies an asynchronous delivery report to the
	// outcome row the gateway id belongs to. Returns ErrOutcomeNotFound for ids
	// this system never recorded.
	UpdateByGatewayMessageID(ctx context.Context, gatewayMessageID string, status domain.DeliveryStatus, failureCode int, extras map[string]string) (*domain.RecipientOutcome, error)
	ListByMessage(ctx context.Context, messageID string) ([]*domain.RecipientOutcome, error)
}

// CustomerReader is the read side of the external customer store the resolver
// depends on.
type CustomerReader interface {
	GetByIDs(ctx context.Context, ids []string) ([]domain.Customer, error)
	FindByNumber(ctx context.Context, number string) (*domain.Customer, error)
	ListByFilter(ctx context.Context, criteria domain.FilterCriteria) ([]domain.Customer, error)
}

// CustomerStopper is the only write access delivery has to the customer store:
// setting the opt-out flag after a terminal delivery failure.
type CustomerStopper interface {
	MarkStopped(ctx context.Context, customerID string) error
	// MarkStoppedByPhoneNumberID resolves the owning customer of a phone number
	// and flags it; returns the customer id for logging.
	MarkStoppedByPhoneNumberID(ctx context.Context, phoneNumberID string) (string, error)
}

// CustomerRepository is the full customer-store surface.
type CustomerRepository interface {
	CustomerReader
	CustomerStopper
	// SetMainNumber promotes a number to main. Fails with ErrMainNumberConflict
	// when another number is already main for the customer; demote first.
	SetMainNumber(ctx context.Context, customerID, phoneNumberID string) error
}
