package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/agrocall/delivery/internal/delivery_service/domain"
	"github.com/agrocall/delivery/internal/delivery_service/repository"
)

type pgOutcomeRepository struct {
	db repository.DB
}

// NewPgOutcomeRepository creates the PostgreSQL-backed outcome repository. The
// recipient_outcomes table carries a unique constraint on
// (recipient_id, message_id, segment_index); Upsert leans on it so concurrent
// workers and repeated task runs converge on one row per key.
func NewPgOutcomeRepository(db repository.DB) repository.OutcomeRepository {
	return &pgOutcomeRepository{db: db}
}

const outcomeColumns = `id, recipient_id, message_id, segment_index, gateway_message_id, status, failure_code, extras, created_at, updated_at`

func scanOutcome(row pgx.Row) (*domain.RecipientOutcome, error) {
	o := &domain.RecipientOutcome{}
	err := row.Scan(
		&o.ID, &o.RecipientID, &o.MessageID, &o.SegmentIndex, &o.GatewayMessageID,
		&o.Status, &o.FailureCode, &o.Extras, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *pgOutcomeRepository) Upsert(ctx context.Context, outcome *domain.RecipientOutcome) (*domain.RecipientOutcome, error) {
	if outcome.ID == "" {
		outcome.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if outcome.Extras == nil {
		outcome.Extras = map[string]string{}
	}

	// Insert-or-update on the uniqueness key. A later write for the same key
	// (duplicate callback, retried task) updates status/failure/extras in place;
	// a non-empty gateway id never gets clobbered by an empty one.
	query := `
		INSERT INTO recipient_outcomes (` + outcomeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (recipient_id, message_id, segment_index) DO UPDATE SET
			status = EXCLUDED.status,
			failure_code = EXCLUDED.failure_code,
			gateway_message_id = CASE
				WHEN EXCLUDED.gateway_message_id <> '' THEN EXCLUDED.gateway_message_id
				ELSE recipient_outcomes.gateway_message_id
			END,
			extras = recipient_outcomes.extras || EXCLUDED.extras,
			updated_at = EXCLUDED.updated_at
		RETURNING ` + outcomeColumns

	return scanOutcome(r.db.QueryRow(ctx, query,
		outcome.ID, outcome.RecipientID, outcome.MessageID, outcome.SegmentIndex,
		outcome.GatewayMessageID, outcome.Status, outcome.FailureCode, outcome.Extras, now,
	))
}

func (r *pgOutcomeRepository) UpdateByGatewayMessageID(ctx context.Context, gatewayMessageID string, status domain.DeliveryStatus, failureCode int, extras map[string]string) (*domain.RecipientOutcome, error) {
	if extras == nil {
		extras = map[string]string{}
	}
	query := `
		UPDATE recipient_outcomes
		SET status = $2, failure_code = $3, extras = extras || $4, updated_at = $5
		WHERE gateway_message_id = $1
		RETURNING ` + outcomeColumns

	o, err := scanOutcome(r.db.QueryRow(ctx, query, gatewayMessageID, status, failureCode, extras, time.Now().UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOutcomeNotFound
		}
		return nil, err
	}
	return o, nil
}

func (r *pgOutcomeRepository) ListByMessage(ctx context.Context, messageID string) ([]*domain.RecipientOutcome, error) {
	query := `
		SELECT ` + outcomeColumns + `
		FROM recipient_outcomes
		WHERE message_id = $1
		ORDER BY recipient_id, segment_index
	`
	rows, err := r.db.Query(ctx, query, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []*domain.RecipientOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}
