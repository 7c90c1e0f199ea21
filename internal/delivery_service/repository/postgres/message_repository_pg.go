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

type pgMessageRepository struct {
	db repository.DB
}

// NewPgMessageRepository creates the PostgreSQL-backed message repository.
func NewPgMessageRepository(db repository.DB) repository.MessageRepository {
	return &pgMessageRepository{db: db}
}

func (r *pgMessageRepository) Create(ctx context.Context, msg *domain.LogicalMessage) (*domain.LogicalMessage, error) {
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

	query := `
		INSERT INTO logical_messages (
			id, body, kind, sender_id, sent_at, extras, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		msg.ID, msg.Body, msg.Kind, msg.SenderID, msg.SentAt, msg.Extras, msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *pgMessageRepository) GetByID(ctx context.Context, id string) (*domain.LogicalMessage, error) {
	msg := &domain.LogicalMessage{}
	query := `
		SELECT id, body, kind, sender_id, sent_at, extras, created_at, updated_at
		FROM logical_messages WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&msg.ID, &msg.Body, &msg.Kind, &msg.SenderID, &msg.SentAt, &msg.Extras, &msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}
	return msg, nil
}

func (r *pgMessageRepository) MergeExtras(ctx context.Context, id string, extras map[string]string) error {
	query := `
		UPDATE logical_messages
		SET extras = extras || $2, updated_at = $3
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, extras, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrMessageNotFound
	}
	return nil
}
