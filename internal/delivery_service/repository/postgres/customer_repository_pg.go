package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/agrocall/delivery/internal/delivery_service/domain"
	"github.com/agrocall/delivery/internal/delivery_service/repository"
)

const pgUniqueViolation = "23505"

type pgCustomerRepository struct {
	db repository.DB
}

// NewPgCustomerRepository gives the delivery core its narrow view of the CRM
// customer store: main numbers, opt-out flags and filter queries for campaign
// targeting. The only write is the opt-out flag.
func NewPgCustomerRepository(db repository.DB) repository.CustomerRepository {
	return &pgCustomerRepository{db: db}
}

const customerSelect = `
	SELECT c.id, c.has_requested_stop, p.id, p.number
	FROM customers c
	JOIN phone_numbers p ON p.customer_id = c.id AND p.is_main
`

func (r *pgCustomerRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.Customer, error) {
	query := customerSelect + ` WHERE c.id = ANY($1)`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCustomers(rows)
}

func (r *pgCustomerRepository) FindByNumber(ctx context.Context, number string) (*domain.Customer, error) {
	query := `
		SELECT c.id, c.has_requested_stop, p.id, p.number
		FROM phone_numbers p
		JOIN customers c ON c.id = p.customer_id
		WHERE p.number = $1
		ORDER BY p.is_main DESC
		LIMIT 1
	`
	var c domain.Customer
	err := r.db.QueryRow(ctx, query, number).Scan(&c.ID, &c.HasRequestedStop, &c.MainNumberID, &c.MainNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrCustomerNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *pgCustomerRepository) ListByFilter(ctx context.Context, criteria domain.FilterCriteria) ([]domain.Customer, error) {
	query := customerSelect + ` WHERE 1=1`
	args := []any{}

	if criteria.County != "" {
		args = append(args, criteria.County)
		query += fmt.Sprintf(" AND c.county = $%d", len(args))
	}
	if criteria.Premium != nil {
		args = append(args, *criteria.Premium)
		query += fmt.Sprintf(" AND c.is_premium = $%d", len(args))
	}
	if criteria.SubscriptionTopic != "" {
		args = append(args, criteria.SubscriptionTopic)
		query += fmt.Sprintf(" AND EXISTS (SELECT 1 FROM subscriptions s WHERE s.customer_id = c.id AND s.topic = $%d)", len(args))
	}
	query += " ORDER BY c.id"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCustomers(rows)
}

func (r *pgCustomerRepository) MarkStopped(ctx context.Context, customerID string) error {
	query := `UPDATE customers SET has_requested_stop = TRUE, updated_at = $2 WHERE id = $1`
	tag, err := r.db.Exec(ctx, query, customerID, time.Now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCustomerNotFound
	}
	return nil
}

func (r *pgCustomerRepository) MarkStoppedByPhoneNumberID(ctx context.Context, phoneNumberID string) (string, error) {
	query := `
		UPDATE customers SET has_requested_stop = TRUE, updated_at = $2
		FROM phone_numbers p
		WHERE p.id = $1 AND customers.id = p.customer_id
		RETURNING customers.id
	`
	var customerID string
	err := r.db.QueryRow(ctx, query, phoneNumberID, time.Now().UTC()).Scan(&customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrCustomerNotFound
		}
		return "", err
	}
	return customerID, nil
}

func (r *pgCustomerRepository) SetMainNumber(ctx context.Context, customerID, phoneNumberID string) error {
	// The partial unique index on (customer_id) WHERE is_main is the invariant:
	// promoting a second number without demoting the first violates it.
	query := `UPDATE phone_numbers SET is_main = TRUE WHERE id = $1 AND customer_id = $2`
	tag, err := r.db.Exec(ctx, query, phoneNumberID, customerID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return domain.ErrMainNumberConflict
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrCustomerNotFound
	}
	return nil
}

func collectCustomers(rows pgx.Rows) ([]domain.Customer, error) {
	var customers []domain.Customer
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.HasRequestedStop, &c.MainNumberID, &c.MainNumber); err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}
