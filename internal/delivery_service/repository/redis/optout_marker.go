// Package redis provides a Redis-guarded decorator over the customer opt-out
// write. A bulk send that hits the same dead number across many segments and
// batches would otherwise issue the same UPDATE repeatedly.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agrocall/delivery/internal/delivery_service/repository"
)

// OptOutMarker wraps a CustomerStopper so repeated opt-out writes for the same
// customer within the guard TTL are collapsed to one database write. The guard is
// best-effort: a Redis failure falls through to the database, which is the source
// of truth.
type OptOutMarker struct {
	inner  repository.CustomerStopper
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *slog.Logger
}

func NewOptOutMarker(inner repository.CustomerStopper, rdb redis.UniversalClient, ttl time.Duration, logger *slog.Logger) *OptOutMarker {
	return &OptOutMarker{
		inner:  inner,
		rdb:    rdb,
		ttl:    ttl,
		logger: logger.With("component", "optout_marker"),
	}
}

func optOutKey(customerID string) string {
	return "delivery:optout:" + customerID
}

// MarkStopped flags the customer as opted out, skipping the database write when
// the guard key shows it was already done recently.
func (m *OptOutMarker) MarkStopped(ctx context.Context, customerID string) error {
	set, err := m.rdb.SetNX(ctx, optOutKey(customerID), "1", m.ttl).Result()
	if err != nil {
		m.logger.WarnContext(ctx, "Opt-out guard unavailable, writing through", "error", err, "customer_id", customerID)
		return m.inner.MarkStopped(ctx, customerID)
	}
	if !set {
		m.logger.DebugContext(ctx, "Opt-out already recorded, skipping write", "customer_id", customerID)
		return nil
	}
	if err := m.inner.MarkStopped(ctx, customerID); err != nil {
		// Drop the guard so a later attempt retries the write.
		if delErr := m.rdb.Del(ctx, optOutKey(customerID)).Err(); delErr != nil {
			m.logger.WarnContext(ctx, "Failed to release opt-out guard", "error", delErr, "customer_id", customerID)
		}
		return fmt.Errorf("marking customer %s stopped: %w", customerID, err)
	}
	return nil
}

// MarkStoppedByPhoneNumberID resolves the owning customer first, then applies the
// same guard keyed by the resolved customer id.
func (m *OptOutMarker) MarkStoppedByPhoneNumberID(ctx context.Context, phoneNumberID string) (string, error) {
	customerID, err := m.inner.MarkStoppedByPhoneNumberID(ctx, phoneNumberID)
	if err != nil {
		return "", err
	}
	if err := m.rdb.Set(ctx, optOutKey(customerID), "1", m.ttl).Err(); err != nil {
		m.logger.WarnContext(ctx, "Failed to record opt-out guard", "error", err, "customer_id", customerID)
	}
	return customerID, nil
}
