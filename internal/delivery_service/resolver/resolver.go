// Package resolver turns raw send targets into the canonical deduplicated,
// validated, country-partitioned recipient list the rest of the delivery core
// consumes.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/agrocall/delivery/internal/delivery_service/domain"
	"github.com/agrocall/delivery/internal/delivery_service/repository"
)

// GatewayDirectory answers whether any configured gateway can reach a country.
// Recipients in unsupported countries are dropped silently, not errored.
type GatewayDirectory interface {
	Supports(country string) bool
}

// Options control one resolution call.
type Options struct {
	// IncludeStopped lifts the opt-out exclusion for this call's named recipient
	// set only; the default excludes customers with has_requested_stop.
	IncludeStopped bool
}

type Resolver struct {
	customers        repository.CustomerReader
	gateways         GatewayDirectory
	reservedPrefixes []string
	logger           *slog.Logger
}

func New(customers repository.CustomerReader, gateways GatewayDirectory, reservedPrefixes []string, logger *slog.Logger) *Resolver {
	return &Resolver{
		customers:        customers,
		gateways:         gateways,
		reservedPrefixes: reservedPrefixes,
		logger:           logger.With("component", "resolver"),
	}
}

// Resolve accepts one of the tagged source shapes and produces the canonical
// RecipientBatch. Any other value fails with ErrInvalidInputKind: bare number
// collections are only ever accepted as an explicit PhoneNumberLiteral, so
// country inference never happens implicitly at scale.
func (r *Resolver) Resolve(ctx context.Context, source domain.RecipientSource, opts Options) (*domain.RecipientBatch, error) {
	batch := &domain.RecipientBatch{ByCountry: map[string][]domain.Recipient{}}
	seenCustomers := map[string]bool{}
	seenNumbers := map[string]bool{}

	switch src := source.(type) {
	case domain.CustomerIDs:
		customers, err := r.customers.GetByIDs(ctx, src.IDs)
		if err != nil {
			return nil, fmt.Errorf("resolving customer ids: %w", err)
		}
		for _, c := range customers {
			r.addCustomer(ctx, batch, c, opts, seenCustomers)
		}

	case domain.PhoneNumberLiteral:
		for _, raw := range src.Numbers {
			// Normalize before the lookup: the store keys numbers by their
			// E.164 form, so a spaced or hyphenated rendering of a known
			// customer's number must still resolve to that customer.
			country, number, ok := r.routableNumber(ctx, raw)
			if !ok {
				continue
			}
			c, err := r.customers.FindByNumber(ctx, number)
			switch {
			case err == nil:
				r.addCustomer(ctx, batch, *c, opts, seenCustomers)
			case errors.Is(err, domain.ErrCustomerNotFound):
				r.addAdHocNumber(ctx, batch, country, number, seenNumbers)
			default:
				return nil, fmt.Errorf("looking up number: %w", err)
			}
		}

	case domain.FilterCriteria:
		customers, err := r.customers.ListByFilter(ctx, src)
		if err != nil {
			return nil, fmt.Errorf("resolving filter criteria: %w", err)
		}
		for _, c := range customers {
			r.addCustomer(ctx, batch, c, opts, seenCustomers)
		}

	default:
		return nil, fmt.Errorf("%w: %T", domain.ErrInvalidInputKind, source)
	}

	return batch, nil
}

func (r *Resolver) addCustomer(ctx context.Context, batch *domain.RecipientBatch, c domain.Customer, opts Options, seen map[string]bool) {
	if seen[c.ID] {
		// Diagnostic only: the storage-layer uniqueness constraint is the
		// actual backstop against duplicate outcome rows.
		r.logger.WarnContext(ctx, "Customer appears more than once in recipient set", "customer_id", c.ID)
		return
	}
	seen[c.ID] = true

	if c.HasRequestedStop && !opts.IncludeStopped {
		r.logger.DebugContext(ctx, "Excluding opted-out customer", "customer_id", c.ID)
		return
	}

	country, number, ok := r.routableNumber(ctx, c.MainNumber)
	if !ok {
		return
	}
	batch.ByCountry[country] = append(batch.ByCountry[country], domain.Recipient{
		ID:         c.MainNumberID,
		CustomerID: c.ID,
		Number:     number,
		Country:    country,
	})
}

func (r *Resolver) addAdHocNumber(ctx context.Context, batch *domain.RecipientBatch, country, number string, seen map[string]bool) {
	if seen[number] {
		r.logger.WarnContext(ctx, "Number appears more than once in literal set", "number", number)
		return
	}
	seen[number] = true
	batch.ByCountry[country] = append(batch.ByCountry[country], domain.Recipient{
		ID:      number,
		Number:  number,
		Country: country,
	})
}

// routableNumber validates a number, infers its country from the dialing prefix
// and checks gateway coverage. All three failure modes are silent drops.
func (r *Resolver) routableNumber(ctx context.Context, raw string) (country, e164 string, ok bool) {
	for _, prefix := range r.reservedPrefixes {
		if strings.HasPrefix(raw, prefix) {
			r.logger.DebugContext(ctx, "Dropping reserved-prefix number", "number", raw)
			return "", "", false
		}
	}

	parsed, err := phonenumbers.Parse(raw, "")
	if err != nil || !phonenumbers.IsValidNumber(parsed) {
		r.logger.DebugContext(ctx, "Dropping invalid phone number", "number", raw, "error", err)
		return "", "", false
	}

	country = phonenumbers.GetRegionCodeForNumber(parsed)
	if country == "" || !r.gateways.Supports(country) {
		r.logger.DebugContext(ctx, "Dropping number in unconfigured country", "number", raw, "country", country)
		return "", "", false
	}

	return country, phonenumbers.Format(parsed, phonenumbers.E164), true
}
