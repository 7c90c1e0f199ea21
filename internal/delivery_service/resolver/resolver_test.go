package resolver

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agrocall/delivery/internal/delivery_service/domain"
)

type fakeCustomerStore struct {
	customers map[string]domain.Customer // by id
	byNumber  map[string]domain.Customer
	filtered  []domain.Customer
}

func (f *fakeCustomerStore) GetByIDs(ctx context.Context, ids []string) ([]domain.Customer, error) {
	var out []domain.Customer
	for _, id := range ids {
		if c, ok := f.customers[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeCustomerStore) FindByNumber(ctx context.Context, number string) (*domain.Customer, error) {
	if c, ok := f.byNumber[number]; ok {
		return &c, nil
	}
	return nil, domain.ErrCustomerNotFound
}

func (f *fakeCustomerStore) ListByFilter(ctx context.Context, criteria domain.FilterCriteria) ([]domain.Customer, error) {
	return f.filtered, nil
}

type fakeDirectory struct {
	countries map[string]bool
}

func (f *fakeDirectory) Supports(country string) bool { return f.countries[country] }

func kenyaUgandaDirectory() *fakeDirectory {
	return &fakeDirectory{countries: map[string]bool{"KE": true, "UG": true}}
}

func testResolver(store *fakeCustomerStore, dir *fakeDirectory, reserved ...string) *Resolver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, dir, reserved, logger)
}

func customer(id, numberID, number string, stopped bool) domain.Customer {
	return domain.Customer{ID: id, HasRequestedStop: stopped, MainNumberID: numberID, MainNumber: number}
}

func TestResolve_CustomerIDs_PartitionsByCountry(t *testing.T) {
	store := &fakeCustomerStore{customers: map[string]domain.Customer{
		"c1": customer("c1", "n1", "+254711000001", false),
		"c2": customer("c2", "n2", "+256772000001", false),
	}}
	r := testResolver(store, kenyaUgandaDirectory())

	batch, err := r.Resolve(context.Background(), domain.CustomerIDs{IDs: []string{"c1", "c2"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Count())
	assert.Equal(t, []string{"KE", "UG"}, batch.Countries())
	require.Len(t, batch.ByCountry["KE"], 1)
	assert.Equal(t, "c1", batch.ByCountry["KE"][0].CustomerID)
	assert.Equal(t, "+254711000001", batch.ByCountry["KE"][0].Number)
	require.Len(t, batch.ByCountry["UG"], 1)
	assert.Equal(t, "c2", batch.ByCountry["UG"][0].CustomerID)
}

func TestResolve_DeduplicatesByCustomer(t *testing.T) {
	store := &fakeCustomerStore{customers: map[string]domain.Customer{
		"c1": customer("c1", "n1", "+254711000001", false),
	}}
	r := testResolver(store, kenyaUgandaDirectory())

	batch, err := r.Resolve(context.Background(), domain.CustomerIDs{IDs: []string{"c1", "c1", "c1"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Count(), "a customer contributes exactly one recipient entry")
}

func TestResolve_ExcludesOptedOut(t *testing.T) {
	store := &fakeCustomerStore{customers: map[string]domain.Customer{
		"c1": customer("c1", "n1", "+254711000001", true),
		"c2": customer("c2", "n2", "+254711000002", false),
	}}
	r := testResolver(store, kenyaUgandaDirectory())

	t.Run("Default", func(t *testing.T) {
		batch, err := r.Resolve(context.Background(), domain.CustomerIDs{IDs: []string{"c1", "c2"}}, Options{})
		require.NoError(t, err)
		assert.Equal(t, 1, batch.Count())
		assert.Equal(t, "c2", batch.ByCountry["KE"][0].CustomerID)
	})

	t.Run("ExplicitOverride", func(t *testing.T) {
		batch, err := r.Resolve(context.Background(), domain.CustomerIDs{IDs: []string{"c1", "c2"}}, Options{IncludeStopped: true})
		require.NoError(t, err)
		assert.Equal(t, 2, batch.Count())
	})
}

func TestResolve_DropsReservedPrefix(t *testing.T) {
	store := &fakeCustomerStore{customers: map[string]domain.Customer{
		"c1": customer("c1", "n1", "+254207105550001", false),
		"c2": customer("c2", "n2", "+254711000002", false),
	}}
	r := testResolver(store, kenyaUgandaDirectory(), "+25420710")

	batch, err := r.Resolve(context.Background(), domain.CustomerIDs{IDs: []string{"c1", "c2"}}, Options{})
	require.NoError(t, err, "reserved-prefix numbers are dropped silently, not errored")
	assert.Equal(t, 1, batch.Count())
	assert.Equal(t, "c2", batch.ByCountry["KE"][0].CustomerID)
}

func TestResolve_DropsUnconfiguredCountry(t *testing.T) {
	store := &fakeCustomerStore{customers: map[string]domain.Customer{
		"c1": customer("c1", "n1", "+255712000001", false), // TZ, no gateway
		"c2": customer("c2", "n2", "+254711000002", false),
	}}
	r := testResolver(store, kenyaUgandaDirectory())

	batch, err := r.Resolve(context.Background(), domain.CustomerIDs{IDs: []string{"c1", "c2"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Count())
	assert.Empty(t, batch.ByCountry["TZ"])
}

func TestResolve_DropsInvalidNumbers(t *testing.T) {
	store := &fakeCustomerStore{customers: map[string]domain.Customer{
		"c1": customer("c1", "n1", "not-a-number", false),
		"c2": customer("c2", "n2", "+2547", false),
	}}
	r := testResolver(store, kenyaUgandaDirectory())

	batch, err := r.Resolve(context.Background(), domain.CustomerIDs{IDs: []string{"c1", "c2"}}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Count())
}

func TestResolve_PhoneNumberLiteral(t *testing.T) {
	store := &fakeCustomerStore{
		customers: map[string]domain.Customer{},
		byNumber: map[string]domain.Customer{
			"+254711000001": customer("c1", "n1", "+254711000001", false),
		},
	}
	r := testResolver(store, kenyaUgandaDirectory())

	batch, err := r.Resolve(context.Background(), domain.PhoneNumberLiteral{
		Numbers: []string{"+254711000001", "+256772000001"},
	}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, batch.Count())
	assert.Equal(t, "c1", batch.ByCountry["KE"][0].CustomerID, "known numbers resolve to their customer")
	assert.Empty(t, batch.ByCountry["UG"][0].CustomerID, "unknown numbers become ad-hoc recipients")
	assert.Equal(t, "+256772000001", batch.ByCountry["UG"][0].ID)
}

func TestResolve_PhoneNumberLiteral_NormalizesBeforeLookup(t *testing.T) {
	store := &fakeCustomerStore{
		customers: map[string]domain.Customer{},
		byNumber: map[string]domain.Customer{
			"+254711000001": customer("c1", "n1", "+254711000001", false),
		},
	}
	r := testResolver(store, kenyaUgandaDirectory())

	// Spaced and hyphenated renderings must match the stored E.164 form,
	// not fall through to the ad-hoc path.
	batch, err := r.Resolve(context.Background(), domain.PhoneNumberLiteral{
		Numbers: []string{"+254 711 000 001", "+254-711-000-001"},
	}, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, batch.Count())
	assert.Equal(t, "c1", batch.ByCountry["KE"][0].CustomerID)
	assert.Equal(t, "n1", batch.ByCountry["KE"][0].ID)
	assert.Equal(t, "+254711000001", batch.ByCountry["KE"][0].Number)
}

func TestResolve_FilterCriteria(t *testing.T) {
	store := &fakeCustomerStore{filtered: []domain.Customer{
		customer("c1", "n1", "+254711000001", false),
		customer("c2", "n2", "+254711000002", true),
	}}
	r := testResolver(store, kenyaUgandaDirectory())

	batch, err := r.Resolve(context.Background(), domain.FilterCriteria{County: "Uasin Gishu"}, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Count(), "opt-out exclusion applies to filtered sets too")
}

func TestResolve_InvalidInputKind(t *testing.T) {
	r := testResolver(&fakeCustomerStore{}, kenyaUgandaDirectory())

	_, err := r.Resolve(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, domain.ErrInvalidInputKind)
}
