package domain

import (
	"sort"
	"time"
)

// Customer is the slice of the CRM customer aggregate the delivery core reads.
// The full aggregate (farm details, subscriptions, tenancy) lives outside this
// subsystem; delivery only needs identity, the opt-out flag and the main number.
type Customer struct {
	ID               string `json:"id"` // UUID
	HasRequestedStop bool   `json:"has_requested_stop"`
	MainNumberID     string `json:"main_number_id"`
	MainNumber       string `json:"main_number"` // E.164
}

// PhoneNumber is one phone identity belonging to a customer. At most one number
// per customer is the main (delivery) number at any time, enforced by a partial
// unique index.
type PhoneNumber struct {
	ID         string    `json:"id"` // UUID
	CustomerID string    `json:"customer_id"`
	Number     string    `json:"number"` // E.164
	IsMain     bool      `json:"is_main"`
	CreatedAt  time.Time `json:"created_at"`
}

// Recipient is one resolved delivery target: a customer's main number with its
// inferred country, or an ad-hoc bare number with no owning customer.
type Recipient struct {
	ID         string `json:"id"` // phone number UUID, or the E.164 string for ad-hoc numbers
	CustomerID string `json:"customer_id,omitempty"`
	Number     string `json:"number"`  // E.164
	Country    string `json:"country"` // ISO 3166-1 alpha-2, inferred from dialing prefix
}

// RecipientBatch is the canonical, deduplicated, country-partitioned recipient
// list every downstream component consumes. Only the resolver constructs it.
type RecipientBatch struct {
	ByCountry map[string][]Recipient
}

// Count returns the total number of recipients across all countries.
func (b *RecipientBatch) Count() int {
	n := 0
	for _, rs := range b.ByCountry {
		n += len(rs)
	}
	return n
}

// Countries returns the partition keys in sorted order, so batch submission order
// is deterministic within one send.
func (b *RecipientBatch) Countries() []string {
	cs := make([]string, 0, len(b.ByCountry))
	for c := range b.ByCountry {
		cs = append(cs, c)
	}
	sort.Strings(cs)
	return cs
}

// RecipientSource is the tagged union of accepted send targets. The dynamic
// duck-typed "recipients" parameter of older systems is replaced by these three
// explicit shapes, resolved exactly once at the resolver boundary.
type RecipientSource interface {
	isRecipientSource()
}

// CustomerIDs targets customers by primary key; each contributes its main number.
type CustomerIDs struct {
	IDs []string
}

// PhoneNumberLiteral targets an explicit literal list of bare E.164 numbers. This
// is the only form in which bare numbers are accepted; implicit collections of
// numbers are rejected with ErrInvalidInputKind.
type PhoneNumberLiteral struct {
	Numbers []string
}

// FilterCriteria targets customers matching stored attributes, e.g. all premium
// subscribers of a topic in one county.
type FilterCriteria struct {
	County            string
	SubscriptionTopic string
	Premium           *bool
}

func (CustomerIDs) isRecipientSource()        {}
func (PhoneNumberLiteral) isRecipientSource() {}
func (FilterCriteria) isRecipientSource()     {}
