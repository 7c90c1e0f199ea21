package domain

import "errors"

var (
	// ErrUnconfiguredCountry means no provider carries a sender mapping for the
	// target country. Callers must treat this as "do not attempt delivery", not
	// as retryable.
	ErrUnconfiguredCountry = errors.New("no gateway configured for country")

	// ErrUnknownCredentialAlias means the routed provider has no credential set
	// under the requested alias. A deployment/config defect.
	ErrUnknownCredentialAlias = errors.New("unknown gateway credential alias")

	// ErrInvalidInputKind means the recipient source is not one of the accepted
	// tagged shapes (bare number collections outside an explicit literal, or an
	// unrecognized source type).
	ErrInvalidInputKind = errors.New("invalid recipient input kind")

	// ErrEmptyRecipientSet means resolution produced no deliverable recipients;
	// no partial send occurs.
	ErrEmptyRecipientSet = errors.New("empty recipient set")

	// ErrMainNumberConflict means an attempt to mark a second number as main
	// without demoting the existing one.
	ErrMainNumberConflict = errors.New("customer already has a main number")

	ErrMessageNotFound  = errors.New("logical message not found")
	ErrOutcomeNotFound  = errors.New("recipient outcome not found")
	ErrCustomerNotFound = errors.New("customer not found")
)
