package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/agrocall/delivery/internal/delivery_service/domain"
)

// BatchRequest is one wire call: a recipient batch, the full message body and the
// sender identity. Enqueue asks the gateway to process asynchronously instead of
// blocking the caller; it is a hint passed through, not enforced locally.
type BatchRequest struct {
	Recipients []string
	Body       string
	Sender     string
	Enqueue    bool
}

// RecipientResult is the raw per-recipient fragment of a gateway batch response.
// StatusCode carries the provider's numeric failure code when the number was not
// accepted; mapping to the canonical status happens in the outcome recorder.
type RecipientResult struct {
	Number     string
	Cost       string
	Status     string
	StatusCode int
	MessageID  string
}

// Client abstracts one SMS gateway provider.
type Client interface {
	// SendBatch submits one batch and returns one result per submitted recipient.
	// It returns an error only for transport-level failures (network error,
	// non-2xx with no parseable body); per-recipient failures come back as
	// results with a failure status.
	SendBatch(ctx context.Context, req BatchRequest) ([]RecipientResult, error)
	Name() string
}

// ClientFactory builds a Client for a selected credential. The batcher takes a
// factory so tests can substitute fake gateways per credential.
type ClientFactory func(cred domain.GatewayCredential) (Client, error)

// NewClientFactory returns the production factory covering all known providers.
// The same http.Client (and so the same transport timeout) is shared across
// gateway calls.
func NewClientFactory(httpClient *http.Client, logger *slog.Logger) ClientFactory {
	return func(cred domain.GatewayCredential) (Client, error) {
		switch cred.Provider {
		case domain.ProviderAfricasTalking:
			return NewAfricasTalkingClient(cred, httpClient, logger), nil
		case domain.ProviderDigifarm:
			return NewDigifarmClient(cred, httpClient, logger), nil
		default:
			return nil, fmt.Errorf("unknown gateway provider %q", cred.Provider)
		}
	}
}
