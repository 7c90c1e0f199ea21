package domain

// Known gateway provider names.
const (
	ProviderAfricasTalking = "africastalking"
	ProviderDigifarm       = "digifarm"
)

// DefaultCredentialAlias is used when a caller does not request a named alias.
const DefaultCredentialAlias = "default"

// GatewayCredential holds the endpoint and auth material for one (provider, alias)
// pair, plus the sender identity resolved for the target country. Credentials are
// immutable once loaded per deployment.
type GatewayCredential struct {
	Provider     string
	Alias        string
	BaseURL      string
	Username     string
	APIKey       string
	Sender       string
	MonthlyPrice string // display-only annotation
}
