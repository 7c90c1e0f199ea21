package domain

// DeliveryReport is the normalized asynchronous delivery callback from a gateway.
// Gateways deliver these at-least-once; applying one twice must be a no-op beyond
// refreshing the same row.
type DeliveryReport struct {
	GatewayMessageID string            `json:"gateway_message_id"`
	Status           string            `json:"status"`
	FailureCode      int               `json:"failure_code,omitempty"`
	Extras           map[string]string `json:"extras,omitempty"`
}
