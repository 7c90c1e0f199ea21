package domain

import (
	"time"
)

// MessageKind classifies a logical message by the campaign/feature that produced it.
type MessageKind string

const (
	KindIndividual   MessageKind = "individual"
	KindBulk         MessageKind = "bulk"
	KindTaskResponse MessageKind = "task_response"
	KindMarketPrice  MessageKind = "market_price"
	KindTip          MessageKind = "tip"
	KindWeather      MessageKind = "weather"
	KindSubscription MessageKind = "subscription_notification"
	KindNPSRequest   MessageKind = "nps_request"
)

// Message extras keys. Per-country sender identities used for a send are recorded
// under ExtrasSenderPrefix + country code, e.g. "sender:KE" -> "21606".
const (
	ExtrasSenderPrefix  = "sender:"
	ExtrasTaskID        = "task_id"
	ExtrasMarketPriceID = "market_price_message_id"
)

// LogicalMessage is one user-authored communication, regardless of how many
// physical SMS segments or recipients it fans out to. The body is immutable once
// the first delivery attempt has been recorded; the persistence layer offers no
// body update.
type LogicalMessage struct {
	ID       string            `json:"id"` // UUID
	Body     string            `json:"body"`
	Kind     MessageKind       `json:"kind"`
	SenderID string            `json:"sender_id"` // sender-identity reference, may be a credential alias
	SentAt   time.Time         `json:"sent_at"`
	Extras   map[string]string `json:"extras,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SenderExtrasKey returns the extras key under which the sender identity used for
// the given country is recorded on the message.
func SenderExtrasKey(country string) string {
	return ExtrasSenderPrefix + country
}
