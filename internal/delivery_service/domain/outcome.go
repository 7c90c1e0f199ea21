package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// DeliveryStatus is the canonical per-recipient delivery result. The empty string
// means the gateway reported a status this system does not map; the raw value is
// preserved in the outcome extras.
type DeliveryStatus string

const (
	StatusSuccess               DeliveryStatus = "Success"
	StatusBlocked               DeliveryStatus = "Blocked"
	StatusUnsupportedNumberType DeliveryStatus = "UnsupportedNumberType"
	StatusRiskHold              DeliveryStatus = "RiskHold"
	StatusInvalidSenderID       DeliveryStatus = "InvalidSenderId"
	StatusInvalidPhoneNumber    DeliveryStatus = "InvalidPhoneNumber"
	StatusInsufficientBalance   DeliveryStatus = "InsufficientBalance"
	StatusUserInBlackList       DeliveryStatus = "UserInBlackList"
	StatusCouldNotRoute         DeliveryStatus = "CouldNotRoute"
	StatusInternalServerError   DeliveryStatus = "InternalServerError"
	StatusGatewayError          DeliveryStatus = "GatewayError"
	StatusRejectedByGateway     DeliveryStatus = "RejectedByGateway"
	StatusUnknown               DeliveryStatus = ""
)

// failureStatusByCode is the fixed gateway failure-code table. Codes outside it
// are preserved as-is on the outcome with an unknown canonical status.
var failureStatusByCode = map[int]DeliveryStatus{
	401: StatusRiskHold,
	402: StatusInvalidSenderID,
	403: StatusInvalidPhoneNumber,
	404: StatusUnsupportedNumberType,
	405: StatusInsufficientBalance,
	406: StatusUserInBlackList,
	407: StatusCouldNotRoute,
	500: StatusInternalServerError,
	501: StatusGatewayError,
	502: StatusRejectedByGateway,
}

// StatusForFailureCode maps a gateway numeric failure code to the canonical
// delivery status. ok is false for codes the table does not cover.
func StatusForFailureCode(code int) (DeliveryStatus, bool) {
	s, ok := failureStatusByCode[code]
	return s, ok
}

// FailureCodeForReason is the reverse lookup: delivery report callbacks carry
// the failure reason by name (e.g. "UserInBlackList"), not by code.
func FailureCodeForReason(reason string) (int, bool) {
	for code, status := range failureStatusByCode {
		if string(status) == reason {
			return code, true
		}
	}
	return 0, false
}

// Outcome extras keys for the raw per-recipient gateway response fragment.
const (
	OutcomeExtrasNumber    = "number"
	OutcomeExtrasCost      = "cost"
	OutcomeExtrasRawStatus = "raw_status"
	OutcomeExtrasSegment   = "segment"
	OutcomeExtrasSegments  = "segments"
)

// RecipientOutcome is the durable record of one physical segment of one logical
// message sent to one recipient. The tuple (RecipientID, MessageID, SegmentIndex)
// is unique at the storage layer; that constraint, not application locking, is the
// deduplication and concurrency-control mechanism for the whole subsystem.
type RecipientOutcome struct {
	ID               string            `json:"id"` // UUID
	RecipientID      string            `json:"recipient_id"`
	MessageID        string            `json:"message_id"`
	SegmentIndex     int               `json:"segment_index"` // 1-based
	GatewayMessageID string            `json:"gateway_message_id"`
	Status           DeliveryStatus    `json:"status"`
	FailureCode      int               `json:"failure_code,omitempty"`
	Extras           map[string]string `json:"extras,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SynthesizeGatewayID derives a deterministic placeholder id for gateways that do
// not return a message id of their own. It must only be called once the message
// has a stable primary key; reproducibility is relied on for debugging and
// migration.
func SynthesizeGatewayID(messageBody, recipientID string, sentAt time.Time, segmentIndex int, messagePK string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%d|%s", messageBody, recipientID, sentAt.UTC().UnixNano(), segmentIndex, messagePK)
	return "local_" + hex.EncodeToString(h.Sum(nil))[:32]
}
