package ilp

import (
	"fmt"
	"time"
)

// RejectionReason is attached to rejectIncomingTransfer calls. The JSON
// field names are part of the wire protocol.
type RejectionReason struct {
	Code           string            `json:"code"`
	Name           string            `json:"name"`
	Message        string            `json:"message"`
	TriggeredBy    string            `json:"triggered_by"`
	TriggeredAt    time.Time         `json:"triggered_at"`
	ForwardedBy    []string          `json:"forwarded_by"`
	AdditionalInfo map[string]string `json:"additional_info"`
}

const (
	CodeInsufficientAmount = "F04"
	CodeWrongCondition     = "F05"
)

func InsufficientAmountReason(triggeredBy string, received, minimum string) RejectionReason {
	return RejectionReason{
		Code:           CodeInsufficientAmount,
		Name:           "Insufficient Destination Amount",
		Message:        fmt.Sprintf("Please send at least %s, you sent %s", minimum, received),
		TriggeredBy:    triggeredBy,
		TriggeredAt:    time.Now().UTC(),
		ForwardedBy:    []string{},
		AdditionalInfo: map[string]string{},
	}
}

func WrongConditionReason(triggeredBy string, condition string) RejectionReason {
	return RejectionReason{
		Code:           CodeWrongCondition,
		Name:           "Wrong Condition",
		Message:        fmt.Sprintf("Unable to fulfill the condition: %s", condition),
		TriggeredBy:    triggeredBy,
		TriggeredAt:    time.Now().UTC(),
		ForwardedBy:    []string{},
		AdditionalInfo: map[string]string{},
	}
}
