package guard

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMode     = errors.New("invalid autonomy mode")
	ErrInvalidDecision = errors.New("invalid approval decision")
	ErrUnknownRequest  = errors.New("unknown approval request")
	ErrAlreadyResolved = errors.New("approval request already resolved")
	ErrBrokerClosed    = errors.New("approval broker is closed")
	ErrNoRequester     = errors.New("no approval requester")
)

// DeniedError is returned by Result.Err for a denied call.
type DeniedError struct {
	Risk    RiskLevel
	Message string
}

func (e *DeniedError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("tool execution denied (%s)", e.Risk)
}

func deniedMessage(reason string) string {
	return fmt.Sprintf("User denied tool execution (%s).", reason)
}
