package x608

import (
	"errors"
	"fmt"
)

// PaymentError represents a payment-specific error. All engine failures are
// reported as *PaymentError values so transport layers can branch on Code.
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Common error codes
const (
	ErrCodeRouteUnavailable   = "route_unavailable"
	ErrCodeDuplicatePayment   = "duplicate_payment"
	ErrCodeEscrowNotFound     = "escrow_not_found"
	ErrCodeAlreadyFinalized   = "already_finalized"
	ErrCodeContentMismatch    = "content_mismatch"
	ErrCodeBudgetExceeded     = "budget_exceeded"
	ErrCodeMerchantNotAllowed = "merchant_not_allowed"
	ErrCodeApprovalTimeout    = "approval_timeout"
	ErrCodeVerificationFailed = "verification_failed"
	ErrCodeChallengeExpired   = "challenge_expired"
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// IsErrorCode reports whether err is a *PaymentError with the given code.
func IsErrorCode(err error, code string) bool {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code == code
	}
	return false
}
