package plaidclient

import (
	"context"
	"errors"
	"fmt"

	"github.com/plaid/plaid-go/v29/plaid"

	"github.com/dvloznov/bank-sheets-sync/internal/domain"
)

// Codes that mean the operator has to re-link the institution.
var authCodes = map[string]bool{
	"ITEM_LOGIN_REQUIRED":      true,
	"INVALID_ACCESS_TOKEN":     true,
	"ITEM_NOT_FOUND":           true,
	"ACCESS_NOT_GRANTED":       true,
	"INVALID_CREDENTIALS":      true,
	"ITEM_LOCKED":              true,
	"USER_SETUP_REQUIRED":      true,
	"PENDING_EXPIRATION":       true,
	"NO_ACCOUNTS":              true,
	"INVALID_PUBLIC_TOKEN":     true,
	"INSUFFICIENT_CREDENTIALS": true,
}

// Error types that are worth retrying on the next run.
var transientTypes = map[string]bool{
	"RATE_LIMIT_EXCEEDED": true,
	"API_ERROR":           true,
	"INSTITUTION_ERROR":   true,
}

var transientCodes = map[string]bool{
	"PRODUCT_NOT_READY":          true,
	"INSTITUTION_DOWN":           true,
	"INSTITUTION_NOT_RESPONDING": true,
	"INTERNAL_SERVER_ERROR":      true,
	"PLANNED_MAINTENANCE":        true,
}

// classify maps a Plaid SDK error onto the domain taxonomy, keeping the
// provider's code and message in the text.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", domain.ErrTransient, err)
	}

	pe, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return err
	}
	return classifyCode(string(pe.GetErrorType()), pe.GetErrorCode(), pe.GetErrorMessage())
}

func classifyCode(errorType, errorCode, message string) error {
	detail := fmt.Errorf("plaid %s/%s: %s", errorType, errorCode, message)
	switch {
	case authCodes[errorCode]:
		return fmt.Errorf("%w: %w", domain.ErrAuthExpired, detail)
	case transientTypes[errorType], transientCodes[errorCode]:
		return fmt.Errorf("%w: %w", domain.ErrTransient, detail)
	default:
		return detail
	}
}
