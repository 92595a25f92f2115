package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrValidation           = errors.New("validation failed")
	ErrNotFound             = errors.New("not found")
	ErrInsufficientStock    = errors.New("insufficient stock")
	ErrInvalidDestination   = errors.New("invalid destination")
	ErrProductBarred        = errors.New("product is barred")
	ErrLimitExceeded        = errors.New("order amount exceeds maximum")
	ErrBatchRejected        = errors.New("batch rejected")
	ErrConfirmationRequired = errors.New("confirmation required")
	ErrDuplicateSubmission  = errors.New("duplicate submission")
)

// FieldError names the request field that failed validation.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error {
	return ErrValidation
}

func Invalid(field, message string) error {
	return &FieldError{Field: field, Message: message}
}

// StockError reports a decrement that would leave a record negative.
type StockError struct {
	LocationID  string
	ProductID   int64
	PlacementID int64
	BatchID     int64
	Requested   decimal.Decimal
	Available   decimal.Decimal
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d at placement %d batch %d: requested %s, available %s",
		e.ProductID, e.PlacementID, e.BatchID, e.Requested.String(), e.Available.String())
}

func (e *StockError) Unwrap() error {
	return ErrInsufficientStock
}
