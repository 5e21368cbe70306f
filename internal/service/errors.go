package service

import (
	"errors"
	"fmt"

	"github.com/front-sio/pos-api/internal/store"
)

// ErrReturnInconsistent marks a return whose stock was restored but whose
// sale line could not be updated. The journal keeps the record flagged.
var ErrReturnInconsistent = errors.New("return left stock and sales out of sync")

// ValidationError rejects client input. Index is the offending line item, or
// -1 when the problem is with the request itself.
type ValidationError struct {
	Index   int
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return store.ErrInvalidTransaction
}

func itemError(index int, field string, format string, args ...any) *ValidationError {
	return &ValidationError{
		Index:   index,
		Field:   field,
		Message: fmt.Sprintf("items[%d].", index) + fmt.Sprintf(format, args...),
	}
}

// MissingCostError aborts persistence when the cost policy is fail and a
// product has never been purchased.
type MissingCostError struct {
	ProductID int64
}

func (e *MissingCostError) Error() string {
	return fmt.Sprintf("No purchase record found for product %d", e.ProductID)
}

func (e *MissingCostError) Unwrap() error {
	return store.ErrInvalidTransaction
}
