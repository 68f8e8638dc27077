package repositories

import "fmt"

// OrderConflictField names the unique key an insert collided on.
type OrderConflictField string

const (
	OrderConflictID              OrderConflictField = "id"
	OrderConflictNumber          OrderConflictField = "orderNumber"
	OrderConflictPaymentIntentID OrderConflictField = "paymentIntentId"
)

// OrderConflictError reports a unique index violation on order insert.
type OrderConflictError struct {
	Field OrderConflictField
	Value string
}

func (e *OrderConflictError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("orders: %s %q already taken", e.Field, e.Value)
}

func (e *OrderConflictError) IsNotFound() bool    { return false }
func (e *OrderConflictError) IsConflict() bool    { return e != nil }
func (e *OrderConflictError) IsUnavailable() bool { return false }

var _ RepositoryError = (*OrderConflictError)(nil)
