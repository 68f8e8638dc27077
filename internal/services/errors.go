package services

import (
	"errors"
	"fmt"

	"github.com/boutique-fleurs/api/internal/platform/pagination"
	"github.com/boutique-fleurs/api/internal/repositories"
)

var (
	// ErrValidation signals malformed or out-of-range input.
	ErrValidation = errors.New("validation error")
	// ErrPricingMismatch signals a declared or paid amount that diverges from the computed total.
	ErrPricingMismatch = errors.New("pricing mismatch")
	// ErrVariantNotFound signals that no variant matches the selection.
	ErrVariantNotFound = errors.New("variant not found")
	// ErrVariantInactive signals a selection of a disabled variant.
	ErrVariantInactive = errors.New("variant inactive")
	// ErrPriceOutOfRange signals a custom price outside the product bounds.
	ErrPriceOutOfRange = errors.New("price out of range")
	// ErrInvalidPricingConfig signals a product whose pricing cannot produce a price.
	ErrInvalidPricingConfig = errors.New("invalid pricing configuration")
	// ErrInvalidTransition signals an illegal order status edge.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrPaymentRequired signals an attempt to advance an order that is not paid.
	ErrPaymentRequired = errors.New("payment required")
	// ErrDuplicateOrderNumber signals that order number retries were exhausted.
	ErrDuplicateOrderNumber = errors.New("duplicate order number")
	// ErrOrderNumberExhausted signals that the daily sequence reached its maximum.
	ErrOrderNumberExhausted = errors.New("order number sequence exhausted")
	// ErrPaymentVerification signals a webhook that failed authenticity checks.
	ErrPaymentVerification = errors.New("payment verification failed")
	// ErrInvoiceNotAvailable signals an invoice request on an undelivered order.
	ErrInvoiceNotAvailable = errors.New("invoice not available")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound indicates the product could not be located.
	ErrProductNotFound = errors.New("product not found")
	// ErrOrderConflict indicates a concurrent write or uniqueness conflict.
	ErrOrderConflict = errors.New("order conflict")
	// ErrPaymentGateway indicates the payment provider could not be reached or refused the call.
	ErrPaymentGateway = errors.New("payment gateway error")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrPaymentVerification, "payment_verification_failed"},
	{ErrPricingMismatch, "pricing_mismatch"},
	{ErrVariantNotFound, "variant_not_found"},
	{ErrVariantInactive, "variant_inactive"},
	{ErrPriceOutOfRange, "price_out_of_range"},
	{ErrInvalidPricingConfig, "invalid_pricing_config"},
	{ErrInvalidTransition, "invalid_transition"},
	{ErrPaymentRequired, "payment_required"},
	{ErrDuplicateOrderNumber, "duplicate_order_number"},
	{ErrOrderNumberExhausted, "order_number_exhausted"},
	{ErrInvoiceNotAvailable, "invoice_not_available"},
	{ErrOrderNotFound, "order_not_found"},
	{ErrProductNotFound, "product_not_found"},
	{ErrOrderConflict, "order_conflict"},
	{ErrPaymentGateway, "payment_gateway_error"},
	{ErrValidation, "validation_error"},
}

// ErrorCode returns the taxonomy code carried by err, or "internal_error" for anything else.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	for _, entry := range errorCodes {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return "internal_error"
}

// mapRepositoryError translates categorised persistence failures. Errors that carry no category,
// including service sentinels returned from inside a transaction, pass through untouched.
func mapRepositoryError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pagination.ErrInvalidPageToken) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("repository unavailable: %w", err)
		}
	}

	return err
}
