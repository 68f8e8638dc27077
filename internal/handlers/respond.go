package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/boutique-fleurs/api/internal/platform/httpx"
	"github.com/boutique-fleurs/api/internal/platform/pagination"
	"github.com/boutique-fleurs/api/internal/platform/requestctx"
	"github.com/boutique-fleurs/api/internal/services"
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

// serviceErrorStatus maps taxonomy codes to HTTP statuses.
var serviceErrorStatus = map[string]int{
	"validation_error":            http.StatusBadRequest,
	"payment_verification_failed": http.StatusBadRequest,
	"pricing_mismatch":            http.StatusUnprocessableEntity,
	"variant_not_found":           http.StatusUnprocessableEntity,
	"variant_inactive":            http.StatusUnprocessableEntity,
	"price_out_of_range":          http.StatusUnprocessableEntity,
	"invalid_pricing_config":      http.StatusUnprocessableEntity,
	"invalid_transition":          http.StatusConflict,
	"payment_required":            http.StatusConflict,
	"invoice_not_available":       http.StatusConflict,
	"order_conflict":              http.StatusConflict,
	"order_not_found":             http.StatusNotFound,
	"product_not_found":           http.StatusNotFound,
	"duplicate_order_number":      http.StatusServiceUnavailable,
	"order_number_exhausted":      http.StatusServiceUnavailable,
	"payment_gateway_error":       http.StatusBadGateway,
}

// writeServiceError renders a service error with its taxonomy code. Unknown errors are logged
// and reported without internal detail.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	code := services.ErrorCode(err)
	status, ok := serviceErrorStatus[code]
	if !ok {
		requestctx.Logger(ctx).Error("request failed", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to process request", http.StatusInternalServerError))
		return
	}
	message := err.Error()
	if status == http.StatusNotFound {
		message = strings.ReplaceAll(code, "_", " ")
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
}

func writePaginationError(ctx context.Context, w http.ResponseWriter, err error) {
	message := "invalid pagination parameters"
	if errors.Is(err, pagination.ErrInvalidPageSize) || errors.Is(err, pagination.ErrInvalidPageToken) {
		message = err.Error()
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

// decodeJSONBody reads a bounded body and decodes it strictly.
func decodeJSONBody(r *http.Request, limit int64, dst any) error {
	body, err := readLimitedBody(r, limit)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("request body must be valid JSON")
	}
	return nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
