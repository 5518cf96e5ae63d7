// Package apierror provides standardized error response structures for the API.
// All errors returned to clients go through this package to ensure consistency
// and to prevent leaking internal details (stack traces, DB errors, etc.).
package apierror

// Machine-readable error codes.
const (
	CodeBadRequest        = "bad_request"
	CodeValidation        = "validation_error"
	CodeNotFound          = "not_found"
	CodeInvalidQuantity   = "invalid_quantity"
	CodeInvalidSale       = "invalid_sale"
	CodeInsufficientStock = "insufficient_stock"
	CodeConflict          = "conflict"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeRateLimited       = "rate_limited"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal_error"
)

// APIError is the canonical error envelope for all 4xx/5xx HTTP responses.
type APIError struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

func New(code, msg string) *APIError {
	return &APIError{Detail: msg, Code: code}
}

// Validation wraps multiple field errors.
type ValidationError struct {
	Detail string            `json:"detail"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields"`
}

func NewValidation(fields map[string]string) *ValidationError {
	return &ValidationError{Detail: "validation failed", Code: CodeValidation, Fields: fields}
}

// InsufficientStock is returned with 409 when a reduction would make stock
// negative.
type InsufficientStock struct {
	Detail    string `json:"detail"`
	Code      string `json:"code"`
	ProductID string `json:"product_id"`
	Available int    `json:"available"`
	Requested int    `json:"requested"`
}
