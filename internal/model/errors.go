package model

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the checkout error taxonomy.
// Use errors.Is() to check against these.
var (
	ErrValidation    = errors.New("validation failed")
	ErrNetwork       = errors.New("network error")
	ErrAPI           = errors.New("api error")
	ErrProtocol      = errors.New("protocol error")
	ErrAuthorization = errors.New("authorization error")
	ErrWidget        = errors.New("payment widget error")
	ErrMount         = errors.New("payment widget mount error")

	ErrCheckoutInProgress = errors.New("checkout already in progress")
	ErrNoCheckout         = errors.New("no checkout in progress")
	ErrItemNotFound       = errors.New("item not in cart")
	ErrProductNotFound    = errors.New("product not found")
)

// CheckoutError is the structured error surfaced to the view layer.
// Kind is one of the sentinels above; Message is safe to show to the shopper.
type CheckoutError struct {
	Kind       error  `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // HTTP status of the remote response (ApiError) or the status the host answers with
	Err        error  `json:"-"` // Wrapped cause, not serialized
}

func (e *CheckoutError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *CheckoutError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewValidationError creates a 400 error for input rejected before any network call.
func NewValidationError(field, reason string) *CheckoutError {
	return &CheckoutError{
		Kind:       ErrValidation,
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: http.StatusBadRequest,
	}
}

// NewNetworkError wraps a transport failure (request never completed).
func NewNetworkError(op string, err error) *CheckoutError {
	return &CheckoutError{
		Kind:       ErrNetwork,
		Code:       "NETWORK_ERROR",
		Message:    fmt.Sprintf("%s failed: could not reach the checkout service", op),
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

// NewAPIError carries a remote failure status and the server-provided message verbatim.
func NewAPIError(status int, message string) *CheckoutError {
	if message == "" {
		message = http.StatusText(status)
	}
	return &CheckoutError{
		Kind:       ErrAPI,
		Code:       "API_ERROR",
		Message:    message,
		StatusCode: status,
	}
}

// NewProtocolError reports a malformed or missing payment session token.
func NewProtocolError(err error) *CheckoutError {
	return &CheckoutError{
		Kind:       ErrProtocol,
		Code:       "PROTOCOL_ERROR",
		Message:    "invalid payment session",
		StatusCode: http.StatusBadGateway,
		Err:        err,
	}
}

// NewAuthorizationError reports a 401/403-class rejection while polling.
func NewAuthorizationError(status int) *CheckoutError {
	return &CheckoutError{
		Kind:       ErrAuthorization,
		Code:       "AUTHORIZATION_ERROR",
		Message:    "payment status check was not authorized",
		StatusCode: status,
	}
}

// NewWidgetError reports a payment widget failure (SDK load, initialize or confirm).
func NewWidgetError(message string, err error) *CheckoutError {
	return &CheckoutError{
		Kind:       ErrWidget,
		Code:       "WIDGET_ERROR",
		Message:    message,
		StatusCode: http.StatusUnprocessableEntity,
		Err:        err,
	}
}

// NewMountError reports a missing mount container. Retry once it exists.
func NewMountError(container string) *CheckoutError {
	return &CheckoutError{
		Kind:       ErrMount,
		Code:       "MOUNT_ERROR",
		Message:    fmt.Sprintf("payment container %q not found", container),
		StatusCode: http.StatusConflict,
	}
}

// Retryable reports whether a failed poll may be followed by another poll.
// Authorization, protocol and validation failures are never retried.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrAPI)
}

// Message returns the shopper-facing text for err.
func Message(err error) string {
	var ce *CheckoutError
	if errors.As(err, &ce) {
		return ce.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
