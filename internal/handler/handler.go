// Package handler provides the HTTP surfaces of the storefront host:
// a REST API for the cart and checkout flow and an MCP endpoint for agents.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"storefront/internal/cart"
	"storefront/internal/catalog"
	"storefront/internal/checkout"
	"storefront/internal/model"
)

// MaxRequestBodySize limits request body size to prevent memory exhaustion.
const MaxRequestBodySize = 1 << 20 // 1MB

// Handler serves the storefront API on top of the cart and the orchestrator.
type Handler struct {
	catalog  *catalog.Catalog
	cart     *cart.Store
	checkout *checkout.Orchestrator
	logger   *slog.Logger
}

// New creates a handler. All dependencies are shared with the rest of the host.
func New(cat *catalog.Catalog, c *cart.Store, orch *checkout.Orchestrator, logger *slog.Logger) *Handler {
	return &Handler{
		catalog:  cat,
		cart:     c,
		checkout: orch,
		logger:   logger,
	}
}

// RegisterRoutes sets up all HTTP routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)

	mux.HandleFunc("GET /catalog", h.handleCatalog)

	mux.HandleFunc("GET /cart", h.handleGetCart)
	mux.HandleFunc("PUT /cart", h.handleReplaceCart)
	mux.HandleFunc("DELETE /cart", h.handleClearCart)
	mux.HandleFunc("PUT /cart/email", h.handleSetEmail)
	mux.HandleFunc("POST /cart/items", h.handleAddItem)
	mux.HandleFunc("POST /cart/items/{id}/increment", h.handleIncrement)
	mux.HandleFunc("POST /cart/items/{id}/decrement", h.handleDecrement)
	mux.HandleFunc("DELETE /cart/items/{id}", h.handleRemoveItem)

	mux.HandleFunc("GET /checkout", h.handleGetCheckout)
	mux.HandleFunc("POST /checkout", h.handleStartCheckout)
	mux.HandleFunc("POST /checkout/mount", h.handleMount)
	mux.HandleFunc("POST /checkout/submit", h.handleSubmit)
	mux.HandleFunc("POST /checkout/return", h.handleReturn)
	mux.HandleFunc("POST /checkout/reset", h.handleReset)

	// MCP endpoint (streamable HTTP transport)
	mux.Handle("/mcp", h.NewMCPHandler())
}

type healthResponse struct {
	Status string `json:"status"`
	State  string `json:"checkout"`
}

// handleHealth handles GET /health for liveness checks.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		State:  string(h.checkout.Snapshot().State),
	})
}

// === Response Helpers ===

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps an error to a status code and the standard error body.
func writeError(w http.ResponseWriter, err error) {
	status, code, message := classifyError(err)
	writeJSON(w, status, errorResponse{
		Error: errorBody{Code: code, Message: message},
	})
}

// kindStatuses maps checkout error kinds to host status codes. The remote
// service's own status is kept in the error but never leaks as ours.
var kindStatuses = []struct {
	kind   error
	status int
}{
	{model.ErrValidation, http.StatusBadRequest},
	{model.ErrNetwork, http.StatusBadGateway},
	{model.ErrAPI, http.StatusBadGateway},
	{model.ErrProtocol, http.StatusBadGateway},
	{model.ErrAuthorization, http.StatusForbidden},
	{model.ErrWidget, http.StatusUnprocessableEntity},
	{model.ErrMount, http.StatusConflict},
}

var sentinelErrors = []struct {
	err    error
	status int
	code   string
}{
	{model.ErrCheckoutInProgress, http.StatusConflict, "CHECKOUT_IN_PROGRESS"},
	{model.ErrNoCheckout, http.StatusConflict, "NO_CHECKOUT"},
	{checkout.ErrSuperseded, http.StatusConflict, "SUPERSEDED"},
	{model.ErrItemNotFound, http.StatusNotFound, "ITEM_NOT_FOUND"},
	{model.ErrProductNotFound, http.StatusNotFound, "PRODUCT_NOT_FOUND"},
}

func classifyError(err error) (status int, code, message string) {
	var ce *model.CheckoutError
	if errors.As(err, &ce) {
		for _, ks := range kindStatuses {
			if errors.Is(ce.Kind, ks.kind) {
				return ks.status, ce.Code, ce.Message
			}
		}
		return http.StatusInternalServerError, ce.Code, ce.Message
	}
	for _, s := range sentinelErrors {
		if errors.Is(err, s.err) {
			return s.status, s.code, err.Error()
		}
	}
	return http.StatusInternalServerError, "INTERNAL_ERROR", "internal error"
}

// decodeJSON reads and decodes JSON from request body with size limit.
// An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, MaxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return model.NewValidationError("body", fmt.Sprintf("larger than %d bytes", maxErr.Limit))
		}
		return model.NewValidationError("body", err.Error())
	}
	return nil
}
