package handler

import (
	"net/http"

	"storefront/internal/checkout"
	"storefront/internal/model"
)

// === Checkout Handlers ===

type startCheckoutRequest struct {
	Shipping string `json:"shipping"`
}

type mountRequest struct {
	Container string `json:"container"`
}

// handleGetCheckout handles GET /checkout.
func (h *Handler) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newCheckoutView(h.checkout.Snapshot()))
}

// handleStartCheckout handles POST /checkout.
// Requests a session and mounts the payment form in the configured container.
func (h *Handler) handleStartCheckout(w http.ResponseWriter, r *http.Request) {
	var req startCheckoutRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	shipping, err := model.ParseShipping(req.Shipping)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.checkout.Start(r.Context(), shipping); err != nil {
		h.logger.Warn("checkout start failed", "error", err, "state", h.checkout.Snapshot().State)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newCheckoutView(h.checkout.Snapshot()))
}

// handleMount handles POST /checkout/mount, retrying a mount whose container
// was missing. An empty container uses the configured one.
func (h *Handler) handleMount(w http.ResponseWriter, r *http.Request) {
	var req mountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.checkout.MountWidget(r.Context(), req.Container); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCheckoutView(h.checkout.Snapshot()))
}

// handleSubmit handles POST /checkout/submit.
// Answers 202 while the payment awaits confirmation.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.Submit(r.Context()); err != nil {
		writeError(w, err)
		return
	}

	snap := h.checkout.Snapshot()
	status := http.StatusOK
	if snap.State == checkout.AwaitingConfirmation {
		status = http.StatusAccepted
	}
	writeJSON(w, status, newCheckoutView(snap))
}

// handleReturn handles POST /checkout/return.
func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	h.checkout.ReturnToShop()
	writeJSON(w, http.StatusOK, newCheckoutView(h.checkout.Snapshot()))
}

// handleReset handles POST /checkout/reset.
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.Reset(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCheckoutView(h.checkout.Snapshot()))
}
