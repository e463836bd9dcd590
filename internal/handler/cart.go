package handler

import (
	"fmt"
	"net/http"
	"strconv"

	"storefront/internal/model"
	"storefront/internal/reconcile"
	"storefront/internal/validate"
)

// === Catalog ===

// handleCatalog handles GET /catalog.
func (h *Handler) handleCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newCatalogView(h.catalog.List()))
}

// === Cart ===

type addItemRequest struct {
	ProductID int `json:"productId" validate:"required,gt=0"`
}

type replaceCartRequest struct {
	Items []reconcile.DesiredItem `json:"items" validate:"dive"`
}

type emailRequest struct {
	Email string `json:"email"`
}

// handleGetCart handles GET /cart. An optional ?shipping= adds the estimated total.
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	shipping, err := model.ParseShipping(r.URL.Query().Get("shipping"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartView(h.cart.Snapshot(), shipping))
}

// handleAddItem handles POST /cart/items. Adding a product already in the
// cart increments its quantity.
func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}

	product, err := h.catalog.Lookup(req.ProductID)
	if err != nil {
		writeError(w, err)
		return
	}
	c := h.cart.Add(product)

	h.logger.Debug("item added", "product_id", product.ID, "count", c.Count)
	writeJSON(w, http.StatusOK, newCartView(c, model.ShippingNone))
}

// handleIncrement handles POST /cart/items/{id}/increment.
func (h *Handler) handleIncrement(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, h.cart.Increment)
}

// handleDecrement handles POST /cart/items/{id}/decrement. Decrementing a
// quantity of one removes the line.
func (h *Handler) handleDecrement(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, h.cart.Decrement)
}

// handleRemoveItem handles DELETE /cart/items/{id}.
func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, h.cart.Remove)
}

func (h *Handler) mutateItem(w http.ResponseWriter, r *http.Request, op func(id int) (model.Cart, error)) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id <= 0 {
		writeError(w, model.NewValidationError("id", fmt.Sprintf("%q is not a product id", r.PathValue("id"))))
		return
	}

	c, err := op(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartView(c, model.ShippingNone))
}

// handleReplaceCart handles PUT /cart. The body is the whole desired cart;
// only the difference is applied, and an unknown product leaves the cart as it was.
func (h *Handler) handleReplaceCart(w http.ResponseWriter, r *http.Request) {
	var req replaceCartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, err)
		return
	}

	c, err := h.cart.Replace(req.Items, h.catalog.Lookup)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartView(c, model.ShippingNone))
}

// handleSetEmail handles PUT /cart/email.
func (h *Handler) handleSetEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	c, err := h.cart.SetEmail(req.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartView(c, model.ShippingNone))
}

// handleClearCart handles DELETE /cart.
func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newCartView(h.cart.Clear(), model.ShippingNone))
}
