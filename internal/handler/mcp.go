// MCP transport handler for the storefront using the official MCP Go SDK.
// Exposes the cart and checkout flow as MCP tools so an agent can shop.
package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront/internal/model"
	"storefront/internal/reconcile"
)

// === MCP Tool Input Types ===

// EmptyInput is the input schema for tools without arguments.
type EmptyInput struct{}

// AddToCartInput is the input schema for add_to_cart.
type AddToCartInput struct {
	ProductID int `json:"product_id" jsonschema:"catalog product id"`
	Quantity  int `json:"quantity,omitempty" jsonschema:"how many to add, defaults to 1"`
}

// UpdateQuantityInput is the input schema for update_quantity.
// Quantity 0 removes the line.
type UpdateQuantityInput struct {
	ProductID int `json:"product_id" jsonschema:"catalog product id"`
	Quantity  int `json:"quantity" jsonschema:"desired quantity, 0 removes the item"`
}

// SetEmailInput is the input schema for set_email.
type SetEmailInput struct {
	Email string `json:"email" jsonschema:"email address for the receipt"`
}

// StartCheckoutInput is the input schema for start_checkout.
type StartCheckoutInput struct {
	Shipping string `json:"shipping,omitempty" jsonschema:"BUDGET, STANDARD, EXPRESS or PRIORITY"`
}

// NewMCPServer creates an MCP server with cart and checkout tools registered.
// The server exposes the same operations as the REST API but via MCP protocol.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Storefront checkout. Browse products, fill the cart, set an email, " +
				"then start a checkout and submit the payment. Poll checkout_status until it settles.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_products",
		Description: "List the products for sale with their prices.",
	}, h.mcpListProducts)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "view_cart",
		Description: "Show the cart contents, item count and subtotal.",
	}, h.mcpViewCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_to_cart",
		Description: "Add a product to the cart. Adding a product already in the cart increases its quantity.",
	}, h.mcpAddToCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_quantity",
		Description: "Set the quantity of a product in the cart. Quantity 0 removes it.",
	}, h.mcpUpdateQuantity)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_email",
		Description: "Set the shopper's email address. Required before checkout.",
	}, h.mcpSetEmail)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "start_checkout",
		Description: "Start a checkout for the current cart with the chosen shipping speed.",
	}, h.mcpStartCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "submit_payment",
		Description: "Submit the payment form. The result may be pending; poll checkout_status.",
	}, h.mcpSubmitPayment)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "checkout_status",
		Description: "Get the checkout state, totals and any error.",
	}, h.mcpCheckoutStatus)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "return_to_shop",
		Description: "Abandon the current checkout and go back to shopping. The cart is kept.",
	}, h.mcpReturnToShop)

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpListProducts(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input EmptyInput,
) (*mcp.CallToolResult, *catalogView, error) {
	v := newCatalogView(h.catalog.List())
	return nil, &v, nil
}

func (h *Handler) mcpViewCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input EmptyInput,
) (*mcp.CallToolResult, *cartView, error) {
	v := newCartView(h.cart.Snapshot(), h.checkout.Snapshot().Shipping)
	return nil, &v, nil
}

func (h *Handler) mcpAddToCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddToCartInput,
) (*mcp.CallToolResult, *cartView, error) {
	if input.Quantity < 0 {
		return nil, nil, h.mcpError(model.NewValidationError("quantity", "must not be negative"))
	}
	product, err := h.catalog.Lookup(input.ProductID)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}

	n := max(input.Quantity, 1)
	var c model.Cart
	for range n {
		c = h.cart.Add(product)
	}

	v := newCartView(c, model.ShippingNone)
	return nil, &v, nil
}

func (h *Handler) mcpUpdateQuantity(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input UpdateQuantityInput,
) (*mcp.CallToolResult, *cartView, error) {
	if input.Quantity < 0 {
		return nil, nil, h.mcpError(model.NewValidationError("quantity", "must not be negative"))
	}

	// Desired state is the current cart with one line changed.
	current := h.cart.Snapshot()
	desired := make([]reconcile.DesiredItem, 0, len(current.Items)+1)
	found := false
	for _, item := range current.Items {
		qty := item.Quantity
		if item.ProductID == input.ProductID {
			qty = input.Quantity
			found = true
		}
		desired = append(desired, reconcile.DesiredItem{ProductID: item.ProductID, Quantity: qty})
	}
	if !found {
		desired = append(desired, reconcile.DesiredItem{ProductID: input.ProductID, Quantity: input.Quantity})
	}

	c, err := h.cart.Replace(desired, h.catalog.Lookup)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	v := newCartView(c, model.ShippingNone)
	return nil, &v, nil
}

func (h *Handler) mcpSetEmail(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SetEmailInput,
) (*mcp.CallToolResult, *cartView, error) {
	c, err := h.cart.SetEmail(input.Email)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	v := newCartView(c, model.ShippingNone)
	return nil, &v, nil
}

func (h *Handler) mcpStartCheckout(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input StartCheckoutInput,
) (*mcp.CallToolResult, *checkoutView, error) {
	shipping, err := model.ParseShipping(input.Shipping)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	if err := h.checkout.Start(ctx, shipping); err != nil {
		return nil, nil, h.mcpError(err)
	}
	v := newCheckoutView(h.checkout.Snapshot())
	return nil, &v, nil
}

func (h *Handler) mcpSubmitPayment(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input EmptyInput,
) (*mcp.CallToolResult, *checkoutView, error) {
	if err := h.checkout.Submit(ctx); err != nil {
		return nil, nil, h.mcpError(err)
	}
	v := newCheckoutView(h.checkout.Snapshot())
	return nil, &v, nil
}

func (h *Handler) mcpCheckoutStatus(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input EmptyInput,
) (*mcp.CallToolResult, *checkoutView, error) {
	v := newCheckoutView(h.checkout.Snapshot())
	return nil, &v, nil
}

func (h *Handler) mcpReturnToShop(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input EmptyInput,
) (*mcp.CallToolResult, *checkoutView, error) {
	h.checkout.ReturnToShop()
	v := newCheckoutView(h.checkout.Snapshot())
	return nil, &v, nil
}

// mcpError converts checkout errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var ce *model.CheckoutError
	if errors.As(err, &ce) {
		return fmt.Errorf("%s: %s", ce.Code, ce.Message)
	}
	for _, s := range sentinelErrors {
		if errors.Is(err, s.err) {
			return fmt.Errorf("%s: %s", s.code, err.Error())
		}
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
