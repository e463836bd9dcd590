package handler

import (
	"storefront/internal/checkout"
	"storefront/internal/model"
)

// Views are the wire shapes shared by the REST and MCP surfaces. Amounts are
// two-decimal strings so both JSON clients and MCP output schemas see a
// plain type.

type productView struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       string `json:"price"`
	Image       string `json:"image,omitempty"`
}

type catalogView struct {
	Products []productView `json:"products"`
}

type lineView struct {
	ProductID int    `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
	LineTotal string `json:"lineTotal"`
}

type cartView struct {
	Items    []lineView `json:"items"`
	Count    int        `json:"count"`
	Subtotal string     `json:"subtotal"`
	Email    string     `json:"email,omitempty"`
	Shipping string     `json:"shipping,omitempty"`
	Total    string     `json:"total,omitempty"`
}

type checkoutView struct {
	State           string `json:"state"`
	JobID           string `json:"jobId,omitempty"`
	OrderID         string `json:"orderId,omitempty"`
	Shipping        string `json:"shipping,omitempty"`
	Subtotal        string `json:"subtotal"`
	Total           string `json:"total"`
	Error           string `json:"error,omitempty"`
	ErrorCode       string `json:"errorCode,omitempty"`
	Recoverable     bool   `json:"recoverable,omitempty"`
	SubmitEnabled   bool   `json:"submitEnabled"`
	PollAttempts    int    `json:"pollAttempts"`
	MaxPollAttempts int    `json:"maxPollAttempts"`
	ElapsedSeconds  int    `json:"elapsedSeconds"`
	LastOrderID     string `json:"lastOrderId,omitempty"`
}

func newCatalogView(products []model.Product) catalogView {
	v := catalogView{Products: make([]productView, len(products))}
	for i, p := range products {
		v.Products[i] = productView{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			Price:       model.FormatAmount(p.Price),
			Image:       p.Image,
		}
	}
	return v
}

// newCartView renders c. A non-empty shipping adds the estimated total.
func newCartView(c model.Cart, shipping model.Shipping) cartView {
	v := cartView{
		Items:    make([]lineView, len(c.Items)),
		Count:    c.Count,
		Subtotal: model.FormatAmount(c.Subtotal),
		Email:    c.Email,
	}
	for i, item := range c.Items {
		v.Items[i] = lineView{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			UnitPrice: model.FormatAmount(item.UnitPrice),
			LineTotal: model.FormatAmount(item.LineTotal()),
		}
	}
	if shipping != model.ShippingNone {
		v.Shipping = string(shipping)
		v.Total = model.FormatAmount(c.Total(shipping))
	}
	return v
}

func newCheckoutView(s checkout.Snapshot) checkoutView {
	v := checkoutView{
		State:           string(s.State),
		Shipping:        string(s.Shipping),
		Subtotal:        model.FormatAmount(s.Subtotal),
		Total:           model.FormatAmount(s.Total),
		Error:           s.Error,
		ErrorCode:       s.ErrorCode,
		Recoverable:     s.Recoverable,
		SubmitEnabled:   s.SubmitEnabled,
		PollAttempts:    s.Attempts,
		MaxPollAttempts: s.MaxAttempts,
		ElapsedSeconds:  s.ElapsedSecs,
		LastOrderID:     s.LastOrderID,
	}
	if s.Job != nil {
		v.JobID = s.Job.JobID
		v.OrderID = s.Job.OrderID
	}
	return v
}
