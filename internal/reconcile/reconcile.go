// Package reconcile computes the delta between the current cart and a desired
// cart state, enabling PUT semantics on the cart: the caller sends the whole
// desired cart and only the necessary mutations are applied.
package reconcile

// LineItemDiff describes the mutations needed to reconcile line items.
// Operations should be applied in order: Remove → Update → Add
// to prevent conflicts (e.g., updating a removed item).
type LineItemDiff struct {
	ToAdd    []ItemToAdd    // Products in desired but not current
	ToRemove []ItemToRemove // Products in current but not desired
	ToUpdate []ItemToUpdate // Products in both with different quantities
}

// ItemToAdd specifies a new line item.
type ItemToAdd struct {
	ProductID int
	Quantity  int
}

// ItemToRemove specifies a line item to drop.
type ItemToRemove struct {
	ProductID int
}

// ItemToUpdate specifies a quantity change for an existing line item.
type ItemToUpdate struct {
	ProductID   int
	OldQuantity int // informational
	NewQuantity int
}

// IsEmpty returns true if no line item changes are needed.
func (d *LineItemDiff) IsEmpty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 && len(d.ToUpdate) == 0
}

// CurrentItem is a line item as the cart holds it now.
type CurrentItem struct {
	ProductID int
	Quantity  int
}

// DesiredItem is a line item as the caller wants it.
// Quantity <= 0 means "not in the cart".
type DesiredItem struct {
	ProductID int `json:"productId" validate:"required,gt=0"`
	Quantity  int `json:"quantity" validate:"gte=0"`
}

// DiffLineItems computes the delta between current and desired line items.
// Matching is by ProductID. Duplicate desired entries are merged by summing
// their quantities, the same way adding an existing product increments it.
//
// Output order follows input order (desired order for adds and updates,
// current order for removes) so applying the diff keeps the cart stable.
func DiffLineItems(current []CurrentItem, desired []DesiredItem) *LineItemDiff {
	diff := &LineItemDiff{}

	currentByID := make(map[int]CurrentItem, len(current))
	for _, item := range current {
		currentByID[item.ProductID] = item
	}

	wanted := make(map[int]int, len(desired))
	var order []int
	for _, item := range desired {
		if _, seen := wanted[item.ProductID]; !seen {
			order = append(order, item.ProductID)
		}
		wanted[item.ProductID] += max(item.Quantity, 0)
	}

	for _, id := range order {
		qty := wanted[id]
		cur, exists := currentByID[id]
		switch {
		case qty == 0:
			// Removal handled below
		case !exists:
			diff.ToAdd = append(diff.ToAdd, ItemToAdd{ProductID: id, Quantity: qty})
		case cur.Quantity != qty:
			diff.ToUpdate = append(diff.ToUpdate, ItemToUpdate{
				ProductID:   id,
				OldQuantity: cur.Quantity,
				NewQuantity: qty,
			})
		}
	}

	for _, cur := range current {
		if wanted[cur.ProductID] == 0 {
			diff.ToRemove = append(diff.ToRemove, ItemToRemove{ProductID: cur.ProductID})
		}
	}

	return diff
}
