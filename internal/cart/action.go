package cart

import (
	"github.com/chumon-app/kiosk/internal/domain"
)

// Action is one transition request for the cart reducer. The concrete action
// types below form the complete dispatchable surface consumed by the
// presentation layer; no other mutation path exists.
type Action interface {
	// Name returns a stable identifier used for logging.
	Name() string
}

// AddItem appends a new cart entry, or merges quantity and line total into an
// existing entry carrying the same cart item id (re-add path).
type AddItem struct {
	Item domain.CartLine
}

// RemoveItem removes the entry with the given cart item id. Unknown ids are a
// silent no-op.
type RemoveItem struct {
	CartItemID string
}

// UpdateQuantity sets the quantity of an entry and recomputes its line total.
// Quantities below one behave as RemoveItem.
type UpdateQuantity struct {
	CartItemID string
	Quantity   int64
}

// AddAddon attaches an addon to the entry with the given cart item id, merging
// with an existing addon for the same product.
type AddAddon struct {
	CartItemID string
	Addon      domain.CartLine
}

// RemoveAddon detaches an addon from its parent entry.
type RemoveAddon struct {
	CartItemID string
	AddonID    string
}

// UpdateAddonQuantity sets an addon's quantity and recomputes its line total.
// Quantities below one behave as RemoveAddon.
type UpdateAddonQuantity struct {
	CartItemID string
	AddonID    string
	Quantity   int64
}

// SetItems replaces the item list wholesale. Used when restoring the local
// snapshot and when the server snapshot overrides local state on login.
type SetItems struct {
	Items []domain.CartLine
}

// Clear resets the cart to its empty initial state.
type Clear struct{}

// Name implements Action.
func (AddItem) Name() string { return "add_item" }

// Name implements Action.
func (RemoveItem) Name() string { return "remove_item" }

// Name implements Action.
func (UpdateQuantity) Name() string { return "update_quantity" }

// Name implements Action.
func (AddAddon) Name() string { return "add_addon" }

// Name implements Action.
func (RemoveAddon) Name() string { return "remove_addon" }

// Name implements Action.
func (UpdateAddonQuantity) Name() string { return "update_addon_quantity" }

// Name implements Action.
func (SetItems) Name() string { return "set_items" }

// Name implements Action.
func (Clear) Name() string { return "clear_cart" }
