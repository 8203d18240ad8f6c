package cart

import (
	"github.com/chumon-app/kiosk/internal/domain"
)

// State is the reducer-owned cart state: the ordered item list and the derived
// cart total. Insertion order is display order.
type State struct {
	Items []domain.CartLine
	// CartTotal equals the sum over all items of the item's line total plus
	// the line totals of its addons. It is recomputed after every transition
	// and never mutated independently.
	CartTotal int64
}

// InitialState returns the empty cart a session starts from.
func InitialState() State {
	return State{Items: []domain.CartLine{}}
}

// Apply computes the next state from the current state and an action. It is a
// pure total function: no action fails, and unmatched identifiers leave the
// state unchanged. Returned states never alias mutated entries of the input.
func Apply(state State, action Action) State {
	switch a := action.(type) {
	case AddItem:
		return withItems(applyAddItem(state.Items, a.Item))
	case UpdateQuantity:
		if a.Quantity < 1 {
			return Apply(state, RemoveItem{CartItemID: a.CartItemID})
		}
		return withItems(applyUpdateQuantity(state.Items, a.CartItemID, a.Quantity))
	case RemoveItem:
		return withItems(applyRemoveItem(state.Items, a.CartItemID))
	case AddAddon:
		return withItems(applyAddAddon(state.Items, a.CartItemID, a.Addon))
	case RemoveAddon:
		return withItems(applyRemoveAddon(state.Items, a.CartItemID, a.AddonID))
	case UpdateAddonQuantity:
		if a.Quantity < 1 {
			return Apply(state, RemoveAddon{CartItemID: a.CartItemID, AddonID: a.AddonID})
		}
		return withItems(applyUpdateAddonQuantity(state.Items, a.CartItemID, a.AddonID, a.Quantity))
	case SetItems:
		return withItems(CloneLines(a.Items))
	case Clear:
		return InitialState()
	default:
		return state
	}
}

func withItems(items []domain.CartLine) State {
	return State{Items: items, CartTotal: totalOf(items)}
}

func totalOf(items []domain.CartLine) int64 {
	var total int64
	for _, item := range items {
		total += item.EffectiveTotal()
	}
	return total
}

func applyAddItem(items []domain.CartLine, newItem domain.CartLine) []domain.CartLine {
	for i, item := range items {
		if item.CartItemID != newItem.CartItemID {
			continue
		}
		// Re-add of an existing entry: the literal transaction amounts are
		// combined, not recomputed as price x quantity.
		merged := item
		merged.Quantity += newItem.Quantity
		merged.LineTotal += newItem.LineTotal
		return replaceAt(items, i, merged)
	}
	out := make([]domain.CartLine, 0, len(items)+1)
	out = append(out, items...)
	out = append(out, newItem)
	return out
}

func applyUpdateQuantity(items []domain.CartLine, cartItemID string, quantity int64) []domain.CartLine {
	for i, item := range items {
		if item.CartItemID != cartItemID {
			continue
		}
		updated := item
		updated.Quantity = quantity
		updated.LineTotal = item.UnitPrice * quantity
		return replaceAt(items, i, updated)
	}
	return items
}

func applyRemoveItem(items []domain.CartLine, cartItemID string) []domain.CartLine {
	out := make([]domain.CartLine, 0, len(items))
	for _, item := range items {
		if item.CartItemID == cartItemID {
			continue
		}
		out = append(out, item)
	}
	return out
}

func applyAddAddon(items []domain.CartLine, cartItemID string, addon domain.CartLine) []domain.CartLine {
	for i, item := range items {
		if item.CartItemID != cartItemID {
			continue
		}
		updated := item
		updated.Addons = mergeAddon(item.Addons, addon)
		return replaceAt(items, i, updated)
	}
	return items
}

func mergeAddon(addons []domain.CartLine, addon domain.CartLine) []domain.CartLine {
	for i, existing := range addons {
		if existing.ProductID != addon.ProductID {
			continue
		}
		merged := existing
		merged.Quantity += addon.Quantity
		merged.LineTotal += addon.LineTotal
		out := make([]domain.CartLine, len(addons))
		copy(out, addons)
		out[i] = merged
		return out
	}
	// Addons nest one level only; anything deeper on the input is discarded.
	addon.Addons = nil
	out := make([]domain.CartLine, 0, len(addons)+1)
	out = append(out, addons...)
	out = append(out, addon)
	return out
}

func applyRemoveAddon(items []domain.CartLine, cartItemID, addonID string) []domain.CartLine {
	for i, item := range items {
		if item.CartItemID != cartItemID {
			continue
		}
		kept := make([]domain.CartLine, 0, len(item.Addons))
		for _, addon := range item.Addons {
			if addon.ProductID == addonID {
				continue
			}
			kept = append(kept, addon)
		}
		updated := item
		updated.Addons = kept
		return replaceAt(items, i, updated)
	}
	return items
}

func applyUpdateAddonQuantity(items []domain.CartLine, cartItemID, addonID string, quantity int64) []domain.CartLine {
	for i, item := range items {
		if item.CartItemID != cartItemID {
			continue
		}
		changed := false
		addons := make([]domain.CartLine, len(item.Addons))
		copy(addons, item.Addons)
		for j, addon := range addons {
			if addon.ProductID != addonID {
				continue
			}
			addon.Quantity = quantity
			addon.LineTotal = addon.UnitPrice * quantity
			addons[j] = addon
			changed = true
		}
		if !changed {
			return items
		}
		updated := item
		updated.Addons = addons
		return replaceAt(items, i, updated)
	}
	return items
}

func replaceAt(items []domain.CartLine, i int, item domain.CartLine) []domain.CartLine {
	out := make([]domain.CartLine, len(items))
	copy(out, items)
	out[i] = item
	return out
}

// CloneLines deep-copies cart lines, including addon slices, so callers can
// hand out snapshots without sharing mutable state.
func CloneLines(items []domain.CartLine) []domain.CartLine {
	if items == nil {
		return []domain.CartLine{}
	}
	out := make([]domain.CartLine, len(items))
	for i, item := range items {
		dup := item
		if item.Addons != nil {
			addons := make([]domain.CartLine, len(item.Addons))
			copy(addons, item.Addons)
			dup.Addons = addons
		}
		out[i] = dup
	}
	return out
}
