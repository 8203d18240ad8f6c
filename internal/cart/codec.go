package cart

import (
	"encoding/json"
	"fmt"

	"github.com/chumon-app/kiosk/internal/domain"
)

// SnapshotKey is the local-store key under which the cart snapshot persists
// across restarts.
const SnapshotKey = "cart_snapshot"

// wireLine is the serialized form of a cart line shared by the local snapshot
// and the server snapshot. Keeping the boundary explicit means addon blobs
// stay strongly typed end to end instead of round-tripping as opaque JSON.
type wireLine struct {
	CartItemID string     `json:"cartItemId"`
	ProductID  string     `json:"productId"`
	Name       string     `json:"name,omitempty"`
	UnitPrice  int64      `json:"unitPrice"`
	Quantity   int64      `json:"quantity"`
	LineTotal  int64      `json:"lineTotal"`
	ImageURL   string     `json:"imageUrl,omitempty"`
	Category   string     `json:"category,omitempty"`
	Available  bool       `json:"available"`
	Addons     []wireLine `json:"addons,omitempty"`
}

// EncodeItems serializes cart lines for persistence. The output is
// deterministic for a given item sequence, which the syncer relies on for its
// skip-if-unchanged comparison.
func EncodeItems(items []domain.CartLine) ([]byte, error) {
	wire := make([]wireLine, 0, len(items))
	for _, item := range items {
		wire = append(wire, toWire(item, true))
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("cart: encode items: %w", err)
	}
	return data, nil
}

// DecodeItems parses a persisted snapshot back into cart lines. Addons nested
// below the first level are dropped.
func DecodeItems(data []byte) ([]domain.CartLine, error) {
	var wire []wireLine
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("cart: decode items: %w", err)
	}
	items := make([]domain.CartLine, 0, len(wire))
	for _, line := range wire {
		items = append(items, fromWire(line, true))
	}
	return items, nil
}

func toWire(item domain.CartLine, withAddons bool) wireLine {
	line := wireLine{
		CartItemID: item.CartItemID,
		ProductID:  item.ProductID,
		Name:       item.Name,
		UnitPrice:  item.UnitPrice,
		Quantity:   item.Quantity,
		LineTotal:  item.LineTotal,
		ImageURL:   item.ImageURL,
		Category:   item.Category,
		Available:  item.Available,
	}
	if withAddons && len(item.Addons) > 0 {
		line.Addons = make([]wireLine, 0, len(item.Addons))
		for _, addon := range item.Addons {
			line.Addons = append(line.Addons, toWire(addon, false))
		}
	}
	return line
}

func fromWire(line wireLine, withAddons bool) domain.CartLine {
	item := domain.CartLine{
		CartItemID: line.CartItemID,
		ProductID:  line.ProductID,
		Name:       line.Name,
		UnitPrice:  line.UnitPrice,
		Quantity:   line.Quantity,
		LineTotal:  line.LineTotal,
		ImageURL:   line.ImageURL,
		Category:   line.Category,
		Available:  line.Available,
	}
	if withAddons && len(line.Addons) > 0 {
		item.Addons = make([]domain.CartLine, 0, len(line.Addons))
		for _, addon := range line.Addons {
			item.Addons = append(item.Addons, fromWire(addon, false))
		}
	}
	return item
}
