package domain

import (
	"time"
)

// CartLine is one entry in the cart: a selected product, its quantity, and its
// nested addons. Addons reuse the same shape but nest only one level deep.
type CartLine struct {
	// CartItemID uniquely identifies this cart entry. Distinct from ProductID:
	// the same product can appear as several independently configured entries.
	CartItemID string
	ProductID  string
	Name       string
	UnitPrice  int64
	Quantity   int64
	// LineTotal is kept denormalised. It is recomputed whenever quantity or
	// price changes and never trusted from input on updates.
	LineTotal int64
	ImageURL  string
	Category  string
	Available bool
	Addons    []CartLine
}

// EffectiveTotal returns the line total including every addon's line total.
func (l CartLine) EffectiveTotal() int64 {
	total := l.LineTotal
	for _, addon := range l.Addons {
		total += addon.LineTotal
	}
	return total
}

// MenuItem describes a product exposed by the backend menu.
type MenuItem struct {
	ID          string
	Name        string
	Description string
	Price       int64
	ImageURL    string
	Category    string
	Subcategory string
	Available   bool
	IsAddon     bool
}

// Category groups menu items for browsing and back-office management.
type Category struct {
	ID        string
	Name      string
	SortOrder int
	Active    bool
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending indicates the order awaits payment completion.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid indicates payment succeeded.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusPreparing indicates the kitchen accepted the order.
	OrderStatusPreparing OrderStatus = "preparing"
	// OrderStatusServed indicates the order has been delivered to the table.
	OrderStatusServed OrderStatus = "served"
	// OrderStatusCompleted indicates the order has been closed out.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCanceled indicates the order has been canceled.
	OrderStatusCanceled OrderStatus = "canceled"
)

// Order captures an order as returned by the backend.
type Order struct {
	ID          string
	OrderNumber string
	UserID      string
	TableNumber string
	Status      OrderStatus
	Items       []CartLine
	Total       int64
	PaymentID   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableState enumerates occupancy states on the table status board.
type TableState string

const (
	// TableStateVacant marks a table as free.
	TableStateVacant TableState = "vacant"
	// TableStateOccupied marks a table as seated with an active session.
	TableStateOccupied TableState = "occupied"
	// TableStateBilling marks a table as waiting for payment.
	TableStateBilling TableState = "billing"
	// TableStateCleaning marks a table as being reset.
	TableStateCleaning TableState = "cleaning"
)

// Table is one row of the table status board.
type Table struct {
	ID          string
	Number      string
	Seats       int
	State       TableState
	ActiveOrder string
	UpdatedAt   time.Time
}

// User is the authenticated identity resolved by the auth session.
type User struct {
	ID          string
	UserID      string
	DisplayName string
	PictureURL  string
	Role        string
	LineUserID  string
	TableNumber string
}

// SalesRow is one aggregated row of a sales report.
type SalesRow struct {
	Date       time.Time
	OrderCount int
	ItemCount  int
	GrossSales int64
}
