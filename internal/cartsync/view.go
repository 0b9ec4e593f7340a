package cartsync

import (
	"github.com/shopspring/decimal"

	"github.com/AdityaBheke/BusyBuy/internal/domain"
)

// View is an immutable cart mirror plus its grand total. A new View is
// published for every snapshot; existing ones are never modified.
type View struct {
	Cart       domain.Cart     `json:"cart"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
	// Loaded is false until the first snapshot for Cart.Owner arrives.
	Loaded bool `json:"loaded"`
	// Stale is set when the live query broke; Cart is the last known state.
	Stale bool `json:"stale"`

	generation uint64
}

// OrdersView is the order-history mirror, newest first.
type OrdersView struct {
	Owner  domain.Identity `json:"owner"`
	Orders []domain.Order  `json:"orders"`
	Loaded bool            `json:"loaded"`
	Stale  bool            `json:"stale"`

	generation uint64
}

func emptyView(owner domain.Identity, gen uint64) *View {
	return &View{
		Cart:       domain.Cart{Owner: owner, Lines: []domain.CartLine{}},
		GrandTotal: decimal.Zero,
		generation: gen,
	}
}

func emptyOrders(owner domain.Identity, gen uint64) *OrdersView {
	return &OrdersView{Owner: owner, Orders: []domain.Order{}, generation: gen}
}

func (v *View) clone() View {
	out := *v
	out.Cart = v.Cart.Clone()
	return out
}

func (v *OrdersView) clone() OrdersView {
	out := *v
	out.Orders = make([]domain.Order, len(v.Orders))
	copy(out.Orders, v.Orders)
	return out
}
