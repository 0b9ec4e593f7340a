// Package domain holds the cart and order value types and the grand-total
// calculation shared by every other package.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Identity is the signed-in user. The zero value means nobody is signed in.
type Identity struct {
	ID string `json:"id"`
}

// IsZero reports whether no user is signed in.
func (i Identity) IsZero() bool { return i.ID == "" }

// Product is what the caller hands to AddToCart.
type Product struct {
	ID          string          `json:"id" validate:"required"`
	Title       string          `json:"title" validate:"required"`
	Description string          `json:"description"`
	Image       string          `json:"image,omitempty"`
	Price       decimal.Decimal `json:"price"`
}

// CartLine is one product in a user's cart. ID is the store document id.
type CartLine struct {
	ID          string          `json:"id"`
	UserID      string          `json:"userId"`
	ProductID   string          `json:"productId"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Image       string          `json:"image,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
}

// Subtotal is price times quantity, unrounded.
func (l CartLine) Subtotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Cart is the mirror of one identity's cart lines, in the order the live
// query delivered them.
type Cart struct {
	Owner Identity   `json:"owner"`
	Lines []CartLine `json:"lines"`
}

// Find returns the first line for productID. Duplicate lines for a product
// can exist after two racing adds; the first one wins for mutations.
func (c Cart) Find(productID string) (CartLine, bool) {
	for _, l := range c.Lines {
		if l.ProductID == productID {
			return l, true
		}
	}
	return CartLine{}, false
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool { return len(c.Lines) == 0 }

// Clone returns a deep copy so a snapshot handed to checkout cannot change
// under it.
func (c Cart) Clone() Cart {
	lines := make([]CartLine, len(c.Lines))
	copy(lines, c.Lines)
	return Cart{Owner: c.Owner, Lines: lines}
}

// Order is an immutable record of a completed purchase.
type Order struct {
	ID         string          `json:"id"`
	UserID     string          `json:"userId"`
	LineItems  []CartLine      `json:"lineItems"`
	GrandTotal decimal.Decimal `json:"grandTotal"`
	Timestamp  time.Time       `json:"date"`
}

// GrandTotal sums price times quantity over lines and rounds to two places,
// half away from zero. Decimal arithmetic keeps 10.005 exact, so two of them
// plus 5.00 totals 25.01, not the 25.00 binary floats would give.
func GrandTotal(lines []CartLine) decimal.Decimal {
	sum := decimal.Zero
	for _, l := range lines {
		sum = sum.Add(l.Subtotal())
	}
	return sum.Round(2)
}
