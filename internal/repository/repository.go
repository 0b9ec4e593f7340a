// Package repository maps cart lines and orders to and from store
// documents and names the queries the engine and checkout run.
package repository

import (
	"errors"
	"fmt"
	"time"

	"github.com/AdityaBheke/BusyBuy/internal/docstore"
	"github.com/AdityaBheke/BusyBuy/internal/domain"
)

// Collection names.
const (
	Carts    = "carts"
	Orders   = "orders"
	Accounts = "accounts"
)

// Document field names shared by the codecs and the queries.
const (
	FieldUserID      = "userId"
	FieldProductID   = "productId"
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldImage       = "image"
	FieldPrice       = "price"
	FieldQuantity    = "quantity"
	FieldLineItems   = "lineItems"
	FieldGrandTotal  = "grandTotal"
	FieldDate        = "date"
)

// CartQuery selects every cart line of userID.
func CartQuery(userID string) docstore.Query {
	return docstore.Query{
		Collection: Carts,
		Where:      []docstore.Condition{{Field: FieldUserID, Value: userID}},
	}
}

// CartProductQuery selects the lines of userID for one product. There is
// normally at most one.
func CartProductQuery(userID, productID string) docstore.Query {
	return docstore.Query{
		Collection: Carts,
		Where: []docstore.Condition{
			{Field: FieldUserID, Value: userID},
			{Field: FieldProductID, Value: productID},
		},
	}
}

// OrderHistoryQuery selects the orders of userID, newest first.
func OrderHistoryQuery(userID string) docstore.Query {
	return docstore.Query{
		Collection: Orders,
		Where:      []docstore.Condition{{Field: FieldUserID, Value: userID}},
		OrderBy:    FieldDate,
		Descending: true,
	}
}

// NewCartLine is the document for a fresh line with quantity 1.
func NewCartLine(userID string, p domain.Product) map[string]any {
	return map[string]any{
		FieldUserID:      userID,
		FieldProductID:   p.ID,
		FieldTitle:       p.Title,
		FieldDescription: p.Description,
		FieldImage:       p.Image,
		FieldPrice:       p.Price.String(),
		FieldQuantity:    1,
	}
}

// QuantityPatch sets an absolute quantity.
func QuantityPatch(quantity int) map[string]any {
	return map[string]any{FieldQuantity: quantity}
}

func lineData(l domain.CartLine) map[string]any {
	return map[string]any{
		FieldUserID:      l.UserID,
		FieldProductID:   l.ProductID,
		FieldTitle:       l.Title,
		FieldDescription: l.Description,
		FieldImage:       l.Image,
		FieldPrice:       l.Price.String(),
		FieldQuantity:    l.Quantity,
	}
}

// DecodeCartLine reads a cart line document.
func DecodeCartLine(d docstore.Document) (domain.CartLine, error) {
	return decodeLine(d.ID, d.Data)
}

func decodeLine(id string, data map[string]any) (domain.CartLine, error) {
	price, err := docstore.Decimal(data, FieldPrice)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("cart line %s: %w", id, err)
	}
	qty, err := docstore.Int(data, FieldQuantity)
	if err != nil {
		return domain.CartLine{}, fmt.Errorf("cart line %s: %w", id, err)
	}
	return domain.CartLine{
		ID:          id,
		UserID:      docstore.String(data, FieldUserID),
		ProductID:   docstore.String(data, FieldProductID),
		Title:       docstore.String(data, FieldTitle),
		Description: docstore.String(data, FieldDescription),
		Image:       docstore.String(data, FieldImage),
		Price:       price,
		Quantity:    qty,
	}, nil
}

// DecodeCart builds a cart for owner from a live-query result, keeping
// arrival order. Documents that do not decode are left out of the cart and
// reported together in the error, so callers get every readable line.
func DecodeCart(owner domain.Identity, docs []docstore.Document) (domain.Cart, error) {
	lines := make([]domain.CartLine, 0, len(docs))
	var errs []error
	for _, d := range docs {
		l, err := DecodeCartLine(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		lines = append(lines, l)
	}
	return domain.Cart{Owner: owner, Lines: lines}, errors.Join(errs...)
}

// OrderData is the document written at checkout. Line items are embedded
// with their original line ids.
func OrderData(userID string, lines []domain.CartLine, total string, at time.Time) map[string]any {
	items := make([]any, 0, len(lines))
	for _, l := range lines {
		item := lineData(l)
		item["id"] = l.ID
		items = append(items, item)
	}
	return map[string]any{
		FieldUserID:     userID,
		FieldLineItems:  items,
		FieldGrandTotal: total,
		FieldDate:       at.UTC(),
	}
}

// DecodeOrder reads an order document.
func DecodeOrder(d docstore.Document) (domain.Order, error) {
	total, err := docstore.Decimal(d.Data, FieldGrandTotal)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", d.ID, err)
	}
	at, err := docstore.Time(d.Data, FieldDate)
	if err != nil {
		return domain.Order{}, fmt.Errorf("order %s: %w", d.ID, err)
	}

	raw := docstore.Slice(d.Data, FieldLineItems)
	items := make([]domain.CartLine, 0, len(raw))
	for i, r := range raw {
		m, ok := r.(map[string]any)
		if !ok {
			return domain.Order{}, fmt.Errorf("order %s: line item %d is %T", d.ID, i, r)
		}
		l, err := decodeLine(docstore.String(m, "id"), m)
		if err != nil {
			return domain.Order{}, fmt.Errorf("order %s: %w", d.ID, err)
		}
		items = append(items, l)
	}

	return domain.Order{
		ID:         d.ID,
		UserID:     docstore.String(d.Data, FieldUserID),
		LineItems:  items,
		GrandTotal: total,
		Timestamp:  at,
	}, nil
}

// DecodeOrders decodes an order-history result in the order given. Like
// DecodeCart it keeps the readable orders and joins the errors.
func DecodeOrders(docs []docstore.Document) ([]domain.Order, error) {
	orders := make([]domain.Order, 0, len(docs))
	var errs []error
	for _, d := range docs {
		o, err := DecodeOrder(d)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		orders = append(orders, o)
	}
	return orders, errors.Join(errs...)
}
