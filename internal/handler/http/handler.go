package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/AdityaBheke/BusyBuy/internal/cartsync"
	"github.com/AdityaBheke/BusyBuy/internal/checkout"
	"github.com/AdityaBheke/BusyBuy/internal/domain"
	"github.com/AdityaBheke/BusyBuy/internal/notify"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
	"github.com/AdityaBheke/BusyBuy/pkg/middleware"
	"github.com/AdityaBheke/BusyBuy/pkg/validator"
)

// Sessions is the session.Manager surface the API uses.
type Sessions interface {
	SignUp(ctx context.Context, email, password string) bool
	SignIn(ctx context.Context, email, password string) bool
	SignOut(ctx context.Context)
	Current() domain.Identity
}

// CartEngine is the cartsync.Engine surface the API uses.
type CartEngine interface {
	Cart() cartsync.View
	Orders() cartsync.OrdersView
	AddToCart(ctx context.Context, p domain.Product, id domain.Identity) error
	IncreaseQuantity(ctx context.Context, productID string, id domain.Identity) error
	DecreaseQuantity(ctx context.Context, productID string, id domain.Identity) error
	RemoveFromCart(ctx context.Context, productID string, id domain.Identity) error
}

// Checkout is the checkout.Processor surface the API uses.
type Checkout interface {
	Purchase(ctx context.Context, cart domain.Cart, id domain.Identity, grandTotal decimal.Decimal) (checkout.Result, error)
	ClearCart(ctx context.Context, id domain.Identity) error
}

// Notifications hands out pending user notifications.
type Notifications interface {
	Drain() []notify.Notification
}

// decode reads and validates a JSON body. Malformed JSON is reported as
// invalid input rather than an internal error.
func decode(r *http.Request, dst any) error {
	err := validator.DecodeAndValidate(r, dst)
	if err == nil {
		return nil
	}
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		return err
	}
	return apperrors.InvalidInput("invalid request body")
}

// identity returns the identity RequireIdentity stored for this request.
func identity(r *http.Request) domain.Identity {
	return domain.Identity{ID: middleware.IdentityFromContext(r.Context())}
}
