package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/AdityaBheke/BusyBuy/internal/checkout"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
	"github.com/AdityaBheke/BusyBuy/pkg/httputil"
	"github.com/AdityaBheke/BusyBuy/pkg/logger"
)

// CheckoutHandler handles purchases.
type CheckoutHandler struct {
	engine   CartEngine
	checkout Checkout
	logger   *slog.Logger
}

// NewCheckoutHandler creates a new checkout HTTP handler.
func NewCheckoutHandler(engine CartEngine, co Checkout, logger *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{engine: engine, checkout: co, logger: logger}
}

// Purchase handles POST /api/v1/checkout. It buys the cart exactly as the
// mirror shows it right now.
func (h *CheckoutHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	id := identity(r)
	v := h.engine.Cart()
	if v.Cart.Owner != id || !v.Loaded {
		httputil.WriteError(w, r, apperrors.Conflict("cart is still loading"), h.logger)
		return
	}

	res, err := h.checkout.Purchase(r.Context(), v.Cart, id, v.GrandTotal)
	switch {
	case err == nil && res.OrderID == "":
		httputil.WriteData(w, http.StatusOK, res)
	case err == nil:
		httputil.WriteData(w, http.StatusCreated, res)
	case errors.Is(err, apperrors.ErrPartialCommit):
		var appErr *apperrors.AppError
		errors.As(err, &appErr)
		httputil.WriteJSON(w, appErr.Status, httputil.Response{
			Data: res,
			Error: &httputil.ErrorResponse{
				Code:      appErr.Code,
				Message:   appErr.Message,
				RequestID: logger.CorrelationIDFromContext(r.Context()),
			},
		})
	default:
		httputil.WriteError(w, r, err, h.logger)
	}
}

// Cleanup handles POST /api/v1/checkout/cleanup, finishing a purchase whose
// cart cleanup failed.
func (h *CheckoutHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	if err := h.checkout.ClearCart(r.Context(), identity(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

var _ Checkout = (*checkout.Processor)(nil)
