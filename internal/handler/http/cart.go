package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/AdityaBheke/BusyBuy/internal/cartsync"
	"github.com/AdityaBheke/BusyBuy/internal/domain"
	"github.com/AdityaBheke/BusyBuy/internal/notify"
	apperrors "github.com/AdityaBheke/BusyBuy/pkg/errors"
	"github.com/AdityaBheke/BusyBuy/pkg/httputil"
)

// CartHandler handles cart, order history and notification endpoints.
type CartHandler struct {
	engine CartEngine
	notes  Notifications
	logger *slog.Logger
}

// NewCartHandler creates a new cart HTTP handler.
func NewCartHandler(engine CartEngine, notes Notifications, logger *slog.Logger) *CartHandler {
	return &CartHandler{engine: engine, notes: notes, logger: logger}
}

// --- Request DTOs ---

// AddItemRequest is the JSON request body for adding a product to the cart.
type AddItemRequest struct {
	ProductID   string `json:"productId" validate:"required,max=128"`
	Title       string `json:"title" validate:"required,min=1,max=500"`
	Description string `json:"description" validate:"max=5000"`
	Image       string `json:"image" validate:"omitempty,url"`
	Price       string `json:"price" validate:"required,money"`
}

// --- Response DTOs ---

type cartResponse struct {
	Owner      string            `json:"owner"`
	Lines      []domain.CartLine `json:"lines"`
	GrandTotal string            `json:"grandTotal"`
	Loaded     bool              `json:"loaded"`
	Stale      bool              `json:"stale"`
}

func toCartResponse(v cartsync.View) cartResponse {
	return cartResponse{
		Owner:      v.Cart.Owner.ID,
		Lines:      v.Cart.Lines,
		GrandTotal: v.GrandTotal.StringFixed(2),
		Loaded:     v.Loaded,
		Stale:      v.Stale,
	}
}

type acceptedResponse struct {
	Accepted bool `json:"accepted"`
}

// --- Handlers ---

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	v := h.engine.Cart()
	if v.Cart.Owner != identity(r) {
		// the mirror is switching to this identity; nothing to show yet
		v = cartsync.View{Cart: domain.Cart{Owner: identity(r), Lines: []domain.CartLine{}}}
	}
	httputil.WriteData(w, http.StatusOK, toCartResponse(v))
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		httputil.WriteError(w, r, apperrors.InvalidInput("price must be a decimal"), h.logger)
		return
	}

	p := domain.Product{
		ID:          req.ProductID,
		Title:       req.Title,
		Description: req.Description,
		Image:       req.Image,
		Price:       price,
	}
	if err := h.engine.AddToCart(r.Context(), p, identity(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusAccepted, acceptedResponse{Accepted: true})
}

// IncreaseItem handles POST /api/v1/cart/items/{productId}/increase
func (h *CartHandler) IncreaseItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	if err := h.engine.IncreaseQuantity(r.Context(), productID, identity(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusAccepted, acceptedResponse{Accepted: true})
}

// DecreaseItem handles POST /api/v1/cart/items/{productId}/decrease
func (h *CartHandler) DecreaseItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	if err := h.engine.DecreaseQuantity(r.Context(), productID, identity(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusAccepted, acceptedResponse{Accepted: true})
}

// RemoveItem handles DELETE /api/v1/cart/items/{productId}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	if err := h.engine.RemoveFromCart(r.Context(), productID, identity(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusAccepted, acceptedResponse{Accepted: true})
}

// ListOrders handles GET /api/v1/orders
func (h *CartHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	v := h.engine.Orders()
	if v.Owner != identity(r) {
		v = cartsync.OrdersView{Owner: identity(r), Orders: []domain.Order{}}
	}
	httputil.WriteData(w, http.StatusOK, v)
}

// Notifications handles GET /api/v1/notifications. Each notification is
// returned once.
func (h *CartHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	pending := h.notes.Drain()
	if pending == nil {
		pending = []notify.Notification{}
	}
	httputil.WriteData(w, http.StatusOK, pending)
}
