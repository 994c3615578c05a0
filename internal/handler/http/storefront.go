package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront/internal/domain"
	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/internal/store"
	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/pagination"
	"github.com/utafrali/storefront/pkg/validator"
)

// defaultKeepAlive is how often an idle event stream gets a comment line.
const defaultKeepAlive = 15 * time.Second

// StorefrontHandler handles HTTP requests for the storefront session.
type StorefrontHandler struct {
	service   *service.Orchestrator
	logger    *slog.Logger
	keepAlive time.Duration
	closing   <-chan struct{}
}

// NewStorefrontHandler creates a new storefront HTTP handler.
func NewStorefrontHandler(svc *service.Orchestrator, logger *slog.Logger) *StorefrontHandler {
	return &StorefrontHandler{
		service:   svc,
		logger:    logger,
		keepAlive: defaultKeepAlive,
	}
}

// --- Response DTOs ---

// CatalogResponse is one page of the catalog.
type CatalogResponse struct {
	Products pagination.Result[domain.Product] `json:"products"`
	Loading  bool                              `json:"loading"`
	Version  uint64                            `json:"version"`
}

// CartResponse is the cart with its totals.
type CartResponse struct {
	Items       domain.Products `json:"items"`
	ItemCount   int             `json:"item_count"`
	TotalAmount float64         `json:"total_amount"`
	Loading     bool            `json:"loading"`
	Version     uint64          `json:"version"`
}

func cartResponse(st store.State) CartResponse {
	return CartResponse{
		Items:       st.Cart,
		ItemCount:   st.Cart.ItemCount(),
		TotalAmount: st.Cart.TotalAmount(),
		Loading:     st.CartLoading,
		Version:     st.Version,
	}
}

// --- Handlers ---

// GetState handles GET /api/v1/state
func (h *StorefrontHandler) GetState(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, h.service.Snapshot())
}

// GetCatalog handles GET /api/v1/catalog
func (h *StorefrontHandler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	st := h.service.Snapshot()
	httputil.WriteData(w, http.StatusOK, CatalogResponse{
		Products: pagination.Paginate(st.Catalog, pagination.FromRequest(r)),
		Loading:  st.CatalogLoading,
		Version:  st.Version,
	})
}

// ReloadCatalog handles POST /api/v1/catalog/reload
func (h *StorefrontHandler) ReloadCatalog(w http.ResponseWriter, r *http.Request) {
	st, ok := h.service.Reload(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.ErrNetwork, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, st)
}

// GetCart handles GET /api/v1/cart
func (h *StorefrontHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, cartResponse(h.service.Snapshot()))
}

// AddItem handles POST /api/v1/cart/items
func (h *StorefrontHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req service.AddItemInput
	if err := validator.DecodeAndValidate(r.Body, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	st, err := h.service.AddToCart(r.Context(), domain.ProductID(req.ProductID))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, cartResponse(st))
}

// AdjustQuantity handles PATCH /api/v1/cart/items/{productId}
func (h *StorefrontHandler) AdjustQuantity(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	if productID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("productId is required"), h.logger)
		return
	}

	var req service.AdjustQuantityInput
	if err := validator.DecodeAndValidate(r.Body, &req); err != nil {
		httputil.WriteValidationError(w, r, err)
		return
	}

	st, err := h.service.AdjustQuantity(r.Context(), domain.ProductID(productID), req.Delta)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, cartResponse(st))
}

// Checkout handles POST /api/v1/cart/checkout
func (h *StorefrontHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	current := h.service.Snapshot()
	switch {
	case current.CartLoading:
		httputil.WriteError(w, r, apperrors.Conflict("checkout already in progress"), h.logger)
		return
	case len(current.Cart) == 0:
		httputil.WriteError(w, r, apperrors.Conflict("cart is empty"), h.logger)
		return
	}

	st, ok := h.service.Purchase(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.ErrNetwork, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, st)
}

// Events handles GET /api/v1/events. It streams the current snapshot and then
// every later one as Server-Sent Events until the client goes away.
func (h *StorefrontHandler) Events(w http.ResponseWriter, r *http.Request) {
	updates, cancel := h.service.Subscribe()
	defer cancel()

	rc := http.NewResponseController(w)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := h.writeEvent(w, rc, h.service.Snapshot()); err != nil {
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.closing:
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if err := h.writeEvent(w, rc, st); err != nil {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

func (h *StorefrontHandler) writeEvent(w http.ResponseWriter, rc *http.ResponseController, st store.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		h.logger.Error("failed to encode state event", slog.String("error", err.Error()))
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %d\nevent: state\ndata: %s\n\n", st.Version, data); err != nil {
		return err
	}
	if err := rc.Flush(); err != nil {
		h.logger.Warn("event stream flush failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}
