package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/cart-sync/internal/collection"
	"github.com/fjod/go_cart/cart-sync/internal/domain"
)

const maxQuantity = 99

type CartHandler struct {
	cart    *collection.Cart
	timeout time.Duration
}

func NewCartHandler(cart *collection.Cart, timeout time.Duration) *CartHandler {
	return &CartHandler{
		cart:    cart,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	Product  domain.Product `json:"product"`
	Size     string         `json:"size"`
	Color    string         `json:"color"`
	Quantity int            `json:"quantity"`
}

// UpdateQuantityRequestDTO requires quantity; zero or less removes the line.
type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity"`
}

type CartResponse struct {
	Items  []domain.CartItem `json:"items"`
	Count  int               `json:"count"`
	Totals collection.Totals `json:"totals"`
}

func newCartResponse(v collection.CartView) CartResponse {
	items := v.Items
	if items == nil {
		items = []domain.CartItem{}
	}
	return CartResponse{Items: items, Count: v.Count, Totals: v.Totals}
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, newCartResponse(h.cart.View()))
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Product.ID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product.id must be positive")
		return
	}
	if req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at most 99")
		return
	}

	h.cart.Add(ctx, req.Product, req.Size, req.Color, req.Quantity)
	respondJSON(w, http.StatusCreated, newCartResponse(h.cart.View()))
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	itemID := pathParam(r, "item_id")

	var req UpdateQuantityRequestDTO
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "missing_quantity", "quantity is required")
		return
	}
	if *req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at most 99")
		return
	}

	h.cart.UpdateQuantity(ctx, itemID, *req.Quantity)
	respondJSON(w, http.StatusOK, newCartResponse(h.cart.View()))
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.cart.Remove(ctx, pathParam(r, "item_id"))
	respondJSON(w, http.StatusOK, newCartResponse(h.cart.View()))
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.cart.Clear(ctx)
	respondJSON(w, http.StatusOK, newCartResponse(h.cart.View()))
}
