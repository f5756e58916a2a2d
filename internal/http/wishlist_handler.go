package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fjod/go_cart/cart-sync/internal/collection"
	"github.com/fjod/go_cart/cart-sync/internal/domain"
)

type WishlistHandler struct {
	wishlist *collection.Wishlist
	cart     *collection.Cart
	timeout  time.Duration
}

func NewWishlistHandler(wishlist *collection.Wishlist, cart *collection.Cart, timeout time.Duration) *WishlistHandler {
	return &WishlistHandler{
		wishlist: wishlist,
		cart:     cart,
		timeout:  timeout,
	}
}

type AddWishlistItemRequestDTO struct {
	Product       domain.Product `json:"product"`
	SelectedSize  string         `json:"selectedSize,omitempty"`
	SelectedColor string         `json:"selectedColor,omitempty"`
}

type MoveToCartRequestDTO struct {
	Quantity int `json:"quantity"`
}

type WishlistResponse struct {
	Items []domain.WishlistItem `json:"items"`
	Count int                   `json:"count"`
}

type WishlistContainsResponse struct {
	ProductID  int64 `json:"productId"`
	InWishlist bool  `json:"inWishlist"`
}

func newWishlistResponse(v collection.WishlistView) WishlistResponse {
	items := v.Items
	if items == nil {
		items = []domain.WishlistItem{}
	}
	return WishlistResponse{Items: items, Count: v.Count}
}

func (h *WishlistHandler) GetWishlist(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, newWishlistResponse(h.wishlist.View()))
}

func (h *WishlistHandler) Contains(w http.ResponseWriter, r *http.Request) {
	productID, ok := productIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	respondJSON(w, http.StatusOK, WishlistContainsResponse{
		ProductID:  productID,
		InWishlist: h.wishlist.Contains(productID),
	})
}

func (h *WishlistHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddWishlistItemRequestDTO
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Product.ID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product.id must be positive")
		return
	}

	h.wishlist.Add(ctx, req.Product, domain.Selection{Size: req.SelectedSize, Color: req.SelectedColor})
	respondJSON(w, http.StatusCreated, newWishlistResponse(h.wishlist.View()))
}

func (h *WishlistHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	h.wishlist.RemoveProduct(ctx, productID)
	respondJSON(w, http.StatusOK, newWishlistResponse(h.wishlist.View()))
}

func (h *WishlistHandler) ClearWishlist(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.wishlist.Clear(ctx)
	respondJSON(w, http.StatusOK, newWishlistResponse(h.wishlist.View()))
}

// MoveToCart answers with the cart after the move. The body is optional and
// only carries the quantity, which defaults to one.
func (h *WishlistHandler) MoveToCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return
	}

	req := MoveToCartRequestDTO{Quantity: 1}
	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity > maxQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be at most 99")
		return
	}

	if !collection.MoveToCart(ctx, h.wishlist, h.cart, productID, req.Quantity) {
		respondError(w, http.StatusNotFound, "not_found", "product is not in the wishlist")
		return
	}
	respondJSON(w, http.StatusOK, newCartResponse(h.cart.View()))
}
