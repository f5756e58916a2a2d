package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// NewRouter mounts the cart and wishlist API with the shared middleware stack.
func NewRouter(cart *CartHandler, wishlist *WishlistHandler, logger *zap.Logger, timeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cart.GetCart)
			r.Delete("/", cart.ClearCart)
			r.Post("/items", cart.AddItem)
			r.Put("/items/{item_id}", cart.UpdateQuantity)
			r.Delete("/items/{item_id}", cart.RemoveItem)
		})
		r.Route("/wishlist", func(r chi.Router) {
			r.Get("/", wishlist.GetWishlist)
			r.Delete("/", wishlist.ClearWishlist)
			r.Get("/{product_id}", wishlist.Contains)
			r.Post("/items", wishlist.AddItem)
			r.Delete("/items/{product_id}", wishlist.RemoveItem)
			r.Post("/items/{product_id}/move-to-cart", wishlist.MoveToCart)
		})
	})

	return otelhttp.NewHandler(r, "cart-sync")
}
