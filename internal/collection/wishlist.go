package collection

import (
	"context"
	"time"

	"github.com/fjod/go_cart/cart-sync/internal/domain"
)

type WishlistView struct {
	Items []domain.WishlistItem
	Count int
}

type Wishlist struct {
	store *Store[domain.WishlistItem]
	now   func() time.Time
}

func OpenWishlist(ctx context.Context, opts Options) *Wishlist {
	return &Wishlist{
		store: Open[domain.WishlistItem](ctx, opts, wishlistCount),
		now:   time.Now,
	}
}

func wishlistCount(items []domain.WishlistItem) int {
	return len(items)
}

// Add saves the product. Saving a product that is already there does nothing,
// whatever variant is selected.
func (w *Wishlist) Add(ctx context.Context, p domain.Product, sel domain.Selection) {
	entry := domain.NewWishlistItem(p, sel, w.now().UTC())

	w.store.Mutate(ctx, func(items []domain.WishlistItem) ([]domain.WishlistItem, bool) {
		if indexOf(items, entry.ID) >= 0 {
			return items, false
		}
		return append(items, entry), true
	})
}

func (w *Wishlist) Remove(ctx context.Context, id string) {
	w.store.Remove(ctx, id)
}

func (w *Wishlist) RemoveProduct(ctx context.Context, productID int64) {
	w.store.Remove(ctx, domain.WishlistItemID(productID))
}

func (w *Wishlist) Clear(ctx context.Context) {
	w.store.Clear(ctx)
}

func (w *Wishlist) Load(ctx context.Context) {
	w.store.Load(ctx)
}

func (w *Wishlist) Contains(productID int64) bool {
	_, ok := w.store.Find(domain.WishlistItemID(productID))
	return ok
}

func (w *Wishlist) Find(productID int64) (domain.WishlistItem, bool) {
	return w.store.Find(domain.WishlistItemID(productID))
}

func (w *Wishlist) Items() []domain.WishlistItem {
	return w.store.Items()
}

func (w *Wishlist) Count() int {
	return w.store.Count()
}

func (w *Wishlist) View() WishlistView {
	items := w.store.Items()
	return WishlistView{Items: items, Count: len(items)}
}

func (w *Wishlist) Subscribe(fn func(WishlistView)) func() {
	return w.store.Subscribe(func(snap Snapshot[domain.WishlistItem]) {
		fn(WishlistView{Items: snap.Items, Count: snap.Count})
	})
}

func (w *Wishlist) Origin() string {
	return w.store.Origin()
}

func (w *Wishlist) Close() {
	w.store.Close()
}

// MoveToCart adds a saved product to the cart with the variant selected when
// it was saved, then drops it from the wishlist. It reports false when the
// product is not in the wishlist.
func MoveToCart(ctx context.Context, w *Wishlist, c *Cart, productID int64, quantity int) bool {
	entry, ok := w.Find(productID)
	if !ok {
		return false
	}

	c.Add(ctx, domain.Product{
		ID:    productID,
		Name:  entry.Name,
		Price: entry.Price,
		Image: entry.Image,
	}, entry.SelectedSize, entry.SelectedColor, quantity)
	w.RemoveProduct(ctx, productID)
	return true
}
