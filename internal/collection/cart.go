package collection

import (
	"context"

	"github.com/fjod/go_cart/cart-sync/internal/domain"
)

// CartView is what cart observers receive after every committed change.
type CartView struct {
	Items  []domain.CartItem
	Count  int
	Totals Totals
}

type Cart struct {
	store *Store[domain.CartItem]
}

// OpenCart loads the cart stored under opts.Key and starts syncing it.
func OpenCart(ctx context.Context, opts Options) *Cart {
	return &Cart{store: Open[domain.CartItem](ctx, opts, cartCount)}
}

func cartCount(items []domain.CartItem) int {
	n := 0
	for _, item := range items {
		n += item.Quantity
	}
	return n
}

// Add puts quantity units of the product variant in the cart. A variant that
// is already there has its quantity increased instead of getting a new line.
// Quantities below one count as one.
func (c *Cart) Add(ctx context.Context, p domain.Product, size, color string, quantity int) {
	if quantity < 1 {
		quantity = 1
	}
	line := domain.NewCartItem(p, size, color, quantity)

	c.store.Mutate(ctx, func(items []domain.CartItem) ([]domain.CartItem, bool) {
		if i := indexOf(items, line.ID); i >= 0 {
			items[i].Quantity += quantity
			return items, true
		}
		return append(items, line), true
	})
}

// UpdateQuantity sets an absolute quantity. Zero or less removes the line;
// unknown ids are ignored.
func (c *Cart) UpdateQuantity(ctx context.Context, id string, quantity int) {
	if quantity <= 0 {
		c.Remove(ctx, id)
		return
	}

	c.store.Mutate(ctx, func(items []domain.CartItem) ([]domain.CartItem, bool) {
		i := indexOf(items, id)
		if i < 0 || items[i].Quantity == quantity {
			return items, false
		}
		items[i].Quantity = quantity
		return items, true
	})
}

func (c *Cart) Remove(ctx context.Context, id string) {
	c.store.Remove(ctx, id)
}

func (c *Cart) Clear(ctx context.Context) {
	c.store.Clear(ctx)
}

func (c *Cart) Load(ctx context.Context) {
	c.store.Load(ctx)
}

func (c *Cart) Items() []domain.CartItem {
	return c.store.Items()
}

func (c *Cart) Find(id string) (domain.CartItem, bool) {
	return c.store.Find(id)
}

// Count is the number of units in the cart.
func (c *Cart) Count() int {
	return c.store.Count()
}

func (c *Cart) Totals() Totals {
	return ComputeTotals(c.store.Items())
}

// View returns items, count and totals from a single read.
func (c *Cart) View() CartView {
	return newCartView(c.store.Items())
}

func (c *Cart) Subscribe(fn func(CartView)) func() {
	return c.store.Subscribe(func(snap Snapshot[domain.CartItem]) {
		fn(newCartView(snap.Items))
	})
}

func (c *Cart) Origin() string {
	return c.store.Origin()
}

func (c *Cart) Close() {
	c.store.Close()
}

func newCartView(items []domain.CartItem) CartView {
	return CartView{
		Items:  items,
		Count:  cartCount(items),
		Totals: ComputeTotals(items),
	}
}
