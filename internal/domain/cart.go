package domain

import "fmt"

// CartItem is one line of the cart. The same product in a different size or
// color is a different line.
type CartItem struct {
	ID        string  `json:"id"`
	ProductID int64   `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Image     string  `json:"image"`
	Size      string  `json:"size"`
	Color     string  `json:"color"`
	Quantity  int     `json:"quantity"`
}

// CartItemID composes the identity key of a cart line.
func CartItemID(productID int64, size, color string) string {
	return fmt.Sprintf("%d-%s-%s", productID, size, color)
}

func (i CartItem) ItemKey() string {
	return i.ID
}

// Valid reports whether the line may be kept in a cart.
func (i CartItem) Valid() bool {
	return i.ID != "" && i.Quantity >= 1
}

// NewCartItem snapshots the product's display data into a cart line.
func NewCartItem(p Product, size, color string, quantity int) CartItem {
	return CartItem{
		ID:        CartItemID(p.ID, size, color),
		ProductID: p.ID,
		Name:      p.Name,
		Price:     p.Price,
		Image:     p.Image,
		Size:      size,
		Color:     color,
		Quantity:  quantity,
	}
}
