package domain

import (
	"strconv"
	"time"
)

// WishlistItem is a saved product. A product is saved at most once,
// whatever variant was selected.
type WishlistItem struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Price         float64   `json:"price"`
	OriginalPrice *float64  `json:"originalPrice,omitempty"`
	Image         string    `json:"image"`
	Category      string    `json:"category"`
	Rating        float64   `json:"rating"`
	ReviewCount   int       `json:"reviewCount"`
	InStock       bool      `json:"inStock"`
	AddedAt       time.Time `json:"addedAt"`
	Sizes         []string  `json:"sizes,omitempty"`
	Colors        []string  `json:"colors,omitempty"`
	SelectedSize  string    `json:"selectedSize,omitempty"`
	SelectedColor string    `json:"selectedColor,omitempty"`
}

// WishlistItemID is the identity key of a wishlist entry: the bare product id.
func WishlistItemID(productID int64) string {
	return strconv.FormatInt(productID, 10)
}

func (i WishlistItem) ItemKey() string {
	return i.ID
}

func (i WishlistItem) Valid() bool {
	return i.ID != ""
}

// ProductID parses the product id back out of the identity key.
func (i WishlistItem) ProductID() (int64, bool) {
	id, err := strconv.ParseInt(i.ID, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Selection is the variant picked when saving a product.
type Selection struct {
	Size  string `json:"selectedSize,omitempty"`
	Color string `json:"selectedColor,omitempty"`
}

// NewWishlistItem snapshots the product into a wishlist entry.
func NewWishlistItem(p Product, sel Selection, addedAt time.Time) WishlistItem {
	return WishlistItem{
		ID:            WishlistItemID(p.ID),
		Name:          p.Name,
		Price:         p.Price,
		OriginalPrice: p.OriginalPrice,
		Image:         p.Image,
		Category:      p.Category,
		Rating:        p.Rating,
		ReviewCount:   p.ReviewCount,
		InStock:       p.InStock,
		AddedAt:       addedAt,
		Sizes:         p.Sizes,
		Colors:        p.Colors,
		SelectedSize:  sel.Size,
		SelectedColor: sel.Color,
	}
}
