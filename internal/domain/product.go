package domain

// Product is the catalog snapshot handed over when an item is added.
// The catalog itself is owned elsewhere and never re-queried.
type Product struct {
	ID            int64    `json:"id"`
	Name          string   `json:"name"`
	Price         float64  `json:"price"`
	OriginalPrice *float64 `json:"originalPrice,omitempty"`
	Image         string   `json:"image"`
	Category      string   `json:"category"`
	Rating        float64  `json:"rating"`
	ReviewCount   int      `json:"reviewCount"`
	InStock       bool     `json:"inStock"`
	Sizes         []string `json:"sizes,omitempty"`
	Colors        []string `json:"colors,omitempty"`
}
