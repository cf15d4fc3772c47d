package models

import "time"

// CartItem is a single line in a user's cart. Price is captured when the line
// is added and is not refreshed from the catalog afterwards.
type CartItem struct {
	ProductID   string    `json:"productId" bson:"productId"`
	VariationID string    `json:"variationId" bson:"variationId"`
	Quantity    int       `json:"quantity" bson:"quantity"`
	Price       float64   `json:"price" bson:"price"` // unit price
	AddedAt     time.Time `json:"addedAt" bson:"addedAt"`
}

// Cart is owned by exactly one user and is cleared, not deleted, after checkout.
type Cart struct {
	ID        string     `json:"id" bson:"_id,omitempty"`
	UserID    string     `json:"userId" bson:"userId"`
	Items     []CartItem `json:"items" bson:"items"`
	Total     float64    `json:"total" bson:"total"`
	UpdatedAt time.Time  `json:"updatedAt" bson:"updatedAt"`
}

// IsEmpty reports whether the cart has no lines.
func (c *Cart) IsEmpty() bool {
	return c == nil || len(c.Items) == 0
}

// Recalculate recomputes Total as the sum of price × quantity.
func (c *Cart) Recalculate() {
	var total float64
	for _, it := range c.Items {
		total += it.Price * float64(it.Quantity)
	}
	c.Total = RoundMoney(total)
}

// Clear empties the item list and zeroes the total.
func (c *Cart) Clear() {
	c.Items = []CartItem{}
	c.Total = 0
}
