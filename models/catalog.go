package models

import "time"

// Product is the catalog entry a variation belongs to. Only the fields the
// checkout path reads are modelled here.
type Product struct {
	ID          string    `json:"id" bson:"_id"`
	Name        string    `json:"name" bson:"name"`
	Image       string    `json:"image,omitempty" bson:"image,omitempty"`
	CategoryIDs []string  `json:"categoryIds,omitempty" bson:"categoryIds,omitempty"`
	BrandID     string    `json:"brandId,omitempty" bson:"brandId,omitempty"`
	Active      bool      `json:"active" bson:"active"`
	CreatedAt   time.Time `json:"createdAt" bson:"createdAt"`
}

// Variation is the inventory unit. Quantity never drops below zero.
type Variation struct {
	ID        string    `json:"id" bson:"_id"`
	ProductID string    `json:"productId" bson:"productId"`
	Size      string    `json:"size,omitempty" bson:"size,omitempty"`
	Color     string    `json:"color,omitempty" bson:"color,omitempty"`
	Image     string    `json:"image,omitempty" bson:"image,omitempty"`
	Quantity  int       `json:"quantity" bson:"quantity"`
	Price     float64   `json:"price" bson:"price"`
	SalePrice float64   `json:"salePrice,omitempty" bson:"salePrice,omitempty"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
}

// EffectivePrice is the sale price when one is set, otherwise the list price.
func (v Variation) EffectivePrice() float64 {
	if v.SalePrice > 0 && v.SalePrice < v.Price {
		return v.SalePrice
	}
	return v.Price
}
