package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"storefront/models"
)

func (s *Store) FindProduct(ctx context.Context, id string) (*models.Product, error) {
	return findOne[models.Product](ctx, s.ProductsCollection, bson.M{"_id": id})
}

func (s *Store) FindVariation(ctx context.Context, id string) (*models.Variation, error) {
	return findOne[models.Variation](ctx, s.VariationsCollection, bson.M{"_id": id})
}

// DecrementStock takes qty units only while at least qty remain, so stock
// never goes negative under concurrent checkouts.
func (s *Store) DecrementStock(ctx context.Context, variationID string, qty int) (bool, error) {
	res, err := s.VariationsCollection.UpdateOne(ctx,
		bson.M{"_id": variationID, "quantity": bson.M{"$gte": qty}},
		bson.M{
			"$inc": bson.M{"quantity": -qty},
			"$set": bson.M{"updatedAt": time.Now()},
		},
	)
	if err != nil {
		return false, translate(err)
	}
	return res.MatchedCount == 1, nil
}

func (s *Store) IncrementStock(ctx context.Context, variationID string, qty int) error {
	res, err := s.VariationsCollection.UpdateOne(ctx,
		bson.M{"_id": variationID},
		bson.M{
			"$inc": bson.M{"quantity": qty},
			"$set": bson.M{"updatedAt": time.Now()},
		},
	)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}
