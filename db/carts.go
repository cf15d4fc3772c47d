package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/models"
)

func (s *Store) FindCart(ctx context.Context, userID string) (*models.Cart, error) {
	return findOne[models.Cart](ctx, s.CartsCollection, bson.M{"userId": userID})
}

// SaveCart replaces the user's cart, creating it on first save.
func (s *Store) SaveCart(ctx context.Context, cart *models.Cart) error {
	_, err := s.CartsCollection.ReplaceOne(ctx,
		bson.M{"userId": cart.UserID},
		cart,
		options.Replace().SetUpsert(true),
	)
	return translate(err)
}

func (s *Store) ClearCart(ctx context.Context, userID string) error {
	_, err := s.CartsCollection.UpdateOne(ctx,
		bson.M{"userId": userID},
		bson.M{"$set": bson.M{"items": bson.A{}, "total": 0, "updatedAt": time.Now()}},
	)
	return translate(err)
}
