package db

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"

	"storefront/models"
)

func (s *Store) FindUser(ctx context.Context, id string) (*models.User, error) {
	return findOne[models.User](ctx, s.UserCollection, bson.M{"userid": id})
}
