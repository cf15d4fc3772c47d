package db

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"storefront/models"
)

// ReserveKey inserts a placeholder record. It reports false when the key is
// held by an unexpired record. The TTL monitor only runs once a minute, so
// an expired record is removed here before retrying.
func (s *Store) ReserveKey(ctx context.Context, rec models.IdempotencyRecord) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		_, err := s.IdempotencyCollection.InsertOne(ctx, rec)
		if err == nil {
			return true, nil
		}
		if err = translate(err); !errors.Is(err, models.ErrDuplicate) {
			return false, err
		}
		res, err := s.IdempotencyCollection.DeleteOne(ctx, bson.M{
			"key":        rec.Key,
			"expires_at": bson.M{"$lte": time.Now()},
		})
		if err != nil {
			return false, translate(err)
		}
		if res.DeletedCount == 0 {
			return false, nil
		}
	}
	return false, nil
}

func (s *Store) FindKey(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	return findOne[models.IdempotencyRecord](ctx, s.IdempotencyCollection, bson.M{"key": key})
}

func (s *Store) SaveKeyResponse(ctx context.Context, key string, resp models.StoredResponse) error {
	res, err := s.IdempotencyCollection.UpdateOne(ctx,
		bson.M{"key": key},
		bson.M{"$set": bson.M{"response": resp}},
	)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		return models.ErrNotFound
	}
	return nil
}

func (s *Store) ReleaseKey(ctx context.Context, key string) error {
	_, err := s.IdempotencyCollection.DeleteOne(ctx, bson.M{"key": key})
	return translate(err)
}
