package db

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/models"
)

// NextOrderSequence atomically increments and returns the counter for key.
func (s *Store) NextOrderSequence(ctx context.Context, key string) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.CountersCollection.FindOneAndUpdate(ctx,
		bson.M{"_id": key},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, translate(err)
	}
	return counter.Seq, nil
}

func (s *Store) InsertOrder(ctx context.Context, order *models.Order) error {
	_, err := s.OrdersCollection.InsertOne(ctx, order)
	return translate(err)
}

func (s *Store) FindOrder(ctx context.Context, id string) (*models.Order, error) {
	return findOne[models.Order](ctx, s.OrdersCollection, bson.M{"_id": id})
}

func (s *Store) ListOrdersByUser(ctx context.Context, userID string) ([]models.Order, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	orders, err := findAll[models.Order](ctx, s.OrdersCollection, bson.M{"userId": userID}, opts)
	return orders, translate(err)
}

// UpdateOrderStatus applies change only when the stored order still matches
// its From sets.
func (s *Store) UpdateOrderStatus(ctx context.Context, id string, change models.StatusChange) (bool, error) {
	filter := bson.M{"_id": id}
	if len(change.FromStatus) > 0 {
		filter["status"] = bson.M{"$in": change.FromStatus}
	}
	if len(change.FromPaymentStatus) > 0 {
		filter["paymentStatus"] = bson.M{"$in": change.FromPaymentStatus}
	}
	set := bson.M{"updatedAt": time.Now()}
	if change.Status != "" {
		set["status"] = change.Status
	}
	if change.PaymentStatus != "" {
		set["paymentStatus"] = change.PaymentStatus
	}

	res, err := s.OrdersCollection.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return false, translate(err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	n, err := s.OrdersCollection.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return false, translate(err)
	}
	if n == 0 {
		return false, models.ErrNotFound
	}
	return false, nil
}
