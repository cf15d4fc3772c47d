// Package db is the MongoDB implementation of the storefront stores.
package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"storefront/config"
	"storefront/models"
)

// Store holds one handle per collection. All methods translate driver
// errors into models.ErrNotFound and models.ErrDuplicate.
type Store struct {
	Client *mongo.Client

	CartsCollection       *mongo.Collection
	ProductsCollection    *mongo.Collection
	VariationsCollection  *mongo.Collection
	CouponsCollection     *mongo.Collection
	UserCollection        *mongo.Collection
	OrdersCollection      *mongo.Collection
	CountersCollection    *mongo.Collection
	PaymentsCollection    *mongo.Collection
	IdempotencyCollection *mongo.Collection
}

// Connect opens the client and verifies it with a ping.
func Connect(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	clientOptions := options.Client().ApplyURI(cfg.MongoURI)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}
	return New(client, cfg.Database), nil
}

// New binds a Store to database on an existing client.
func New(client *mongo.Client, database string) *Store {
	d := client.Database(database)
	return &Store{
		Client:                client,
		CartsCollection:       d.Collection("carts"),
		ProductsCollection:    d.Collection("products"),
		VariationsCollection:  d.Collection("variations"),
		CouponsCollection:     d.Collection("coupons"),
		UserCollection:        d.Collection("users"),
		OrdersCollection:      d.Collection("orders"),
		CountersCollection:    d.Collection("counters"),
		PaymentsCollection:    d.Collection("payments"),
		IdempotencyCollection: d.Collection("idempotency"),
	}
}

func (s *Store) Close(ctx context.Context) error {
	return s.Client.Disconnect(ctx)
}

// EnsureIndexes creates the unique and TTL indexes the stores rely on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	plan := []struct {
		coll *mongo.Collection
		idxs []mongo.IndexModel
	}{
		{s.CartsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "userId", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_user")},
		}},
		{s.VariationsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "productId", Value: 1}}, Options: options.Index().SetName("product")},
		}},
		{s.CouponsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true).SetCollation(codeCollation).SetName("unique_code_ci")},
		}},
		{s.UserCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "userid", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_userid")},
		}},
		{s.OrdersCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "orderNumber", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_order_number")},
			{Keys: bson.D{{Key: "userId", Value: 1}, {Key: "createdAt", Value: -1}}, Options: options.Index().SetName("user_created")},
		}},
		{s.PaymentsCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "merchant_transaction_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_txn")},
			{Keys: bson.D{{Key: "gateway_order_id", Value: 1}}, Options: options.Index().SetName("gateway_order")},
			{Keys: bson.D{{Key: "parent_transaction_id", Value: 1}}, Options: options.Index().SetName("parent_txn")},
			{Keys: bson.D{{Key: "order_id", Value: 1}}, Options: options.Index().SetName("order")},
		}},
		{s.IdempotencyCollection, []mongo.IndexModel{
			{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true).SetName("unique_key")},
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0).SetName("ttl_expires_at")},
		}},
	}
	for _, p := range plan {
		if _, err := p.coll.Indexes().CreateMany(ctx, p.idxs); err != nil {
			return fmt.Errorf("create indexes on %s: %w", p.coll.Name(), err)
		}
	}
	return nil
}

// translate maps driver errors onto the model sentinels.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return models.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", models.ErrDuplicate, err)
	}
	return err
}

func findOne[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, opts ...*options.FindOneOptions) (*T, error) {
	var out T
	if err := coll.FindOne(ctx, filter, opts...).Decode(&out); err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter bson.M, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	out := []T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
