package db

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/models"
)

// codeCollation matches coupon codes case-insensitively. The unique index
// uses the same collation so lookups can be served by it.
var codeCollation = &options.Collation{Locale: "en", Strength: 2}

func (s *Store) FindCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	return findOne[models.Coupon](ctx, s.CouponsCollection, bson.M{"code": code},
		options.FindOne().SetCollation(codeCollation))
}

// IncrementCouponUsage counts one redemption unless the limit is reached.
// A limit of zero means unlimited.
func (s *Store) IncrementCouponUsage(ctx context.Context, code string) (bool, error) {
	res, err := s.CouponsCollection.UpdateOne(ctx,
		bson.M{
			"code": code,
			"$or": bson.A{
				bson.M{"usageLimit": bson.M{"$lte": 0}},
				bson.M{"$expr": bson.M{"$lt": bson.A{"$usageCount", "$usageLimit"}}},
			},
		},
		bson.M{"$inc": bson.M{"usageCount": 1}},
		options.Update().SetCollation(codeCollation),
	)
	if err != nil {
		return false, translate(err)
	}
	return res.MatchedCount == 1, nil
}

func (s *Store) DecrementCouponUsage(ctx context.Context, code string) error {
	res, err := s.CouponsCollection.UpdateOne(ctx,
		bson.M{"code": code, "usageCount": bson.M{"$gt": 0}},
		bson.M{"$inc": bson.M{"usageCount": -1}},
		options.Update().SetCollation(codeCollation),
	)
	if err != nil {
		return translate(err)
	}
	if res.MatchedCount == 0 {
		n, err := s.CouponsCollection.CountDocuments(ctx, bson.M{"code": code},
			options.Count().SetCollation(codeCollation))
		if err != nil {
			return translate(err)
		}
		if n == 0 {
			return models.ErrNotFound
		}
	}
	return nil
}
