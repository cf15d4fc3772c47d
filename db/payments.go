package db

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"

	"storefront/models"
)

func (s *Store) InsertPayment(ctx context.Context, p *models.Payment) error {
	_, err := s.PaymentsCollection.InsertOne(ctx, p)
	return translate(err)
}

func (s *Store) FindPaymentByTransactionID(ctx context.Context, txnID string) (*models.Payment, error) {
	return findOne[models.Payment](ctx, s.PaymentsCollection, bson.M{"merchant_transaction_id": txnID})
}

func (s *Store) FindPaymentByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.Payment, error) {
	return findOne[models.Payment](ctx, s.PaymentsCollection, bson.M{
		"gateway_order_id": gatewayOrderID,
		"kind":             models.KindCharge,
	})
}

// AdvancePayment writes adv only while the stored status may still move to
// adv.Status.
func (s *Store) AdvancePayment(ctx context.Context, txnID string, adv models.PaymentAdvance) (bool, error) {
	set := bson.M{
		"status":        adv.Status,
		"gateway_state": adv.GatewayState,
		"updated_at":    adv.At,
	}
	if adv.GatewayPaymentID != "" {
		set["gateway_payment_id"] = adv.GatewayPaymentID
	}
	if len(adv.GatewayResponse) > 0 {
		set["gateway_response"] = adv.GatewayResponse
	}
	if adv.Status.Terminal() {
		set["completed_at"] = adv.At
	}
	res, err := s.PaymentsCollection.UpdateOne(ctx,
		bson.M{
			"merchant_transaction_id": txnID,
			"status":                  bson.M{"$in": adv.Status.AdvanceableFrom()},
		},
		bson.M{"$set": set},
	)
	if err != nil {
		return false, translate(err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	n, err := s.PaymentsCollection.CountDocuments(ctx, bson.M{"merchant_transaction_id": txnID})
	if err != nil {
		return false, translate(err)
	}
	if n == 0 {
		return false, models.ErrNotFound
	}
	return false, nil
}

// ListCharges returns the charges recorded for an order, oldest first.
func (s *Store) ListCharges(ctx context.Context, orderID string) ([]models.Payment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	charges, err := findAll[models.Payment](ctx, s.PaymentsCollection, bson.M{
		"order_id": orderID,
		"kind":     models.KindCharge,
	}, opts)
	return charges, translate(err)
}

func (s *Store) ListRefunds(ctx context.Context, parentTxnID string) ([]models.Payment, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	refunds, err := findAll[models.Payment](ctx, s.PaymentsCollection, bson.M{
		"parent_transaction_id": parentTxnID,
		"kind":                  models.KindRefund,
	}, opts)
	return refunds, translate(err)
}
