package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/smtp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/config"
	"storefront/models"
	"storefront/mq"
)

func sample() OrderSummary {
	return OrderSummary{
		OrderID:     "o1",
		OrderNumber: "ORD2025000001",
		Email:       "a@example.com",
		Name:        "Asha",
		Items: []models.OrderItem{
			{Name: "Tee", Size: "M", Price: 250, Quantity: 2},
			{Name: "Cap", Price: 500, Quantity: 1},
		},
		Subtotal:      1000,
		Discount:      100,
		Total:         900,
		PaymentMethod: models.MethodCOD,
	}
}

func TestCompose(t *testing.T) {
	subject, body := Compose(sample())
	assert.Equal(t, "Order ORD2025000001 confirmed", subject)
	assert.Contains(t, body, "Hi Asha")
	assert.Contains(t, body, "2 x Tee (M)")
	assert.Contains(t, body, "1 x Cap  INR 500.00")
	assert.Contains(t, body, "Discount: -INR 100.00")
	assert.Contains(t, body, "Total:    INR 900.00")
}

func TestSMTPMailer(t *testing.T) {
	m := NewSMTPMailer(config.MailConfig{Host: "smtp.example.com", Port: "587", From: "shop@example.com", Username: "u", Password: "p"})
	var gotAddr string
	var gotTo []string
	var gotMsg []byte
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotTo, gotMsg = addr, to, msg
		assert.NotNil(t, a)
		return nil
	}

	require.NoError(t, m.SendOrderConfirmation(context.Background(), sample()))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.Equal(t, []string{"a@example.com"}, gotTo)
	assert.Contains(t, string(gotMsg), "Subject: Order ORD2025000001 confirmed")

	s := sample()
	s.Email = ""
	assert.ErrorIs(t, m.SendOrderConfirmation(context.Background(), s), ErrNoRecipient)
}

type recordingPublisher struct {
	channel string
	payload any
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, v any) error {
	p.channel, p.payload = channel, v
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []OrderSummary
	err  error
}

func (n *recordingNotifier) SendOrderConfirmation(_ context.Context, s OrderSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, s)
	return n.err
}

func TestQueueNotifierAndWorker(t *testing.T) {
	pub := &recordingPublisher{}
	require.NoError(t, NewQueueNotifier(pub).SendOrderConfirmation(context.Background(), sample()))
	assert.Equal(t, mq.NotificationsChannel, pub.channel)

	rec := &recordingNotifier{}
	handle := Worker(rec)
	require.NoError(t, handle(context.Background(), []byte(`{"orderId":"o1","orderNumber":"ORD1","email":"x@y.z"}`)))
	require.Len(t, rec.sent, 1)
	assert.Equal(t, "ORD1", rec.sent[0].OrderNumber)

	assert.Error(t, handle(context.Background(), []byte(`not json`)))
}

func TestDispatcherSwallowsErrors(t *testing.T) {
	rec := &recordingNotifier{err: errors.New("smtp down")}
	d := NewDispatcher(rec, slog.New(slog.NewTextHandler(io.Discard, nil)))
	d.OrderConfirmed(sample())
	d.OrderConfirmed(sample())
	d.Wait()
	assert.Len(t, rec.sent, 2)
}

func TestSummaryFor(t *testing.T) {
	order := &models.Order{ID: "o1", OrderNumber: "ORD1", Total: 10, PaymentMethod: models.MethodRazorpay}
	s := SummaryFor(order, &models.User{Username: "asha", Email: "a@x.y"})
	assert.Equal(t, "asha", s.Name)
	assert.Equal(t, "a@x.y", s.Email)
	assert.Equal(t, 10.0, s.Total)
}
