package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher runs notifications in the background. Failures are logged and
// never reach the caller.
type Dispatcher struct {
	notifier Notifier
	logger   *slog.Logger
	timeout  time.Duration
	wg       sync.WaitGroup
}

func NewDispatcher(n Notifier, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{notifier: n, logger: logger, timeout: 30 * time.Second}
}

// OrderConfirmed queues a confirmation for s. It returns immediately.
func (d *Dispatcher) OrderConfirmed(s OrderSummary) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.SendOrderConfirmation(ctx, s); err != nil {
			d.logger.Warn("order confirmation not sent",
				"order_id", s.OrderID, "order_number", s.OrderNumber, "err", err)
		}
	}()
}

// Wait blocks until in-flight notifications finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
