package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/logger"
	"retailpos/backend/internal/realtime"
	"retailpos/backend/internal/service"
)

// OrderSweeperService is the part of the service the sweeper drives.
type OrderSweeperService interface {
	ListOrders(ctx context.Context, statuses []string, limit int) ([]service.OrderView, error)
	SweepOrders(ctx context.Context, orders []domain.Order, now time.Time) service.SweepReport
	Now() time.Time
}

// OrderSweeper runs the cancelled-expiry and shipped-delivery rules on a
// ticker and again whenever the orders table changes.
type OrderSweeper struct {
	svc      OrderSweeperService
	broker   realtime.Broker
	interval time.Duration
	orders   *realtime.Mirror[domain.Order]
	trigger  chan struct{}
	mu       sync.Mutex
	log      *logrus.Entry
}

func NewOrderSweeper(svc OrderSweeperService, broker realtime.Broker, interval time.Duration) *OrderSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	w := &OrderSweeper{
		svc:      svc,
		broker:   broker,
		interval: interval,
		trigger:  make(chan struct{}, 1),
		log:      logger.With("worker"),
	}
	w.orders = realtime.NewMirror(
		func(o domain.Order) string { return fmt.Sprint(o.OrderNumber) },
		w.loadOrders,
	)
	return w
}

func (w *OrderSweeper) loadOrders(ctx context.Context) ([]domain.Order, error) {
	views, err := w.svc.ListOrders(ctx, []string{domain.OrderStatusCancelled, domain.OrderStatusShipped}, 0)
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(views))
	for _, v := range views {
		orders = append(orders, v.Order)
	}
	return orders, nil
}

// Run blocks until ctx is done.
func (w *OrderSweeper) Run(ctx context.Context) {
	var events <-chan realtime.Event
	if w.broker != nil {
		ch, err := w.broker.Subscribe(ctx, realtime.Topic{Table: realtime.TableOrders})
		if err != nil {
			w.log.WithError(err).Warn("order change subscription failed, sweeping on timer only")
		} else {
			events = ch
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.WithField("interval", w.interval.String()).Info("order sweeper started")
	w.RunOnce(ctx, true)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("order sweeper stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx, true)
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := w.orders.Apply(ctx, e); err != nil {
				w.log.WithError(err).Warn("failed to apply order change")
			}
			w.Trigger()
		case <-w.trigger:
			w.RunOnce(ctx, false)
		}
	}
}

// Trigger requests an eager sweep. Requests made while one is pending coalesce.
func (w *OrderSweeper) Trigger() {
	select {
	case w.trigger <- struct{}{}:
	default:
	}
}

// RunOnce sweeps the mirrored order set, reloading it first when asked.
// A panic inside one run is logged and does not stop the worker.
func (w *OrderSweeper) RunOnce(ctx context.Context, reload bool) (report service.SweepReport) {
	w.mu.Lock()
	defer w.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			w.log.WithField("panic", r).Error("order sweep panicked")
		}
	}()

	if reload || w.orders.Len() == 0 {
		if err := w.orders.Reload(ctx); err != nil {
			w.log.WithError(err).Warn("failed to load orders for sweep")
			return report
		}
	}

	report = w.svc.SweepOrders(ctx, w.orders.Snapshot(), w.svc.Now())
	if report.Deleted+report.Delivered+report.Failed > 0 {
		w.log.WithFields(logrus.Fields{
			"deleted":   report.Deleted,
			"delivered": report.Delivered,
			"failed":    report.Failed,
		}).Info("order sweep finished")
	}
	return report
}
