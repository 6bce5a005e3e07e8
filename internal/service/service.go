package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"retailpos/backend/internal/cache"
	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/logger"
	"retailpos/backend/internal/realtime"
	"retailpos/backend/internal/store"
	"retailpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const (
	DefaultMainRecordID       = "rec-main"
	DefaultCustomerID         = "cust-walkin"
	defaultVariantCacheTTL    = 30 * time.Second
	defaultCartTTL            = 12 * time.Hour
	defaultCancelledRetained  = 24 * time.Hour
	defaultShippedAutoDeliver = 6 * 24 * time.Hour
)

type Options struct {
	MainRecordID       string
	DefaultCustomerID  string
	VariantCacheTTL    time.Duration
	CartTTL            time.Duration
	CancelledRetention time.Duration
	ShippedAutoDeliver time.Duration
	CompanyName        string
	LogoURL            string
}

type Service struct {
	repo   store.Repository
	cache  cache.Cache
	broker realtime.Broker
	opts   Options
	now    func() time.Time
	carts  cartLocks
}

// New wires the service. A nil cache or broker falls back to the in-process one.
func New(repo store.Repository, c cache.Cache, broker realtime.Broker, opts Options) *Service {
	if c == nil {
		c = cache.NewTTLMap()
	}
	if broker == nil {
		broker = realtime.NewLocalBroker(0)
	}
	if strings.TrimSpace(opts.MainRecordID) == "" {
		opts.MainRecordID = DefaultMainRecordID
	}
	if strings.TrimSpace(opts.DefaultCustomerID) == "" {
		opts.DefaultCustomerID = DefaultCustomerID
	}
	if opts.VariantCacheTTL <= 0 {
		opts.VariantCacheTTL = defaultVariantCacheTTL
	}
	if opts.CartTTL <= 0 {
		opts.CartTTL = defaultCartTTL
	}
	if opts.CancelledRetention <= 0 {
		opts.CancelledRetention = defaultCancelledRetained
	}
	if opts.ShippedAutoDeliver <= 0 {
		opts.ShippedAutoDeliver = defaultShippedAutoDeliver
	}

	return &Service{
		repo:   repo,
		cache:  c,
		broker: broker,
		opts:   opts,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the clock used for timestamps and time-driven rules.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Service) Options() Options {
	return s.opts
}

func (s *Service) Broker() realtime.Broker {
	return s.broker
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, invalid("date", "expected YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", ErrForbidden)
	}
	return nil
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok {
		return actor.Username
	}
	return "system"
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New(),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		logger.With("service").WithFields(logrus.Fields{
			"action": action,
			"entity": entityType + "/" + entityID,
		}).WithError(err).Warn("failed to write audit log")
	}
}

// publish emits a change event. Failures only reach the log.
func (s *Service) publish(ctx context.Context, table string, eventType string, rowID string, row any, filter map[string]string) {
	event, err := realtime.NewEvent(table, eventType, rowID, row, filter)
	if err != nil {
		logger.With("service").WithError(err).WithField("table", table).Warn("failed to encode change event")
		return
	}
	if err := s.broker.Publish(ctx, event); err != nil {
		logger.With("service").WithError(err).WithField("table", table).Warn("failed to publish change event")
	}
}

func (s *Service) publishOrder(ctx context.Context, eventType string, order *domain.Order) {
	if order == nil {
		return
	}
	row := *order
	row.Items = nil
	s.publish(ctx, realtime.TableOrders, eventType, fmt.Sprint(order.OrderNumber), row, map[string]string{
		"status": order.Status,
	})
}
