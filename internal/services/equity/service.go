// Package equity implements the venture equity ledger: membership, hour
// logging, equity recomputation and revenue distribution.
package equity

import (
	"context"
	"time"

	"venturemarket/internal/events"
	"venturemarket/internal/models"
	"venturemarket/internal/store"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultVentureFeeRate is the platform's cut of venture revenue.
var DefaultVentureFeeRate = decimal.RequireFromString("0.05")

// Service owns venture membership and the equity ledger
type Service struct {
	db      *gorm.DB
	log     *logrus.Entry
	feeRate decimal.Decimal
	events  events.Publisher
	locks   *ventureLocks
	now     func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithFeeRate overrides the venture platform fee rate
func WithFeeRate(rate decimal.Decimal) Option {
	return func(s *Service) { s.feeRate = rate }
}

// WithPublisher sets where ledger events go
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the base logger
func WithLogger(log *logrus.Entry) Option {
	return func(s *Service) { s.log = log }
}

// NewService creates an equity ledger service
func NewService(db *gorm.DB, opts ...Option) *Service {
	s := &Service{
		db:      db,
		log:     logrus.WithField("component", "equity"),
		feeRate: DefaultVentureFeeRate,
		events:  events.Nop{},
		locks:   newVentureLocks(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) emit(name string, id uint, payload map[string]interface{}) {
	events.Emit(s.events, events.QueueLedgerEvents, name, id, payload)
}

// inVenture runs fn in a DB transaction while holding the venture's lock.
// The in-process lock orders callers here; the row lock taken first orders
// them against other processes sharing the database.
func (s *Service) inVenture(ctx context.Context, ventureID uint, fn func(tx *gorm.DB) error) error {
	unlock := s.locks.Lock(ventureID)
	defer unlock()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var held []models.Venture
		if err := store.ForUpdate(tx).Select("id").Where("id = ?", ventureID).Find(&held).Error; err != nil {
			return err
		}
		return fn(tx)
	})
}
