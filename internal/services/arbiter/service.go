// Package arbiter scores ventures and humans for fraud and settles disputes
// between bots. It reads the ledger but never takes the equity lock.
package arbiter

import (
	"context"
	"strconv"
	"time"

	"venturemarket/internal/events"
	"venturemarket/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Scoring constants
const (
	// Threshold is the suspicion score at which a detector records a violation
	Threshold = 50.0

	// LoserPenalty is the flat reputation loss for the losing side of a dispute
	LoserPenalty = 5.0

	// HighConfidence is the confidence at which a claimant verdict triggers an
	// equity recomputation
	HighConfidence = 0.7
)

// Reputation penalties per violation type, applied to each implicated bot
var penalties = map[string]float64{
	models.ViolationFakeRevenue: 10,
	models.ViolationCollusion:   15,
	models.ViolationWashTrading: 20,
}

// Recalculator re-derives a venture's equity
type Recalculator interface {
	RecalculateEquity(ctx context.Context, ventureID uint) ([]models.VentureParticipant, error)
}

// Service runs detectors and resolves disputes
type Service struct {
	db     *gorm.DB
	log    *logrus.Entry
	equity Recalculator
	events events.Publisher
	now    func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithPublisher sets where arbiter notifications go
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

// NewService creates an arbiter
func NewService(db *gorm.DB, equity Recalculator, opts ...Option) *Service {
	s := &Service{
		db:     db,
		log:    logrus.WithField("component", "arbiter"),
		equity: equity,
		events: events.Nop{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Violations lists violations, newest first, optionally filtered by status.
func (s *Service) Violations(ctx context.Context, status string, limit int) ([]models.Violation, error) {
	q := s.db.WithContext(ctx).Order("id DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Violation
	return out, q.Find(&out).Error
}

func idList(ids []uint) models.StringList {
	out := make(models.StringList, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatUint(uint64(id), 10)
	}
	return out
}
