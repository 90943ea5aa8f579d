// Package jobs drives paid jobs from posting through matching, execution,
// quality gating and payout or refund.
package jobs

import (
	"context"
	"time"

	"venturemarket/internal/events"
	"venturemarket/pkg/generation"
	"venturemarket/pkg/payment"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultJobFeeRate is the platform's cut of a job budget. It is separate
// from the venture fee.
var DefaultJobFeeRate = decimal.RequireFromString("0.15")

// DuplicateWindow is how long a job title stays reserved after posting.
const DuplicateWindow = time.Hour

// Generator plans, produces and grades job work
type Generator interface {
	Plan(ctx context.Context, req generation.PlanRequest) (*generation.Plan, error)
	Generate(ctx context.Context, req generation.StepRequest) (string, error)
	Review(ctx context.Context, req generation.ReviewRequest) (*generation.PeerReview, error)
	Assess(ctx context.Context, req generation.AssessRequest) (*generation.Assessment, error)
}

// Gateway takes payments and issues refunds
type Gateway interface {
	CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.Checkout, error)
	Refund(ctx context.Context, paymentRef, reason string) (*payment.Refund, error)
}

// Service runs the job pipeline
type Service struct {
	db           *gorm.DB
	log          *logrus.Entry
	gen          Generator
	gateway      Gateway
	events       events.Publisher
	queue        events.Publisher
	feeRate      decimal.Decimal
	maxRevisions int
	peerReview   bool
	now          func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithGateway sets the payment gateway used for paid jobs and refunds
func WithGateway(g Gateway) Option {
	return func(s *Service) { s.gateway = g }
}

// WithFeeRate overrides the job platform fee rate
func WithFeeRate(rate decimal.Decimal) Option {
	return func(s *Service) { s.feeRate = rate }
}

// WithMaxRevisions sets the default revision cap for new jobs
func WithMaxRevisions(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxRevisions = n
		}
	}
}

// WithPeerReview toggles the peer review pass before the quality gate
func WithPeerReview(enabled bool) Option {
	return func(s *Service) { s.peerReview = enabled }
}

// WithPublisher sets where job notifications go
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithQueue sets the job_run queue. Without one, callers drive jobs with Run.
func WithQueue(p events.Publisher) Option {
	return func(s *Service) { s.queue = p }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the base logger
func WithLogger(log *logrus.Entry) Option {
	return func(s *Service) { s.log = log }
}

// NewService creates a job pipeline service
func NewService(db *gorm.DB, gen Generator, opts ...Option) *Service {
	s := &Service{
		db:           db,
		log:          logrus.WithField("component", "jobs"),
		gen:          gen,
		events:       events.Nop{},
		feeRate:      DefaultJobFeeRate,
		maxRevisions: 3,
		peerReview:   true,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// enqueue hands the job to a worker. It reports whether a queue took it.
func (s *Service) enqueue(jobID uint) bool {
	if s.queue == nil {
		return false
	}
	if err := s.queue.Publish(events.QueueJobRun, events.JobRun{JobID: jobID}); err != nil {
		s.log.WithField("job_id", jobID).Errorf("Failed to enqueue job: %v", err)
		return false
	}
	return true
}

func (s *Service) statusChanged(jobID uint, from, to, reason string) {
	s.log.WithFields(logrus.Fields{
		"job_id": jobID,
		"from":   from,
		"to":     to,
	}).Info("Job status changed")
	payload := map[string]interface{}{"from": from, "to": to}
	if reason != "" {
		payload["reason"] = reason
	}
	events.Emit(s.events, events.QueueLedgerEvents, events.JobStatusChanged, jobID, payload)
}
