// Package app wires configuration, storage and messaging into the services
// shared by the api, worker and scheduler processes.
package app

import (
	"venturemarket/internal/events"
	"venturemarket/internal/services/arbiter"
	"venturemarket/internal/services/billing"
	"venturemarket/internal/services/equity"
	"venturemarket/internal/services/jobs"
	"venturemarket/internal/services/workspace"
	"venturemarket/pkg/config"
	"venturemarket/pkg/generation"
	"venturemarket/pkg/payment"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Services is the full set of domain services
type Services struct {
	Equity    *equity.Service
	Jobs      *jobs.Service
	Arbiter   *arbiter.Service
	Workspace *workspace.Service
	Billing   *billing.Service
	// Stripe is nil when no secret key is configured
	Stripe *payment.Stripe
}

// Messaging carries the publishers a process was able to open. Queue is nil
// when RabbitMQ is not configured; jobs and work items then run inline.
type Messaging struct {
	Queue  events.Publisher
	Events events.Publisher
}

// NewServices builds every service from cfg.
func NewServices(cfg *config.Config, db *gorm.DB, msg Messaging) *Services {
	feed := msg.Events
	if feed == nil {
		feed = events.Nop{}
	}

	ledger := equity.NewService(db,
		equity.WithFeeRate(cfg.Ledger.VentureFeeRate),
		equity.WithPublisher(feed),
	)

	jobOpts := []jobs.Option{
		jobs.WithFeeRate(cfg.Jobs.FeeRate),
		jobs.WithMaxRevisions(cfg.Jobs.MaxRevisions),
		jobs.WithPeerReview(cfg.Jobs.PeerReview),
		jobs.WithPublisher(feed),
	}
	var workOpts []workspace.Option
	if msg.Queue != nil {
		jobOpts = append(jobOpts, jobs.WithQueue(msg.Queue))
		workOpts = append(workOpts, workspace.WithQueue(msg.Queue))
	}

	var stripe *payment.Stripe
	if cfg.Stripe.Enabled() {
		stripe = payment.NewStripe(cfg.Stripe)
		jobOpts = append(jobOpts, jobs.WithGateway(stripe))
	} else {
		logrus.Warn("STRIPE_SECRET_KEY not set, paid jobs and refunds are disabled")
	}

	pipeline := jobs.NewService(db, generation.NewClient(cfg.Generation), jobOpts...)
	return &Services{
		Equity:    ledger,
		Jobs:      pipeline,
		Arbiter:   arbiter.NewService(db, ledger, arbiter.WithPublisher(feed)),
		Workspace: workspace.NewService(db, ledger, workOpts...),
		Billing:   billing.NewService(db, pipeline, ledger),
		Stripe:    stripe,
	}
}

// OpenMessaging connects to RabbitMQ when configured and returns a publisher
// for queues, plus a close func. Without RabbitMQ, ledger events go straight
// to the local publishers; with it they go to the ledger events queue and the
// api relays them to its local publishers.
func OpenMessaging(cfg config.RabbitMQConfig, local ...events.Publisher) (Messaging, func(), error) {
	if !cfg.Enabled() {
		logrus.Info("RabbitMQ not configured, skipping initialization")
		return Messaging{Events: events.Multi(local)}, func() {}, nil
	}
	if err := config.InitRabbitMQ(cfg); err != nil {
		return Messaging{}, nil, err
	}
	pub, err := config.NewPublisher()
	if err != nil {
		config.CloseRabbitMQ()
		return Messaging{}, nil, err
	}
	closeFn := func() {
		pub.Close()
		config.CloseRabbitMQ()
	}
	return Messaging{Queue: pub, Events: pub}, closeFn, nil
}
