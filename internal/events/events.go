// Package events carries ledger and job notifications to RabbitMQ and the
// realtime feed.
package events

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Queue names shared by the api, worker and scheduler processes
const (
	QueueJobRun        = "job_run"
	QueueWorkCompleted = "work_completed"
	QueueLedgerEvents  = "ledger_events"
)

// Event names
const (
	BotDeployed        = "bot.deployed"
	VentureCreated     = "venture.created"
	VentureJoined      = "venture.joined"
	VentureExited      = "venture.exited"
	VentureLocked      = "venture.locked"
	TaskRecorded       = "venture.task_recorded"
	EquityRecalculated = "venture.equity_recalculated"
	RevenueDistributed = "venture.revenue_distributed"
	PooledInvestment   = "venture.pooled_investment"
	JobPosted          = "job.posted"
	JobStatusChanged   = "job.status_changed"
	JobPaid            = "job.paid"
	ViolationRecorded  = "arbiter.violation"
	DisputeResolved    = "arbiter.dispute_resolved"
)

// Event is the envelope published for every notification
type Event struct {
	Name       string                 `json:"name"`
	EntityID   uint                   `json:"entity_id"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// JobRun asks a worker to drive a job through its pipeline
type JobRun struct {
	JobID uint `json:"job_id"`
}

// WorkCompleted reports a finished workspace item
type WorkCompleted struct {
	WorkItemID  uint    `json:"work_item_id"`
	Hours       float64 `json:"hours"`
	Impact      float64 `json:"impact"`
	Deliverable string  `json:"deliverable"`
}

// Publisher publishes a message to a named queue or topic
type Publisher interface {
	Publish(queue string, message interface{}) error
}

// Nop drops every message
type Nop struct{}

func (Nop) Publish(string, interface{}) error { return nil }

// Multi fans a message out to several publishers, returning the first error.
type Multi []Publisher

func (m Multi) Publish(queue string, message interface{}) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(queue, message); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Emit publishes an Event and logs, rather than returns, a failure. Events are
// notifications; the ledger write has already committed.
func Emit(p Publisher, queue, name string, entityID uint, payload map[string]interface{}) {
	if p == nil {
		return
	}
	ev := Event{Name: name, EntityID: entityID, Payload: payload, OccurredAt: time.Now().UTC()}
	if err := p.Publish(queue, ev); err != nil {
		logrus.WithFields(logrus.Fields{
			"event":     name,
			"entity_id": entityID,
		}).Warnf("Failed to publish event: %v", err)
	}
}
