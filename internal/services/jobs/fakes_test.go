package jobs_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"venturemarket/internal/models"
	"venturemarket/internal/services/jobs"
	"venturemarket/internal/store/storetest"
	"venturemarket/pkg/generation"
	"venturemarket/pkg/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeGenerator struct {
	mu          sync.Mutex
	plan        *generation.Plan
	planErr     error
	genErr      error
	review      *generation.PeerReview
	assessments []generation.Assessment

	planCalls   int
	genCalls    int
	assessCalls int
	feedback    []string
}

func (f *fakeGenerator) Plan(ctx context.Context, req generation.PlanRequest) (*generation.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.planCalls++
	if f.planErr != nil {
		return nil, f.planErr
	}
	return f.plan, nil
}

func (f *fakeGenerator) Generate(ctx context.Context, req generation.StepRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.genCalls++
	if f.genErr != nil {
		return "", f.genErr
	}
	if req.Feedback != "" {
		f.feedback = append(f.feedback, req.Feedback)
		return fmt.Sprintf("%s output revised", req.Role), nil
	}
	return fmt.Sprintf("%s output", req.Role), nil
}

func (f *fakeGenerator) Review(ctx context.Context, req generation.ReviewRequest) (*generation.PeerReview, error) {
	if f.review == nil {
		return &generation.PeerReview{Approved: true}, nil
	}
	return f.review, nil
}

// Assess returns the scripted assessments in order and repeats the last one.
func (f *fakeGenerator) Assess(ctx context.Context, req generation.AssessRequest) (*generation.Assessment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assessCalls++
	if len(f.assessments) == 0 {
		return nil, errors.New("no assessment scripted")
	}
	i := f.assessCalls - 1
	if i >= len(f.assessments) {
		i = len(f.assessments) - 1
	}
	a := f.assessments[i]
	return &a, nil
}

func passing(score float64) generation.Assessment {
	return generation.Assessment{Overall: &score, Pass: true, Feedback: "fine"}
}

func failing(score float64) generation.Assessment {
	return generation.Assessment{Overall: &score, Pass: false, Feedback: "too thin"}
}

type fakeGateway struct {
	mu        sync.Mutex
	checkouts int
	refunds   []string
	refundErr error
}

func (g *fakeGateway) CreateCheckout(ctx context.Context, req payment.CheckoutRequest) (*payment.Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checkouts++
	return &payment.Checkout{
		SessionID: "cs_" + req.Metadata["job_id"],
		URL:       "https://checkout.test/" + req.Metadata["job_id"],
	}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, paymentRef, reason string) (*payment.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunds = append(g.refunds, paymentRef)
	return &payment.Refund{ID: "re_" + paymentRef, Status: "succeeded"}, nil
}

type fixture struct {
	db      *gorm.DB
	svc     *jobs.Service
	gen     *fakeGenerator
	gateway *fakeGateway
	poster  *models.Human
	clock   *time.Time
}

func newFixture(t *testing.T, gen *fakeGenerator, opts ...jobs.Option) *fixture {
	t.Helper()
	db := storetest.NewDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f := &fixture{
		db:      db,
		gen:     gen,
		gateway: &fakeGateway{},
		poster:  storetest.Human(t, db, "poster", "0"),
		clock:   &now,
	}
	base := []jobs.Option{
		jobs.WithGateway(f.gateway),
		jobs.WithClock(func() time.Time { return *f.clock }),
	}
	f.svc = jobs.NewService(db, gen, append(base, opts...)...)
	return f
}

func (f *fixture) post(t *testing.T, title string, budget int64, skills ...string) *models.Job {
	t.Helper()
	job, err := f.svc.PostJob(context.Background(), jobs.PostJobRequest{
		PosterID:       f.poster.ID,
		Title:          title,
		Description:    "write something useful",
		RequiredSkills: skills,
		Budget:         decimal.NewFromInt(budget),
	})
	require.NoError(t, err)
	return job
}

func (f *fixture) postPaid(t *testing.T, title string, budget int64, paymentRef string) *models.Job {
	t.Helper()
	ctx := context.Background()
	job, checkout, err := f.svc.PostPaidJob(ctx, jobs.PostJobRequest{
		PosterID: f.poster.ID,
		Title:    title,
		Budget:   decimal.NewFromInt(budget),
	})
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPendingPayment, job.Status)
	job, err = f.svc.ActivateJobBySession(ctx, checkout.SessionID, paymentRef)
	require.NoError(t, err)
	return job
}
