package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"venturemarket/internal/apperr"
	"venturemarket/internal/models"
	"venturemarket/internal/services/jobs"
	"venturemarket/internal/store/storetest"
	"venturemarket/pkg/generation"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to string
		ok       bool
	}{
		{models.JobStatusPendingPayment, models.JobStatusOpen, true},
		{models.JobStatusOpen, models.JobStatusClaimed, true},
		{models.JobStatusClaimed, models.JobStatusInProgress, true},
		{models.JobStatusInProgress, models.JobStatusReview, true},
		{models.JobStatusReview, models.JobStatusCompleted, true},
		{models.JobStatusReview, models.JobStatusOpen, true},
		{models.JobStatusCompleted, models.JobStatusPaid, true},
		{models.JobStatusPaid, models.JobStatusOpen, true},
		{models.JobStatusPendingPayment, models.JobStatusClaimed, false},
		{models.JobStatusOpen, models.JobStatusPaid, false},
		{models.JobStatusFailed, models.JobStatusOpen, false},
		{models.JobStatusRefunded, models.JobStatusOpen, false},
		{models.JobStatusPaid, models.JobStatusRefunded, true},
		{models.JobStatusFailed, models.JobStatusRefunded, false},
		{"archived", models.JobStatusOpen, false},
	}
	for _, tc := range tests {
		t.Run(tc.from+"->"+tc.to, func(t *testing.T) {
			err := jobs.ValidateTransition(tc.from, tc.to)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
			}
		})
	}
	assert.True(t, jobs.IsTerminal(models.JobStatusFailed))
	assert.True(t, jobs.IsTerminal(models.JobStatusRefunded))
	assert.False(t, jobs.IsTerminal(models.JobStatusPaid))
}

func TestPassThreshold(t *testing.T) {
	assert.Equal(t, 6.0, jobs.PassThreshold(0))
	assert.Equal(t, 5.0, jobs.PassThreshold(1))
	assert.Equal(t, 5.0, jobs.PassThreshold(3))
}

func TestNormalizeShares(t *testing.T) {
	shares := jobs.NormalizeShares([]uint{1, 2, 3}, map[uint]float64{1: 0.3, 2: 0.3, 3: 0.3})
	sum := 0.0
	for _, sh := range shares {
		sum += sh.Share
	}
	assert.Equal(t, 1.0, sum)
	assert.InDelta(t, 1.0/3, shares[0].Share, 1e-12)

	even := jobs.NormalizeShares([]uint{4, 5}, nil)
	require.Len(t, even, 2)
	assert.Equal(t, 0.5, even[0].Share)
	assert.Equal(t, 0.5, even[1].Share)
}

func TestPostJobRejectsDuplicateTitle(t *testing.T) {
	f := newFixture(t, &fakeGenerator{})
	ctx := context.Background()
	f.post(t, "Logo design", 100)

	_, err := f.svc.PostJob(ctx, jobs.PostJobRequest{PosterID: f.poster.ID, Title: "logo design", Budget: decimal.NewFromInt(50)})
	assert.ErrorIs(t, err, apperr.ErrDuplicateJob)

	*f.clock = f.clock.Add(61 * time.Minute)
	job, err := f.svc.PostJob(ctx, jobs.PostJobRequest{PosterID: f.poster.ID, Title: "logo design", Budget: decimal.NewFromInt(50)})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusOpen, job.Status)
	assert.Equal(t, 3, job.MaxRevisions)

	_, err = f.svc.PostJob(ctx, jobs.PostJobRequest{PosterID: f.poster.ID, Title: "free", Budget: decimal.Zero})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestPaidJobActivation(t *testing.T) {
	f := newFixture(t, &fakeGenerator{})
	ctx := context.Background()
	job := f.postPaid(t, "Market report", 200, "pi_1")
	assert.Equal(t, models.JobStatusOpen, job.Status)
	assert.Equal(t, "pi_1", job.StripePaymentRef)

	again, err := f.svc.ActivateJob(ctx, job.ID, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusOpen, again.Status)

	var funding int64
	require.NoError(t, f.db.Model(&models.Transaction{}).Where("type = ?", models.TxTypeJobFunding).Count(&funding).Error)
	assert.Equal(t, int64(1), funding)

	_, err = f.svc.ActivateJobBySession(ctx, "cs_missing", "pi_2")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRunPaysCollaboratorsByShare(t *testing.T) {
	gen := &fakeGenerator{assessments: []generation.Assessment{passing(8)}}
	f := newFixture(t, gen)
	ctx := context.Background()
	writer := storetest.Bot(t, f.db, f.poster.ID, "writer", 70, "writing")
	editor := storetest.Bot(t, f.db, f.poster.ID, "editor", 60, "editing")
	gen.plan = &generation.Plan{
		Steps: []generation.PlanStep{
			{BotID: writer.ID, Role: "writer", OutputType: "draft"},
			{BotID: editor.ID, Role: "editor", OutputType: "final"},
			{BotID: 9999, Role: "ghost", OutputType: "none"},
		},
		Shares: []generation.Share{{BotID: writer.ID, Share: 0.6}, {BotID: editor.ID, Share: 0.2}},
	}
	job := f.post(t, "Blog post", 100, "writing")

	done, err := f.svc.Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPaid, done.Status)
	require.NotNil(t, done.QualityScore)
	assert.Equal(t, 8.0, *done.QualityScore)
	assert.Equal(t, "writer output\n\neditor output", done.Deliverable)

	_, steps, collaborators, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	for _, st := range steps {
		assert.Equal(t, models.StepStatusCompleted, st.Status)
	}
	require.Len(t, collaborators, 2)
	assert.InDelta(t, 1.0, collaborators[0].EarningsShare+collaborators[1].EarningsShare, 1e-12)

	assert.Equal(t, "63.75", storetest.Reload[models.Bot](t, f.db, writer.ID).TotalEarned.StringFixed(2))
	assert.Equal(t, "21.25", storetest.Reload[models.Bot](t, f.db, editor.ID).TotalEarned.StringFixed(2))
	assert.Equal(t, "15.00", storetest.Reload[models.PlatformStat](t, f.db, models.PlatformStatID).JobFees.StringFixed(2))

	w := storetest.Reload[models.Bot](t, f.db, writer.ID)
	assert.Equal(t, 8.0, w.AvgQualityScore)
	assert.Equal(t, 1, w.JobsCompleted)
}

func TestPlannerFailureFallsBackToBestMatch(t *testing.T) {
	gen := &fakeGenerator{planErr: errors.New("planner down"), assessments: []generation.Assessment{passing(7)}}
	f := newFixture(t, gen)
	ctx := context.Background()
	storetest.Bot(t, f.db, f.poster.ID, "famous", 95, "painting")
	coder := storetest.Bot(t, f.db, f.poster.ID, "coder", 40, "golang", "sql")
	job := f.post(t, "API server", 500, "Golang")

	matched, err := f.svc.AnalyzeAndMatch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusClaimed, matched.Status)

	_, steps, collaborators, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, coder.ID, steps[0].BotID)
	require.Len(t, collaborators, 1)
	assert.Equal(t, 1.0, collaborators[0].EarningsShare)
}

func TestFourQualityFailuresEndInRefund(t *testing.T) {
	gen := &fakeGenerator{assessments: []generation.Assessment{failing(3)}}
	f := newFixture(t, gen)
	storetest.Bot(t, f.db, f.poster.ID, "worker", 50)
	job := f.postPaid(t, "Pitch deck", 300, "pi_deck")

	done, err := f.svc.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRefunded, done.Status)
	assert.Equal(t, 3, done.RevisionCount)
	assert.NotEmpty(t, done.StatusReason)
	assert.Equal(t, 4, gen.assessCalls)
	assert.Equal(t, []string{"pi_deck"}, f.gateway.refunds)

	var steps, collaborators int64
	require.NoError(t, f.db.Model(&models.JobStep{}).Where("job_id = ?", job.ID).Count(&steps).Error)
	require.NoError(t, f.db.Model(&models.JobCollaborator{}).Where("job_id = ?", job.ID).Count(&collaborators).Error)
	assert.Zero(t, steps)
	assert.Zero(t, collaborators)

	var refunds int64
	require.NoError(t, f.db.Model(&models.Transaction{}).Where("type = ?", models.TxTypeRefund).Count(&refunds).Error)
	assert.Equal(t, int64(1), refunds)
}

func TestFourQualityFailuresWithoutPaymentFail(t *testing.T) {
	gen := &fakeGenerator{assessments: []generation.Assessment{failing(4)}}
	f := newFixture(t, gen)
	storetest.Bot(t, f.db, f.poster.ID, "worker", 50)
	job := f.post(t, "Slogan", 40)

	done, err := f.svc.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Equal(t, 4, gen.assessCalls)
	assert.Empty(t, f.gateway.refunds)
	assert.Contains(t, done.StatusReason, "failed after 3 revisions")
}

func TestRevisedJobPassesLowerBar(t *testing.T) {
	gen := &fakeGenerator{assessments: []generation.Assessment{passing(5.5), passing(5.5)}}
	f := newFixture(t, gen)
	storetest.Bot(t, f.db, f.poster.ID, "worker", 50)
	job := f.post(t, "Product copy", 80)

	done, err := f.svc.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPaid, done.Status)
	assert.Equal(t, 1, done.RevisionCount)
	assert.Equal(t, 2, gen.assessCalls)
	assert.Contains(t, gen.feedback, done.RevisionFeedback)
}

func TestPeerReviewRevisesFinalStep(t *testing.T) {
	gen := &fakeGenerator{
		review:      &generation.PeerReview{Approved: false, Feedback: "tighten the intro"},
		assessments: []generation.Assessment{passing(9)},
	}
	f := newFixture(t, gen)
	ctx := context.Background()
	storetest.Bot(t, f.db, f.poster.ID, "worker", 50)
	job := f.post(t, "Newsletter", 60)

	done, err := f.svc.Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "worker output revised", done.Deliverable)

	_, steps, _, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "revision", steps[1].Role)
	assert.Equal(t, "tighten the intro", steps[1].Instructions)
}

func TestGenerationFailureCountsTowardCap(t *testing.T) {
	gen := &fakeGenerator{genErr: apperr.New(apperr.CodeExternalServiceUnavailable, "rate limited")}
	f := newFixture(t, gen, jobs.WithPeerReview(false))
	storetest.Bot(t, f.db, f.poster.ID, "worker", 50)
	job := f.post(t, "Translation", 90)

	done, err := f.svc.Run(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, done.Status)
	assert.Equal(t, 0, gen.assessCalls)
	assert.Contains(t, done.StatusReason, "rate limited")
}

func TestRequestRevision(t *testing.T) {
	gen := &fakeGenerator{assessments: []generation.Assessment{passing(8)}}
	f := newFixture(t, gen)
	ctx := context.Background()
	bot := storetest.Bot(t, f.db, f.poster.ID, "worker", 50)
	job, err := f.svc.PostJob(ctx, jobs.PostJobRequest{
		PosterID:     f.poster.ID,
		Title:        "Tagline",
		Budget:       decimal.NewFromInt(100),
		MaxRevisions: 1,
	})
	require.NoError(t, err)

	_, err = f.svc.RequestRevision(ctx, job.ID, f.poster.ID, "too early")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = f.svc.Run(ctx, job.ID)
	require.NoError(t, err)

	stranger := storetest.Human(t, f.db, "stranger", "0")
	_, err = f.svc.RequestRevision(ctx, job.ID, stranger.ID, "make it pop")
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)

	reopened, err := f.svc.RequestRevision(ctx, job.ID, f.poster.ID, "make it pop")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusClaimed, reopened.Status)
	assert.Equal(t, 1, reopened.RevisionCount)

	done, err := f.svc.Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPaid, done.Status)

	// Paying the same job again does not credit the bot twice
	assert.Equal(t, "85.00", storetest.Reload[models.Bot](t, f.db, bot.ID).TotalEarned.StringFixed(2))

	_, err = f.svc.RequestRevision(ctx, job.ID, f.poster.ID, "once more")
	assert.ErrorIs(t, err, apperr.ErrRevisionLimitExceeded)
}

func TestSweepStalledJobs(t *testing.T) {
	f := newFixture(t, &fakeGenerator{})
	ctx := context.Background()
	stale := f.post(t, "Stale", 50)
	fresh := f.post(t, "Fresh", 50)

	startedLong := f.clock.Add(-2 * time.Hour)
	startedNow := *f.clock
	require.NoError(t, f.db.Model(stale).Updates(map[string]interface{}{"status": models.JobStatusInProgress, "started_at": &startedLong}).Error)
	require.NoError(t, f.db.Model(fresh).Updates(map[string]interface{}{"status": models.JobStatusInProgress, "started_at": &startedNow}).Error)

	swept, err := f.svc.SweepStalledJobs(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	reloaded := storetest.Reload[models.Job](t, f.db, stale.ID)
	assert.Equal(t, models.JobStatusOpen, reloaded.Status)
	assert.Equal(t, 1, reloaded.RevisionCount)
	assert.Equal(t, models.JobStatusInProgress, storetest.Reload[models.Job](t, f.db, fresh.ID).Status)
}

func TestHandleJobRefund(t *testing.T) {
	f := newFixture(t, &fakeGenerator{})
	ctx := context.Background()
	job := f.postPaid(t, "Chargeback", 70, "pi_cb")

	refunded, err := f.svc.HandleJobRefund(ctx, "pi_cb")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRefunded, refunded.Status)

	again, err := f.svc.HandleJobRefund(ctx, "pi_cb")
	require.NoError(t, err)
	assert.Equal(t, job.ID, again.ID)

	_, err = f.svc.HandleJobRefund(ctx, "pi_unknown")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRefundAfterPayoutReversesEarnings(t *testing.T) {
	gen := &fakeGenerator{assessments: []generation.Assessment{passing(8), failing(3)}}
	f := newFixture(t, gen)
	ctx := context.Background()
	bot := storetest.Bot(t, f.db, f.poster.ID, "worker", 50)
	job := f.postPaid(t, "Landing page", 200, "pi_landing")

	paid, err := f.svc.Run(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPaid, paid.Status)
	assert.Equal(t, "170.00", storetest.Reload[models.Bot](t, f.db, bot.ID).TotalEarned.StringFixed(2))
	assert.Equal(t, "30.00", storetest.Reload[models.PlatformStat](t, f.db, models.PlatformStatID).JobFees.StringFixed(2))

	_, err = f.svc.RequestRevision(ctx, job.ID, f.poster.ID, "needs a pricing table")
	require.NoError(t, err)

	done, err := f.svc.Run(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRefunded, done.Status)
	assert.Equal(t, []string{"pi_landing"}, f.gateway.refunds)

	assert.True(t, storetest.Reload[models.Bot](t, f.db, bot.ID).TotalEarned.IsZero())
	assert.True(t, storetest.Reload[models.PlatformStat](t, f.db, models.PlatformStatID).JobFees.IsZero())

	var reversals []models.Transaction
	require.NoError(t, f.db.Where("type = ?", models.TxTypePayoutReversal).Order("id").Find(&reversals).Error)
	require.Len(t, reversals, 2)
	assert.Equal(t, models.PartyBot, reversals[0].FromKind)
	assert.Equal(t, bot.ID, reversals[0].FromID)
	assert.Equal(t, "170.00", reversals[0].Amount.StringFixed(2))
	assert.Equal(t, models.PartyPlatform, reversals[1].FromKind)
	assert.Equal(t, "30.00", reversals[1].Amount.StringFixed(2))
}

func TestGatewayRefundOfPaidJob(t *testing.T) {
	gen := &fakeGenerator{assessments: []generation.Assessment{passing(9)}}
	f := newFixture(t, gen)
	ctx := context.Background()
	bot := storetest.Bot(t, f.db, f.poster.ID, "worker", 50)
	job := f.postPaid(t, "Logo", 100, "pi_logo")

	paid, err := f.svc.Run(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, models.JobStatusPaid, paid.Status)

	refunded, err := f.svc.HandleJobRefund(ctx, "pi_logo")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRefunded, refunded.Status)
	assert.True(t, storetest.Reload[models.Bot](t, f.db, bot.ID).TotalEarned.IsZero())
	assert.True(t, storetest.Reload[models.PlatformStat](t, f.db, models.PlatformStatID).JobFees.IsZero())

	// A second delivery changes nothing
	_, err = f.svc.HandleJobRefund(ctx, "pi_logo")
	require.NoError(t, err)
	var reversals int64
	require.NoError(t, f.db.Model(&models.Transaction{}).Where("type = ?", models.TxTypePayoutReversal).Count(&reversals).Error)
	assert.Equal(t, int64(2), reversals)
}

func TestGatewayRefundOfFailedJobIsRejected(t *testing.T) {
	f := newFixture(t, &fakeGenerator{})
	ctx := context.Background()
	job := f.postPaid(t, "Audit", 60, "pi_audit")
	require.NoError(t, f.db.Model(job).Update("status", models.JobStatusFailed).Error)

	_, err := f.svc.HandleJobRefund(ctx, "pi_audit")
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestGenerationFailureMarksStep(t *testing.T) {
	gen := &fakeGenerator{genErr: apperr.New(apperr.CodeExternalServiceUnavailable, "rate limited")}
	f := newFixture(t, gen, jobs.WithPeerReview(false))
	ctx := context.Background()
	storetest.Bot(t, f.db, f.poster.ID, "worker", 50)
	job := f.post(t, "Summary", 30)

	_, err := f.svc.AnalyzeAndMatch(ctx, job.ID)
	require.NoError(t, err)
	outcome, err := f.svc.ExecuteJobPipeline(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusOpen, outcome.Status)

	_, steps, _, err := f.svc.Get(ctx, job.ID)
	require.NoError(t, err)
	require.NotEmpty(t, steps)
	assert.Equal(t, models.StepStatusFailed, steps[0].Status)
}
