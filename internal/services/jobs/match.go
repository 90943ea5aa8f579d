package jobs

import (
	"context"
	"math"
	"sort"

	"venturemarket/internal/apperr"
	"venturemarket/internal/models"
	"venturemarket/internal/skills"
	"venturemarket/internal/store"
	"venturemarket/pkg/generation"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// maxCandidates bounds how many bots the planner sees
const maxCandidates = 10

type candidate struct {
	bot     models.Bot
	overlap int
}

// rankCandidates orders active bots by skill overlap with the job, then
// reputation, then age.
func rankCandidates(bots []models.Bot, required skills.Set) []candidate {
	out := make([]candidate, len(bots))
	for i, b := range bots {
		out[i] = candidate{bot: b, overlap: skills.Parse(b.Skills...).Overlap(required)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].overlap != out[j].overlap {
			return out[i].overlap > out[j].overlap
		}
		if out[i].bot.Reputation != out[j].bot.Reputation {
			return out[i].bot.Reputation > out[j].bot.Reputation
		}
		return out[i].bot.ID < out[j].bot.ID
	})
	return out
}

// AnalyzeAndMatch plans an open job and assigns its collaborators. When the
// planner fails or returns an unusable plan, the job goes to the single best
// matching bot with the whole share.
func (s *Service) AnalyzeAndMatch(ctx context.Context, jobID uint) (*models.Job, error) {
	db := s.db.WithContext(ctx)
	var job models.Job
	if err := db.First(&job, jobID).Error; err != nil {
		return nil, store.NotFound(err, "job", jobID)
	}
	if job.Status != models.JobStatusOpen {
		return nil, apperr.Newf(apperr.CodeInvalidTransition, "job %d is %s, not open", jobID, job.Status)
	}

	var bots []models.Bot
	if err := db.Where("status = ?", models.BotStatusActive).Find(&bots).Error; err != nil {
		return nil, err
	}
	if len(bots) == 0 {
		return nil, apperr.New(apperr.CodeFailedPrecondition, "no active bots to match")
	}
	ranked := rankCandidates(bots, skills.Parse(job.RequiredSkills...))
	if len(ranked) > maxCandidates {
		ranked = ranked[:maxCandidates]
	}

	steps, shares, fallback := s.plan(ctx, &job, ranked)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := purgeWork(tx, job.ID); err != nil {
			return err
		}
		for i, st := range steps {
			if err := tx.Create(&models.JobStep{
				JobID:        job.ID,
				StepOrder:    i + 1,
				BotID:        st.BotID,
				Role:         st.Role,
				OutputType:   st.OutputType,
				Instructions: st.Instructions,
				Status:       models.StepStatusPending,
			}).Error; err != nil {
				return err
			}
		}
		for _, sh := range shares {
			if err := tx.Create(&models.JobCollaborator{
				JobID:         job.ID,
				BotID:         sh.BotID,
				Role:          roleOf(steps, sh.BotID),
				EarningsShare: sh.Share,
			}).Error; err != nil {
				return err
			}
		}
		now := s.now()
		return transition(tx, &job, models.JobStatusClaimed, map[string]interface{}{
			"claimed_at": &now,
			"plan":       models.JSONMap{"steps": steps, "shares": shares, "fallback": fallback},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"steps":    len(steps),
		"workers":  len(shares),
		"fallback": fallback,
	}).Info("Job matched")
	s.statusChanged(job.ID, models.JobStatusOpen, models.JobStatusClaimed, "")
	return &job, nil
}

// plan asks the planner for steps and shares, falling back on any failure.
func (s *Service) plan(ctx context.Context, job *models.Job, ranked []candidate) ([]generation.PlanStep, []generation.Share, bool) {
	req := generation.PlanRequest{
		Title:          job.Title,
		Description:    job.Description,
		Category:       job.Category,
		RequiredSkills: job.RequiredSkills,
		Feedback:       job.RevisionFeedback,
	}
	eligible := make(map[uint]bool, len(ranked))
	for _, c := range ranked {
		eligible[c.bot.ID] = true
		req.Candidates = append(req.Candidates, generation.Candidate{
			BotID:      c.bot.ID,
			Name:       c.bot.Name,
			Skills:     c.bot.Skills,
			Reputation: c.bot.Reputation,
		})
	}

	if s.gen != nil {
		p, err := s.gen.Plan(ctx, req)
		if err == nil {
			if steps, shares, ok := validatePlan(p, eligible); ok {
				return steps, shares, false
			}
			s.log.WithField("job_id", job.ID).Warn("Planner returned an unusable plan, falling back")
		} else {
			s.log.WithField("job_id", job.ID).Warnf("Planner failed, falling back: %v", err)
		}
	}
	return fallbackPlan(ranked[0].bot)
}

func fallbackPlan(bot models.Bot) ([]generation.PlanStep, []generation.Share, bool) {
	steps := []generation.PlanStep{{
		BotID:        bot.ID,
		Role:         "worker",
		OutputType:   "deliverable",
		Instructions: "Complete the job as described.",
	}}
	return steps, []generation.Share{{BotID: bot.ID, Share: 1.0}}, true
}

// validatePlan drops steps for unknown bots and normalizes shares to sum to
// 1.0 over the bots that still have steps.
func validatePlan(p *generation.Plan, eligible map[uint]bool) ([]generation.PlanStep, []generation.Share, bool) {
	if p == nil {
		return nil, nil, false
	}
	var steps []generation.PlanStep
	var workers []uint
	seen := map[uint]bool{}
	for _, st := range p.Steps {
		if !eligible[st.BotID] {
			continue
		}
		steps = append(steps, st)
		if !seen[st.BotID] {
			seen[st.BotID] = true
			workers = append(workers, st.BotID)
		}
	}
	if len(steps) == 0 {
		return nil, nil, false
	}

	raw := map[uint]float64{}
	for _, sh := range p.Shares {
		if seen[sh.BotID] && sh.Share > 0 && !math.IsInf(sh.Share, 0) && !math.IsNaN(sh.Share) {
			raw[sh.BotID] += sh.Share
		}
	}
	return steps, NormalizeShares(workers, raw), true
}

// NormalizeShares scales raw shares for workers so they sum to exactly 1.0.
// Workers with no positive share split evenly when nobody has one.
func NormalizeShares(workers []uint, raw map[uint]float64) []generation.Share {
	total := 0.0
	for _, id := range workers {
		total += raw[id]
	}
	out := make([]generation.Share, 0, len(workers))
	if total <= 0 {
		for _, id := range workers {
			out = append(out, generation.Share{BotID: id, Share: 1 / float64(len(workers))})
		}
	} else {
		for _, id := range workers {
			if raw[id] > 0 {
				out = append(out, generation.Share{BotID: id, Share: raw[id] / total})
			}
		}
	}
	if len(out) == 0 {
		return out
	}
	rest := 0.0
	for _, sh := range out[:len(out)-1] {
		rest += sh.Share
	}
	out[len(out)-1].Share = 1 - rest
	return out
}

func roleOf(steps []generation.PlanStep, botID uint) string {
	for _, st := range steps {
		if st.BotID == botID {
			return st.Role
		}
	}
	return ""
}
