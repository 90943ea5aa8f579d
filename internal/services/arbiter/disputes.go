package arbiter

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode"

	"venturemarket/internal/apperr"
	"venturemarket/internal/events"
	"venturemarket/internal/models"
	"venturemarket/internal/store"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Dispute evidence weights
const (
	earliestTaskWeight = 30.0
	overlapTaskWeight  = 5.0
	maxOverlapWeight   = 20.0
	volumeWeight       = 15.0
	witnessWeight      = 10.0
)

// FileDisputeRequest describes a claim by one bot against another
type FileDisputeRequest struct {
	VentureID       uint
	ClaimantBotID   uint
	RespondentBotID uint
	Claim           string
}

// FileDispute opens a pending dispute between two participants of a venture.
func (s *Service) FileDispute(ctx context.Context, req FileDisputeRequest) (*models.Dispute, error) {
	claim := strings.TrimSpace(req.Claim)
	if claim == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "claim is required")
	}
	if req.ClaimantBotID == req.RespondentBotID {
		return nil, apperr.New(apperr.CodeInvalidArgument, "a bot cannot dispute with itself")
	}

	var dispute models.Dispute
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, id := range []uint{req.ClaimantBotID, req.RespondentBotID} {
			var n int64
			if err := tx.Model(&models.VentureParticipant{}).
				Where("venture_id = ? AND bot_id = ?", req.VentureID, id).Count(&n).Error; err != nil {
				return err
			}
			if n == 0 {
				return apperr.Newf(apperr.CodeNotAuthorized, "bot %d never participated in venture %d", id, req.VentureID)
			}
		}
		var pending int64
		if err := tx.Model(&models.Dispute{}).
			Where("venture_id = ? AND claimant_bot_id = ? AND respondent_bot_id = ? AND status = ?",
				req.VentureID, req.ClaimantBotID, req.RespondentBotID, models.DisputeStatusPending).
			Count(&pending).Error; err != nil {
			return err
		}
		if pending > 0 {
			return apperr.New(apperr.CodeFailedPrecondition, "a dispute between these bots is already pending")
		}

		dispute = models.Dispute{
			VentureID:       req.VentureID,
			ClaimantBotID:   req.ClaimantBotID,
			RespondentBotID: req.RespondentBotID,
			Claim:           claim,
			Status:          models.DisputeStatusPending,
		}
		return tx.Create(&dispute).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"dispute_id": dispute.ID, "venture_id": dispute.VentureID}).Info("Dispute filed")
	return &dispute, nil
}

// AddTestimony records a witness statement on a pending dispute. Witnesses
// must be active participants other than the two parties.
func (s *Service) AddTestimony(ctx context.Context, disputeID, witnessBotID uint, supportsClaimant bool, statement string) (*models.DisputeTestimony, error) {
	var t models.DisputeTestimony
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d models.Dispute
		if err := tx.First(&d, disputeID).Error; err != nil {
			return store.NotFound(err, "dispute", disputeID)
		}
		if d.Status != models.DisputeStatusPending {
			return apperr.Newf(apperr.CodeFailedPrecondition, "dispute %d is already resolved", disputeID)
		}
		if witnessBotID == d.ClaimantBotID || witnessBotID == d.RespondentBotID {
			return apperr.New(apperr.CodeInvalidArgument, "a party cannot testify in its own dispute")
		}
		var n int64
		if err := tx.Model(&models.VentureParticipant{}).
			Where("venture_id = ? AND bot_id = ? AND status = ?", d.VentureID, witnessBotID, models.ParticipantStatusActive).
			Count(&n).Error; err != nil {
			return err
		}
		if n == 0 {
			return apperr.Newf(apperr.CodeNotAuthorized, "bot %d is not an active participant of venture %d", witnessBotID, d.VentureID)
		}
		t = models.DisputeTestimony{
			DisputeID:        disputeID,
			WitnessBotID:     witnessBotID,
			SupportsClaimant: supportsClaimant,
			Statement:        strings.TrimSpace(statement),
		}
		return tx.Where(models.DisputeTestimony{DisputeID: disputeID, WitnessBotID: witnessBotID}).
			Assign(models.DisputeTestimony{SupportsClaimant: supportsClaimant, Statement: t.Statement}).
			FirstOrCreate(&t).Error
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// PartyEvidence is what the arbiter knows about one side of a dispute
type PartyEvidence struct {
	// EarliestOverlap is when the party first logged a task matching the
	// claim. Zero when it has none.
	EarliestOverlap time.Time
	OverlapTasks    int
	TotalTasks      int
	// WitnessCredibility sums the reputation/100 of witnesses for this side
	WitnessCredibility float64
}

// Verdict is a scored dispute outcome
type Verdict struct {
	ClaimantScore   float64
	RespondentScore float64
	Winner          string
	Confidence      float64
	Notes           []string
}

// ScoreDispute weighs both sides. The earliest matching task wins its
// weight, matching tasks and the larger task history add bonuses, and
// witnesses add weight by credibility. Equal scores go to the claimant.
func ScoreDispute(claimant, respondent PartyEvidence) Verdict {
	var v Verdict

	switch {
	case claimant.EarliestOverlap.IsZero() && respondent.EarliestOverlap.IsZero():
	case respondent.EarliestOverlap.IsZero(),
		!claimant.EarliestOverlap.IsZero() && !claimant.EarliestOverlap.After(respondent.EarliestOverlap):
		v.ClaimantScore += earliestTaskWeight
		v.Notes = append(v.Notes, "claimant logged the matching work first")
	default:
		v.RespondentScore += earliestTaskWeight
		v.Notes = append(v.Notes, "respondent logged the matching work first")
	}

	v.ClaimantScore += math.Min(maxOverlapWeight, overlapTaskWeight*float64(claimant.OverlapTasks))
	v.RespondentScore += math.Min(maxOverlapWeight, overlapTaskWeight*float64(respondent.OverlapTasks))
	v.Notes = append(v.Notes, fmt.Sprintf("matching tasks: claimant %d, respondent %d", claimant.OverlapTasks, respondent.OverlapTasks))

	switch {
	case claimant.TotalTasks > respondent.TotalTasks:
		v.ClaimantScore += volumeWeight
		v.Notes = append(v.Notes, fmt.Sprintf("claimant has the larger task history (%d vs %d)", claimant.TotalTasks, respondent.TotalTasks))
	case respondent.TotalTasks > claimant.TotalTasks:
		v.RespondentScore += volumeWeight
		v.Notes = append(v.Notes, fmt.Sprintf("respondent has the larger task history (%d vs %d)", respondent.TotalTasks, claimant.TotalTasks))
	}

	v.ClaimantScore += witnessWeight * claimant.WitnessCredibility
	v.RespondentScore += witnessWeight * respondent.WitnessCredibility

	v.Winner = models.VerdictClaimant
	if v.RespondentScore > v.ClaimantScore {
		v.Winner = models.VerdictRespondent
	}
	total := v.ClaimantScore + v.RespondentScore
	v.Confidence = 0.5
	if total > 0 {
		v.Confidence = 0.5 + math.Abs(v.ClaimantScore-v.RespondentScore)/(2*total)
	}
	if v.ClaimantScore == v.RespondentScore {
		v.Notes = append(v.Notes, "evidence balanced; defaulting to claimant")
	}
	return v
}

// ResolveDispute gathers evidence, scores the dispute and writes a final
// verdict. The loser takes LoserPenalty. A claimant verdict at or above
// HighConfidence recomputes the venture's equity.
func (s *Service) ResolveDispute(ctx context.Context, disputeID uint) (*models.Dispute, error) {
	db := s.db.WithContext(ctx)
	var d models.Dispute
	if err := db.First(&d, disputeID).Error; err != nil {
		return nil, store.NotFound(err, "dispute", disputeID)
	}
	if d.Status != models.DisputeStatusPending {
		return nil, apperr.Newf(apperr.CodeFailedPrecondition, "dispute %d is already resolved", disputeID)
	}

	claimant, respondent, err := s.gatherEvidence(db, &d)
	if err != nil {
		return nil, err
	}
	v := ScoreDispute(claimant, respondent)

	loser := d.RespondentBotID
	if v.Winner == models.VerdictRespondent {
		loser = d.ClaimantBotID
	}

	now := s.now()
	err = db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Dispute{}).
			Where("id = ? AND status = ?", d.ID, models.DisputeStatusPending).
			Updates(map[string]interface{}{
				"status":             models.DisputeStatusResolved,
				"verdict":            v.Winner,
				"confidence":         v.Confidence,
				"claimant_score":     v.ClaimantScore,
				"respondent_score":   v.RespondentScore,
				"evidence":           models.StringList(v.Notes),
				"reputation_penalty": LoserPenalty,
				"resolved_at":        &now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperr.Newf(apperr.CodeFailedPrecondition, "dispute %d is already resolved", d.ID)
		}
		_, err := store.AdjustReputation(tx, loser, -LoserPenalty)
		return err
	})
	if err != nil {
		return nil, err
	}

	d.Status = models.DisputeStatusResolved
	d.Verdict = v.Winner
	d.Confidence = v.Confidence
	d.ClaimantScore = v.ClaimantScore
	d.RespondentScore = v.RespondentScore
	d.Evidence = models.StringList(v.Notes)
	d.ReputationPenalty = LoserPenalty
	d.ResolvedAt = &now

	s.log.WithFields(logrus.Fields{
		"dispute_id": d.ID,
		"verdict":    d.Verdict,
		"confidence": d.Confidence,
	}).Info("Dispute resolved")
	events.Emit(s.events, events.QueueLedgerEvents, events.DisputeResolved, d.ID, map[string]interface{}{
		"verdict":    d.Verdict,
		"confidence": d.Confidence,
	})

	if d.Verdict == models.VerdictClaimant && d.Confidence >= HighConfidence && s.equity != nil {
		if _, err := s.equity.RecalculateEquity(ctx, d.VentureID); err != nil {
			return &d, fmt.Errorf("recalculate equity after dispute %d: %w", d.ID, err)
		}
	}
	return &d, nil
}

// ResolvePending resolves every pending dispute, oldest first.
func (s *Service) ResolvePending(ctx context.Context) (int, error) {
	var pending []models.Dispute
	if err := s.db.WithContext(ctx).Select("id").
		Where("status = ?", models.DisputeStatusPending).Order("id").Find(&pending).Error; err != nil {
		return 0, err
	}
	resolved := 0
	for _, d := range pending {
		if _, err := s.ResolveDispute(ctx, d.ID); err != nil {
			if apperr.CodeOf(err) == apperr.CodeFailedPrecondition {
				continue
			}
			return resolved, err
		}
		resolved++
	}
	return resolved, nil
}

func (s *Service) gatherEvidence(db *gorm.DB, d *models.Dispute) (PartyEvidence, PartyEvidence, error) {
	keywords := claimKeywords(d.Claim)

	side := func(botID uint) (PartyEvidence, error) {
		var e PartyEvidence
		var tasks []models.Task
		if err := db.Where("venture_id = ? AND bot_id = ?", d.VentureID, botID).
			Order("completed_at").Find(&tasks).Error; err != nil {
			return e, err
		}
		e.TotalTasks = len(tasks)
		for _, t := range tasks {
			if !overlaps(t.Description, keywords) {
				continue
			}
			e.OverlapTasks++
			if e.EarliestOverlap.IsZero() {
				e.EarliestOverlap = t.CompletedAt
			}
		}
		return e, nil
	}

	claimant, err := side(d.ClaimantBotID)
	if err != nil {
		return claimant, PartyEvidence{}, err
	}
	respondent, err := side(d.RespondentBotID)
	if err != nil {
		return claimant, respondent, err
	}

	var testimony []models.DisputeTestimony
	if err := db.Where("dispute_id = ?", d.ID).Find(&testimony).Error; err != nil {
		return claimant, respondent, err
	}
	for _, t := range testimony {
		var witness models.Bot
		if err := db.Select("id", "reputation").First(&witness, t.WitnessBotID).Error; err != nil {
			if store.IsNotFound(err) {
				continue
			}
			return claimant, respondent, err
		}
		credibility := store.ClampReputation(witness.Reputation) / 100
		if t.SupportsClaimant {
			claimant.WitnessCredibility += credibility
		} else {
			respondent.WitnessCredibility += credibility
		}
	}
	return claimant, respondent, nil
}

var stopwords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true, "have": true,
	"were": true, "they": true, "their": true, "work": true, "task": true,
	"what": true, "when": true, "which": true, "into": true, "about": true,
}

// claimKeywords returns the distinctive words of a claim: lowercase, at
// least four letters, stopwords removed.
func claimKeywords(claim string) map[string]bool {
	out := map[string]bool{}
	for _, w := range strings.FieldsFunc(strings.ToLower(claim), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) >= 4 && !stopwords[w] {
			out[w] = true
		}
	}
	return out
}

func overlaps(description string, keywords map[string]bool) bool {
	for w := range claimKeywords(description) {
		if keywords[w] {
			return true
		}
	}
	return false
}
