package arbiter

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"venturemarket/internal/events"
	"venturemarket/internal/models"
	"venturemarket/internal/store"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Detector windows and signal weights
const (
	RevenueWindow = 7 * 24 * time.Hour
	TradingWindow = 30 * 24 * time.Hour

	growthRatio      = 5.0
	growthWeight     = 40.0
	coldStartRevenue = 1000
	coldStartWeight  = 25.0
	roundFraction    = 0.8
	roundWeight      = 30.0
	unverifiedShare  = 0.5
	unverifiedWeight = 30.0

	concentrationBots    = 3
	concentrationRevenue = 1000
	concentrationWeight  = 60.0
	disproportionWeight  = 30.0

	selfDealWeight = 25.0
	circularWeight = 50.0
)

// VerifiedSources are revenue sources confirmed by a third party
var VerifiedSources = map[string]bool{
	"stripe": true,
}

// Finding is a detector's result. It becomes a Violation when Score reaches
// Threshold.
type Finding struct {
	Type      string
	Score     float64
	VentureID uint
	HumanID   uint
	BotIDs    []uint
	Evidence  []string
}

func (f *Finding) add(weight float64, format string, args ...interface{}) {
	f.Score = math.Min(100, f.Score+weight)
	f.Evidence = append(f.Evidence, fmt.Sprintf(format, args...))
}

// DetectFakeRevenue scores a venture's revenue history: sudden growth over
// the trailing window, suspiciously round amounts, and revenue no third party
// confirmed.
func (s *Service) DetectFakeRevenue(ctx context.Context, ventureID uint) (*Finding, error) {
	db := s.db.WithContext(ctx)
	var revenue []models.Transaction
	if err := db.Where("type = ? AND to_kind = ? AND to_id = ?", models.TxTypeRevenue, models.PartyVenture, ventureID).
		Order("created_at").Find(&revenue).Error; err != nil {
		return nil, err
	}
	f := &Finding{Type: models.ViolationFakeRevenue, VentureID: ventureID}
	if len(revenue) == 0 {
		return f, nil
	}

	now := s.now()
	recent, prior := decimal.Zero, decimal.Zero
	total, unverified := decimal.Zero, decimal.Zero
	round := 0
	for _, tx := range revenue {
		switch {
		case !tx.CreatedAt.Before(now.Add(-RevenueWindow)):
			recent = recent.Add(tx.Amount)
		case !tx.CreatedAt.Before(now.Add(-2 * RevenueWindow)):
			prior = prior.Add(tx.Amount)
		}
		total = total.Add(tx.Amount)
		if src, _ := tx.Metadata["source"].(string); !VerifiedSources[src] {
			unverified = unverified.Add(tx.Amount)
		}
		if tx.Amount.Mod(decimal.NewFromInt(100)).IsZero() {
			round++
		}
	}

	if prior.IsPositive() {
		if ratio := recent.Div(prior).InexactFloat64(); ratio >= growthRatio {
			f.add(growthWeight, "revenue grew %.1fx over the trailing window", ratio)
		}
	} else if recent.GreaterThanOrEqual(decimal.NewFromInt(coldStartRevenue)) {
		f.add(coldStartWeight, "$%s revenue in the trailing window with no prior history", recent.StringFixed(2))
	}
	if len(revenue) >= 3 {
		if frac := float64(round) / float64(len(revenue)); frac >= roundFraction {
			f.add(roundWeight, "%.0f%% of revenue entries are round hundreds", frac*100)
		}
	}
	if total.IsPositive() {
		if frac := unverified.Div(total).InexactFloat64(); frac >= unverifiedShare {
			f.add(unverifiedWeight, "%.0f%% of revenue has no third-party verification", frac*100)
		}
	}

	var participants []models.VentureParticipant
	if err := db.Where("venture_id = ? AND status = ?", ventureID, models.ParticipantStatusActive).
		Order("bot_id").Find(&participants).Error; err != nil {
		return nil, err
	}
	for _, p := range participants {
		f.BotIDs = append(f.BotIDs, p.BotID)
	}
	return f, nil
}

// DetectCollusion scores a standard venture for single-owner bot
// concentration and equity out of line with hours worked.
func (s *Service) DetectCollusion(ctx context.Context, ventureID uint) (*Finding, error) {
	db := s.db.WithContext(ctx)
	var venture models.Venture
	if err := db.First(&venture, ventureID).Error; err != nil {
		return nil, store.NotFound(err, "venture", ventureID)
	}
	f := &Finding{Type: models.ViolationCollusion, VentureID: ventureID}

	var participants []models.VentureParticipant
	if err := db.Where("venture_id = ? AND status = ?", ventureID, models.ParticipantStatusActive).
		Order("bot_id").Find(&participants).Error; err != nil {
		return nil, err
	}
	if len(participants) == 0 {
		return f, nil
	}

	botIDs := make([]uint, len(participants))
	for i, p := range participants {
		botIDs[i] = p.BotID
	}
	var bots []models.Bot
	if err := db.Select("id", "human_id").Where("id IN ?", botIDs).Find(&bots).Error; err != nil {
		return nil, err
	}
	byOwner := map[uint][]uint{}
	for _, b := range bots {
		byOwner[b.HumanID] = append(byOwner[b.HumanID], b.ID)
	}
	var owner uint
	for h, ids := range byOwner {
		if len(ids) > len(byOwner[owner]) || (len(ids) == len(byOwner[owner]) && h < owner) {
			owner = h
		}
	}
	owned := byOwner[owner]
	sort.Slice(owned, func(i, j int) bool { return owned[i] < owned[j] })

	if len(owned) >= concentrationBots && venture.TotalRevenue.GreaterThan(decimal.NewFromInt(concentrationRevenue)) {
		f.HumanID = owner
		f.BotIDs = owned
		f.add(concentrationWeight, "human %d controls %d of %d active bots in a venture with $%s revenue",
			owner, len(owned), len(participants), venture.TotalRevenue.StringFixed(2))
	}

	hours := 0.0
	for _, p := range participants {
		hours += p.HoursWorked
	}
	if hours > 0 {
		for _, p := range participants {
			share := 100 * p.HoursWorked / hours
			if p.EquityPercentage > 25 && p.EquityPercentage > 2*share {
				f.add(disproportionWeight, "bot %d holds %.1f%% equity for %.1f%% of hours", p.BotID, p.EquityPercentage, share)
				if f.HumanID == 0 {
					f.BotIDs = append(f.BotIDs, p.BotID)
				}
				break
			}
		}
	}
	return f, nil
}

type paymentFlow struct {
	JobID  uint
	Payer  uint
	Payee  uint
	BotID  uint
	Amount decimal.Decimal
}

// DetectWashTrading scores a human for paying their own bots through jobs and
// for circular job payments with another human inside TradingWindow.
func (s *Service) DetectWashTrading(ctx context.Context, humanID uint) (*Finding, error) {
	flows, err := s.paymentFlows(ctx)
	if err != nil {
		return nil, err
	}
	f := &Finding{Type: models.ViolationWashTrading, HumanID: humanID}

	bots := map[uint]bool{}
	selfJobs := map[uint]bool{}
	paidTo := map[uint]bool{}
	paidBy := map[uint][]uint{}
	for _, fl := range flows {
		switch {
		case fl.Payer == humanID && fl.Payee == humanID:
			selfJobs[fl.JobID] = true
			bots[fl.BotID] = true
		case fl.Payer == humanID:
			paidTo[fl.Payee] = true
		case fl.Payee == humanID:
			paidBy[fl.Payer] = append(paidBy[fl.Payer], fl.BotID)
		}
	}

	if n := len(selfJobs); n > 0 {
		f.add(math.Min(2*selfDealWeight, selfDealWeight*float64(n)), "%d jobs paid out to the poster's own bots", n)
	}
	var partners []uint
	for other, ids := range paidBy {
		if paidTo[other] {
			partners = append(partners, other)
			for _, id := range ids {
				bots[id] = true
			}
		}
	}
	if len(partners) > 0 {
		sort.Slice(partners, func(i, j int) bool { return partners[i] < partners[j] })
		f.add(circularWeight, "circular job payments with humans %v", partners)
	}

	for id := range bots {
		f.BotIDs = append(f.BotIDs, id)
	}
	sort.Slice(f.BotIDs, func(i, j int) bool { return f.BotIDs[i] < f.BotIDs[j] })
	return f, nil
}

func (s *Service) paymentFlows(ctx context.Context) ([]paymentFlow, error) {
	var flows []paymentFlow
	err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("job.id AS job_id, job.poster_human_id AS payer, bot.human_id AS payee, bot.id AS bot_id, ledger_transaction.amount AS amount").
		Joins("JOIN job ON job.id = ledger_transaction.from_id").
		Joins("JOIN bot ON bot.id = ledger_transaction.to_id").
		Where("ledger_transaction.type = ? AND ledger_transaction.created_at >= ?", models.TxTypeJobPayment, s.now().Add(-TradingWindow)).
		Scan(&flows).Error
	return flows, err
}

// Record turns a finding at or above Threshold into a Violation and applies
// its reputation penalty. An open violation of the same type for the same
// subject is not duplicated.
func (s *Service) Record(ctx context.Context, f *Finding) (*models.Violation, error) {
	if f == nil || f.Score < Threshold {
		return nil, nil
	}

	var violation models.Violation
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&models.Violation{}).
			Where("type = ? AND venture_id = ? AND human_id = ? AND status = ?", f.Type, f.VentureID, f.HumanID, models.ViolationStatusOpen).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return nil
		}

		severity := "medium"
		if f.Score >= 80 {
			severity = "high"
		}
		violation = models.Violation{
			Type:              f.Type,
			Severity:          severity,
			Score:             f.Score,
			VentureID:         f.VentureID,
			HumanID:           f.HumanID,
			BotIDs:            idList(f.BotIDs),
			Evidence:          models.StringList(f.Evidence),
			ReputationPenalty: penalties[f.Type],
			Status:            models.ViolationStatusOpen,
		}
		if err := tx.Create(&violation).Error; err != nil {
			return err
		}
		for _, id := range f.BotIDs {
			if _, err := store.AdjustReputation(tx, id, -violation.ReputationPenalty); err != nil {
				return err
			}
		}
		created = true
		return nil
	})
	if err != nil || !created {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"violation_id": violation.ID,
		"type":         violation.Type,
		"score":        violation.Score,
		"venture_id":   violation.VentureID,
		"human_id":     violation.HumanID,
	}).Warn("Violation recorded")
	events.Emit(s.events, events.QueueLedgerEvents, events.ViolationRecorded, violation.ID, map[string]interface{}{
		"type":  violation.Type,
		"score": violation.Score,
	})
	return &violation, nil
}

// CloseViolation marks a violation reviewed. Penalties already applied stay.
func (s *Service) CloseViolation(ctx context.Context, violationID uint) (*models.Violation, error) {
	var v models.Violation
	db := s.db.WithContext(ctx)
	if err := db.First(&v, violationID).Error; err != nil {
		return nil, store.NotFound(err, "violation", violationID)
	}
	if v.Status == models.ViolationStatusClosed {
		return &v, nil
	}
	now := s.now()
	v.Status = models.ViolationStatusClosed
	v.ResolvedAt = &now
	if err := db.Model(&v).Updates(map[string]interface{}{"status": v.Status, "resolved_at": &now}).Error; err != nil {
		return nil, err
	}
	return &v, nil
}
