package equity

import (
	"context"
	"sort"
	"strings"

	"venturemarket/internal/apperr"
	"venturemarket/internal/events"
	"venturemarket/internal/models"
	"venturemarket/internal/store"
	"venturemarket/pkg/utils"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// CreateVentureRequest describes a standard venture founded by a bot
type CreateVentureRequest struct {
	FounderBotID  uint
	Name          string
	Description   string
	ExpectedHours float64
}

// CreateVenture creates a standard venture with its founder as the first
// participant.
func (s *Service) CreateVenture(ctx context.Context, req CreateVentureRequest) (*models.Venture, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "venture name is required")
	}

	var venture models.Venture
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		founder, err := activeBot(tx, req.FounderBotID)
		if err != nil {
			return err
		}
		venture = models.Venture{
			Name:             name,
			Description:      req.Description,
			Type:             models.VentureTypeStandard,
			FounderBotID:     founder.ID,
			ParticipantCount: 1,
			Status:           models.VentureStatusForming,
		}
		if err := tx.Create(&venture).Error; err != nil {
			return err
		}
		participant := models.VentureParticipant{
			VentureID:     venture.ID,
			BotID:         founder.ID,
			ExpectedHours: req.ExpectedHours,
			Status:        models.ParticipantStatusActive,
			JoinedAt:      s.now(),
		}
		return tx.Create(&participant).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"venture_id": venture.ID, "founder_bot_id": venture.FounderBotID}).Info("Venture created")
	s.emit(events.VentureCreated, venture.ID, map[string]interface{}{"type": venture.Type})
	return &venture, nil
}

// JoinVenture adds a bot to a standard venture. A bot that exited earlier is
// reactivated on the same row.
func (s *Service) JoinVenture(ctx context.Context, ventureID, botID uint, expectedHours float64) (*models.VentureParticipant, error) {
	var participant models.VentureParticipant
	err := s.inVenture(ctx, ventureID, func(tx *gorm.DB) error {
		venture, err := loadVenture(tx, ventureID)
		if err != nil {
			return err
		}
		if venture.IsLocked {
			return apperr.Newf(apperr.CodeVentureLocked, "venture %d is locked", ventureID)
		}
		if venture.Type != models.VentureTypeStandard {
			return apperr.Newf(apperr.CodeInvalidArgument, "venture %d takes investors, not bots", ventureID)
		}
		if _, err := activeBot(tx, botID); err != nil {
			return err
		}

		err = tx.Where("venture_id = ? AND bot_id = ?", ventureID, botID).First(&participant).Error
		switch {
		case err == nil && participant.Status == models.ParticipantStatusActive:
			return apperr.Newf(apperr.CodeInvalidArgument, "bot %d already participates in venture %d", botID, ventureID)
		case err == nil:
			participant.Status = models.ParticipantStatusActive
			participant.ExitedAt = nil
			participant.JoinedAt = s.now()
			participant.ExpectedHours = expectedHours
			if err := tx.Model(&participant).Select("status", "exited_at", "joined_at", "expected_hours").Updates(&participant).Error; err != nil {
				return err
			}
		case store.IsNotFound(err):
			participant = models.VentureParticipant{
				VentureID:     ventureID,
				BotID:         botID,
				ExpectedHours: expectedHours,
				Status:        models.ParticipantStatusActive,
				JoinedAt:      s.now(),
			}
			if err := tx.Create(&participant).Error; err != nil {
				return err
			}
		default:
			return err
		}

		if err := s.refreshParticipantCount(tx, venture); err != nil {
			return err
		}
		rows, err := s.recalculate(tx, venture)
		if err != nil {
			return err
		}
		for _, p := range rows {
			if p.BotID == botID {
				participant = p
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.emit(events.VentureJoined, ventureID, map[string]interface{}{"bot_id": botID})
	return &participant, nil
}

// LockResult reports the state of a lock vote
type LockResult struct {
	VentureID uint `json:"venture_id"`
	Votes     int  `json:"votes"`
	Required  int  `json:"required"`
	Locked    bool `json:"locked"`
}

// VoteLock records an active participant's vote to lock the venture. The
// venture locks, permanently, once votes reach ceil(active participants / 2).
func (s *Service) VoteLock(ctx context.Context, ventureID, botID uint) (*LockResult, error) {
	result := &LockResult{VentureID: ventureID}
	lockedNow := false
	err := s.inVenture(ctx, ventureID, func(tx *gorm.DB) error {
		venture, err := loadVenture(tx, ventureID)
		if err != nil {
			return err
		}

		var participant models.VentureParticipant
		err = tx.Where("venture_id = ? AND bot_id = ? AND status = ?", ventureID, botID, models.ParticipantStatusActive).
			First(&participant).Error
		if err != nil {
			if store.IsNotFound(err) {
				return apperr.Newf(apperr.CodeNotAuthorized, "bot %d is not an active participant of venture %d", botID, ventureID)
			}
			return err
		}

		vote := models.LockVote{VentureID: ventureID, BotID: botID}
		if err := tx.Where(models.LockVote{VentureID: ventureID, BotID: botID}).FirstOrCreate(&vote).Error; err != nil {
			return err
		}

		var active int64
		if err := tx.Model(&models.VentureParticipant{}).
			Where("venture_id = ? AND status = ?", ventureID, models.ParticipantStatusActive).
			Count(&active).Error; err != nil {
			return err
		}
		var votes int64
		if err := tx.Model(&models.LockVote{}).
			Where("venture_id = ? AND bot_id IN (?)", ventureID,
				tx.Model(&models.VentureParticipant{}).Select("bot_id").
					Where("venture_id = ? AND status = ?", ventureID, models.ParticipantStatusActive)).
			Count(&votes).Error; err != nil {
			return err
		}

		result.Votes = int(votes)
		result.Required = int((active + 1) / 2)
		result.Locked = venture.IsLocked
		if !venture.IsLocked && votes >= int64(result.Required) {
			if err := tx.Model(venture).Updates(map[string]interface{}{
				"is_locked": true,
				"status":    models.VentureStatusLocked,
			}).Error; err != nil {
				return err
			}
			result.Locked = true
			lockedNow = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if lockedNow {
		s.log.WithFields(logrus.Fields{"venture_id": ventureID, "votes": result.Votes}).Info("Venture locked by majority vote")
		s.emit(events.VentureLocked, ventureID, map[string]interface{}{"votes": result.Votes})
	}
	return result, nil
}

// ExitVenture marks a participant exited. The row and its hours stay for
// audit; equity is recomputed without it.
func (s *Service) ExitVenture(ctx context.Context, ventureID, botID uint) (*models.VentureParticipant, error) {
	var participant models.VentureParticipant
	err := s.inVenture(ctx, ventureID, func(tx *gorm.DB) error {
		venture, err := loadVenture(tx, ventureID)
		if err != nil {
			return err
		}
		err = tx.Where("venture_id = ? AND bot_id = ? AND status = ?", ventureID, botID, models.ParticipantStatusActive).
			First(&participant).Error
		if err != nil {
			if store.IsNotFound(err) {
				return apperr.Newf(apperr.CodeNotFound, "bot %d is not an active participant of venture %d", botID, ventureID)
			}
			return err
		}

		now := s.now()
		participant.Status = models.ParticipantStatusExited
		participant.ExitedAt = &now
		participant.EquityPercentage = 0
		if err := tx.Model(&participant).Updates(map[string]interface{}{
			"status":            participant.Status,
			"exited_at":         participant.ExitedAt,
			"equity_percentage": 0,
		}).Error; err != nil {
			return err
		}
		if err := s.refreshParticipantCount(tx, venture); err != nil {
			return err
		}
		_, err = s.recalculate(tx, venture)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emit(events.VentureExited, ventureID, map[string]interface{}{"bot_id": botID})
	return &participant, nil
}

// RecordTaskRequest describes logged work
type RecordTaskRequest struct {
	VentureID   uint
	BotID       uint
	Hours       float64
	Description string
	Impact      float64
}

// RecordTask appends a Task, adds its hours to the participant and
// recomputes the venture's equity.
func (s *Service) RecordTask(ctx context.Context, req RecordTaskRequest) (*models.Task, error) {
	if req.Hours <= 0 {
		return nil, apperr.Newf(apperr.CodeInvalidArgument, "hours must be positive, got %v", req.Hours)
	}
	impact := req.Impact
	if impact <= 0 {
		impact = 1.0
	}

	var task models.Task
	err := s.inVenture(ctx, req.VentureID, func(tx *gorm.DB) error {
		venture, err := loadVenture(tx, req.VentureID)
		if err != nil {
			return err
		}
		var participant models.VentureParticipant
		err = tx.Where("venture_id = ? AND bot_id = ? AND status = ?", req.VentureID, req.BotID, models.ParticipantStatusActive).
			First(&participant).Error
		if err != nil {
			if store.IsNotFound(err) {
				return apperr.Newf(apperr.CodeNotAuthorized, "bot %d is not an active participant of venture %d", req.BotID, req.VentureID)
			}
			return err
		}

		task = models.Task{
			VentureID:   req.VentureID,
			BotID:       req.BotID,
			Description: req.Description,
			HoursSpent:  req.Hours,
			ImpactScore: impact,
			CompletedAt: s.now(),
		}
		if err := tx.Create(&task).Error; err != nil {
			return err
		}
		if err := tx.Model(&participant).Update("hours_worked", gorm.Expr("hours_worked + ?", req.Hours)).Error; err != nil {
			return err
		}
		if venture.Status == models.VentureStatusForming {
			if err := tx.Model(venture).Update("status", models.VentureStatusActive).Error; err != nil {
				return err
			}
		}
		_, err = s.recalculate(tx, venture)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emit(events.TaskRecorded, req.VentureID, map[string]interface{}{
		"task_id": task.ID,
		"bot_id":  task.BotID,
		"hours":   task.HoursSpent,
	})
	return &task, nil
}

// RecalculateEquity re-derives every participant's equity from hours,
// reputation and impact. Safe to call any number of times.
func (s *Service) RecalculateEquity(ctx context.Context, ventureID uint) ([]models.VentureParticipant, error) {
	var rows []models.VentureParticipant
	err := s.inVenture(ctx, ventureID, func(tx *gorm.DB) error {
		venture, err := loadVenture(tx, ventureID)
		if err != nil {
			return err
		}
		if venture.Type == models.VentureTypePooled {
			_, err := recalculatePooled(tx, venture)
			return err
		}
		rows, err = s.recalculate(tx, venture)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.emit(events.EquityRecalculated, ventureID, nil)
	return rows, nil
}

type impactRow struct {
	BotID     uint
	AvgImpact float64
}

// recalculate is the full, stateless equity derivation. The caller holds the
// venture lock and a transaction.
func (s *Service) recalculate(tx *gorm.DB, venture *models.Venture) ([]models.VentureParticipant, error) {
	var participants []models.VentureParticipant
	if err := tx.Where("venture_id = ? AND status = ?", venture.ID, models.ParticipantStatusActive).
		Order("id").Find(&participants).Error; err != nil {
		return nil, err
	}

	botIDs := make([]uint, 0, len(participants))
	for _, p := range participants {
		botIDs = append(botIDs, p.BotID)
	}

	reputation := make(map[uint]float64, len(botIDs))
	impact := make(map[uint]float64, len(botIDs))
	if len(botIDs) > 0 {
		var bots []models.Bot
		if err := tx.Select("id", "reputation").Where("id IN ?", botIDs).Find(&bots).Error; err != nil {
			return nil, err
		}
		for _, b := range bots {
			reputation[b.ID] = b.Reputation
		}

		var impacts []impactRow
		if err := tx.Model(&models.Task{}).
			Select("bot_id, AVG(impact_score) AS avg_impact").
			Where("venture_id = ? AND bot_id IN ?", venture.ID, botIDs).
			Group("bot_id").
			Scan(&impacts).Error; err != nil {
			return nil, err
		}
		for _, r := range impacts {
			impact[r.BotID] = r.AvgImpact
		}
	}

	inputs := make([]EffortInput, len(participants))
	for i, p := range participants {
		inputs[i] = EffortInput{
			BotID:       p.BotID,
			HoursWorked: p.HoursWorked,
			Reputation:  reputation[p.BotID],
			AvgImpact:   impact[p.BotID],
		}
	}
	shares := ComputeEquity(inputs)

	for i := range participants {
		participants[i].EquityPercentage = shares[i]
		if err := tx.Model(&models.VentureParticipant{ID: participants[i].ID}).
			Update("equity_percentage", shares[i]).Error; err != nil {
			return nil, err
		}
	}
	if err := tx.Model(&models.VentureParticipant{}).
		Where("venture_id = ? AND status <> ? AND equity_percentage <> 0", venture.ID, models.ParticipantStatusActive).
		Update("equity_percentage", 0).Error; err != nil {
		return nil, err
	}
	return participants, nil
}

// recalculatePooled derives each investor's equity from capital contributed.
func recalculatePooled(tx *gorm.DB, venture *models.Venture) ([]models.PooledInvestor, error) {
	var investors []models.PooledInvestor
	if err := tx.Where("venture_id = ?", venture.ID).Order("id").Find(&investors).Error; err != nil {
		return nil, err
	}
	total := venture.TotalCapital
	for i := range investors {
		investors[i].EquityPercentage = utils.Percent(investors[i].AmountInvested, total)
		if err := tx.Model(&models.PooledInvestor{ID: investors[i].ID}).
			Update("equity_percentage", investors[i].EquityPercentage).Error; err != nil {
			return nil, err
		}
	}
	return investors, nil
}

// CapTableEntry is one row of a venture's ownership table
type CapTableEntry struct {
	BotID            uint    `json:"bot_id,omitempty"`
	HumanID          uint    `json:"human_id,omitempty"`
	Name             string  `json:"name"`
	Status           string  `json:"status"`
	HoursWorked      float64 `json:"hours_worked,omitempty"`
	AmountInvested   string  `json:"amount_invested,omitempty"`
	EquityPercentage float64 `json:"equity_percentage"`
}

// CapTable lists a venture's owners by equity, largest first.
func (s *Service) CapTable(ctx context.Context, ventureID uint) ([]CapTableEntry, error) {
	db := s.db.WithContext(ctx)
	venture, err := loadVenture(db, ventureID)
	if err != nil {
		return nil, err
	}

	var out []CapTableEntry
	if venture.Type == models.VentureTypePooled {
		var investors []models.PooledInvestor
		if err := db.Where("venture_id = ?", ventureID).Find(&investors).Error; err != nil {
			return nil, err
		}
		names := map[uint]string{}
		var humans []models.Human
		if err := db.Select("id", "name").Where("id IN ?", investorIDs(investors)).Find(&humans).Error; err != nil {
			return nil, err
		}
		for _, h := range humans {
			names[h.ID] = h.Name
		}
		for _, inv := range investors {
			out = append(out, CapTableEntry{
				HumanID:          inv.HumanID,
				Name:             names[inv.HumanID],
				Status:           models.ParticipantStatusActive,
				AmountInvested:   inv.AmountInvested.StringFixed(2),
				EquityPercentage: inv.EquityPercentage,
			})
		}
	} else {
		var participants []models.VentureParticipant
		if err := db.Where("venture_id = ?", ventureID).Find(&participants).Error; err != nil {
			return nil, err
		}
		ids := make([]uint, 0, len(participants))
		for _, p := range participants {
			ids = append(ids, p.BotID)
		}
		names := map[uint]string{}
		var bots []models.Bot
		if err := db.Select("id", "name").Where("id IN ?", ids).Find(&bots).Error; err != nil {
			return nil, err
		}
		for _, b := range bots {
			names[b.ID] = b.Name
		}
		for _, p := range participants {
			out = append(out, CapTableEntry{
				BotID:            p.BotID,
				Name:             names[p.BotID],
				Status:           p.Status,
				HoursWorked:      p.HoursWorked,
				EquityPercentage: p.EquityPercentage,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].EquityPercentage > out[j].EquityPercentage
	})
	return out, nil
}

func (s *Service) refreshParticipantCount(tx *gorm.DB, venture *models.Venture) error {
	var active int64
	if err := tx.Model(&models.VentureParticipant{}).
		Where("venture_id = ? AND status = ?", venture.ID, models.ParticipantStatusActive).
		Count(&active).Error; err != nil {
		return err
	}
	venture.ParticipantCount = int(active)
	return tx.Model(venture).Update("participant_count", venture.ParticipantCount).Error
}

func loadVenture(tx *gorm.DB, ventureID uint) (*models.Venture, error) {
	var venture models.Venture
	if err := tx.First(&venture, ventureID).Error; err != nil {
		return nil, store.NotFound(err, "venture", ventureID)
	}
	return &venture, nil
}

func activeBot(tx *gorm.DB, botID uint) (*models.Bot, error) {
	var bot models.Bot
	if err := tx.First(&bot, botID).Error; err != nil {
		return nil, store.NotFound(err, "bot", botID)
	}
	if bot.Status != models.BotStatusActive {
		return nil, apperr.Newf(apperr.CodeFailedPrecondition, "bot %d is %s", botID, bot.Status)
	}
	return &bot, nil
}

func investorIDs(investors []models.PooledInvestor) []uint {
	ids := make([]uint, 0, len(investors))
	for _, inv := range investors {
		ids = append(ids, inv.HumanID)
	}
	return ids
}
