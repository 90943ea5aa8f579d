package equity

import (
	"context"
	"strings"

	"venturemarket/internal/apperr"
	"venturemarket/internal/events"
	"venturemarket/internal/models"
	"venturemarket/internal/skills"
	"venturemarket/internal/store"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DeployBotRequest describes a new bot
type DeployBotRequest struct {
	OwnerID  uint
	Name     string
	Skills   []string
	Provider string
}

// DeployBot creates a bot for a human, enforcing the lifetime-revenue bot cap.
func (s *Service) DeployBot(ctx context.Context, req DeployBotRequest) (*models.Bot, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "bot name is required")
	}

	var bot models.Bot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner models.Human
		if err := store.ForUpdate(tx).First(&owner, req.OwnerID).Error; err != nil {
			return store.NotFound(err, "human", req.OwnerID)
		}

		var active int64
		if err := tx.Model(&models.Bot{}).
			Where("human_id = ? AND status = ?", owner.ID, models.BotStatusActive).
			Count(&active).Error; err != nil {
			return err
		}
		limit := BotCap(owner.TotalRevenueEarned)
		if active >= int64(limit) {
			return apperr.Newf(apperr.CodeCapacityExceeded,
				"human %d already runs %d bots; the cap at $%s lifetime revenue is %d",
				owner.ID, active, owner.TotalRevenueEarned.StringFixed(2), limit)
		}

		bot = models.Bot{
			HumanID:    owner.ID,
			Name:       name,
			Skills:     models.StringList(skills.Parse(req.Skills...).Tags()),
			Provider:   req.Provider,
			Reputation: models.DefaultReputation,
			Status:     models.BotStatusActive,
		}
		if err := tx.Create(&bot).Error; err != nil {
			return err
		}
		return store.BumpPlatformStat(tx, store.StatDelta{Bots: 1})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"bot_id":   bot.ID,
		"human_id": bot.HumanID,
	}).Info("Bot deployed")
	s.emit(events.BotDeployed, bot.ID, map[string]interface{}{"human_id": bot.HumanID})
	return &bot, nil
}

// SetReinvestRate changes the share of a bot's revenue that goes back into
// its capital balance. Only the owning human may change it.
func (s *Service) SetReinvestRate(ctx context.Context, ownerID, botID uint, rate float64) (*models.Bot, error) {
	if rate < 0 || rate > 1 {
		return nil, apperr.Newf(apperr.CodeInvalidArgument, "reinvest rate %v outside [0,1]", rate)
	}
	var bot models.Bot
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := store.ForUpdate(tx).First(&bot, botID).Error; err != nil {
			return store.NotFound(err, "bot", botID)
		}
		if bot.HumanID != ownerID {
			return apperr.Newf(apperr.CodeNotAuthorized, "human %d does not own bot %d", ownerID, botID)
		}
		bot.ReinvestRate = rate
		return tx.Model(&models.Bot{ID: botID}).Update("reinvest_rate", rate).Error
	})
	if err != nil {
		return nil, err
	}
	return &bot, nil
}
