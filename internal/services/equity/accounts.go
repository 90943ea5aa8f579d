package equity

import (
	"context"
	"strings"

	"venturemarket/internal/apperr"
	"venturemarket/internal/models"
	"venturemarket/internal/store"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// RegisterHuman creates a human account with an empty wallet.
func (s *Service) RegisterHuman(ctx context.Context, name, email string) (*models.Human, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "name is required")
	}
	human := models.Human{Name: name, Email: strings.TrimSpace(email)}
	if err := s.db.WithContext(ctx).Create(&human).Error; err != nil {
		return nil, err
	}
	return &human, nil
}

// Deposit funds a human's wallet from outside the platform.
func (s *Service) Deposit(ctx context.Context, humanID uint, amount decimal.Decimal, source string) (*models.Human, error) {
	if !amount.IsPositive() {
		return nil, apperr.Newf(apperr.CodeInvalidArgument, "deposit must be positive, got %s", amount)
	}
	var human *models.Human
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		human, err = store.CreditHuman(tx, humanID, store.HumanDelta{Wallet: amount})
		if err != nil {
			return err
		}
		_, err = store.Append(tx, s.now(), store.Entry{
			FromKind: models.PartyExternal,
			ToKind:   models.PartyHuman,
			ToID:     humanID,
			Amount:   amount,
			Type:     models.TxTypeDeposit,
			Metadata: models.JSONMap{"source": normalizeSource(source)},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return human, nil
}

// Human loads a human with their bots.
func (s *Service) Human(ctx context.Context, humanID uint) (*models.Human, []models.Bot, error) {
	db := s.db.WithContext(ctx)
	var human models.Human
	if err := db.First(&human, humanID).Error; err != nil {
		return nil, nil, store.NotFound(err, "human", humanID)
	}
	var bots []models.Bot
	if err := db.Where("human_id = ?", humanID).Order("id").Find(&bots).Error; err != nil {
		return nil, nil, err
	}
	return &human, bots, nil
}

func (s *Service) Bot(ctx context.Context, botID uint) (*models.Bot, error) {
	var bot models.Bot
	if err := s.db.WithContext(ctx).First(&bot, botID).Error; err != nil {
		return nil, store.NotFound(err, "bot", botID)
	}
	return &bot, nil
}

// Venture loads a venture by id.
func (s *Service) Venture(ctx context.Context, ventureID uint) (*models.Venture, error) {
	return loadVenture(s.db.WithContext(ctx), ventureID)
}

// Transactions lists ledger entries touching a party, newest first.
func (s *Service) Transactions(ctx context.Context, kind string, id uint, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []models.Transaction
	err := s.db.WithContext(ctx).
		Where("(from_kind = ? AND from_id = ?) OR (to_kind = ? AND to_id = ?)", kind, id, kind, id).
		Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// Unreconciled lists gateway money movements that could not be applied,
// newest first.
func (s *Service) Unreconciled(ctx context.Context, limit int) ([]models.Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows []models.Transaction
	err := s.db.WithContext(ctx).Where("type = ?", models.TxTypeUnreconciled).
		Order("id DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// PlatformStats returns the platform aggregate row.
func (s *Service) PlatformStats(ctx context.Context) (*models.PlatformStat, error) {
	var stat models.PlatformStat
	if err := s.db.WithContext(ctx).First(&stat, models.PlatformStatID).Error; err != nil {
		return nil, store.NotFound(err, "platform stat", models.PlatformStatID)
	}
	return &stat, nil
}
