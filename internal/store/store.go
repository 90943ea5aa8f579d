// Package store holds the ledger write helpers shared by the equity, job and
// arbiter services. Every helper takes the caller's *gorm.DB transaction.
package store

import (
	"errors"
	"fmt"
	"time"

	"venturemarket/internal/apperr"
	"venturemarket/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ForUpdate adds a row lock on dialects that support one.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

// NotFound converts gorm.ErrRecordNotFound into a NOT_FOUND error.
func NotFound(err error, what string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.Newf(apperr.CodeNotFound, "%s %d not found", what, id)
	}
	return err
}

// IsNotFound reports whether err is gorm's missing-row error.
func IsNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// Entry describes a ledger movement. Reference is generated when empty.
type Entry struct {
	Reference string
	FromKind  string
	FromID    uint
	ToKind    string
	ToID      uint
	Amount    decimal.Decimal
	Type      string
	Metadata  models.JSONMap
}

var referenceSpace = uuid.MustParse("4f1c7a52-3b0e-4d8a-9a6e-5c2d1e8b7f30")

// ReferenceFor derives a stable transaction reference from an external key,
// so a movement keyed by the same event can only be booked once.
func ReferenceFor(key string) string {
	return uuid.NewSHA1(referenceSpace, []byte(key)).String()
}

// HasReference reports whether a transaction with ref is already booked.
func HasReference(tx *gorm.DB, ref string) (bool, error) {
	var n int64
	if err := tx.Model(&models.Transaction{}).Where("reference = ?", ref).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Append writes an immutable Transaction row.
func Append(tx *gorm.DB, at time.Time, e Entry) (*models.Transaction, error) {
	ref := e.Reference
	if ref == "" {
		ref = uuid.NewString()
	}
	row := models.Transaction{
		Reference: ref,
		FromKind:  e.FromKind,
		FromID:    e.FromID,
		ToKind:    e.ToKind,
		ToID:      e.ToID,
		Amount:    e.Amount,
		Type:      e.Type,
		Metadata:  e.Metadata,
		CreatedAt: at,
	}
	if err := tx.Create(&row).Error; err != nil {
		return nil, fmt.Errorf("append %s transaction: %w", e.Type, err)
	}
	return &row, nil
}

// HumanDelta is the set of balance changes applied to a Human.
type HumanDelta struct {
	Wallet   decimal.Decimal
	Earned   decimal.Decimal
	Invested decimal.Decimal
}

// CreditHuman applies delta to a human's balances. A negative wallet result
// fails with INSUFFICIENT_FUNDS.
func CreditHuman(tx *gorm.DB, humanID uint, delta HumanDelta) (*models.Human, error) {
	var human models.Human
	if err := ForUpdate(tx).First(&human, humanID).Error; err != nil {
		return nil, NotFound(err, "human", humanID)
	}
	wallet := human.WalletBalance.Add(delta.Wallet)
	if wallet.IsNegative() {
		return nil, apperr.Newf(apperr.CodeInsufficientFunds,
			"human %d wallet %s cannot cover %s", humanID, human.WalletBalance.StringFixed(2), delta.Wallet.Neg().StringFixed(2))
	}
	human.WalletBalance = wallet
	human.TotalRevenueEarned = human.TotalRevenueEarned.Add(delta.Earned)
	human.TotalInvested = human.TotalInvested.Add(delta.Invested)

	res := tx.Model(&models.Human{ID: humanID}).Updates(map[string]interface{}{
		"wallet_balance":       human.WalletBalance,
		"total_revenue_earned": human.TotalRevenueEarned,
		"total_invested":       human.TotalInvested,
	})
	if err := requireOneRow(res, "human", humanID); err != nil {
		return nil, err
	}
	return &human, nil
}

// CreditBot adds to a bot's capital balance and lifetime earnings.
func CreditBot(tx *gorm.DB, botID uint, capital, earned decimal.Decimal) (*models.Bot, error) {
	var bot models.Bot
	if err := ForUpdate(tx).First(&bot, botID).Error; err != nil {
		return nil, NotFound(err, "bot", botID)
	}
	bot.CapitalBalance = bot.CapitalBalance.Add(capital)
	bot.TotalEarned = bot.TotalEarned.Add(earned)

	res := tx.Model(&models.Bot{ID: botID}).Updates(map[string]interface{}{
		"capital_balance": bot.CapitalBalance,
		"total_earned":    bot.TotalEarned,
	})
	if err := requireOneRow(res, "bot", botID); err != nil {
		return nil, err
	}
	return &bot, nil
}

// ClampReputation bounds a reputation score to [0, 100].
func ClampReputation(r float64) float64 {
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

// AdjustReputation adds delta to a bot's reputation, bounded to [0, 100],
// and returns the new score.
func AdjustReputation(tx *gorm.DB, botID uint, delta float64) (float64, error) {
	var bot models.Bot
	if err := ForUpdate(tx).First(&bot, botID).Error; err != nil {
		return 0, NotFound(err, "bot", botID)
	}
	next := ClampReputation(bot.Reputation + delta)
	res := tx.Model(&models.Bot{ID: botID}).Update("reputation", next)
	if err := requireOneRow(res, "bot", botID); err != nil {
		return 0, err
	}
	return next, nil
}

// StatDelta is added to the platform aggregate row.
type StatDelta struct {
	VentureFees decimal.Decimal
	JobFees     decimal.Decimal
	Bots        int64
}

// BumpPlatformStat applies delta to the single PlatformStat row, creating it
// on first use.
func BumpPlatformStat(tx *gorm.DB, delta StatDelta) error {
	stat := models.PlatformStat{ID: models.PlatformStatID}
	if err := ForUpdate(tx).FirstOrCreate(&stat, models.PlatformStat{ID: models.PlatformStatID}).Error; err != nil {
		return fmt.Errorf("load platform stat: %w", err)
	}
	res := tx.Model(&models.PlatformStat{ID: models.PlatformStatID}).Updates(map[string]interface{}{
		"venture_fees": stat.VentureFees.Add(delta.VentureFees),
		"job_fees":     stat.JobFees.Add(delta.JobFees),
		"total_bots":   stat.TotalBots + delta.Bots,
	})
	return requireOneRow(res, "platform stat", models.PlatformStatID)
}

// EnsurePlatformStat seeds the aggregate row.
func EnsurePlatformStat(db *gorm.DB) error {
	stat := models.PlatformStat{ID: models.PlatformStatID}
	return db.FirstOrCreate(&stat, models.PlatformStat{ID: models.PlatformStatID}).Error
}

func requireOneRow(res *gorm.DB, what string, id uint) error {
	if res.Error != nil {
		return fmt.Errorf("update %s %d: %w", what, id, res.Error)
	}
	if res.RowsAffected != 1 {
		return fmt.Errorf("update %s %d: %d rows affected", what, id, res.RowsAffected)
	}
	return nil
}
