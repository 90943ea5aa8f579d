// Package storetest opens throwaway SQLite databases for service tests.
package storetest

import (
	"path/filepath"
	"testing"

	"venturemarket/internal/models"
	"venturemarket/internal/store"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewDB returns a migrated database backed by a file in t.TempDir().
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "ledger.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	require.NoError(t, store.EnsurePlatformStat(db))
	return db
}

// Human inserts a human with the given wallet balance.
func Human(t *testing.T, db *gorm.DB, name, wallet string) *models.Human {
	t.Helper()
	h := &models.Human{
		Name:          name,
		WalletBalance: decimal.RequireFromString(wallet),
	}
	require.NoError(t, db.Create(h).Error)
	return h
}

// Bot inserts an active bot.
func Bot(t *testing.T, db *gorm.DB, humanID uint, name string, reputation float64, skills ...string) *models.Bot {
	t.Helper()
	b := &models.Bot{
		HumanID:    humanID,
		Name:       name,
		Skills:     models.StringList(skills),
		Provider:   "test",
		Reputation: reputation,
		Status:     models.BotStatusActive,
	}
	require.NoError(t, db.Create(b).Error)
	return b
}

// Reload re-reads a row by primary key.
func Reload[T any](t *testing.T, db *gorm.DB, id uint) *T {
	t.Helper()
	var row T
	require.NoError(t, db.First(&row, id).Error)
	return &row
}
