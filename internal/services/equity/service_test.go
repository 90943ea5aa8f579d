package equity_test

import (
	"context"
	"sync"
	"testing"

	"venturemarket/internal/apperr"
	"venturemarket/internal/models"
	"venturemarket/internal/services/equity"
	"venturemarket/internal/store/storetest"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func activeEquitySum(t *testing.T, db *gorm.DB, ventureID uint) float64 {
	t.Helper()
	var rows []models.VentureParticipant
	require.NoError(t, db.Where("venture_id = ? AND status = ?", ventureID, models.ParticipantStatusActive).Find(&rows).Error)
	sum := 0.0
	for _, r := range rows {
		sum += r.EquityPercentage
	}
	return sum
}

func participant(t *testing.T, db *gorm.DB, ventureID, botID uint) models.VentureParticipant {
	t.Helper()
	var p models.VentureParticipant
	require.NoError(t, db.Where("venture_id = ? AND bot_id = ?", ventureID, botID).First(&p).Error)
	return p
}

func TestDeployBotCapacity(t *testing.T) {
	db := storetest.NewDB(t)
	svc := equity.NewService(db)
	ctx := context.Background()
	owner := storetest.Human(t, db, "grace", "0")

	for i := 0; i < 3; i++ {
		bot, err := svc.DeployBot(ctx, equity.DeployBotRequest{OwnerID: owner.ID, Name: "worker", Skills: []string{"Go, SEO"}})
		require.NoError(t, err)
		assert.Equal(t, models.DefaultReputation, bot.Reputation)
		assert.Equal(t, models.StringList{"go", "seo"}, bot.Skills)
	}

	_, err := svc.DeployBot(ctx, equity.DeployBotRequest{OwnerID: owner.ID, Name: "fourth"})
	assert.ErrorIs(t, err, apperr.ErrCapacityExceeded)

	require.NoError(t, db.Model(owner).Update("total_revenue_earned", decimal.NewFromInt(150)).Error)
	_, err = svc.DeployBot(ctx, equity.DeployBotRequest{OwnerID: owner.ID, Name: "fourth"})
	require.NoError(t, err)

	stat := storetest.Reload[models.PlatformStat](t, db, models.PlatformStatID)
	assert.Equal(t, int64(4), stat.TotalBots)
}

func TestSetReinvestRate(t *testing.T) {
	db := storetest.NewDB(t)
	svc := equity.NewService(db)
	ctx := context.Background()
	owner := storetest.Human(t, db, "grace", "0")
	other := storetest.Human(t, db, "linus", "0")
	bot := storetest.Bot(t, db, owner.ID, "scout", 50)

	_, err := svc.SetReinvestRate(ctx, other.ID, bot.ID, 0.3)
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)

	_, err = svc.SetReinvestRate(ctx, owner.ID, bot.ID, 1.5)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)

	updated, err := svc.SetReinvestRate(ctx, owner.ID, bot.ID, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 0.3, updated.ReinvestRate)
}

func TestSingleParticipantEquity(t *testing.T) {
	db := storetest.NewDB(t)
	svc := equity.NewService(db)
	ctx := context.Background()
	owner := storetest.Human(t, db, "grace", "0")
	bot := storetest.Bot(t, db, owner.ID, "scout", 80)

	venture, err := svc.CreateVenture(ctx, equity.CreateVentureRequest{FounderBotID: bot.ID, Name: "newsletter"})
	require.NoError(t, err)
	assert.Equal(t, models.VentureStatusForming, venture.Status)

	_, err = svc.RecordTask(ctx, equity.RecordTaskRequest{VentureID: venture.ID, BotID: bot.ID, Hours: 10, Impact: 2.0})
	require.NoError(t, err)

	p := participant(t, db, venture.ID, bot.ID)
	assert.InDelta(t, 100.0, p.EquityPercentage, 1e-9)
	assert.Equal(t, 10.0, p.HoursWorked)
	assert.Equal(t, models.VentureStatusActive, storetest.Reload[models.Venture](t, db, venture.ID).Status)
}

func TestEquitySplitAndIdempotentRecalculation(t *testing.T) {
	db := storetest.NewDB(t)
	svc := equity.NewService(db)
	ctx := context.Background()
	owner := storetest.Human(t, db, "grace", "0")
	junior := storetest.Bot(t, db, owner.ID, "junior", 50)
	senior := storetest.Bot(t, db, owner.ID, "senior", 100)

	venture, err := svc.CreateVenture(ctx, equity.CreateVentureRequest{FounderBotID: junior.ID, Name: "agency"})
	require.NoError(t, err)
	_, err = svc.JoinVenture(ctx, venture.ID, senior.ID, 20)
	require.NoError(t, err)

	for _, id := range []uint{junior.ID, senior.ID} {
		_, err := svc.RecordTask(ctx, equity.RecordTaskRequest{VentureID: venture.ID, BotID: id, Hours: 10})
		require.NoError(t, err)
	}

	first, err := svc.RecalculateEquity(ctx, venture.ID)
	require.NoError(t, err)
	second, err := svc.RecalculateEquity(ctx, venture.ID)
	require.NoError(t, err)
	require.Len(t, first, 2)
	for i := range first {
		assert.Equal(t, first[i].EquityPercentage, second[i].EquityPercentage)
	}

	assert.InDelta(t, 12.5/32.5*100, participant(t, db, venture.ID, junior.ID).EquityPercentage, 1e-9)
	assert.InDelta(t, 20.0/32.5*100, participant(t, db, venture.ID, senior.ID).EquityPercentage, 1e-9)
	assert.InDelta(t, 100.0, activeEquitySum(t, db, venture.ID), 1e-9)
}

func TestRecordTaskRejectsOutsiders(t *testing.T) {
	db := storetest.NewDB(t)
	svc := equity.NewService(db)
	ctx := context.Background()
	owner := storetest.Human(t, db, "grace", "0")
	founder := storetest.Bot(t, db, owner.ID, "founder", 50)
	outsider := storetest.Bot(t, db, owner.ID, "outsider", 50)

	venture, err := svc.CreateVenture(ctx, equity.CreateVentureRequest{FounderBotID: founder.ID, Name: "shop"})
	require.NoError(t, err)

	_, err = svc.RecordTask(ctx, equity.RecordTaskRequest{VentureID: venture.ID, BotID: outsider.ID, Hours: 3})
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)

	_, err = svc.RecordTask(ctx, equity.RecordTaskRequest{VentureID: venture.ID, BotID: founder.ID, Hours: 0})
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

func TestExitVentureKeepsRow(t *testing.T) {
	db := storetest.NewDB(t)
	svc := equity.NewService(db)
	ctx := context.Background()
	owner := storetest.Human(t, db, "grace", "0")
	a := storetest.Bot(t, db, owner.ID, "a", 50)
	b := storetest.Bot(t, db, owner.ID, "b", 50)

	venture, err := svc.CreateVenture(ctx, equity.CreateVentureRequest{FounderBotID: a.ID, Name: "studio"})
	require.NoError(t, err)
	_, err = svc.JoinVenture(ctx, venture.ID, b.ID, 0)
	require.NoError(t, err)
	for _, id := range []uint{a.ID, b.ID} {
		_, err := svc.RecordTask(ctx, equity.RecordTaskRequest{VentureID: venture.ID, BotID: id, Hours: 5})
		require.NoError(t, err)
	}

	exited, err := svc.ExitVenture(ctx, venture.ID, b.ID)
	require.NoError(t, err)
	assert.NotNil(t, exited.ExitedAt)

	row := participant(t, db, venture.ID, b.ID)
	assert.Equal(t, models.ParticipantStatusExited, row.Status)
	assert.Equal(t, 0.0, row.EquityPercentage)
	assert.Equal(t, 5.0, row.HoursWorked)
	assert.InDelta(t, 100.0, participant(t, db, venture.ID, a.ID).EquityPercentage, 1e-9)
	assert.Equal(t, 1, storetest.Reload[models.Venture](t, db, venture.ID).ParticipantCount)

	_, err = svc.ExitVenture(ctx, venture.ID, b.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	rejoined, err := svc.JoinVenture(ctx, venture.ID, b.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, row.ID, rejoined.ID)
	assert.Equal(t, models.ParticipantStatusActive, rejoined.Status)
}

func TestVoteLockMajority(t *testing.T) {
	db := storetest.NewDB(t)
	svc := equity.NewService(db)
	ctx := context.Background()
	owner := storetest.Human(t, db, "grace", "0")

	var bots []*models.Bot
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		bots = append(bots, storetest.Bot(t, db, owner.ID, name, 50))
	}
	venture, err := svc.CreateVenture(ctx, equity.CreateVentureRequest{FounderBotID: bots[0].ID, Name: "fund"})
	require.NoError(t, err)
	for _, b := range bots[1:] {
		_, err := svc.JoinVenture(ctx, venture.ID, b.ID, 0)
		require.NoError(t, err)
	}

	res, err := svc.VoteLock(ctx, venture.ID, bots[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Required)
	assert.False(t, res.Locked)

	// A repeated vote is not counted twice
	res, err = svc.VoteLock(ctx, venture.ID, bots[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Votes)

	res, err = svc.VoteLock(ctx, venture.ID, bots[1].ID)
	require.NoError(t, err)
	assert.False(t, res.Locked)

	res, err = svc.VoteLock(ctx, venture.ID, bots[2].ID)
	require.NoError(t, err)
	assert.True(t, res.Locked)
	assert.Equal(t, 3, res.Votes)

	locked := storetest.Reload[models.Venture](t, db, venture.ID)
	assert.True(t, locked.IsLocked)
	assert.Equal(t, models.VentureStatusLocked, locked.Status)

	latecomer := storetest.Bot(t, db, owner.ID, "late", 50)
	_, err = svc.JoinVenture(ctx, venture.ID, latecomer.ID, 0)
	assert.ErrorIs(t, err, apperr.ErrVentureLocked)

	_, err = svc.VoteLock(ctx, venture.ID, latecomer.ID)
	assert.ErrorIs(t, err, apperr.ErrNotAuthorized)

	// Exiting after the lock never unlocks
	_, err = svc.ExitVenture(ctx, venture.ID, bots[4].ID)
	require.NoError(t, err)
	assert.True(t, storetest.Reload[models.Venture](t, db, venture.ID).IsLocked)
}

func TestStandardRevenueDistribution(t *testing.T) {
	db := storetest.NewDB(t)
	svc := equity.NewService(db)
	ctx := context.Background()
	ownerA := storetest.Human(t, db, "grace", "0")
	ownerB := storetest.Human(t, db, "linus", "0")
	a := storetest.Bot(t, db, ownerA.ID, "junior", 50)
	b := storetest.Bot(t, db, ownerB.ID, "senior", 100)
	require.NoError(t, db.Model(a).Update("reinvest_rate", 0.5).Error)

	venture, err := svc.CreateVenture(ctx, equity.CreateVentureRequest{FounderBotID: a.ID, Name: "agency"})
	require.NoError(t, err)
	_, err = svc.JoinVenture(ctx, venture.ID, b.ID, 0)
	require.NoError(t, err)
	for _, id := range []uint{a.ID, b.ID} {
		_, err := svc.RecordTask(ctx, equity.RecordTaskRequest{VentureID: venture.ID, BotID: id, Hours: 10})
		require.NoError(t, err)
	}

	dist, err := svc.ProcessRevenue(ctx, venture.ID, decimal.NewFromInt(1000), "stripe")
	require.NoError(t, err)
	assert.Equal(t, "50.00", dist.PlatformFee.StringFixed(2))
	assert.Equal(t, "950.00", dist.Distributable.StringFixed(2))
	assert.True(t, dist.PlatformFee.Add(dist.Distributable).Equal(dist.Amount))

	paid := decimal.Zero
	for _, p := range dist.Payouts {
		paid = paid.Add(p.CashOut).Add(p.Reinvest)
	}
	assert.Equal(t, "950.00", paid.StringFixed(2))

	assert.Equal(t, "182.69", storetest.Reload[models.Human](t, db, ownerA.ID).WalletBalance.StringFixed(2))
	assert.Equal(t, "182.69", storetest.Reload[models.Bot](t, db, a.ID).CapitalBalance.StringFixed(2))
	assert.Equal(t, "584.62", storetest.Reload[models.Human](t, db, ownerB.ID).WalletBalance.StringFixed(2))
	assert.Equal(t, "0.00", storetest.Reload[models.Bot](t, db, b.ID).CapitalBalance.StringFixed(2))

	assert.Equal(t, "1000.00", storetest.Reload[models.Venture](t, db, venture.ID).TotalRevenue.StringFixed(2))
	assert.Equal(t, "50.00", storetest.Reload[models.PlatformStat](t, db, models.PlatformStatID).VentureFees.StringFixed(2))

	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).Where("type = ?", models.TxTypeReinvestment).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRevenueWithoutEquityRollsBack(t *testing.T) {
	db := storetest.NewDB(t)
	svc := equity.NewService(db)
	ctx := context.Background()
	owner := storetest.Human(t, db, "grace", "0")
	bot := storetest.Bot(t, db, owner.ID, "idle", 50)

	venture, err := svc.CreateVenture(ctx, equity.CreateVentureRequest{FounderBotID: bot.ID, Name: "empty"})
	require.NoError(t, err)

	_, err = svc.ProcessStandardVentureRevenue(ctx, venture.ID, decimal.NewFromInt(100), "manual")
	assert.ErrorIs(t, err, apperr.ErrFailedPrecondition)

	var count int64
	require.NoError(t, db.Model(&models.Transaction{}).Count(&count).Error)
	assert.Zero(t, count)
	assert.True(t, storetest.Reload[models.Venture](t, db, venture.ID).TotalRevenue.IsZero())
}

func TestPooledReinvestmentDilution(t *testing.T) {
	db := storetest.NewDB(t)
	svc := equity.NewService(db)
	ctx := context.Background()
	a := storetest.Human(t, db, "ada", "1100")
	b := storetest.Human(t, db, "bob", "1000")

	venture, investors, err := svc.CreatePooledVenture(ctx, "index fund", map[uint]decimal.Decimal{
		a.ID: decimal.NewFromInt(600),
		b.ID: decimal.NewFromInt(400),
	})
	require.NoError(t, err)
	require.Len(t, investors, 2)
	assert.InDelta(t, 60.0, investors[0].EquityPercentage, 1e-9)
	assert.InDelta(t, 40.0, investors[1].EquityPercentage, 1e-9)

	investors, err = svc.ReinvestInPooledVenture(ctx, venture.ID, a.ID, decimal.NewFromInt(500))
	require.NoError(t, err)
	byHuman := map[uint]float64{}
	total := 0.0
	for _, inv := range investors {
		byHuman[inv.HumanID] = inv.EquityPercentage
		total += inv.EquityPercentage
	}
	assert.InDelta(t, 73.333, byHuman[a.ID], 0.001)
	assert.InDelta(t, 26.667, byHuman[b.ID], 0.001)
	assert.InDelta(t, 100.0, total, 1e-9)
	assert.Equal(t, "0.00", storetest.Reload[models.Human](t, db, a.ID).WalletBalance.StringFixed(2))

	_, err = svc.ReinvestInPooledVenture(ctx, venture.ID, b.ID, decimal.NewFromInt(1000))
	assert.ErrorIs(t, err, apperr.ErrInsufficientFunds)
	assert.Equal(t, "1500.00", storetest.Reload[models.Venture](t, db, venture.ID).TotalCapital.StringFixed(2))

	dist, err := svc.ProcessRevenue(ctx, venture.ID, decimal.NewFromInt(100), "ads")
	require.NoError(t, err)
	paid := decimal.Zero
	for _, p := range dist.Payouts {
		paid = paid.Add(p.Share)
	}
	assert.Equal(t, "95.00", paid.StringFixed(2))
	assert.Equal(t, "5.00", dist.PlatformFee.StringFixed(2))
}

func TestConcurrentRecordTask(t *testing.T) {
	db := storetest.NewDB(t)
	svc := equity.NewService(db)
	ctx := context.Background()
	owner := storetest.Human(t, db, "grace", "0")
	a := storetest.Bot(t, db, owner.ID, "a", 40)
	b := storetest.Bot(t, db, owner.ID, "b", 90)

	venture, err := svc.CreateVenture(ctx, equity.CreateVentureRequest{FounderBotID: a.ID, Name: "race"})
	require.NoError(t, err)
	_, err = svc.JoinVenture(ctx, venture.ID, b.ID, 0)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			botID := a.ID
			if i%2 == 1 {
				botID = b.ID
			}
			_, err := svc.RecordTask(ctx, equity.RecordTaskRequest{VentureID: venture.ID, BotID: botID, Hours: 1, Impact: 1.5})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10.0, participant(t, db, venture.ID, a.ID).HoursWorked)
	assert.Equal(t, 10.0, participant(t, db, venture.ID, b.ID).HoursWorked)
	assert.InDelta(t, 100.0, activeEquitySum(t, db, venture.ID), 1e-9)
}

func TestCapTableOrdersByEquity(t *testing.T) {
	db := storetest.NewDB(t)
	svc := equity.NewService(db)
	ctx := context.Background()
	owner := storetest.Human(t, db, "grace", "0")
	a := storetest.Bot(t, db, owner.ID, "small", 20)
	b := storetest.Bot(t, db, owner.ID, "large", 90)

	venture, err := svc.CreateVenture(ctx, equity.CreateVentureRequest{FounderBotID: a.ID, Name: "table"})
	require.NoError(t, err)
	_, err = svc.JoinVenture(ctx, venture.ID, b.ID, 0)
	require.NoError(t, err)
	_, err = svc.RecordTask(ctx, equity.RecordTaskRequest{VentureID: venture.ID, BotID: a.ID, Hours: 2})
	require.NoError(t, err)
	_, err = svc.RecordTask(ctx, equity.RecordTaskRequest{VentureID: venture.ID, BotID: b.ID, Hours: 8})
	require.NoError(t, err)

	table, err := svc.CapTable(ctx, venture.ID)
	require.NoError(t, err)
	require.Len(t, table, 2)
	assert.Equal(t, "large", table[0].Name)
	assert.Greater(t, table[0].EquityPercentage, table[1].EquityPercentage)
}

func TestRecordTaskAcrossInstances(t *testing.T) {
	db := storetest.NewDB(t)
	first := equity.NewService(db)
	second := equity.NewService(db)
	ctx := context.Background()
	owner := storetest.Human(t, db, "grace", "0")
	bot := storetest.Bot(t, db, owner.ID, "solo", 60)

	venture, err := first.CreateVenture(ctx, equity.CreateVentureRequest{FounderBotID: bot.ID, Name: "shared"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		svc := first
		if i%2 == 1 {
			svc = second
		}
		wg.Add(1)
		go func(svc *equity.Service) {
			defer wg.Done()
			_, err := svc.RecordTask(ctx, equity.RecordTaskRequest{VentureID: venture.ID, BotID: bot.ID, Hours: 1.5})
			assert.NoError(t, err)
		}(svc)
	}
	wg.Wait()

	assert.Equal(t, 15.0, participant(t, db, venture.ID, bot.ID).HoursWorked)
}

func TestProcessRevenueOnceBooksKeyOnce(t *testing.T) {
	db := storetest.NewDB(t)
	first := equity.NewService(db)
	second := equity.NewService(db)
	ctx := context.Background()
	owner := storetest.Human(t, db, "grace", "0")
	bot := storetest.Bot(t, db, owner.ID, "earner", 50)

	venture, err := first.CreateVenture(ctx, equity.CreateVentureRequest{FounderBotID: bot.ID, Name: "shop"})
	require.NoError(t, err)
	_, err = first.RecordTask(ctx, equity.RecordTaskRequest{VentureID: venture.ID, BotID: bot.ID, Hours: 4})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		booked   int
		rejected int
	)
	for _, svc := range []*equity.Service{first, second, first, second} {
		wg.Add(1)
		go func(svc *equity.Service) {
			defer wg.Done()
			_, err := svc.ProcessRevenueOnce(ctx, "evt_sale", venture.ID, decimal.NewFromInt(200), "stripe")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case assert.ErrorIs(t, err, apperr.ErrAlreadyProcessed):
				rejected++
			}
		}(svc)
	}
	wg.Wait()

	assert.Equal(t, 1, booked)
	assert.Equal(t, 3, rejected)
	assert.Equal(t, "190.00", storetest.Reload[models.Human](t, db, owner.ID).WalletBalance.StringFixed(2))
	assert.Equal(t, "200.00", storetest.Reload[models.Venture](t, db, venture.ID).TotalRevenue.StringFixed(2))

	var revenue int64
	require.NoError(t, db.Model(&models.Transaction{}).Where("type = ?", models.TxTypeRevenue).Count(&revenue).Error)
	assert.Equal(t, int64(1), revenue)

	// Other keys still book
	_, err = second.ProcessRevenueOnce(ctx, "evt_other", venture.ID, decimal.NewFromInt(100), "stripe")
	require.NoError(t, err)
}
