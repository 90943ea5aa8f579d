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

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Payout is one holder's part of a distribution
type Payout struct {
	BotID            uint            `json:"bot_id,omitempty"`
	HumanID          uint            `json:"human_id"`
	EquityPercentage float64         `json:"equity_percentage"`
	Share            decimal.Decimal `json:"share"`
	CashOut          decimal.Decimal `json:"cash_out"`
	Reinvest         decimal.Decimal `json:"reinvest"`
}

// Distribution is the result of processing one revenue event
type Distribution struct {
	VentureID     uint            `json:"venture_id"`
	Source        string          `json:"source"`
	Amount        decimal.Decimal `json:"amount"`
	PlatformFee   decimal.Decimal `json:"platform_fee"`
	Distributable decimal.Decimal `json:"distributable"`
	Payouts       []Payout        `json:"payouts"`

	key string
}

// ProcessRevenue routes revenue to the standard or pooled distribution by the
// venture's type.
func (s *Service) ProcessRevenue(ctx context.Context, ventureID uint, amount decimal.Decimal, source string) (*Distribution, error) {
	return s.ProcessRevenueOnce(ctx, "", ventureID, amount, source)
}

// ProcessRevenueOnce is ProcessRevenue keyed by an external event id. Revenue
// already booked under key fails with ALREADY_PROCESSED and moves no money.
// An empty key books unconditionally.
func (s *Service) ProcessRevenueOnce(ctx context.Context, key string, ventureID uint, amount decimal.Decimal, source string) (*Distribution, error) {
	var venture models.Venture
	if err := s.db.WithContext(ctx).Select("id", "type").First(&venture, ventureID).Error; err != nil {
		return nil, store.NotFound(err, "venture", ventureID)
	}
	dist := &Distribution{VentureID: ventureID, Source: normalizeSource(source), Amount: amount, key: key}

	var err error
	if venture.Type == models.VentureTypePooled {
		err = s.processPooled(ctx, dist)
	} else {
		err = s.processStandard(ctx, dist)
	}
	if err != nil && key != "" && apperr.CodeOf(err) == apperr.CodeUnknown {
		// A concurrent delivery of the same key loses on the unique reference.
		if booked, lookErr := store.HasReference(s.db.WithContext(ctx), revenueReference(key)); lookErr == nil && booked {
			return nil, apperr.Newf(apperr.CodeAlreadyProcessed, "revenue %s already booked", key)
		}
	}
	if err != nil {
		return nil, err
	}
	s.logDistribution(dist)
	return dist, nil
}

func revenueReference(key string) string {
	return store.ReferenceFor("revenue:" + key)
}

// ProcessStandardVentureRevenue takes the platform fee off amount and pays
// the rest to active participants by equity. Each share is split between the
// owner's wallet and the bot's capital by the bot's reinvest rate. The whole
// distribution commits or rolls back as one unit.
func (s *Service) ProcessStandardVentureRevenue(ctx context.Context, ventureID uint, amount decimal.Decimal, source string) (*Distribution, error) {
	dist := &Distribution{VentureID: ventureID, Source: normalizeSource(source), Amount: amount}
	if err := s.processStandard(ctx, dist); err != nil {
		return nil, err
	}
	s.logDistribution(dist)
	return dist, nil
}

func (s *Service) processStandard(ctx context.Context, dist *Distribution) error {
	if !dist.Amount.IsPositive() {
		return apperr.Newf(apperr.CodeInvalidArgument, "revenue amount must be positive, got %s", dist.Amount.String())
	}
	ventureID := dist.VentureID
	return s.inVenture(ctx, ventureID, func(tx *gorm.DB) error {
		venture, err := loadVenture(store.ForUpdate(tx), ventureID)
		if err != nil {
			return err
		}
		if venture.Type != models.VentureTypeStandard {
			return apperr.Newf(apperr.CodeInvalidArgument, "venture %d is %s", ventureID, venture.Type)
		}

		participants, err := s.recalculate(tx, venture)
		if err != nil {
			return err
		}
		weights := make([]float64, len(participants))
		for i, p := range participants {
			weights[i] = p.EquityPercentage
		}

		if err := s.bookRevenue(tx, venture, dist); err != nil {
			return err
		}
		shares, err := utils.Allocate(dist.Distributable, weights)
		if err != nil {
			return apperr.Wrap(apperr.CodeFailedPrecondition, err, "venture has no equity holders")
		}

		for i, p := range participants {
			if shares[i].IsZero() {
				continue
			}
			payout, err := s.payParticipant(tx, venture.ID, p, shares[i], dist.Source)
			if err != nil {
				return err
			}
			dist.Payouts = append(dist.Payouts, *payout)
		}
		return nil
	})
}

// payParticipant credits one participant's share. Wallet and capital credits
// are both required; either failing fails the distribution.
func (s *Service) payParticipant(tx *gorm.DB, ventureID uint, p models.VentureParticipant, share decimal.Decimal, source string) (*Payout, error) {
	var bot models.Bot
	if err := store.ForUpdate(tx).First(&bot, p.BotID).Error; err != nil {
		return nil, store.NotFound(err, "bot", p.BotID)
	}
	cashOut, reinvest := utils.SplitShare(share, bot.ReinvestRate)

	if _, err := store.CreditHuman(tx, bot.HumanID, store.HumanDelta{Wallet: cashOut, Earned: share}); err != nil {
		return nil, err
	}
	if _, err := store.CreditBot(tx, bot.ID, reinvest, share); err != nil {
		return nil, err
	}

	meta := models.JSONMap{"source": source, "bot_id": bot.ID, "equity_percentage": p.EquityPercentage}
	if cashOut.IsPositive() {
		if _, err := store.Append(tx, s.now(), store.Entry{
			FromKind: models.PartyVenture, FromID: ventureID,
			ToKind: models.PartyHuman, ToID: bot.HumanID,
			Amount: cashOut, Type: models.TxTypeDistribution, Metadata: meta,
		}); err != nil {
			return nil, err
		}
	}
	if reinvest.IsPositive() {
		if _, err := store.Append(tx, s.now(), store.Entry{
			FromKind: models.PartyVenture, FromID: ventureID,
			ToKind: models.PartyBot, ToID: bot.ID,
			Amount: reinvest, Type: models.TxTypeReinvestment, Metadata: meta,
		}); err != nil {
			return nil, err
		}
	}

	return &Payout{
		BotID:            bot.ID,
		HumanID:          bot.HumanID,
		EquityPercentage: p.EquityPercentage,
		Share:            share,
		CashOut:          cashOut,
		Reinvest:         reinvest,
	}, nil
}

// ProcessPooledVentureRevenue takes the platform fee off amount and pays the
// rest straight to investors' wallets by equity.
func (s *Service) ProcessPooledVentureRevenue(ctx context.Context, ventureID uint, amount decimal.Decimal, source string) (*Distribution, error) {
	dist := &Distribution{VentureID: ventureID, Source: normalizeSource(source), Amount: amount}
	if err := s.processPooled(ctx, dist); err != nil {
		return nil, err
	}
	s.logDistribution(dist)
	return dist, nil
}

func (s *Service) processPooled(ctx context.Context, dist *Distribution) error {
	if !dist.Amount.IsPositive() {
		return apperr.Newf(apperr.CodeInvalidArgument, "revenue amount must be positive, got %s", dist.Amount.String())
	}
	ventureID := dist.VentureID
	return s.inVenture(ctx, ventureID, func(tx *gorm.DB) error {
		venture, err := loadVenture(store.ForUpdate(tx), ventureID)
		if err != nil {
			return err
		}
		if venture.Type != models.VentureTypePooled {
			return apperr.Newf(apperr.CodeInvalidArgument, "venture %d is %s", ventureID, venture.Type)
		}

		investors, err := recalculatePooled(tx, venture)
		if err != nil {
			return err
		}
		weights := make([]float64, len(investors))
		for i, inv := range investors {
			weights[i] = inv.EquityPercentage
		}

		if err := s.bookRevenue(tx, venture, dist); err != nil {
			return err
		}
		shares, err := utils.Allocate(dist.Distributable, weights)
		if err != nil {
			return apperr.Wrap(apperr.CodeFailedPrecondition, err, "venture has no investors")
		}

		for i, inv := range investors {
			if shares[i].IsZero() {
				continue
			}
			if _, err := store.CreditHuman(tx, inv.HumanID, store.HumanDelta{Wallet: shares[i], Earned: shares[i]}); err != nil {
				return err
			}
			if _, err := store.Append(tx, s.now(), store.Entry{
				FromKind: models.PartyVenture, FromID: venture.ID,
				ToKind: models.PartyHuman, ToID: inv.HumanID,
				Amount: shares[i], Type: models.TxTypeDistribution,
				Metadata: models.JSONMap{"source": dist.Source, "equity_percentage": inv.EquityPercentage},
			}); err != nil {
				return err
			}
			dist.Payouts = append(dist.Payouts, Payout{
				HumanID:          inv.HumanID,
				EquityPercentage: inv.EquityPercentage,
				Share:            shares[i],
				CashOut:          shares[i],
				Reinvest:         decimal.Zero,
			})
		}
		return nil
	})
}

// bookRevenue records the inbound revenue and the platform fee and fills in
// dist's fee split.
func (s *Service) bookRevenue(tx *gorm.DB, venture *models.Venture, dist *Distribution) error {
	dist.PlatformFee, dist.Distributable = utils.SplitFee(dist.Amount, s.feeRate)

	var ref string
	meta := models.JSONMap{"source": dist.Source}
	if dist.key != "" {
		ref = revenueReference(dist.key)
		booked, err := store.HasReference(tx, ref)
		if err != nil {
			return err
		}
		if booked {
			return apperr.Newf(apperr.CodeAlreadyProcessed, "revenue %s already booked", dist.key)
		}
		meta["event_id"] = dist.key
	}
	if _, err := store.Append(tx, s.now(), store.Entry{
		Reference: ref,
		FromKind:  models.PartyExternal,
		ToKind:    models.PartyVenture, ToID: venture.ID,
		Amount: dist.Amount, Type: models.TxTypeRevenue,
		Metadata: meta,
	}); err != nil {
		return err
	}
	if dist.PlatformFee.IsPositive() {
		if _, err := store.Append(tx, s.now(), store.Entry{
			FromKind: models.PartyVenture, FromID: venture.ID,
			ToKind: models.PartyPlatform,
			Amount: dist.PlatformFee, Type: models.TxTypePlatformFee,
			Metadata: models.JSONMap{"rate": s.feeRate.String()},
		}); err != nil {
			return err
		}
	}
	if err := store.BumpPlatformStat(tx, store.StatDelta{VentureFees: dist.PlatformFee}); err != nil {
		return err
	}

	venture.TotalRevenue = venture.TotalRevenue.Add(dist.Amount)
	updates := map[string]interface{}{"total_revenue": venture.TotalRevenue}
	if venture.Status == models.VentureStatusForming {
		updates["status"] = models.VentureStatusActive
	}
	return tx.Model(venture).Updates(updates).Error
}

func (s *Service) logDistribution(dist *Distribution) {
	s.log.WithFields(logrus.Fields{
		"venture_id":    dist.VentureID,
		"amount":        dist.Amount.StringFixed(2),
		"platform_fee":  dist.PlatformFee.StringFixed(2),
		"distributable": dist.Distributable.StringFixed(2),
		"payouts":       len(dist.Payouts),
	}).Info("Revenue distributed")
	s.emit(events.RevenueDistributed, dist.VentureID, map[string]interface{}{
		"amount": dist.Amount.StringFixed(2),
		"source": dist.Source,
	})
}

// CreatePooledVenture creates a capital-equity venture funded by the given
// humans. Each investment is debited from the investor's wallet.
func (s *Service) CreatePooledVenture(ctx context.Context, name string, investments map[uint]decimal.Decimal) (*models.Venture, []models.PooledInvestor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil, apperr.New(apperr.CodeInvalidArgument, "venture name is required")
	}
	if len(investments) == 0 {
		return nil, nil, apperr.New(apperr.CodeInvalidArgument, "a pooled venture needs at least one investor")
	}
	humanIDs := make([]uint, 0, len(investments))
	for id, amount := range investments {
		if !amount.IsPositive() {
			return nil, nil, apperr.Newf(apperr.CodeInvalidArgument, "investment by human %d must be positive", id)
		}
		humanIDs = append(humanIDs, id)
	}
	sort.Slice(humanIDs, func(i, j int) bool { return humanIDs[i] < humanIDs[j] })

	var (
		venture   models.Venture
		investors []models.PooledInvestor
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		venture = models.Venture{
			Name:             name,
			Type:             models.VentureTypePooled,
			ParticipantCount: len(humanIDs),
			Status:           models.VentureStatusActive,
		}
		if err := tx.Create(&venture).Error; err != nil {
			return err
		}
		for _, humanID := range humanIDs {
			amount := investments[humanID]
			if err := s.injectCapital(tx, &venture, humanID, amount); err != nil {
				return err
			}
			if err := tx.Create(&models.PooledInvestor{
				VentureID:      venture.ID,
				HumanID:        humanID,
				AmountInvested: amount,
			}).Error; err != nil {
				return err
			}
		}
		if err := tx.Model(&venture).Update("total_capital", venture.TotalCapital).Error; err != nil {
			return err
		}
		var err error
		investors, err = recalculatePooled(tx, &venture)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	s.log.WithFields(logrus.Fields{
		"venture_id":    venture.ID,
		"investors":     len(investors),
		"total_capital": venture.TotalCapital.StringFixed(2),
	}).Info("Pooled venture created")
	s.emit(events.VentureCreated, venture.ID, map[string]interface{}{"type": venture.Type})
	return &venture, investors, nil
}

// ReinvestInPooledVenture adds capital from a human's wallet and re-derives
// every investor's equity against the new total, diluting the others.
func (s *Service) ReinvestInPooledVenture(ctx context.Context, ventureID, humanID uint, amount decimal.Decimal) ([]models.PooledInvestor, error) {
	if !amount.IsPositive() {
		return nil, apperr.Newf(apperr.CodeInvalidArgument, "investment must be positive, got %s", amount.String())
	}

	var investors []models.PooledInvestor
	err := s.inVenture(ctx, ventureID, func(tx *gorm.DB) error {
		venture, err := loadVenture(store.ForUpdate(tx), ventureID)
		if err != nil {
			return err
		}
		if venture.Type != models.VentureTypePooled {
			return apperr.Newf(apperr.CodeInvalidArgument, "venture %d is %s", ventureID, venture.Type)
		}

		var investor models.PooledInvestor
		err = tx.Where("venture_id = ? AND human_id = ?", ventureID, humanID).First(&investor).Error
		switch {
		case err == nil:
		case store.IsNotFound(err):
			if venture.IsLocked {
				return apperr.Newf(apperr.CodeVentureLocked, "venture %d is locked", ventureID)
			}
			investor = models.PooledInvestor{VentureID: ventureID, HumanID: humanID, AmountInvested: decimal.Zero}
		default:
			return err
		}

		if err := s.injectCapital(tx, venture, humanID, amount); err != nil {
			return err
		}
		investor.AmountInvested = investor.AmountInvested.Add(amount)
		if investor.ID == 0 {
			if err := tx.Create(&investor).Error; err != nil {
				return err
			}
			venture.ParticipantCount++
		} else if err := tx.Model(&investor).Update("amount_invested", investor.AmountInvested).Error; err != nil {
			return err
		}

		if err := tx.Model(venture).Updates(map[string]interface{}{
			"total_capital":     venture.TotalCapital,
			"participant_count": venture.ParticipantCount,
		}).Error; err != nil {
			return err
		}
		investors, err = recalculatePooled(tx, venture)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emit(events.PooledInvestment, ventureID, map[string]interface{}{
		"human_id": humanID,
		"amount":   amount.StringFixed(2),
	})
	return investors, nil
}

// injectCapital debits the human, books the capital injection and raises the
// venture's in-memory total capital.
func (s *Service) injectCapital(tx *gorm.DB, venture *models.Venture, humanID uint, amount decimal.Decimal) error {
	if _, err := store.CreditHuman(tx, humanID, store.HumanDelta{Wallet: amount.Neg(), Invested: amount}); err != nil {
		return err
	}
	if _, err := store.Append(tx, s.now(), store.Entry{
		FromKind: models.PartyHuman, FromID: humanID,
		ToKind: models.PartyVenture, ToID: venture.ID,
		Amount: amount, Type: models.TxTypeCapitalInjection,
	}); err != nil {
		return err
	}
	venture.TotalCapital = venture.TotalCapital.Add(amount)
	return nil
}

func normalizeSource(source string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		return "unspecified"
	}
	return source
}
