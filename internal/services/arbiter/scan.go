package arbiter

import (
	"context"

	"venturemarket/internal/models"

	"github.com/sirupsen/logrus"
)

// ScanReport summarizes one detection pass
type ScanReport struct {
	Ventures   int                `json:"ventures"`
	Humans     int                `json:"humans"`
	Violations []models.Violation `json:"violations"`
}

// Scan runs every detector: fake revenue and collusion over ventures that
// are not closed, wash trading over humans who paid for jobs recently.
func (s *Service) Scan(ctx context.Context) (*ScanReport, error) {
	db := s.db.WithContext(ctx)
	report := &ScanReport{}

	var ventures []models.Venture
	if err := db.Select("id", "type").Where("status <> ?", models.VentureStatusClosed).Order("id").Find(&ventures).Error; err != nil {
		return nil, err
	}
	for _, v := range ventures {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Ventures++

		f, err := s.DetectFakeRevenue(ctx, v.ID)
		if err != nil {
			return report, err
		}
		if err := s.record(ctx, report, f); err != nil {
			return report, err
		}
		if v.Type != models.VentureTypeStandard {
			continue
		}
		f, err = s.DetectCollusion(ctx, v.ID)
		if err != nil {
			return report, err
		}
		if err := s.record(ctx, report, f); err != nil {
			return report, err
		}
	}

	flows, err := s.paymentFlows(ctx)
	if err != nil {
		return report, err
	}
	payers := map[uint]bool{}
	var order []uint
	for _, fl := range flows {
		if !payers[fl.Payer] {
			payers[fl.Payer] = true
			order = append(order, fl.Payer)
		}
	}
	for _, humanID := range order {
		report.Humans++
		f, err := s.DetectWashTrading(ctx, humanID)
		if err != nil {
			return report, err
		}
		if err := s.record(ctx, report, f); err != nil {
			return report, err
		}
	}

	s.log.WithFields(logrus.Fields{
		"ventures":   report.Ventures,
		"humans":     report.Humans,
		"violations": len(report.Violations),
	}).Info("Arbiter scan finished")
	return report, nil
}

func (s *Service) record(ctx context.Context, report *ScanReport, f *Finding) error {
	v, err := s.Record(ctx, f)
	if err != nil {
		return err
	}
	if v != nil {
		report.Violations = append(report.Violations, *v)
	}
	return nil
}
