package pop

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/kioskly/popserver/internal/models"
	"github.com/kioskly/popserver/internal/storage"
)

// exportHeader is the fixed column layout of the CSV export. Downstream
// billing tooling matches columns by position, so the order is load-bearing.
var exportHeader = []string{
	"Report Date UTC",
	"Account ID",
	"Screen UUID",
	"Screen Name",
	"Screen Tags",
	"Asset ID",
	"Asset Name",
	"Asset Tags",
	"Start Time UTC",
	"Device Local Time",
	"Duration",
}

// ReportService serves the read side: filtered play rows, aggregate
// summaries, and the CSV export.
type ReportService struct {
	plays              storage.PlayRepo
	defaultDurationSec int
}

func NewReportService(plays storage.PlayRepo, defaultDurationSec int) *ReportService {
	return &ReportService{
		plays:              plays,
		defaultDurationSec: defaultDurationSec,
	}
}

// Query returns filtered play rows with the default duration substituted
// where the provider never reported one.
func (s *ReportService) Query(ctx context.Context, orgID string, f models.ReportFilter) ([]*models.PlayReportRow, error) {
	rows, err := s.plays.QueryPlays(ctx, orgID, f)
	if err != nil {
		return nil, fmt.Errorf("failed to query plays: %w", err)
	}
	for _, row := range rows {
		if row.DurationSec <= 0 {
			row.DurationSec = s.defaultDurationSec
		}
	}
	return rows, nil
}

// Summarize aggregates the filtered rows. The average is over plays, not
// over distinct assets, and the date range brackets the observed play dates.
func (s *ReportService) Summarize(ctx context.Context, orgID string, f models.ReportFilter) (*models.PlaySummary, error) {
	rows, err := s.Query(ctx, orgID, f)
	if err != nil {
		return nil, err
	}

	summary := &models.PlaySummary{TotalPlays: len(rows)}
	screens := make(map[string]struct{})
	assets := make(map[string]struct{})

	for _, row := range rows {
		screens[row.ScreenUUID] = struct{}{}
		assets[row.AssetID] = struct{}{}
		summary.TotalDurationSec += row.DurationSec

		if day := row.ReportDateUTC; day != "" {
			if summary.DateRange.Start == "" || day < summary.DateRange.Start {
				summary.DateRange.Start = day
			}
			if day > summary.DateRange.End {
				summary.DateRange.End = day
			}
		}
	}

	summary.UniqueScreens = len(screens)
	summary.UniqueAssets = len(assets)
	if summary.TotalPlays > 0 {
		summary.AverageDurationSec = float64(summary.TotalDurationSec) / float64(summary.TotalPlays)
	}
	return summary, nil
}

// ExportCSV renders the filtered rows in the fixed 11-column layout.
func (s *ReportService) ExportCSV(ctx context.Context, orgID string, f models.ReportFilter) (string, error) {
	rows, err := s.Query(ctx, orgID, f)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(strings.Join(exportHeader, ","))
	b.WriteByte('\n')

	for _, row := range rows {
		fields := []string{
			row.ReportDateUTC,
			row.AccountID,
			row.ScreenUUID,
			row.ScreenName,
			row.ScreenTags,
			row.AssetID,
			row.AssetName,
			row.AssetTags,
			row.StartTimeUTC,
			row.DeviceLocalTime,
			strconv.Itoa(row.DurationSec),
		}
		for i, field := range fields {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(csvField(field))
		}
		b.WriteByte('\n')
	}
	return b.String(), nil
}

// csvField quotes a value when it would otherwise break the row.
func csvField(v string) string {
	if strings.ContainsAny(v, ",\"\n") {
		return `"` + strings.ReplaceAll(v, `"`, `""`) + `"`
	}
	return v
}
