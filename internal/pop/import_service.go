package pop

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kioskly/popserver/internal/config"
	"github.com/kioskly/popserver/internal/geo"
	"github.com/kioskly/popserver/internal/metrics"
	"github.com/kioskly/popserver/internal/models"
	"github.com/kioskly/popserver/internal/report"
	"github.com/kioskly/popserver/internal/storage"
	"go.uber.org/zap"
)

// Drop reason labels for metrics and logs.
const (
	dropReasonValidation = "validation"
	dropReasonResolution = "resolution"
	dropReasonWrite      = "write"
)

// BatchResult is the outcome of one ingestion batch.
type BatchResult struct {
	Format       report.Format
	Parsed       int
	Inserted     int
	Dropped      int
	LastPlayedAt *time.Time
}

// ImportService runs the ingestion pipeline: parse, then a sequential
// per-row extract/resolve/write loop, then a best-effort rollup refresh.
// One bad row never aborts a batch; only a parse failure does.
type ImportService struct {
	resolver *Resolver
	plays    storage.PlayRepo
	batches  storage.BatchRepo
	rollup   *RollupService
	geo      geo.Provider
	cfg      config.ImportConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewImportService(
	resolver *Resolver,
	plays storage.PlayRepo,
	batches storage.BatchRepo,
	rollup *RollupService,
	geoProvider geo.Provider,
	cfg config.ImportConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *ImportService {
	return &ImportService{
		resolver: resolver,
		plays:    plays,
		batches:  batches,
		rollup:   rollup,
		geo:      geoProvider,
		cfg:      cfg,
		logger:   logger,
		metrics:  m,
	}
}

// Run ingests one report payload for an organization. sourceIP is recorded
// on the batch audit row; it does not affect processing.
func (s *ImportService) Run(ctx context.Context, orgID, contentType, body, sourceIP string) (*BatchResult, error) {
	start := time.Now()

	rows, format, err := report.Parse(contentType, body)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordBatch(orgID, "", "parse_error", time.Since(start))
		}
		return nil, err
	}

	res := &BatchResult{Format: format, Parsed: len(rows)}
	if s.metrics != nil {
		s.metrics.RecordRowsParsed(orgID, len(rows))
	}

	for i, row := range rows {
		if err := s.processRow(ctx, orgID, row, res); err != nil {
			res.Dropped++
			s.logger.Debug("row dropped",
				zap.String("org_id", orgID),
				zap.Int("row", i),
				zap.Error(err),
			)
		}
	}

	// Rollup refresh is best-effort: the batch result stands even when the
	// recompute fails, since it can be retried independently.
	if s.rollup != nil {
		if err := s.rollup.Refresh(ctx); err != nil {
			s.logger.Warn("rollup refresh failed after batch", zap.Error(err))
		}
	}

	s.recordBatch(ctx, orgID, sourceIP, format, res)

	if s.metrics != nil {
		s.metrics.RecordBatch(orgID, string(format), "ok", time.Since(start))
	}
	s.logger.Info("import batch complete",
		zap.String("org_id", orgID),
		zap.String("format", string(format)),
		zap.Int("parsed", res.Parsed),
		zap.Int("inserted", res.Inserted),
		zap.Int("dropped", res.Dropped),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (s *ImportService) processRow(ctx context.Context, orgID string, row models.RawRow, res *BatchResult) error {
	rec, err := report.Extract(row)
	if err != nil {
		s.recordDrop(orgID, dropReasonValidation)
		return err
	}

	kioskRes, err := s.resolver.ResolveKiosk(ctx, orgID, rec)
	if err != nil {
		s.recordDrop(orgID, dropReasonResolution)
		return err
	}
	if !kioskRes.Resolved() {
		s.recordDrop(orgID, dropReasonResolution)
		return fmt.Errorf("kiosk unresolved for device %q/%q", rec.DeviceName, rec.DeviceID)
	}

	asset, err := s.resolver.ResolveAsset(ctx, orgID, rec)
	if err != nil || asset == nil {
		s.recordDrop(orgID, dropReasonResolution)
		if err == nil {
			err = fmt.Errorf("asset unresolved for %q", rec.AssetName)
		}
		return err
	}

	campaign, err := s.resolver.ResolveCampaign(ctx, orgID, asset.ID, rec)
	if err != nil {
		s.recordDrop(orgID, dropReasonResolution)
		return err
	}

	play, err := buildPlay(orgID, kioskRes.Kiosk.ID, asset.ID, campaign, rec)
	if err != nil {
		s.recordDrop(orgID, dropReasonValidation)
		return err
	}

	if err := s.plays.UpsertPlay(ctx, play); err != nil {
		s.recordDrop(orgID, dropReasonWrite)
		return err
	}

	res.Inserted++
	if s.metrics != nil {
		s.metrics.RecordRowInserted(orgID)
	}
	if res.LastPlayedAt == nil || play.PlayedAt.After(*res.LastPlayedAt) {
		t := play.PlayedAt
		res.LastPlayedAt = &t
	}
	return nil
}

// buildPlay normalizes the record's timing fields to UTC and assembles the
// Play row. When the end time is absent but a duration is known, ended_at
// is derived as played_at + duration.
func buildPlay(orgID, kioskID, assetID string, campaign *models.Campaign, rec *models.NormalizedRecord) (*models.Play, error) {
	playedAt := time.Now().UTC()
	if rec.StartTime != "" {
		t, err := parsePlayTime(rec.StartTime, rec.ReportTimezone)
		if err != nil {
			return nil, fmt.Errorf("bad start time %q: %w", rec.StartTime, err)
		}
		playedAt = t
	}

	var endedAt *time.Time
	if rec.EndTime != "" {
		t, err := parsePlayTime(rec.EndTime, rec.ReportTimezone)
		if err == nil {
			endedAt = &t
		}
	}
	if endedAt == nil && rec.DurationSec != nil {
		t := playedAt.Add(time.Duration(*rec.DurationSec) * time.Second)
		endedAt = &t
	}

	play := &models.Play{
		OrgID:       orgID,
		KioskID:     kioskID,
		AssetID:     assetID,
		PlayedAt:    playedAt,
		EndedAt:     endedAt,
		DurationSec: rec.DurationSec,
	}
	if campaign != nil {
		play.CampaignID = &campaign.ID
	}
	if rec.ProviderEventID != "" {
		id := rec.ProviderEventID
		play.ProviderEventID = &id
	}
	return play, nil
}

// playTimeLayouts are tried in order; the first two carry their own zone.
var playTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// parsePlayTime parses a provider timestamp and converts it to UTC. The
// timezone hint is applied only to naive timestamps; stamps that carry
// their own offset win over the hint.
func parsePlayTime(value, tzHint string) (time.Time, error) {
	for i, layout := range playTimeLayouts {
		loc := time.UTC
		if i >= 2 && tzHint != "" {
			if l, err := time.LoadLocation(tzHint); err == nil {
				loc = l
			}
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp layout")
}

func (s *ImportService) recordDrop(orgID, reason string) {
	if s.metrics != nil {
		s.metrics.RecordRowDropped(orgID, reason)
	}
}

// recordBatch writes the audit row for a batch. Failures are logged and
// swallowed; auditing never fails an import.
func (s *ImportService) recordBatch(ctx context.Context, orgID, sourceIP string, format report.Format, res *BatchResult) {
	if s.batches == nil {
		return
	}

	batch := &models.ImportBatch{
		ID:         uuid.New().String(),
		OrgID:      orgID,
		Format:     string(format),
		SourceIP:   sourceIP,
		Parsed:     res.Parsed,
		Inserted:   res.Inserted,
		Dropped:    res.Dropped,
		ReceivedAt: time.Now().UTC(),
	}
	if s.geo != nil && sourceIP != "" {
		if country, err := s.geo.Country(sourceIP); err == nil {
			batch.GeoCountry = country
		}
	}

	if err := s.batches.RecordBatch(ctx, batch); err != nil {
		s.logger.Warn("failed to record import batch", zap.Error(err))
	}
}
