package storage

import (
	"context"
	"errors"

	"github.com/kioskly/popserver/internal/models"
)

// Auth resolution errors, mapped to 401/403 by the middleware.
var (
	ErrUnknownKey   = errors.New("storage: unknown api key")
	ErrNoMembership = errors.New("storage: no org membership")
)

// KioskRepo upserts and lists kiosks. UpsertKioskByExternalID returns (nil, nil)
// when the external id is empty, so callers can fall back to the name key.
type KioskRepo interface {
	UpsertKioskByExternalID(ctx context.Context, orgID, provider, externalID, name string) (*models.Kiosk, error)
	UpsertKioskByName(ctx context.Context, orgID, provider, name string) (*models.Kiosk, error)
	ListKiosks(ctx context.Context, orgID string) ([]*models.Kiosk, error)
}

// AssetRepo upserts assets keyed on (org_id, asset_key).
type AssetRepo interface {
	UpsertAsset(ctx context.Context, a *models.Asset) (*models.Asset, error)
	ListAssets(ctx context.Context, orgID string) ([]*models.Asset, error)
}

// CampaignRepo upserts campaigns keyed on (org_id, name) and maintains the
// campaign<->asset join. LinkAsset is idempotent.
type CampaignRepo interface {
	UpsertCampaign(ctx context.Context, orgID, name string) (*models.Campaign, error)
	LinkAsset(ctx context.Context, campaignID, assetID string) error
	ListCampaigns(ctx context.Context, orgID string) ([]*models.Campaign, error)
}

// PlayRepo writes play events and serves the read side. UpsertPlay conflicts
// on (org_id, kiosk_id, asset_id, played_at) and overwrites the prior row.
type PlayRepo interface {
	UpsertPlay(ctx context.Context, p *models.Play) error
	QueryPlays(ctx context.Context, orgID string, f models.ReportFilter) ([]*models.PlayReportRow, error)
}

// BatchRepo records import batch audit rows.
type BatchRepo interface {
	RecordBatch(ctx context.Context, b *models.ImportBatch) error
}

// DailyRollup is one recomputed plays_daily row.
type DailyRollup struct {
	OrgID            string
	Day              string // YYYY-MM-DD
	Plays            int64
	TotalDurationSec int64
	UniqueKiosks     int64
	UniqueAssets     int64
}

// RollupStore recomputes the daily rollup wholesale and returns the fresh
// rows so callers can mirror them into caches.
type RollupStore interface {
	RefreshDaily(ctx context.Context) ([]DailyRollup, error)
}

// OrgResolver maps an API key to the caller's organization.
type OrgResolver interface {
	ResolveOrg(ctx context.Context, apiKey string) (string, error)
}
