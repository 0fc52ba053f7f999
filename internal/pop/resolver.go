package pop

import (
	"context"
	"strings"

	"github.com/kioskly/popserver/internal/models"
	"github.com/kioskly/popserver/internal/storage"
)

// ResolutionMethod tags how a kiosk identity was established.
type ResolutionMethod string

const (
	ResolvedByExternalID ResolutionMethod = "external_id"
	ResolvedByName       ResolutionMethod = "name"
	Unresolved           ResolutionMethod = "unresolved"
)

// KioskResolution is the outcome of the two-tier kiosk upsert.
type KioskResolution struct {
	Kiosk  *models.Kiosk
	Method ResolutionMethod
}

// Resolved reports whether a kiosk identity was established.
func (r KioskResolution) Resolved() bool {
	return r.Method != Unresolved && r.Kiosk != nil
}

// Resolver reconciles normalized records against the persistent catalog.
type Resolver struct {
	kiosks    storage.KioskRepo
	assets    storage.AssetRepo
	campaigns storage.CampaignRepo
	provider  string
}

func NewResolver(kiosks storage.KioskRepo, assets storage.AssetRepo, campaigns storage.CampaignRepo, provider string) *Resolver {
	return &Resolver{
		kiosks:    kiosks,
		assets:    assets,
		campaigns: campaigns,
		provider:  provider,
	}
}

// ResolveKiosk upserts the row's device against the kiosk catalog. The
// external-id key is tried first; when the export carried no stable device
// id, or the external-id upsert fails (a name-unique collision can reject
// it), the org-scoped display name is the fallback, accepting that two
// physically distinct devices sharing a name collide.
func (r *Resolver) ResolveKiosk(ctx context.Context, orgID string, rec *models.NormalizedRecord) (KioskResolution, error) {
	name := rec.DeviceName
	if name == "" {
		name = rec.DeviceID
	}

	kiosk, err := r.kiosks.UpsertKioskByExternalID(ctx, orgID, r.provider, rec.DeviceID, name)
	if err == nil && kiosk != nil {
		return KioskResolution{Kiosk: kiosk, Method: ResolvedByExternalID}, nil
	}

	kiosk, err = r.kiosks.UpsertKioskByName(ctx, orgID, r.provider, name)
	if err != nil {
		return KioskResolution{Method: Unresolved}, err
	}
	if kiosk != nil {
		return KioskResolution{Kiosk: kiosk, Method: ResolvedByName}, nil
	}
	return KioskResolution{Method: Unresolved}, nil
}

// ResolveAsset upserts the row's creative keyed on the derived asset key.
func (r *Resolver) ResolveAsset(ctx context.Context, orgID string, rec *models.NormalizedRecord) (*models.Asset, error) {
	var providerAssetID *string
	if rec.ProviderAssetID != "" {
		providerAssetID = &rec.ProviderAssetID
	}

	return r.assets.UpsertAsset(ctx, &models.Asset{
		OrgID:           orgID,
		AssetName:       rec.AssetName,
		ProviderAssetID: providerAssetID,
		DurationSec:     rec.DurationSec,
		AssetKey:        models.ComputeAssetKey(rec.AssetName, rec.ProviderAssetID, rec.DurationSec),
	})
}

// ResolveCampaign upserts the row's campaign (when named) and links it to
// the asset. Returns nil when the row carries no campaign.
func (r *Resolver) ResolveCampaign(ctx context.Context, orgID, assetID string, rec *models.NormalizedRecord) (*models.Campaign, error) {
	name := strings.TrimSpace(rec.CampaignName)
	if name == "" {
		return nil, nil
	}

	campaign, err := r.campaigns.UpsertCampaign(ctx, orgID, name)
	if err != nil {
		return nil, err
	}
	if campaign == nil {
		return nil, nil
	}
	if err := r.campaigns.LinkAsset(ctx, campaign.ID, assetID); err != nil {
		return nil, err
	}
	return campaign, nil
}
