package models

import (
	"strconv"
	"strings"
	"time"
)

// AssetKeySeparator joins the parts of an asset key. It must not occur in
// normalized asset names.
const AssetKeySeparator = "|"

// Kiosk is an organization-scoped physical display device.
// Uniqueness: (org_id, provider, external_id) when the provider supplied a
// stable device id, otherwise (org_id, name).
type Kiosk struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id"`
	Provider   string    `json:"provider"`
	ExternalID *string   `json:"external_id,omitempty"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Asset is an organization-scoped creative. AssetKey is the dedup key used
// across re-imports because provider exports rarely carry a stable asset id.
type Asset struct {
	ID              string    `json:"id"`
	OrgID           string    `json:"org_id"`
	AssetName       string    `json:"asset_name"`
	ProviderAssetID *string   `json:"provider_asset_id,omitempty"`
	DurationSec     *int      `json:"duration_sec,omitempty"`
	AssetKey        string    `json:"asset_key"`
	Tags            string    `json:"tags,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Campaign is an organization-scoped campaign, upserted by (org_id, name).
type Campaign struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Play is one recorded instance of an asset being displayed on a kiosk.
// Dedup key: (org_id, kiosk_id, asset_id, played_at); a second row with the
// identical tuple overwrites the first.
type Play struct {
	ID              string     `json:"id"`
	OrgID           string     `json:"org_id"`
	KioskID         string     `json:"kiosk_id"`
	AssetID         string     `json:"asset_id"`
	CampaignID      *string    `json:"campaign_id,omitempty"`
	ProviderEventID *string    `json:"provider_event_id,omitempty"`
	PlayedAt        time.Time  `json:"played_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	DurationSec     *int       `json:"duration_sec,omitempty"`
}

// ImportBatch is the audit record for one ingestion request.
type ImportBatch struct {
	ID         string    `json:"id"`
	OrgID      string    `json:"org_id"`
	Format     string    `json:"format"`
	SourceIP   string    `json:"source_ip,omitempty"`
	GeoCountry string    `json:"geo_country,omitempty"`
	Parsed     int       `json:"parsed"`
	Inserted   int       `json:"inserted"`
	Dropped    int       `json:"dropped"`
	ReceivedAt time.Time `json:"received_at"`
}

// RawRow is one loosely-typed report row straight out of the parser,
// keyed by the provider's own column headers. Discarded after extraction.
type RawRow map[string]string

// NormalizedRecord is an extracted, typed candidate for one play event.
type NormalizedRecord struct {
	DeviceName      string
	DeviceID        string
	AssetName       string
	ProviderAssetID string
	CampaignName    string
	StartTime       string
	EndTime         string
	DurationSec     *int
	ProviderEventID string
	ReportTimezone  string
}

// HasDeviceIdentity reports whether at least one device identifier is set.
func (r *NormalizedRecord) HasDeviceIdentity() bool {
	return r.DeviceName != "" || r.DeviceID != ""
}

// PlayReportRow is the flattened read-side row, one per play, matching the
// 11-column export layout.
type PlayReportRow struct {
	ReportDateUTC   string  `json:"report_date_utc"`
	AccountID       string  `json:"account_id"`
	ScreenUUID      string  `json:"screen_uuid"`
	ScreenName      string  `json:"screen_name"`
	ScreenTags      string  `json:"screen_tags"`
	AssetID         string  `json:"asset_id"`
	AssetName       string  `json:"asset_name"`
	AssetTags       string  `json:"asset_tags"`
	StartTimeUTC    string  `json:"start_time_utc"`
	DeviceLocalTime string  `json:"device_local_time"`
	DurationSec     int     `json:"duration"`
	CampaignID      *string `json:"campaign_id,omitempty"`
}

// PlaySummary aggregates a filtered set of plays.
type PlaySummary struct {
	TotalPlays         int       `json:"total_plays"`
	UniqueScreens      int       `json:"unique_screens"`
	UniqueAssets       int       `json:"unique_assets"`
	TotalDurationSec   int       `json:"total_duration_seconds"`
	AverageDurationSec float64   `json:"average_duration_seconds"`
	DateRange          DateRange `json:"date_range"`
}

// DateRange bounds a summary, formatted YYYY-MM-DD.
type DateRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// ReportFilter restricts read-side queries. All fields are optional.
type ReportFilter struct {
	StartDate  *time.Time
	EndDate    *time.Time
	CampaignID string
	ScreenID   string
	AssetID    string
	AccountID  string
}

// ComputeAssetKey derives the order-independent dedup key for a creative:
// whitespace-collapsed lowercase name, provider asset id or "-", duration or
// "-", joined by AssetKeySeparator.
func ComputeAssetKey(assetName, providerAssetID string, durationSec *int) string {
	norm := strings.ToLower(strings.Join(strings.Fields(assetName), " "))

	id := "-"
	if providerAssetID != "" {
		id = providerAssetID
	}

	dur := "-"
	if durationSec != nil {
		dur = strconv.Itoa(*durationSec)
	}

	return norm + AssetKeySeparator + id + AssetKeySeparator + dur
}
