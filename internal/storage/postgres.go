package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/kioskly/popserver/internal/models"
)

// PgxPool is the subset of pgxpool.Pool the repos need. pgxmock satisfies it
// as well.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresKioskRepo implements KioskRepo using PostgreSQL.
type PostgresKioskRepo struct {
	pool PgxPool
}

func NewPostgresKioskRepo(pool PgxPool) *PostgresKioskRepo {
	return &PostgresKioskRepo{pool: pool}
}

func (r *PostgresKioskRepo) UpsertKioskByExternalID(ctx context.Context, orgID, provider, externalID, name string) (*models.Kiosk, error) {
	if externalID == "" {
		return nil, nil
	}

	var k models.Kiosk
	err := r.pool.QueryRow(ctx, `
		INSERT INTO kiosks (id, org_id, provider, external_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (org_id, provider, external_id) DO UPDATE SET
			name = EXCLUDED.name,
			updated_at = now()
		RETURNING id, org_id, provider, external_id, name, created_at, updated_at
	`, uuid.New().String(), orgID, provider, externalID, name).Scan(
		&k.ID, &k.OrgID, &k.Provider, &k.ExternalID, &k.Name, &k.CreatedAt, &k.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert kiosk by external id: %w", err)
	}
	return &k, nil
}

func (r *PostgresKioskRepo) UpsertKioskByName(ctx context.Context, orgID, provider, name string) (*models.Kiosk, error) {
	var k models.Kiosk
	err := r.pool.QueryRow(ctx, `
		INSERT INTO kiosks (id, org_id, provider, name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (org_id, name) DO UPDATE SET
			provider = EXCLUDED.provider,
			updated_at = now()
		RETURNING id, org_id, provider, external_id, name, created_at, updated_at
	`, uuid.New().String(), orgID, provider, name).Scan(
		&k.ID, &k.OrgID, &k.Provider, &k.ExternalID, &k.Name, &k.CreatedAt, &k.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert kiosk by name: %w", err)
	}
	return &k, nil
}

func (r *PostgresKioskRepo) ListKiosks(ctx context.Context, orgID string) ([]*models.Kiosk, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, org_id, provider, external_id, name, created_at, updated_at
		FROM kiosks WHERE org_id = $1 ORDER BY name
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list kiosks: %w", err)
	}
	defer rows.Close()

	var kiosks []*models.Kiosk
	for rows.Next() {
		var k models.Kiosk
		if err := rows.Scan(&k.ID, &k.OrgID, &k.Provider, &k.ExternalID, &k.Name, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, err
		}
		kiosks = append(kiosks, &k)
	}
	return kiosks, rows.Err()
}

// PostgresAssetRepo implements AssetRepo using PostgreSQL.
type PostgresAssetRepo struct {
	pool PgxPool
}

func NewPostgresAssetRepo(pool PgxPool) *PostgresAssetRepo {
	return &PostgresAssetRepo{pool: pool}
}

func (r *PostgresAssetRepo) UpsertAsset(ctx context.Context, a *models.Asset) (*models.Asset, error) {
	var out models.Asset
	err := r.pool.QueryRow(ctx, `
		INSERT INTO assets (id, org_id, asset_name, provider_asset_id, duration_sec, asset_key, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (org_id, asset_key) DO UPDATE SET
			asset_name = EXCLUDED.asset_name,
			provider_asset_id = EXCLUDED.provider_asset_id,
			duration_sec = EXCLUDED.duration_sec,
			updated_at = now()
		RETURNING id, org_id, asset_name, provider_asset_id, duration_sec, asset_key, created_at, updated_at
	`, uuid.New().String(), a.OrgID, a.AssetName, a.ProviderAssetID, a.DurationSec, a.AssetKey).Scan(
		&out.ID, &out.OrgID, &out.AssetName, &out.ProviderAssetID, &out.DurationSec, &out.AssetKey, &out.CreatedAt, &out.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert asset: %w", err)
	}
	return &out, nil
}

func (r *PostgresAssetRepo) ListAssets(ctx context.Context, orgID string) ([]*models.Asset, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, org_id, asset_name, provider_asset_id, duration_sec, asset_key, created_at, updated_at
		FROM assets WHERE org_id = $1 ORDER BY asset_name
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list assets: %w", err)
	}
	defer rows.Close()

	var assets []*models.Asset
	for rows.Next() {
		var a models.Asset
		if err := rows.Scan(&a.ID, &a.OrgID, &a.AssetName, &a.ProviderAssetID, &a.DurationSec, &a.AssetKey, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		assets = append(assets, &a)
	}
	return assets, rows.Err()
}

// PostgresCampaignRepo implements CampaignRepo using PostgreSQL.
type PostgresCampaignRepo struct {
	pool PgxPool
}

func NewPostgresCampaignRepo(pool PgxPool) *PostgresCampaignRepo {
	return &PostgresCampaignRepo{pool: pool}
}

func (r *PostgresCampaignRepo) UpsertCampaign(ctx context.Context, orgID, name string) (*models.Campaign, error) {
	var c models.Campaign
	var ownerID *string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO campaigns (id, org_id, name, created_at, updated_at)
		VALUES ($1, $2, $3, now(), now())
		ON CONFLICT (org_id, name) DO UPDATE SET
			updated_at = now()
		RETURNING id, org_id, name, owner_id, created_at, updated_at
	`, uuid.New().String(), orgID, name).Scan(
		&c.ID, &c.OrgID, &c.Name, &ownerID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to upsert campaign: %w", err)
	}
	if ownerID != nil {
		c.OwnerID = *ownerID
	}
	return &c, nil
}

func (r *PostgresCampaignRepo) LinkAsset(ctx context.Context, campaignID, assetID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO campaigns_assets (campaign_id, asset_id)
		VALUES ($1, $2)
		ON CONFLICT (campaign_id, asset_id) DO NOTHING
	`, campaignID, assetID)
	if err != nil {
		return fmt.Errorf("failed to link campaign asset: %w", err)
	}
	return nil
}

func (r *PostgresCampaignRepo) ListCampaigns(ctx context.Context, orgID string) ([]*models.Campaign, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, org_id, name, owner_id, created_at, updated_at
		FROM campaigns WHERE org_id = $1 ORDER BY name
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*models.Campaign
	for rows.Next() {
		var c models.Campaign
		var ownerID *string
		if err := rows.Scan(&c.ID, &c.OrgID, &c.Name, &ownerID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if ownerID != nil {
			c.OwnerID = *ownerID
		}
		campaigns = append(campaigns, &c)
	}
	return campaigns, rows.Err()
}

// PostgresPlayRepo implements PlayRepo using PostgreSQL.
type PostgresPlayRepo struct {
	pool PgxPool
}

func NewPostgresPlayRepo(pool PgxPool) *PostgresPlayRepo {
	return &PostgresPlayRepo{pool: pool}
}

func (r *PostgresPlayRepo) UpsertPlay(ctx context.Context, p *models.Play) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO plays (id, org_id, kiosk_id, asset_id, campaign_id, provider_event_id, played_at, ended_at, duration_sec)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (org_id, kiosk_id, asset_id, played_at) DO UPDATE SET
			campaign_id = EXCLUDED.campaign_id,
			provider_event_id = EXCLUDED.provider_event_id,
			ended_at = EXCLUDED.ended_at,
			duration_sec = EXCLUDED.duration_sec
	`, uuid.New().String(), p.OrgID, p.KioskID, p.AssetID, p.CampaignID, p.ProviderEventID, p.PlayedAt, p.EndedAt, p.DurationSec)
	if err != nil {
		return fmt.Errorf("failed to upsert play: %w", err)
	}
	return nil
}

func (r *PostgresPlayRepo) QueryPlays(ctx context.Context, orgID string, f models.ReportFilter) ([]*models.PlayReportRow, error) {
	sql := `
		SELECT p.played_at, p.duration_sec, p.campaign_id,
		       k.id, k.external_id, k.name,
		       a.id, a.asset_name, a.tags,
		       c.owner_id
		FROM plays p
		JOIN kiosks k ON k.id = p.kiosk_id
		JOIN assets a ON a.id = p.asset_id
		LEFT JOIN campaigns c ON c.id = p.campaign_id
		WHERE p.org_id = $1`
	args := []any{orgID}

	add := func(clause string, v any) {
		args = append(args, v)
		sql += " AND " + clause + "$" + strconv.Itoa(len(args))
	}
	if f.StartDate != nil {
		add("p.played_at >= ", *f.StartDate)
	}
	if f.EndDate != nil {
		add("p.played_at <= ", *f.EndDate)
	}
	if f.CampaignID != "" {
		add("p.campaign_id = ", f.CampaignID)
	}
	if f.ScreenID != "" {
		add("p.kiosk_id = ", f.ScreenID)
	}
	if f.AssetID != "" {
		add("p.asset_id = ", f.AssetID)
	}
	if f.AccountID != "" {
		add("c.owner_id = ", f.AccountID)
	}
	sql += " ORDER BY p.played_at DESC"

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plays: %w", err)
	}
	defer rows.Close()

	var out []*models.PlayReportRow
	for rows.Next() {
		var (
			playedAt    time.Time
			durationSec *int
			campaignID  *string
			kioskID     string
			externalID  *string
			kioskName   string
			assetID     string
			assetName   string
			assetTags   *string
			ownerID     *string
		)
		if err := rows.Scan(&playedAt, &durationSec, &campaignID, &kioskID, &externalID, &kioskName, &assetID, &assetName, &assetTags, &ownerID); err != nil {
			return nil, err
		}

		row := &models.PlayReportRow{
			ReportDateUTC:   playedAt.UTC().Format("2006-01-02"),
			ScreenUUID:      kioskID,
			ScreenName:      kioskName,
			AssetID:         assetID,
			AssetName:       assetName,
			StartTimeUTC:    playedAt.UTC().Format(time.RFC3339),
			DeviceLocalTime: playedAt.UTC().Format(time.RFC3339),
			CampaignID:      campaignID,
		}
		if externalID != nil {
			row.ScreenUUID = *externalID
		}
		if assetTags != nil {
			row.AssetTags = *assetTags
		}
		if ownerID != nil {
			row.AccountID = *ownerID
		}
		if durationSec != nil {
			row.DurationSec = *durationSec
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// PostgresBatchRepo implements BatchRepo using PostgreSQL.
type PostgresBatchRepo struct {
	pool PgxPool
}

func NewPostgresBatchRepo(pool PgxPool) *PostgresBatchRepo {
	return &PostgresBatchRepo{pool: pool}
}

func (r *PostgresBatchRepo) RecordBatch(ctx context.Context, b *models.ImportBatch) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO import_batches (id, org_id, format, source_ip, geo_country, parsed, inserted, dropped, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, b.ID, b.OrgID, b.Format, nullString(b.SourceIP), nullString(b.GeoCountry), b.Parsed, b.Inserted, b.Dropped, b.ReceivedAt)
	if err != nil {
		return fmt.Errorf("failed to record import batch: %w", err)
	}
	return nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// PostgresRollupStore recomputes plays_daily wholesale inside a transaction.
type PostgresRollupStore struct {
	pool PgxPool
}

func NewPostgresRollupStore(pool PgxPool) *PostgresRollupStore {
	return &PostgresRollupStore{pool: pool}
}

func (s *PostgresRollupStore) RefreshDaily(ctx context.Context) ([]DailyRollup, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin rollup transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `TRUNCATE plays_daily`); err != nil {
		return nil, fmt.Errorf("failed to truncate plays_daily: %w", err)
	}

	rows, err := tx.Query(ctx, `
		INSERT INTO plays_daily (org_id, day, plays, total_duration_sec, unique_kiosks, unique_assets)
		SELECT org_id,
		       (played_at AT TIME ZONE 'UTC')::date,
		       count(*),
		       coalesce(sum(duration_sec), 0),
		       count(DISTINCT kiosk_id),
		       count(DISTINCT asset_id)
		FROM plays
		GROUP BY 1, 2
		RETURNING org_id, day, plays, total_duration_sec, unique_kiosks, unique_assets
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to recompute plays_daily: %w", err)
	}

	var rollups []DailyRollup
	for rows.Next() {
		var ru DailyRollup
		var day time.Time
		if err := rows.Scan(&ru.OrgID, &day, &ru.Plays, &ru.TotalDurationSec, &ru.UniqueKiosks, &ru.UniqueAssets); err != nil {
			rows.Close()
			return nil, err
		}
		ru.Day = day.Format("2006-01-02")
		rollups = append(rollups, ru)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit rollup: %w", err)
	}
	return rollups, nil
}

// PostgresOrgResolver resolves API keys to organizations via org_api_keys.
type PostgresOrgResolver struct {
	pool PgxPool
}

func NewPostgresOrgResolver(pool PgxPool) *PostgresOrgResolver {
	return &PostgresOrgResolver{pool: pool}
}

func (r *PostgresOrgResolver) ResolveOrg(ctx context.Context, apiKey string) (string, error) {
	var orgID *string
	err := r.pool.QueryRow(ctx, `
		SELECT org_id FROM org_api_keys WHERE api_key = $1 AND revoked_at IS NULL
	`, apiKey).Scan(&orgID)
	if err == pgx.ErrNoRows {
		return "", ErrUnknownKey
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve org: %w", err)
	}
	if orgID == nil || *orgID == "" {
		return "", ErrNoMembership
	}
	return *orgID, nil
}
