package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/kioskly/popserver/internal/models"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresKioskUpsertByExternalID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	now := time.Now().UTC()
	ext := "ext-1"
	mock.ExpectQuery("INSERT INTO kiosks").
		WithArgs(pgxmock.AnyArg(), "org1", "optisigns", "ext-1", "Lobby").
		WillReturnRows(pgxmock.NewRows([]string{"id", "org_id", "provider", "external_id", "name", "created_at", "updated_at"}).
			AddRow("kiosk-1", "org1", "optisigns", &ext, "Lobby", now, now))

	repo := NewPostgresKioskRepo(mock)
	k, err := repo.UpsertKioskByExternalID(context.Background(), "org1", "optisigns", "ext-1", "Lobby")
	require.NoError(t, err)
	require.NotNil(t, k)
	assert.Equal(t, "kiosk-1", k.ID)
	assert.Equal(t, "Lobby", k.Name)
	require.NotNil(t, k.ExternalID)
	assert.Equal(t, "ext-1", *k.ExternalID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKioskUpsertByExternalIDEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	// No query is issued at all for an empty external id.
	repo := NewPostgresKioskRepo(mock)
	k, err := repo.UpsertKioskByExternalID(context.Background(), "org1", "optisigns", "", "Lobby")
	require.NoError(t, err)
	assert.Nil(t, k)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPlayUpsert(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO plays").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	dur := 15
	repo := NewPostgresPlayRepo(mock)
	err = repo.UpsertPlay(context.Background(), &models.Play{
		OrgID:       "org1",
		KioskID:     "k1",
		AssetID:     "a1",
		PlayedAt:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		DurationSec: &dur,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresCampaignLinkAsset(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO campaigns_assets").
		WithArgs("c1", "a1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewPostgresCampaignRepo(mock)
	require.NoError(t, repo.LinkAsset(context.Background(), "c1", "a1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresResolveOrg(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	resolver := NewPostgresOrgResolver(mock)

	mock.ExpectQuery("SELECT org_id FROM org_api_keys").
		WithArgs("unknown").
		WillReturnError(pgx.ErrNoRows)
	_, err = resolver.ResolveOrg(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrUnknownKey)

	mock.ExpectQuery("SELECT org_id FROM org_api_keys").
		WithArgs("orphan").
		WillReturnRows(pgxmock.NewRows([]string{"org_id"}).AddRow((*string)(nil)))
	_, err = resolver.ResolveOrg(context.Background(), "orphan")
	assert.ErrorIs(t, err, ErrNoMembership)

	org := "org1"
	mock.ExpectQuery("SELECT org_id FROM org_api_keys").
		WithArgs("good").
		WillReturnRows(pgxmock.NewRows([]string{"org_id"}).AddRow(&org))
	orgID, err := resolver.ResolveOrg(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "org1", orgID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRollupRefresh(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec("TRUNCATE plays_daily").
		WillReturnResult(pgxmock.NewResult("TRUNCATE", 0))
	mock.ExpectQuery("INSERT INTO plays_daily").
		WillReturnRows(pgxmock.NewRows([]string{"org_id", "day", "plays", "total_duration_sec", "unique_kiosks", "unique_assets"}).
			AddRow("org1", time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), int64(3), int64(45), int64(1), int64(1)))
	mock.ExpectCommit()

	store := NewPostgresRollupStore(mock)
	rollups, err := store.RefreshDaily(context.Background())
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	assert.Equal(t, "org1", rollups[0].OrgID)
	assert.Equal(t, "2026-03-01", rollups[0].Day)
	assert.Equal(t, int64(3), rollups[0].Plays)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRecordBatch(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO import_batches").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	repo := NewPostgresBatchRepo(mock)
	err = repo.RecordBatch(context.Background(), &models.ImportBatch{
		ID:         "batch-1",
		OrgID:      "org1",
		Format:     "csv",
		Parsed:     2,
		Inserted:   2,
		ReceivedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
