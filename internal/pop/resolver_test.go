package pop

import (
	"context"
	"errors"
	"testing"

	"github.com/kioskly/popserver/internal/models"
	"github.com/kioskly/popserver/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// externalIDFailingKiosks rejects the external-id tier, as a name-unique
// collision in Postgres would, while the name tier keeps working.
type externalIDFailingKiosks struct {
	*storage.MemoryStore
}

func (k *externalIDFailingKiosks) UpsertKioskByExternalID(ctx context.Context, orgID, provider, externalID, name string) (*models.Kiosk, error) {
	return nil, errors.New("duplicate key value violates unique constraint")
}

// brokenKiosks fails both tiers.
type brokenKiosks struct {
	*storage.MemoryStore
}

func (k *brokenKiosks) UpsertKioskByExternalID(ctx context.Context, orgID, provider, externalID, name string) (*models.Kiosk, error) {
	return nil, errors.New("connection refused")
}

func (k *brokenKiosks) UpsertKioskByName(ctx context.Context, orgID, provider, name string) (*models.Kiosk, error) {
	return nil, errors.New("connection refused")
}

func TestResolveKioskTwoTier(t *testing.T) {
	mem := storage.NewMemoryStore()
	r := NewResolver(mem, mem, mem, "optisigns")

	// With an external id the first tier wins.
	res, err := r.ResolveKiosk(context.Background(), "org1", &models.NormalizedRecord{
		DeviceName: "Lobby", DeviceID: "ext-1",
	})
	require.NoError(t, err)
	assert.Equal(t, ResolvedByExternalID, res.Method)

	// Without one the name tier takes over.
	res, err = r.ResolveKiosk(context.Background(), "org1", &models.NormalizedRecord{
		DeviceName: "Cafe",
	})
	require.NoError(t, err)
	assert.Equal(t, ResolvedByName, res.Method)
}

func TestResolveKioskFallsBackWhenExternalIDTierErrors(t *testing.T) {
	mem := storage.NewMemoryStore()
	r := NewResolver(&externalIDFailingKiosks{mem}, mem, mem, "optisigns")

	res, err := r.ResolveKiosk(context.Background(), "org1", &models.NormalizedRecord{
		DeviceName: "Lobby", DeviceID: "ext-1",
	})
	require.NoError(t, err)
	require.True(t, res.Resolved())
	assert.Equal(t, ResolvedByName, res.Method)
	assert.Equal(t, "Lobby", res.Kiosk.Name)
}

func TestResolveKioskBothTiersFail(t *testing.T) {
	mem := storage.NewMemoryStore()
	r := NewResolver(&brokenKiosks{mem}, mem, mem, "optisigns")

	res, err := r.ResolveKiosk(context.Background(), "org1", &models.NormalizedRecord{
		DeviceName: "Lobby", DeviceID: "ext-1",
	})
	assert.Error(t, err)
	assert.False(t, res.Resolved())
}

func TestResolveKioskNameFallsBackToDeviceID(t *testing.T) {
	mem := storage.NewMemoryStore()
	r := NewResolver(&externalIDFailingKiosks{mem}, mem, mem, "optisigns")

	res, err := r.ResolveKiosk(context.Background(), "org1", &models.NormalizedRecord{
		DeviceID: "ext-9",
	})
	require.NoError(t, err)
	require.True(t, res.Resolved())
	assert.Equal(t, "ext-9", res.Kiosk.Name)
}
