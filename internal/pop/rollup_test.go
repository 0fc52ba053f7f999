package pop

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/kioskly/popserver/internal/models"
	"github.com/kioskly/popserver/internal/storage"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRollupRefreshMirrorsToRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	mem := storage.NewMemoryStore()
	dur := 15
	for i := 0; i < 3; i++ {
		err := mem.UpsertPlay(context.Background(), &models.Play{
			OrgID:       "org1",
			KioskID:     "k1",
			AssetID:     "a1",
			PlayedAt:    time.Date(2026, 3, 1, 10, i, 0, 0, time.UTC),
			DurationSec: &dur,
		})
		require.NoError(t, err)
	}

	svc := NewRollupService(mem, client, zap.NewNop(), nil)
	require.NoError(t, svc.Refresh(context.Background()))

	plays, err := mr.Get("stats:plays:org1:2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, "3", plays)

	playtime, err := mr.Get("stats:playtime:org1:2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, "45", playtime)

	screens, err := mr.Get("stats:screens:org1:2026-03-01")
	require.NoError(t, err)
	assert.Equal(t, "1", screens)

	assert.Equal(t, int64(3), svc.DailyPlays(context.Background(), "org1", "2026-03-01"))
}

func TestRollupRefreshWithoutRedis(t *testing.T) {
	mem := storage.NewMemoryStore()
	svc := NewRollupService(mem, nil, zap.NewNop(), nil)
	assert.NoError(t, svc.Refresh(context.Background()))
	assert.Zero(t, svc.DailyPlays(context.Background(), "org1", "2026-03-01"))
}
