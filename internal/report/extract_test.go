package report

import (
	"testing"

	"github.com/kioskly/popserver/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAliases(t *testing.T) {
	rec, err := Extract(models.RawRow{
		"Screen Name": "Lobby Screen",
		"Media":       "Spring Promo",
		"Start Time":  "2026-03-01T10:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "Lobby Screen", rec.DeviceName)
	assert.Equal(t, "Spring Promo", rec.AssetName)
	assert.Equal(t, "2026-03-01T10:00:00Z", rec.StartTime)
}

func TestExtractAliasOrder(t *testing.T) {
	// "Device Name" wins over "Screen Name" when both are present.
	rec, err := Extract(models.RawRow{
		"Device Name": "Primary",
		"Screen Name": "Secondary",
		"Asset Name":  "Promo",
		"Start Time":  "2026-03-01T10:00:00Z",
	})
	require.NoError(t, err)
	assert.Equal(t, "Primary", rec.DeviceName)
}

func TestExtractDuration(t *testing.T) {
	tests := []struct {
		name string
		row  models.RawRow
		want *int
	}{
		{"plain seconds", models.RawRow{"Duration": "15"}, intPtr(15)},
		{"unit suffix stripped", models.RawRow{"Duration": "30 sec"}, intPtr(30)},
		{"duration sec column", models.RawRow{"Duration (sec)": "12"}, intPtr(12)},
		{"no digits", models.RawRow{"Duration": "n/a"}, nil},
		{"absent", models.RawRow{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := models.RawRow{
				"Device Name": "Lobby",
				"Asset Name":  "Promo",
				"Start Time":  "2026-03-01T10:00:00Z",
			}
			for k, v := range tt.row {
				row[k] = v
			}
			rec, err := Extract(row)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.DurationSec)
		})
	}
}

func TestExtractDropRules(t *testing.T) {
	_, err := Extract(models.RawRow{
		"Asset Name": "Promo",
		"Start Time": "2026-03-01T10:00:00Z",
	})
	assert.ErrorIs(t, err, ErrNoDeviceIdentity)

	_, err = Extract(models.RawRow{
		"Device Name": "Lobby",
		"Start Time":  "2026-03-01T10:00:00Z",
	})
	assert.ErrorIs(t, err, ErrNoAssetName)

	_, err = Extract(models.RawRow{
		"Device Name": "Lobby",
		"Asset Name":  "Promo",
	})
	assert.ErrorIs(t, err, ErrNoTimeOrDuration)
}

func TestExtractDurationAloneSatisfiesTiming(t *testing.T) {
	rec, err := Extract(models.RawRow{
		"Device ID":  "dev-42",
		"Asset Name": "Promo",
		"Duration":   "20",
	})
	require.NoError(t, err)
	assert.Equal(t, "dev-42", rec.DeviceID)
	assert.Equal(t, 20, *rec.DurationSec)
}

func intPtr(n int) *int { return &n }
