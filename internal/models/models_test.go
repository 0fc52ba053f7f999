package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeAssetKey(t *testing.T) {
	dur := 30

	tests := []struct {
		name            string
		assetName       string
		providerAssetID string
		durationSec     *int
		want            string
	}{
		{"all parts", "Spring Promo", "abc-1", &dur, "spring promo|abc-1|30"},
		{"missing parts dash out", "Spring Promo", "", nil, "spring promo|-|-"},
		{"whitespace collapsed", "  Spring \t  Promo ", "", &dur, "spring promo|-|30"},
		{"case folded", "SPRING PROMO", "", nil, "spring promo|-|-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeAssetKey(tt.assetName, tt.providerAssetID, tt.durationSec))
		})
	}
}

func TestComputeAssetKeyStability(t *testing.T) {
	// Name variants that only differ in spacing or case must dedup to the
	// same creative across re-imports.
	d := 15
	a := ComputeAssetKey("Menu  Loop", "", &d)
	b := ComputeAssetKey(" menu loop ", "", &d)
	assert.Equal(t, a, b)

	c := ComputeAssetKey("menu loop", "", nil)
	assert.NotEqual(t, a, c, "duration is part of the identity")
}

func TestHasDeviceIdentity(t *testing.T) {
	assert.False(t, (&NormalizedRecord{}).HasDeviceIdentity())
	assert.True(t, (&NormalizedRecord{DeviceName: "Lobby"}).HasDeviceIdentity())
	assert.True(t, (&NormalizedRecord{DeviceID: "dev-1"}).HasDeviceIdentity())
}
