package report

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/kioskly/popserver/internal/models"
)

// Extraction drop reasons. Each maps to one of the required-field checks;
// a row failing any of them never reaches the resolver.
var (
	ErrNoDeviceIdentity = errors.New("report: row has no device name or id")
	ErrNoAssetName      = errors.New("report: row has no asset name")
	ErrNoTimeOrDuration = errors.New("report: row has neither start time nor duration")
)

// Header aliases per canonical field, probed in order. Providers name the
// same column differently across export formats.
var (
	deviceNameAliases = []string{"Device Name", "Screen Name", "Device", "Device Name/ID", "Device Name / ID", "Device Name /ID"}
	deviceIDAliases   = []string{"Device ID", "Device Name/ID", "Device ID/UUID"}
	assetNameAliases  = []string{"Asset Name", "Media", "Asset"}
	assetIDAliases    = []string{"Provider Asset ID"}
	campaignAliases   = []string{"Campaign", "Playlist", "Campaign/Playlist"}
	startTimeAliases  = []string{"Start Time", "Start Time UTC", "Start"}
	endTimeAliases    = []string{"End Time", "End Time UTC"}
	eventIDAliases    = []string{"Event ID", "Event", "ID"}
	timezoneAliases   = []string{"Report TZ", "Timezone"}
)

var nonDigits = regexp.MustCompile(`[^0-9]`)

// Extract maps a raw provider row onto a NormalizedRecord, probing header
// aliases for each canonical field. It returns one of the Err* drop reasons
// when a required field is missing.
func Extract(row models.RawRow) (*models.NormalizedRecord, error) {
	rec := &models.NormalizedRecord{
		DeviceName:      probe(row, deviceNameAliases),
		DeviceID:        probe(row, deviceIDAliases),
		AssetName:       probe(row, assetNameAliases),
		ProviderAssetID: probe(row, assetIDAliases),
		CampaignName:    probe(row, campaignAliases),
		StartTime:       probe(row, startTimeAliases),
		EndTime:         probe(row, endTimeAliases),
		ProviderEventID: probe(row, eventIDAliases),
		ReportTimezone:  probe(row, timezoneAliases),
		DurationSec:     parseDuration(row),
	}

	if !rec.HasDeviceIdentity() {
		return nil, ErrNoDeviceIdentity
	}
	if rec.AssetName == "" {
		return nil, ErrNoAssetName
	}
	if rec.StartTime == "" && rec.DurationSec == nil {
		return nil, ErrNoTimeOrDuration
	}
	return rec, nil
}

func probe(row models.RawRow, aliases []string) string {
	for _, a := range aliases {
		if v := strings.TrimSpace(row[a]); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration strips non-digit characters before integer parsing, which
// handles "15 sec" style values. Colon-delimited timecodes ("00:01:30")
// mis-parse under this scheme; the digits concatenate.
func parseDuration(row models.RawRow) *int {
	if v := strings.TrimSpace(row["Duration"]); v != "" {
		digits := nonDigits.ReplaceAllString(v, "")
		if n, err := strconv.Atoi(digits); err == nil {
			return &n
		}
		return nil
	}
	if v := strings.TrimSpace(row["Duration (sec)"]); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return &n
		}
	}
	return nil
}
