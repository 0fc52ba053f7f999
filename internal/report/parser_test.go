package report

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        Format
	}{
		{"csv content type", "text/csv; charset=utf-8", "{}", FormatCSV},
		{"html content type", "text/html", "{}", FormatHTML},
		{"report date prefix", "", "Report Date,Device Name\n", FormatCSV},
		{"device column sniff", "application/octet-stream", "Foo,Device Name\n", FormatCSV},
		{"table sniff", "", "<html><table><tr></tr></table></html>", FormatHTML},
		{"json fallback", "", `{"records":[]}`, FormatJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectFormat(tt.contentType, tt.body))
		})
	}
}

func TestParseCSV(t *testing.T) {
	body := "Device Name,Asset Name,Duration\r\n" +
		"Lobby Screen,\"Spring, Promo\",15\r\n" +
		"Cafe Screen,Menu Loop,30\r\n"

	rows, format, err := Parse("text/csv", body)
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, format)
	require.Len(t, rows, 2)

	assert.Equal(t, "Lobby Screen", rows[0]["Device Name"])
	assert.Equal(t, "Spring, Promo", rows[0]["Asset Name"])
	assert.Equal(t, "15", rows[0]["Duration"])
	assert.Equal(t, "Cafe Screen", rows[1]["Device Name"])
}

func TestParseCSVShortRow(t *testing.T) {
	body := "Device Name,Asset Name,Duration\nLobby Screen,Promo\n"

	rows, _, err := Parse("text/csv", body)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Promo", rows[0]["Asset Name"])
	assert.Equal(t, "", rows[0]["Duration"])
}

func TestParseHTMLTable(t *testing.T) {
	body := `<html><body><table>
		<tr><th>Device Name</th><th>Asset Name</th><th>Duration</th></tr>
		<tr><td>Lobby <b>Screen</b></td><td>Promo</td><td>15</td></tr>
	</table></body></html>`

	rows, format, err := Parse("text/html", body)
	require.NoError(t, err)
	assert.Equal(t, FormatHTML, format)
	require.Len(t, rows, 1)

	assert.Equal(t, "Lobby Screen", rows[0]["Device Name"])
	assert.Equal(t, "Promo", rows[0]["Asset Name"])
	assert.Equal(t, "15", rows[0]["Duration"])
}

func TestParseJSON(t *testing.T) {
	body := `{"records":[
		{"Device Name":"Lobby","Asset Name":"Promo","Duration":15,"Campaign":null}
	]}`

	rows, format, err := Parse("application/json", body)
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, format)
	require.Len(t, rows, 1)

	assert.Equal(t, "Lobby", rows[0]["Device Name"])
	assert.Equal(t, "15", rows[0]["Duration"], "numbers keep their literal text")
	assert.Equal(t, "", rows[0]["Campaign"], "null becomes empty")
}

func TestParseErrors(t *testing.T) {
	_, _, err := Parse("", "   ")
	assert.ErrorIs(t, err, ErrBatchParse)

	_, _, err = Parse("application/json", "not json at all")
	assert.ErrorIs(t, err, ErrBatchParse)
}

func TestFormatEquivalence(t *testing.T) {
	// The same logical report through CSV, HTML, and JSON must produce the
	// same raw rows.
	csvBody := "Device Name,Asset Name,Duration\nLobby,Promo,15\n"
	htmlBody := `<table><tr><th>Device Name</th><th>Asset Name</th><th>Duration</th></tr>` +
		`<tr><td>Lobby</td><td>Promo</td><td>15</td></tr></table>`
	jsonBody := `{"records":[{"Device Name":"Lobby","Asset Name":"Promo","Duration":"15"}]}`

	csvRows, _, err := Parse("text/csv", csvBody)
	require.NoError(t, err)
	htmlRows, _, err := Parse("text/html", htmlBody)
	require.NoError(t, err)
	jsonRows, _, err := Parse("application/json", jsonBody)
	require.NoError(t, err)

	assert.Equal(t, csvRows, htmlRows)
	assert.Equal(t, csvRows, jsonRows)
}
