package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kioskly/popserver/internal/models"
)

// Format identifies the parse strategy chosen for a batch.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
	FormatJSON Format = "json"
)

// ErrBatchParse is returned when no parse strategy applies to a payload.
// It is fatal to the whole batch; nothing is written.
var ErrBatchParse = errors.New("report: unparseable batch payload")

// jsonEnvelope is the expected shape of a JSON report payload.
type jsonEnvelope struct {
	Records []map[string]json.RawMessage `json:"records"`
}

var (
	trPattern   = regexp.MustCompile(`(?is)<tr[^>]*>.*?</tr>`)
	cellPattern = regexp.MustCompile(`(?is)<t[dh][^>]*>.*?</t[dh]>`)
	tagPattern  = regexp.MustCompile(`<[^>]+>`)
)

// DetectFormat picks a parse strategy from the content-type hint and, when
// that is absent or unrecognized, the body prefix.
func DetectFormat(contentType, body string) Format {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "text/csv"):
		return FormatCSV
	case strings.Contains(ct, "text/html"):
		return FormatHTML
	}

	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "Report Date") || strings.Contains(body, ",Device") {
		return FormatCSV
	}
	if strings.Contains(body, "<table") {
		return FormatHTML
	}
	return FormatJSON
}

// Parse sniffs the payload format and returns the raw rows in input order.
// Malformed CSV rows (column count mismatch) are emitted as best-effort
// partial rows; validation happens downstream in the extractor.
func Parse(contentType, body string) ([]models.RawRow, Format, error) {
	if strings.TrimSpace(body) == "" {
		return nil, "", ErrBatchParse
	}

	format := DetectFormat(contentType, body)

	var (
		rows []models.RawRow
		err  error
	)
	switch format {
	case FormatCSV:
		rows = parseCSV(body)
	case FormatHTML:
		rows = parseHTMLTable(body)
	case FormatJSON:
		rows, err = parseJSON(body)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrBatchParse, err)
	}
	return rows, format, nil
}

// parseCSV splits on line breaks with the first line as headers. Cells are
// split on commas by a minimal quoted-field state machine: a double quote
// toggles an in-quote flag and commas inside quotes are not separators.
// Embedded-quote escaping beyond toggling is not supported.
func parseCSV(text string) []models.RawRow {
	lines := strings.Split(strings.ReplaceAll(strings.TrimSpace(text), "\r\n", "\n"), "\n")
	if len(lines) == 0 {
		return nil
	}

	headers := make([]string, 0)
	for _, h := range strings.Split(lines[0], ",") {
		headers = append(headers, stripQuotes(strings.TrimSpace(h)))
	}

	rows := make([]models.RawRow, 0, len(lines)-1)
	for _, line := range lines[1:] {
		cells := splitCSVLine(line)
		row := make(models.RawRow, len(headers))
		for i, h := range headers {
			cell := ""
			if i < len(cells) {
				cell = cells[i]
			}
			row[h] = stripQuotes(strings.TrimSpace(cell))
		}
		rows = append(rows, row)
	}
	return rows
}

func splitCSVLine(line string) []string {
	var (
		cells    []string
		current  strings.Builder
		inQuotes bool
	)
	for _, c := range line {
		switch {
		case c == '"':
			inQuotes = !inQuotes
		case c == ',' && !inQuotes:
			cells = append(cells, current.String())
			current.Reset()
		default:
			current.WriteRune(c)
		}
	}
	cells = append(cells, current.String())
	return cells
}

func stripQuotes(s string) string {
	s = strings.TrimPrefix(s, `"`)
	return strings.TrimSuffix(s, `"`)
}

// parseHTMLTable extracts <tr> blocks, strips tags from each cell and treats
// the first row as headers.
func parseHTMLTable(html string) []models.RawRow {
	trs := trPattern.FindAllString(html, -1)
	table := make([][]string, 0, len(trs))
	for _, tr := range trs {
		var cells []string
		for _, cell := range cellPattern.FindAllString(tr, -1) {
			cells = append(cells, cellText(cell))
		}
		table = append(table, cells)
	}
	if len(table) == 0 {
		return nil
	}

	headers := table[0]
	rows := make([]models.RawRow, 0, len(table)-1)
	for _, cells := range table[1:] {
		row := make(models.RawRow, len(headers))
		for i, h := range headers {
			if i < len(cells) {
				row[h] = cells[i]
			} else {
				row[h] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func cellText(s string) string {
	s = tagPattern.ReplaceAllString(s, "")
	return strings.Join(strings.Fields(s), " ")
}

// parseJSON expects a top-level {records:[...]} envelope of flat objects.
// Scalar values are stringified so JSON rows flow through the same extractor
// as CSV and HTML rows.
func parseJSON(body string) ([]models.RawRow, error) {
	var env jsonEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return nil, err
	}

	rows := make([]models.RawRow, 0, len(env.Records))
	for _, rec := range env.Records {
		row := make(models.RawRow, len(rec))
		for k, v := range rec {
			row[k] = rawValueString(v)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func rawValueString(v json.RawMessage) string {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	// numbers, booleans: keep literal text; null: empty
	text := strings.TrimSpace(string(v))
	if text == "null" {
		return ""
	}
	return text
}
