// Package decoder normalizes tool-call payloads into records.
//
// Payloads arrive either as a JSON object or as a markdown-like text report
// whose "# Results" section holds a pipe-delimited table.
package decoder

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/ternarybob/vigil/internal/models"
)

const (
	headerMarker   = "#"
	resultsSection = "# Results"
	cellDelimiter  = "|"
)

var (
	queryURLPattern = regexp.MustCompile(`query_url:\s*"([^"]+)"`)
	queryPKPattern  = regexp.MustCompile(`query_run_pk:\s*(\S+)`)
)

// DecodeError reports a payload that is not usable. It is never worth retrying.
type DecodeError struct {
	Message string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return "decode: " + e.Message + ": " + e.Err.Error()
	}
	return "decode: " + e.Message
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Retryable is false: the same payload will fail the same way
func (e *DecodeError) Retryable() bool { return false }

// Decode classifies the payload and returns its records and diagnostic metadata.
// Tabular text never fails; JSON fails on parse errors or an explicit failure flag.
func Decode(payload string) (*models.QueryOutcome, error) {
	trimmed := strings.TrimSpace(payload)
	if strings.HasPrefix(trimmed, headerMarker) {
		return DecodeTable(trimmed), nil
	}
	return DecodeJSON(trimmed)
}

// DecodeJSON parses {success, results|data|data.rows, query_url, query_pk, error}
func DecodeJSON(payload string) (*models.QueryOutcome, error) {
	if !gjson.Valid(payload) {
		return nil, &DecodeError{Message: "payload is neither a results table nor valid JSON"}
	}

	doc := gjson.Parse(payload)
	if !doc.IsObject() {
		return nil, &DecodeError{Message: "JSON payload is not an object"}
	}

	if success := doc.Get("success"); success.Exists() && success.Type == gjson.False {
		msg := doc.Get("error").String()
		if msg == "" {
			msg = "unknown error"
		}
		return nil, &DecodeError{Message: msg}
	}

	outcome := &models.QueryOutcome{
		Records:  []models.Record{},
		QueryURL: doc.Get("query_url").String(),
		QueryID:  doc.Get("query_pk").String(),
	}

	rows := doc.Get("results")
	if !rows.IsArray() {
		rows = doc.Get("data")
		if !rows.IsArray() {
			rows = doc.Get("data.rows")
		}
	}
	if !rows.IsArray() {
		return outcome, nil
	}

	rows.ForEach(func(_, row gjson.Result) bool {
		if !row.IsObject() {
			return true
		}
		record := models.Record{}
		row.ForEach(func(key, value gjson.Result) bool {
			record[key.String()] = jsonValue(value)
			return true
		})
		outcome.Records = append(outcome.Records, record)
		return true
	})

	return outcome, nil
}

func jsonValue(v gjson.Result) interface{} {
	switch v.Type {
	case gjson.Null:
		return nil
	case gjson.Number:
		return numberOrText(v.Raw)
	case gjson.String:
		return v.String()
	case gjson.True, gjson.False:
		return v.Bool()
	default:
		return v.Raw
	}
}

// DecodeTable scans a text report. Only rows inside the "# Results" section
// are read; metadata lines outside it supply the query URL and run id.
func DecodeTable(payload string) *models.QueryOutcome {
	outcome := &models.QueryOutcome{Records: []models.Record{}}

	var headers []string
	inResults := false

	for _, raw := range strings.Split(payload, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, headerMarker) {
			inResults = line == resultsSection
			continue
		}

		if !inResults {
			if outcome.QueryURL == "" {
				if m := queryURLPattern.FindStringSubmatch(line); m != nil {
					outcome.QueryURL = m[1]
				}
			}
			if outcome.QueryID == "" {
				if m := queryPKPattern.FindStringSubmatch(line); m != nil {
					outcome.QueryID = m[1]
				}
			}
			continue
		}

		if !strings.HasPrefix(line, cellDelimiter) {
			continue
		}

		cells := splitRow(line)
		if isSeparatorRow(cells) {
			continue
		}

		if headers == nil {
			headers = cells
			continue
		}

		record := make(models.Record, len(headers))
		for i, header := range headers {
			if i < len(cells) {
				record[header] = cellValue(cells[i])
			} else {
				record[header] = nil
			}
		}
		outcome.Records = append(outcome.Records, record)
	}

	return outcome
}

// splitRow splits "| a | b |" into ["a", "b"], keeping interior empty cells
func splitRow(line string) []string {
	parts := strings.Split(line, cellDelimiter)
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if len(parts) > 0 && parts[0] == "" {
		parts = parts[1:]
	}
	if len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// isSeparatorRow reports a header/body divider such as |---|:---:|
func isSeparatorRow(cells []string) bool {
	if len(cells) == 0 {
		return true
	}
	for _, cell := range cells {
		if cell == "" || strings.Trim(cell, "-:") != "" || !strings.Contains(cell, "-") {
			return false
		}
	}
	return true
}

func cellValue(cell string) interface{} {
	if cell == "" {
		return nil
	}
	return numberOrText(cell)
}

// numberOrText returns raw as float64 only when formatting the number gives
// raw back, so ids such as "007" or 20-digit slugs keep their exact text.
// Record.Number still parses the text forms.
func numberOrText(raw string) interface{} {
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsInf(n, 0) || math.IsNaN(n) {
		return raw
	}
	if strconv.FormatFloat(n, 'f', -1, 64) != raw {
		return raw
	}
	return n
}
