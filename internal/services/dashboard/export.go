package dashboard

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/ternarybob/vigil/internal/models"
)

// utf8BOM lets spreadsheet tools detect the encoding
const utf8BOM = "\uFEFF"

var csvHeader = []string{"Slug ID", "Events", "Unique Users", "Avg Activity"}

// WriteCSV writes bots as CSV with a header row.
// Missing users or activity are written as empty cells.
func WriteCSV(w io.Writer, bots []models.BotInteraction) error {
	if _, err := io.WriteString(w, utf8BOM); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, b := range bots {
		row := []string{
			b.SlugID,
			strconv.FormatFloat(b.EventCount, 'f', -1, 64),
			"",
			"",
		}
		if b.UniqueUsers != nil {
			row[2] = strconv.FormatFloat(*b.UniqueUsers, 'f', -1, 64)
		}
		if b.AvgActivity != nil {
			row[3] = strconv.FormatFloat(*b.AvgActivity, 'f', 1, 64)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
