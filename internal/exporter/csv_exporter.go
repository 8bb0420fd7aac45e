package exporter

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"tempo/internal/tracker"
)

// SchemaVersion identifies the CSV export format version.
// This version should be incremented when adding new columns or changing the format.
const SchemaVersion = "1"

// csvColumns defines the column order for export. Project names are resolved
// from the caller-supplied lookup so rows stay readable without a second query.
var csvColumns = []string{
	"schemaVersion",
	"id",
	"projectId",
	"projectName",
	"description",
	"startTime",
	"endTime",
	"durationSeconds",
	"tags",
}

// CSVExporter exports time entries to CSV format.
type CSVExporter struct{}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Export writes entries to the given writer in CSV format. projectNames maps
// a project ID string to its display name; unknown projects get an empty name.
func (e *CSVExporter) Export(w io.Writer, entries []tracker.TimeEntry, projectNames map[string]string) error {
	writer := csv.NewWriter(w)
	defer writer.Flush()

	if err := writer.Write(csvColumns); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, entry := range entries {
		row := e.entryToRow(entry, projectNames)
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	return writer.Error()
}

// entryToRow converts a time entry to a CSV row following the column order.
func (e *CSVExporter) entryToRow(entry tracker.TimeEntry, projectNames map[string]string) []string {
	row := make([]string, len(csvColumns))

	row[0] = SchemaVersion
	row[1] = entry.ID.String()
	row[2] = entry.ProjectID.String()
	row[3] = projectNames[entry.ProjectID.String()]
	row[4] = entry.Description
	row[5] = formatTime(entry.StartTime)
	row[6] = formatOptionalTime(entry.EndTime)
	row[7] = formatDurationSeconds(entry.Elapsed())
	row[8] = strings.Join(entry.Tags, ";")

	return row
}

// formatDurationSeconds renders a duration as whole seconds. Running entries
// report an empty value rather than a partial total.
func formatDurationSeconds(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return strconv.FormatInt(int64(d/time.Second), 10)
}

// formatOptionalTime formats an optional time pointer to RFC3339 string.
func formatOptionalTime(value *time.Time) string {
	if value == nil {
		return ""
	}
	return value.Format(time.RFC3339)
}

// formatTime formats a time to RFC3339 string.
func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.Format(time.RFC3339)
}
