package search

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/neogan74/auditlens/internal/audit"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// CSVHeader is the fixed column order of CSV exports.
var CSVHeader = []string{"timestamp", "eventType", "severity", "status", "actor", "ipAddress", "message"}

// ParseFormat accepts json or csv; empty means json.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", &audit.ValidationError{Field: "format", Message: "format must be json or csv"}
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv; charset=utf-8"
	}
	return "application/json"
}

// Export writes every record matching f to w and returns how many were written.
func (s *Service) Export(ctx context.Context, f audit.Filter, format Format, w io.Writer) (int, error) {
	ctx, cancel := s.withBudget(ctx)
	defer cancel()

	var records []*audit.Record
	err := s.store.Scan(ctx, f, func(r *audit.Record) error {
		records = append(records, r)
		return nil
	})
	observe("export", err)
	if err != nil {
		return 0, fmt.Errorf("export failed: %w", err)
	}

	switch format {
	case FormatCSV:
		return len(records), WriteCSV(w, records)
	default:
		if records == nil {
			records = []*audit.Record{}
		}
		return len(records), json.NewEncoder(w).Encode(records)
	}
}

// WriteCSV writes a header row followed by one row per record.
func WriteCSV(w io.Writer, records []*audit.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.EventType,
			string(r.Severity),
			string(r.Status),
			r.Actor.DisplayName(),
			r.Origin(),
			r.Message,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
