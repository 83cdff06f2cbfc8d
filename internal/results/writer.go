// Package results serializes ensemble result tables and reads parameter
// sample tables back in.
package results

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"mtf-ensembles/internal/ensemble"
)

// WriteCSV writes the table as CSV with a header row in Columns order.
func WriteCSV(w io.Writer, t *ensemble.ResultTable) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns()); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for i := range t.Rows {
		if err := cw.Write(t.Record(i)); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Line is the JSONL representation of one row. Vectors are keyed by
// parameter and channel name.
type Line struct {
	RunID         string                       `json:"run_id"`
	Index         int                          `json:"index"`
	Label         string                       `json:"label,omitempty"`
	ScanParameter string                       `json:"scan_parameter,omitempty"`
	ScanValue     *float64                     `json:"scan_value,omitempty"`
	Generation    map[string]float64           `json:"generation,omitempty"`
	Estimates     map[string]ensemble.Estimate `json:"estimates"`
	ChannelEvents map[string]float64           `json:"channel_events"`
	LogLikelihood float64                      `json:"log_likelihood"`
	PValue        float64                      `json:"p_value"`
	Status        ensemble.FitStatus           `json:"status"`
	Mode          ensemble.FitMode             `json:"mode"`
	Valid         bool                         `json:"valid"`
}

// Lines converts the table rows into named JSONL lines.
func Lines(t *ensemble.ResultTable) []Line {
	out := make([]Line, len(t.Rows))
	for i, r := range t.Rows {
		l := Line{
			RunID:         t.RunID,
			Index:         r.Index,
			Label:         r.Label,
			Estimates:     make(map[string]ensemble.Estimate, len(t.ParameterNames)),
			ChannelEvents: make(map[string]float64, len(t.ChannelNames)),
			LogLikelihood: r.LogLikelihood,
			PValue:        r.PValue,
			Status:        r.Status,
			Mode:          r.Mode,
			Valid:         r.Valid,
		}
		if r.HasScan {
			v := r.ScanValue
			l.ScanParameter = t.ScanParameter
			l.ScanValue = &v
		}
		if len(r.Generation) > 0 {
			l.Generation = make(map[string]float64, len(t.ParameterNames))
		}
		for j, name := range t.ParameterNames {
			if j < len(r.Generation) {
				l.Generation[name] = r.Generation[j]
			}
			if j < len(r.Estimates) {
				l.Estimates[name] = r.Estimates[j]
			}
		}
		for j, name := range t.ChannelNames {
			if j < len(r.ChannelEvents) {
				l.ChannelEvents[name] = r.ChannelEvents[j]
			}
		}
		out[i] = l
	}
	return out
}

// WriteJSONL writes one JSON object per row.
func WriteJSONL(w io.Writer, t *ensemble.ResultTable) error {
	enc := json.NewEncoder(w)
	for _, l := range Lines(t) {
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("failed to encode row %d: %w", l.Index, err)
		}
	}
	return nil
}

// WriteJSON writes the whole table as one indented document.
func WriteJSON(w io.Writer, t *ensemble.ResultTable) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(t)
}

// Format is a serialization of a result table.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
	FormatJSON  Format = "json"
)

// FormatFromPath derives the format from the file extension, defaulting to CSV.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jsonl":
		return FormatJSONL
	case ".json":
		return FormatJSON
	default:
		return FormatCSV
	}
}

// Write serializes t in the given format.
func Write(w io.Writer, t *ensemble.ResultTable, format Format) error {
	switch format {
	case FormatJSONL:
		return WriteJSONL(w, t)
	case FormatJSON:
		return WriteJSON(w, t)
	case FormatCSV:
		return WriteCSV(w, t)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// SaveTable writes t to path, choosing the format from the extension.
// The file is written to a temporary sibling first and renamed into
// place, so readers never observe a partial table.
func SaveTable(path string, t *ensemble.ResultTable) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	tmpPath := path + ".tmp"
	file, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp output file: %w", err)
	}

	writer := bufio.NewWriter(file)
	if err := Write(writer, t, FormatFromPath(path)); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := writer.Flush(); err != nil {
		file.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to flush writer: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename output file: %w", err)
	}

	log.Info().Str("path", path).Int("rows", t.Len()).Int("valid", t.ValidCount()).Msg("Result table saved")
	return nil
}
