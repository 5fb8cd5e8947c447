// Package dataset reads input samples from JSON, JSONL, CSV and XLSX files
// and provides the offline tools that work on result files: split by score,
// sampling, chunking, merging and export.
package dataset

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vqa-filter/internal/fetcher"
	"github.com/sells-group/vqa-filter/internal/model"
)

// Format is an input file format.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatCSV   Format = "csv"
	FormatXLSX  Format = "xlsx"
)

// ParseFormat validates a user-supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatJSONL, FormatCSV, FormatXLSX:
		return f, nil
	case "ndjson":
		return FormatJSONL, nil
	default:
		return "", eris.Errorf("dataset: unknown format %q", s)
	}
}

// DetectFormat guesses the format from the file extension, defaulting to
// JSON.
func DetectFormat(ref string) Format {
	if i := strings.IndexAny(ref, "?#"); i >= 0 && fetcher.IsRemote(ref) {
		ref = ref[:i]
	}
	switch strings.ToLower(filepath.Ext(ref)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".csv":
		return FormatCSV
	case ".xlsx":
		return FormatXLSX
	default:
		return FormatJSON
	}
}

// Source opens dataset references. *fetcher.Multi satisfies it.
type Source interface {
	Download(ctx context.Context, ref string) (io.ReadCloser, error)
	DownloadToFile(ctx context.Context, ref, path string) (int64, error)
}

// LoadOptions controls Load.
type LoadOptions struct {
	// Format overrides extension-based detection.
	Format Format
	// Offset skips the first Offset records.
	Offset int
	// Limit caps the number of records returned; 0 means all.
	Limit int
	// Sheet selects an XLSX sheet by name; the first sheet otherwise.
	Sheet string
}

// Load reads every record from ref.
func Load(ctx context.Context, src Source, ref string, opts LoadOptions) ([]model.Record, error) {
	format := opts.Format
	if format == "" {
		format = DetectFormat(ref)
	}

	var (
		records []model.Record
		err     error
	)
	switch format {
	case FormatXLSX:
		records, err = loadXLSX(ctx, src, ref, opts.Sheet)
	default:
		records, err = loadStream(ctx, src, ref, format)
	}
	if err != nil {
		return nil, err
	}
	return window(records, opts.Offset, opts.Limit), nil
}

func loadStream(ctx context.Context, src Source, ref string, format Format) ([]model.Record, error) {
	body, err := src.Download(ctx, ref)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: open %s", ref)
	}
	defer body.Close() //nolint:errcheck

	switch format {
	case FormatJSONL:
		return ReadJSONL(ctx, body)
	case FormatCSV:
		return ReadCSV(ctx, body, CSVOptions{TrimSpace: true})
	default:
		return ReadJSON(ctx, body)
	}
}

func loadXLSX(ctx context.Context, src Source, ref, sheet string) ([]model.Record, error) {
	path := ref
	if fetcher.IsRemote(ref) {
		tmp, err := os.CreateTemp("", "vqa-dataset-*.xlsx")
		if err != nil {
			return nil, eris.Wrap(err, "dataset: create temp file")
		}
		path = tmp.Name()
		_ = tmp.Close()
		defer os.Remove(path) //nolint:errcheck

		if _, err := src.DownloadToFile(ctx, ref, path); err != nil {
			return nil, eris.Wrapf(err, "dataset: download %s", ref)
		}
	}
	return ReadXLSX(ctx, strings.TrimPrefix(path, "file://"), XLSXOptions{SheetName: sheet})
}

func window(records []model.Record, offset, limit int) []model.Record {
	if offset > 0 {
		if offset >= len(records) {
			return nil
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}

// rowsToRecords turns a header row plus data rows into records. Empty
// cells are omitted; duplicate header names get a numeric suffix.
func rowsToRecords(header []string, rows [][]string) []model.Record {
	keys := uniqueHeader(header)
	out := make([]model.Record, 0, len(rows))
	for _, row := range rows {
		f := model.NewFields()
		for i, key := range keys {
			if i < len(row) && row[i] != "" {
				f.Set(key, row[i])
			}
		}
		if f.Len() > 0 {
			out = append(out, model.NewRecord(f))
		}
	}
	return out
}

func uniqueHeader(header []string) []string {
	seen := make(map[string]int, len(header))
	keys := make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "column"
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = h + "_" + strconv.Itoa(n)
		}
		keys[i] = h
	}
	return keys
}
