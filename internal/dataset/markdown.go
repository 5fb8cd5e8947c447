package dataset

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/sells-group/vqa-filter/internal/model"
)

const (
	maxCellChars   = 200
	minImageBase64 = 100
)

// MarkdownOptions controls WriteMarkdown.
type MarkdownOptions struct {
	Title string
	// MaxRecords caps the number of records rendered; 0 renders all.
	MaxRecords int
	// Images renders base64 payloads as inline <img> tags instead of a
	// length placeholder.
	Images bool
}

// WriteMarkdown renders one Field/Value table per record.
func WriteMarkdown(w io.Writer, records []model.Record, opts MarkdownOptions) error {
	title := opts.Title
	if title == "" {
		title = "Results"
	}
	shown := records
	if opts.MaxRecords > 0 && opts.MaxRecords < len(shown) {
		shown = shown[:opts.MaxRecords]
	}

	if _, err := fmt.Fprintf(w, "# %s\n\nShowing %d of %d records.\n\n", title, len(shown), len(records)); err != nil {
		return err
	}

	for i, rec := range shown {
		heading := fmt.Sprintf("Record %d", i+1)
		if id := rec.ID(); id != "" {
			heading += " (" + id + ")"
		}
		if _, err := fmt.Fprintf(w, "## %s\n\n", heading); err != nil {
			return err
		}

		table := NewTable(w, []string{"Field", "Value"})
		for _, k := range rec.Fields.Keys() {
			v, _ := rec.Fields.Get(k)
			_ = table.Append([]string{escapeCell(k), markdownValue(v, opts.Images)})
		}
		_ = table.Render()

		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
	}
	return nil
}

// NewTable returns a left-aligned markdown table writer.
func NewTable(w io.Writer, headers []string) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{
				Left:   tw.On,
				Top:    tw.Off,
				Right:  tw.On,
				Bottom: tw.Off,
			},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

func markdownValue(v any, images bool) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		if IsImagePayload(t) {
			if images {
				return fmt.Sprintf(`<img src="%s" style="max-width: 500px;">`, imageDataURL(t))
			}
			return fmt.Sprintf("<image %d chars>", len(t))
		}
		return escapeCell(truncate(t))
	case json.Number:
		return t.String()
	case bool, float64, int:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return escapeCell(truncate(fmt.Sprint(t)))
		}
		return escapeCell(truncate(string(b)))
	}
}

// IsImagePayload reports whether s is an inline image: an image data URI,
// or raw base64 longer than 100 characters that decodes.
func IsImagePayload(s string) bool {
	if strings.HasPrefix(s, "data:image/") {
		return true
	}
	if len(s) <= minImageBase64 || strings.ContainsAny(s, " \n\t") {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}

func imageDataURL(s string) string {
	if strings.HasPrefix(s, "data:") {
		return s
	}
	mime := "image/jpeg"
	switch {
	case strings.HasPrefix(s, "iVBOR"):
		mime = "image/png"
	case strings.HasPrefix(s, "R0lGOD"):
		mime = "image/gif"
	case strings.HasPrefix(s, "UklGR"):
		mime = "image/webp"
	}
	return "data:" + mime + ";base64," + s
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxCellChars {
		return s
	}
	return string(r[:maxCellChars]) + "..."
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r\n", "<br>")
	return strings.ReplaceAll(s, "\n", "<br>")
}
