package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vqa-filter/internal/dataset"
	"github.com/sells-group/vqa-filter/internal/model"
)

var exportCmd = &cobra.Command{
	Use:   "export <input>",
	Short: "Render a JSON array as a markdown report or XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("local"); err != nil {
			return err
		}
		format, _ := cmd.Flags().GetString("format")
		out, _ := cmd.Flags().GetString("output")
		maxRecords, _ := cmd.Flags().GetInt("max-records")
		images, _ := cmd.Flags().GetBool("images")
		title, _ := cmd.Flags().GetString("title")

		format = strings.ToLower(format)
		ext := map[string]string{"md": ".md", "markdown": ".md", "xlsx": ".xlsx"}[format]
		if ext == "" {
			return eris.Errorf("export: unknown format %q (want md or xlsx)", format)
		}
		if out == "" {
			out = strings.TrimSuffix(siblingPath(args[0], ""), ".json") + ext
		}

		records, err := loadRecords(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if maxRecords > 0 && len(records) > maxRecords && ext == ".xlsx" {
			records = records[:maxRecords]
		}

		if ext == ".xlsx" {
			if err := dataset.WriteXLSX(out, records); err != nil {
				return err
			}
		} else if err := writeMarkdownFile(out, records, dataset.MarkdownOptions{
			Title:      title,
			MaxRecords: maxRecords,
			Images:     images,
		}); err != nil {
			return err
		}

		_, _ = fmt.Fprintf(os.Stdout, "exported %d records -> %s\n", len(records), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("format", "md", "output format: md or xlsx")
	exportCmd.Flags().StringP("output", "o", "", "output file (default <input>.md or .xlsx)")
	exportCmd.Flags().Int("max-records", 0, "maximum records to export (0 = all)")
	exportCmd.Flags().Bool("images", false, "render base64 images inline in markdown")
	exportCmd.Flags().String("title", "", "markdown report title")
	rootCmd.AddCommand(exportCmd)
}

func writeMarkdownFile(path string, records []model.Record, opts dataset.MarkdownOptions) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "export: create %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = eris.Wrapf(cerr, "export: close %s", path)
		}
	}()

	w := bufio.NewWriter(f)
	if err := dataset.WriteMarkdown(w, records, opts); err != nil {
		return eris.Wrap(err, "export: render markdown")
	}
	return eris.Wrap(w.Flush(), "export: flush")
}
