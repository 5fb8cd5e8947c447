package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/vqa-filter/internal/dataset"
	"github.com/sells-group/vqa-filter/internal/model"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <input>...",
	Short: "Concatenate several result files into one JSON array",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("local"); err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("output")
		if out == "" {
			return eris.New("merge: --output is required")
		}

		inputs := make([][]model.Record, 0, len(args))
		for _, ref := range args {
			records, err := loadRecords(cmd.Context(), ref)
			if err != nil {
				return err
			}
			inputs = append(inputs, records)
		}
		merged := dataset.Merge(inputs...)
		if err := writeRecords(out, merged); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(os.Stdout, "merged %d files, %d records -> %s\n", len(args), len(merged), out)
		return nil
	},
}

func init() {
	mergeCmd.Flags().StringP("output", "o", "", "merged output file")
	rootCmd.AddCommand(mergeCmd)
}
