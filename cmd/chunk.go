package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sells-group/vqa-filter/internal/dataset"
)

var chunkCmd = &cobra.Command{
	Use:   "chunk <input>",
	Short: "Split a JSON array into fixed-size files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("local"); err != nil {
			return err
		}
		size, _ := cmd.Flags().GetInt("size")
		prefix, _ := cmd.Flags().GetString("prefix")
		if prefix == "" {
			prefix = strings.TrimSuffix(siblingPath(args[0], ""), ".json")
		}

		records, err := loadRecords(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		chunks, err := dataset.Chunk(records, size)
		if err != nil {
			return err
		}
		if dir := filepath.Dir(prefix); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return err
			}
		}
		for i, c := range chunks {
			if err := writeRecords(dataset.ChunkName(prefix, i, len(chunks)), c); err != nil {
				return err
			}
		}
		_, _ = fmt.Fprintf(os.Stdout, "wrote %d chunks of up to %d records\n", len(chunks), size)
		return nil
	},
}

func init() {
	chunkCmd.Flags().Int("size", 1000, "records per chunk")
	chunkCmd.Flags().String("prefix", "", "output path prefix (default <input> without extension)")
	rootCmd.AddCommand(chunkCmd)
}
