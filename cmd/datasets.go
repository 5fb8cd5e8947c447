package main

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vqa-filter/internal/dataset"
	"github.com/sells-group/vqa-filter/internal/model"
	"github.com/sells-group/vqa-filter/internal/writer"
)

// loadRecords reads a local or remote dataset for the dataset tools.
func loadRecords(ctx context.Context, ref string) ([]model.Record, error) {
	records, err := dataset.Load(ctx, newFetcher(cfg), ref, dataset.LoadOptions{})
	if err != nil {
		return nil, eris.Wrapf(err, "load %s", ref)
	}
	return records, nil
}

// writeRecords replaces path with a JSON array of records.
func writeRecords(path string, records []model.Record) error {
	items := make([]any, len(records))
	for i, r := range records {
		items[i] = r
	}
	if err := writer.New(path).WriteAll(items); err != nil {
		return eris.Wrapf(err, "write %s", path)
	}
	zap.L().Info("records written", zap.String("path", path), zap.Int("records", len(records)))
	return nil
}

// siblingPath derives "dir/name<suffix>.json" from an input reference.
func siblingPath(input, suffix string) string {
	base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	if strings.Contains(input, "://") {
		return base + suffix + ".json"
	}
	return filepath.Join(filepath.Dir(input), base+suffix+".json")
}
