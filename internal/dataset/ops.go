package dataset

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vqa-filter/internal/model"
)

// DefaultSplitThreshold is the total_score boundary used by split.
const DefaultSplitThreshold = 0.6

// DefaultImageExtensions are the extensions ScanImages matches when none
// are given.
var DefaultImageExtensions = []string{"jpg", "jpeg", "png", "webp"}

// Score returns the record's numeric total_score.
func Score(rec model.Record) (float64, bool) {
	v, ok := rec.Fields.Get("total_score")
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Split is the result of SplitByScore.
type Split struct {
	High    []model.Record
	Low     []model.Record
	NoScore []model.Record
}

// SplitByScore partitions records by total_score. A score equal to the
// threshold counts as high when includeEqual is set.
func SplitByScore(records []model.Record, threshold float64, includeEqual bool) Split {
	var s Split
	for _, rec := range records {
		score, ok := Score(rec)
		switch {
		case !ok:
			s.NoScore = append(s.NoScore, rec)
		case score > threshold, includeEqual && score == threshold:
			s.High = append(s.High, rec)
		default:
			s.Low = append(s.Low, rec)
		}
	}
	return s
}

// NoScorePath derives the file name for records without a score from the
// low-score output path: low.json -> low_no_score.json.
func NoScorePath(lowPath string) string {
	ext := filepath.Ext(lowPath)
	return strings.TrimSuffix(lowPath, ext) + "_no_score" + ext
}

// Sample returns n records chosen uniformly without replacement, in their
// original order. The same seed always picks the same records.
func Sample(records []model.Record, n int, seed uint64) []model.Record {
	if n <= 0 {
		return nil
	}
	if n >= len(records) {
		return slices.Clone(records)
	}
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	idx := r.Perm(len(records))[:n]
	slices.Sort(idx)

	out := make([]model.Record, n)
	for i, j := range idx {
		out[i] = records[j]
	}
	return out
}

// Chunk splits records into consecutive slices of at most size records.
func Chunk(records []model.Record, size int) ([][]model.Record, error) {
	if size <= 0 {
		return nil, eris.Errorf("dataset: chunk size must be positive, got %d", size)
	}
	var out [][]model.Record
	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		out = append(out, records[start:end])
	}
	return out, nil
}

// ChunkName names chunk i (zero-based) of n: prefix_0001_of_0004.json.
func ChunkName(prefix string, i, n int) string {
	return fmt.Sprintf("%s_%04d_of_%04d.json", prefix, i+1, n)
}

// Merge concatenates the given arrays. Each input is either an array of
// records or a single record, read with ReadJSON.
func Merge(inputs ...[]model.Record) []model.Record {
	total := 0
	for _, in := range inputs {
		total += len(in)
	}
	out := make([]model.Record, 0, total)
	for _, in := range inputs {
		out = append(out, in...)
	}
	return out
}

// ScanImages lists the image files directly or transitively under dir whose
// extension is in exts (case-insensitive), sorted by path.
func ScanImages(dir string, exts []string) ([]string, error) {
	if len(exts) == 0 {
		exts = DefaultImageExtensions
	}
	want := make(map[string]bool, len(exts))
	for _, e := range exts {
		want["."+strings.ToLower(strings.TrimPrefix(strings.TrimSpace(e), "."))] = true
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: stat %s", dir)
	}
	if !info.IsDir() {
		return nil, eris.Errorf("dataset: %s is not a directory", dir)
	}

	var out []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if want[strings.ToLower(filepath.Ext(path))] {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: scan %s", dir)
	}
	slices.Sort(out)
	return out, nil
}

// ImageRecords builds one input record per image path. Records carry an
// explicit pipeline list so routing is bypassed.
func ImageRecords(paths []string, pipelines []string, question string) []model.Record {
	out := make([]model.Record, 0, len(paths))
	for _, p := range paths {
		f := model.NewFields()
		f.Set("id", filepath.Base(p))
		f.Set("image_input", p)
		if question != "" {
			f.Set("question", question)
		}
		types := make([]any, len(pipelines))
		for i, id := range pipelines {
			types[i] = id
		}
		f.Set("pipeline_types", types)
		out = append(out, model.NewRecord(f))
	}
	return out
}
