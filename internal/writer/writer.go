// Package writer appends batches of results to a JSON array file so the
// file is a valid array after every write.
package writer

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNotArray is returned when the target file exists but does not end in
// a closing bracket.
var ErrNotArray = eris.New("writer: file does not end with ']'")

// tailScanBlock is how many bytes are read per step while scanning backwards.
const tailScanBlock = 4096

// writeAt is the write used by the in-place append. Tests replace it to
// simulate a short write.
var writeAt = func(f *os.File, b []byte, off int64) (int, error) {
	return f.WriteAt(b, off)
}

// Writer appends to one JSON array file. It is safe for concurrent use;
// appends are serialised.
type Writer struct {
	path string
	mu   sync.Mutex
}

// New returns a Writer bound to path.
func New(path string) *Writer {
	return &Writer{path: path}
}

// Path returns the target file path.
func (w *Writer) Path() string {
	return w.path
}

// Append writes the batch at the end of the array. The fast path truncates
// the closing bracket in place; any failure there falls back to a full
// read, extend and atomic rename.
func (w *Writer) Append(batch []any) error {
	if len(batch) == 0 {
		return nil
	}
	items, err := encodeItems(batch)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.appendInPlace(items); err != nil {
		zap.L().Warn("writer: in-place append failed, rewriting file",
			zap.String("path", w.path),
			zap.Int("items", len(items)),
			zap.Error(err),
		)
		if ferr := w.rewrite(items); ferr != nil {
			return eris.Wrapf(ferr, "writer: append %d items to %s", len(items), w.path)
		}
	}
	return nil
}

// WriteAll replaces the file with an array holding exactly batch.
func (w *Writer) WriteAll(batch []any) error {
	items, err := encodeItems(batch)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return writeAtomic(w.path, joinArray(nil, items))
}

func (w *Writer) appendInPlace(items [][]byte) error {
	f, err := os.OpenFile(w.path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return eris.Wrap(err, "writer: open")
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return eris.Wrap(err, "writer: stat")
	}

	closeAt, empty, err := findArrayEnd(f, info.Size())
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if closeAt < 0 {
		// New or whitespace-only file.
		if err := f.Truncate(0); err != nil {
			return eris.Wrap(err, "writer: truncate")
		}
		closeAt = 0
		buf.Write(joinArray(nil, items))
	} else {
		if !empty {
			buf.WriteString(",\n")
		}
		for i, item := range items {
			if i > 0 {
				buf.WriteString(",\n")
			}
			buf.Write(item)
		}
		buf.WriteByte(']')
		if err := f.Truncate(closeAt); err != nil {
			return eris.Wrap(err, "writer: truncate")
		}
	}

	if _, err := writeAt(f, buf.Bytes(), closeAt); err != nil {
		return restoreTail(f, closeAt, eris.Wrap(err, "writer: write"))
	}
	if err := f.Sync(); err != nil {
		return restoreTail(f, closeAt, eris.Wrap(err, "writer: sync"))
	}
	return nil
}

// restoreTail cuts a partial append back to closeAt and puts the closing
// bracket back, so the array written before the failed append stays
// readable. At offset 0 the file is left empty.
func restoreTail(f *os.File, closeAt int64, cause error) error {
	if err := f.Truncate(closeAt); err != nil {
		return errors.Join(cause, eris.Wrap(err, "writer: restore truncate"))
	}
	if closeAt > 0 {
		if _, err := f.WriteAt([]byte{']'}, closeAt); err != nil {
			return errors.Join(cause, eris.Wrap(err, "writer: restore bracket"))
		}
	}
	if err := f.Sync(); err != nil {
		return errors.Join(cause, eris.Wrap(err, "writer: restore sync"))
	}
	return cause
}

// findArrayEnd scans backwards for the last non-whitespace byte, which must
// be ']'. It returns that offset and whether the array has no elements. An
// offset of -1 means the file holds only whitespace.
func findArrayEnd(r io.ReaderAt, size int64) (int64, bool, error) {
	closeAt, b, err := lastNonSpace(r, size)
	if err != nil {
		return 0, false, err
	}
	if closeAt < 0 {
		return -1, false, nil
	}
	if b != ']' {
		return 0, false, ErrNotArray
	}
	_, prev, err := lastNonSpace(r, closeAt)
	if err != nil {
		return 0, false, err
	}
	return closeAt, prev == '[', nil
}

// lastNonSpace returns the offset and value of the last non-whitespace
// byte before end, or -1 when there is none.
func lastNonSpace(r io.ReaderAt, end int64) (int64, byte, error) {
	buf := make([]byte, tailScanBlock)
	for end > 0 {
		start := max(end-tailScanBlock, 0)
		chunk := buf[:end-start]
		if _, err := r.ReadAt(chunk, start); err != nil && !errors.Is(err, io.EOF) {
			return 0, 0, eris.Wrap(err, "writer: read tail")
		}
		for i := len(chunk) - 1; i >= 0; i-- {
			switch chunk[i] {
			case ' ', '\t', '\r', '\n':
				continue
			}
			return start + int64(i), chunk[i], nil
		}
		end = start
	}
	return -1, 0, nil
}

// rewrite reads the existing array, extends it and replaces the file
// through a temp file in the same directory.
func (w *Writer) rewrite(items [][]byte) error {
	existing, err := readRaw(w.path)
	if err != nil {
		return err
	}
	return writeAtomic(w.path, joinArray(existing, items))
}

func readRaw(path string) ([]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "writer: read")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var existing []json.RawMessage
	if err := json.Unmarshal(data, &existing); err != nil {
		return nil, eris.Wrapf(err, "writer: %s is not a valid JSON array", path)
	}
	return existing, nil
}

func joinArray(existing []json.RawMessage, items [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	n := 0
	for _, raw := range existing {
		if n > 0 {
			buf.WriteString(",\n")
		}
		buf.Write(raw)
		n++
	}
	for _, item := range items {
		if n > 0 {
			buf.WriteString(",\n")
		}
		buf.Write(item)
		n++
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "writer: create temp")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "writer: write temp")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "writer: sync temp")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "writer: close temp")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return eris.Wrap(err, "writer: rename")
	}
	return nil
}

func encodeItems(batch []any) ([][]byte, error) {
	items := make([][]byte, 0, len(batch))
	for i, v := range batch {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, eris.Wrapf(err, "writer: encode item %d", i)
		}
		items = append(items, b)
	}
	return items, nil
}

// ErrorsPath derives the sibling diagnostics file: out.json becomes
// out.errors.json.
func ErrorsPath(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return path + ".errors.json"
	}
	return strings.TrimSuffix(path, ext) + ".errors" + ext
}

// ReadAll decodes the array at path into values of type T. A missing file
// yields no values.
func ReadAll[T any](path string) ([]T, error) {
	raw, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(raw))
	for i, r := range raw {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			return nil, eris.Wrapf(err, "writer: decode element %d", i)
		}
		out = append(out, v)
	}
	return out, nil
}
