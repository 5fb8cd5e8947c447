package dataset

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vqa-filter/internal/model"
)

// DecodeJSONArray streams the elements of a JSON array. Both channels are
// closed when decoding completes.
func DecodeJSONArray[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		decoder := json.NewDecoder(r)
		decoder.UseNumber()

		tok, err := decoder.Token()
		if err != nil {
			if err == io.EOF {
				return
			}
			errCh <- eris.Wrap(err, "dataset: read opening token")
			return
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			errCh <- eris.Errorf("dataset: expected '[', got %v", tok)
			return
		}

		for decoder.More() {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "dataset: context cancelled")
				return
			}
			var item T
			if err := decoder.Decode(&item); err != nil {
				errCh <- eris.Wrap(err, "dataset: decode element")
				return
			}
			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "dataset: context cancelled")
				return
			}
		}

		if _, err := decoder.Token(); err != nil && err != io.EOF {
			errCh <- eris.Wrap(err, "dataset: read closing token")
		}
	}()

	return outCh, errCh
}

// ReadJSON reads a JSON array of objects. A single top-level object is
// treated as a one-element array; an empty input yields no records.
func ReadJSON(ctx context.Context, r io.Reader) ([]model.Record, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "dataset: read json")
	}

	if first == '{' {
		var rec model.Record
		if err := json.NewDecoder(br).Decode(&rec); err != nil {
			return nil, eris.Wrap(err, "dataset: decode object")
		}
		return []model.Record{rec}, nil
	}

	items, errs := DecodeJSONArray[model.Record](ctx, br)
	var out []model.Record
	for rec := range items {
		out = append(out, rec)
	}
	if err := <-errs; err != nil {
		return nil, err
	}
	return out, nil
}

// ReadJSONL reads one JSON object per line. Blank lines are skipped.
func ReadJSONL(ctx context.Context, r io.Reader) ([]model.Record, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	var (
		out  []model.Record
		line int
	)
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "dataset: context cancelled")
		}
		raw, err := br.ReadBytes('\n')
		if len(raw) > 0 {
			line++
			if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 {
				var rec model.Record
				if uerr := json.Unmarshal(trimmed, &rec); uerr != nil {
					return nil, eris.Wrapf(uerr, "dataset: jsonl line %d", line)
				}
				out = append(out, rec)
			}
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "dataset: read jsonl")
		}
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		if err := br.UnreadByte(); err != nil {
			return 0, err
		}
		return b, nil
	}
}
