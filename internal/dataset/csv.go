package dataset

import (
	"context"
	"encoding/csv"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/gridmap/internal/grid"
)

// ReadCSVFile reads a CSV dataset from disk.
func ReadCSVFile(ctx context.Context, path string, opts Options) ([]grid.Record, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, eris.Wrapf(err, "dataset: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	return readCSV(ctx, f, opts, path)
}

// ReadCSV reads a CSV dataset. The first row is the header.
func ReadCSV(ctx context.Context, r io.Reader, opts Options) ([]grid.Record, Stats, error) {
	return readCSV(ctx, r, opts, "csv")
}

func readCSV(ctx context.Context, r io.Reader, opts Options, source string) ([]grid.Record, Stats, error) {
	r, err := decodeCharset(r, opts.Charset)
	if err != nil {
		return nil, Stats{}, err
	}
	rows, errs := streamCSV(ctx, r, opts.Delimiter)
	return collect(ctx, rows, errs, source)
}

func decodeCharset(r io.Reader, charset string) (io.Reader, error) {
	if charset == "" {
		return r, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "dataset: unsupported charset %q", charset)
	}
	return enc.NewDecoder().Reader(r), nil
}

// streamCSV sends rows, header included, to a channel. Both channels are
// closed when reading completes.
func streamCSV(ctx context.Context, r io.Reader, delimiter rune) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if delimiter != 0 {
			reader.Comma = delimiter
		}
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "dataset: csv read cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrapf(ErrMalformedInput, "dataset: csv read row: %v", err)
				return
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "dataset: csv read cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}
