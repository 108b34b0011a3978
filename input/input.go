// Package input reads classification input files. Inputs are CSV with
// a header row; data rows are addressed by 1-based position.
package input

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/justapithecus/sluice/iox"
	"github.com/justapithecus/sluice/types"
)

// Header returns the input file's column names.
func Header(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer iox.DiscardClose(f)

	header, err := csv.NewReader(f).Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}
	return header, nil
}

// CountRows returns the number of data rows (excluding the header).
// The orchestrator uses this to plan partitions before spawning.
func CountRows(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open input: %w", err)
	}
	defer iox.DiscardClose(f)

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	var n int64 = -1 // header does not count
	for {
		if _, err := r.Read(); err != nil {
			if err == io.EOF {
				break
			}
			return 0, fmt.Errorf("scan %s: %w", path, err)
		}
		n++
	}
	if n < 0 {
		return 0, fmt.Errorf("input %s has no header", path)
	}
	return n, nil
}

// ReadRange loads the rows of one assigned range. Row IDs are the
// 1-based data row positions, stable across re-reads, so checkpoints
// taken against an earlier read stay valid on resume.
func ReadRange(path string, rng types.RowRange) ([]types.Row, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer iox.DiscardClose(f)

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	if _, err := r.Read(); err != nil {
		return nil, fmt.Errorf("read header of %s: %w", path, err)
	}

	rows := make([]types.Row, 0, rng.Rows())
	var pos int64
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s row %d: %w", path, pos+1, err)
		}
		pos++
		if pos < rng.Start {
			continue
		}
		if pos > rng.End {
			break
		}
		vals := make([]string, len(record))
		copy(vals, record)
		rows = append(rows, types.Row{ID: pos, Values: vals})
	}

	if int64(len(rows)) != rng.Rows() {
		return nil, fmt.Errorf("input %s has %d rows in range %s, want %d",
			path, len(rows), rng, rng.Rows())
	}
	return rows, nil
}
