package processor

import (
	"context"
	"sync"

	"github.com/justapithecus/sluice/types"
)

// Stub is a scripted Processor for tests. By default it echoes a
// fixed value per derived column; FailFirst makes the first N batches
// fail to exercise retry paths.
type Stub struct {
	mu sync.Mutex

	// Columns are the derived column names produced per row.
	Columns []string
	// Value is the derived value written to every column.
	Value string
	// FailFirst makes the first N ProcessBatch calls return an error.
	FailFirst int
	// TokensPerRow is the usage reported per row.
	TokensPerRow int64

	calls   int
	batches [][]int64
}

var _ Processor = (*Stub)(nil)

// ProcessBatch follows the script.
func (s *Stub) ProcessBatch(_ context.Context, rows []types.Row) ([]types.ResultRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	ids := make([]int64, len(rows))
	for i := range rows {
		ids[i] = rows[i].ID
	}
	s.batches = append(s.batches, ids)

	if s.calls <= s.FailFirst {
		first := int64(0)
		if len(rows) > 0 {
			first = rows[0].ID
		}
		return nil, &Error{Batch: first, Msg: "scripted failure"}
	}

	out := make([]types.ResultRow, len(rows))
	for i := range rows {
		derived := make([]string, len(s.Columns))
		for j := range derived {
			derived[j] = s.Value
		}
		out[i] = types.ResultRow{
			Row:     rows[i],
			Derived: derived,
			Usage:   types.TokenUsage{Completion: s.TokensPerRow},
		}
	}
	return out, nil
}

// Calls returns the number of ProcessBatch invocations.
func (s *Stub) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Batches returns the row IDs of every batch seen, in call order.
func (s *Stub) Batches() [][]int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]int64, len(s.batches))
	copy(out, s.batches)
	return out
}
