// Package partition plans the division of an input file's rows into
// contiguous per-worker ranges before any worker is spawned.
package partition

import (
	"fmt"
	"sort"

	"github.com/justapithecus/sluice/types"
)

// Strategy selects how ranges are derived.
type Strategy string

const (
	// StrategyAuto divides rows evenly across workers.
	StrategyAuto Strategy = "auto"
	// StrategyManual uses operator-supplied ranges verbatim.
	StrategyManual Strategy = "manual"
)

// Error reports an invalid partition request. Planning happens before
// any worker is spawned, so an Error always aborts the run cleanly.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "partition: " + e.Msg }

// Plan computes the per-worker row ranges for one input file.
//
// Auto strategy: workers ranges of totalRows/workers rows each, with
// the first totalRows%workers ranges one row larger. Ranges are
// contiguous, 1-based, inclusive, and assigned to worker IDs 1..N in
// order. The same inputs always yield the same plan.
//
// Manual strategy: the supplied ranges must tile [1, totalRows]
// exactly. Any gap, overlap, or out-of-bounds range is fatal.
func Plan(totalRows int64, workers int, strategy Strategy, manual []types.RowRange) ([]types.RowRange, error) {
	if totalRows < 1 {
		return nil, &Error{Msg: fmt.Sprintf("total rows must be >= 1, got %d", totalRows)}
	}

	switch strategy {
	case StrategyAuto, "":
		return planAuto(totalRows, workers)
	case StrategyManual:
		return planManual(totalRows, manual)
	default:
		return nil, &Error{Msg: fmt.Sprintf("unknown strategy %q", strategy)}
	}
}

func planAuto(totalRows int64, workers int) ([]types.RowRange, error) {
	if workers < 1 {
		return nil, &Error{Msg: fmt.Sprintf("workers must be >= 1, got %d", workers)}
	}
	// More workers than rows would leave empty ranges.
	if int64(workers) > totalRows {
		return nil, &Error{Msg: fmt.Sprintf("%d workers for %d rows", workers, totalRows)}
	}

	base := totalRows / int64(workers)
	extra := totalRows % int64(workers)

	ranges := make([]types.RowRange, 0, workers)
	start := int64(1)
	for i := 0; i < workers; i++ {
		size := base
		if int64(i) < extra {
			size++
		}
		ranges = append(ranges, types.RowRange{
			Start:    start,
			End:      start + size - 1,
			WorkerID: i + 1,
		})
		start += size
	}
	return ranges, nil
}

func planManual(totalRows int64, manual []types.RowRange) ([]types.RowRange, error) {
	if len(manual) == 0 {
		return nil, &Error{Msg: "manual strategy requires at least one range"}
	}

	ranges := make([]types.RowRange, len(manual))
	copy(ranges, manual)
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })

	for i := range ranges {
		if err := ranges[i].Validate(); err != nil {
			return nil, &Error{Msg: err.Error()}
		}
		if ranges[i].End > totalRows {
			return nil, &Error{Msg: fmt.Sprintf("range %s exceeds %d rows", ranges[i], totalRows)}
		}
		if ranges[i].WorkerID == 0 {
			ranges[i].WorkerID = i + 1
		}
	}

	// Exact tiling: no gaps, no overlaps, full coverage.
	expect := int64(1)
	for _, r := range ranges {
		if r.Start > expect {
			return nil, &Error{Msg: fmt.Sprintf("gap before row %d", r.Start)}
		}
		if r.Start < expect {
			return nil, &Error{Msg: fmt.Sprintf("overlap at row %d", r.Start)}
		}
		expect = r.End + 1
	}
	if expect != totalRows+1 {
		return nil, &Error{Msg: fmt.Sprintf("ranges cover rows 1-%d, input has %d", expect-1, totalRows)}
	}

	seen := make(map[int]bool, len(ranges))
	for _, r := range ranges {
		if seen[r.WorkerID] {
			return nil, &Error{Msg: fmt.Sprintf("duplicate worker id %d", r.WorkerID)}
		}
		seen[r.WorkerID] = true
	}
	return ranges, nil
}
