package types //nolint:revive // types is a valid package name

import "fmt"

// RowRange is a contiguous, inclusive span of 1-based row positions
// assigned to a single worker. Ranges within one input file never
// overlap and together cover every row exactly once.
type RowRange struct {
	// Start is the first row position in the range (1-based, inclusive).
	Start int64 `yaml:"start" json:"start" msgpack:"start"`
	// End is the last row position in the range (inclusive).
	End int64 `yaml:"end" json:"end" msgpack:"end"`
	// WorkerID is the 1-based worker slot the range is assigned to.
	WorkerID int `yaml:"worker_id" json:"worker_id" msgpack:"worker_id"`
}

// Rows returns the number of rows in the range.
func (r RowRange) Rows() int64 {
	return r.End - r.Start + 1
}

// Contains reports whether the 1-based row position falls in the range.
func (r RowRange) Contains(pos int64) bool {
	return pos >= r.Start && pos <= r.End
}

// Validate checks the range is well-formed in isolation.
func (r RowRange) Validate() error {
	if r.Start < 1 {
		return fmt.Errorf("range start must be >= 1, got %d", r.Start)
	}
	if r.End < r.Start {
		return fmt.Errorf("range end %d before start %d", r.End, r.Start)
	}
	return nil
}

// String renders the range as "start-end".
func (r RowRange) String() string {
	return fmt.Sprintf("%d-%d", r.Start, r.End)
}
