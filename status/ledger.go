package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/justapithecus/sluice/iox"
)

// FailedRange is one ledger record: rows abandoned after a batch
// exhausted its retries.
type FailedRange struct {
	WorkerID int       `json:"worker_id"`
	Label    string    `json:"label"`
	RowIDs   []int64   `json:"row_ids"`
	Reason   string    `json:"reason"`
	At       time.Time `json:"at"`
}

// Ledger is the run's failed-range document. Appends go through
// read-modify-write with atomic replace; workers append rarely (only
// on exhausted retries), so last-writer-wins on a true collision is an
// accepted loss bounded to one batch record.
type Ledger struct {
	path string
}

// NewLedger returns the ledger for a status directory.
func (d *Dir) NewLedger() *Ledger {
	return &Ledger{path: filepath.Join(d.path, LedgerName)}
}

// Append adds a record to the ledger.
func (l *Ledger) Append(rec FailedRange) error {
	records, err := l.Records()
	if err != nil {
		return err
	}
	if rec.At.IsZero() {
		rec.At = time.Now().UTC()
	}
	records = append(records, rec)

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger: %w", err)
	}
	return iox.WriteFileAtomic(l.path, data, 0o644)
}

// Records returns every ledger record. A missing ledger is empty.
func (l *Ledger) Records() ([]FailedRange, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	var records []FailedRange
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return records, nil
}
