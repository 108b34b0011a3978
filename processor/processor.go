// Package processor defines the model invocation boundary: the worker
// hands a batch of rows to a Processor and receives derived values
// back. Everything behind the boundary (prompt construction, response
// parsing) is the processor's concern.
package processor

import (
	"context"
	"fmt"

	"github.com/justapithecus/sluice/types"
)

// Processor classifies batches of rows.
type Processor interface {
	// ProcessBatch classifies rows and returns one result per input
	// row, in input order. An error means the whole batch failed and
	// may be retried by the caller.
	ProcessBatch(ctx context.Context, rows []types.Row) ([]types.ResultRow, error)
}

// Error reports a batch processing failure.
type Error struct {
	// Batch identifies the failed batch by its first row ID.
	Batch int64
	// Msg describes the failure.
	Msg string
	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("process batch at row %d: %s: %v", e.Batch, e.Msg, e.Err)
	}
	return fmt.Sprintf("process batch at row %d: %s", e.Batch, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// PromptConfig describes the classification task: which derived
// columns the model produces and the prompt driving it.
type PromptConfig struct {
	// ColumnsToCode are the derived column names, in output order.
	ColumnsToCode []string `yaml:"columns_to_code" json:"columns_to_code"`
	// NotApplicableDefaults are the values substituted for rows that
	// exhausted their retries, keyed by derived column. Columns
	// without an entry get "N/A".
	NotApplicableDefaults map[string]string `yaml:"not_applicable_defaults,omitempty" json:"not_applicable_defaults,omitempty"`
	// ValidationRules constrain model answers per column (allowed
	// values), keyed by derived column. Advisory for processors.
	ValidationRules map[string][]string `yaml:"validation_rules,omitempty" json:"validation_rules,omitempty"`
	// SystemPrompt is the instruction block sent with every batch.
	SystemPrompt string `yaml:"system_prompt" json:"system_prompt"`
}

// Validate rejects prompt configs that cannot drive a run.
func (p *PromptConfig) Validate() error {
	if len(p.ColumnsToCode) == 0 {
		return fmt.Errorf("prompt config declares no columns_to_code")
	}
	for col := range p.NotApplicableDefaults {
		if !p.hasColumn(col) {
			return fmt.Errorf("not_applicable_defaults references unknown column %q", col)
		}
	}
	for col := range p.ValidationRules {
		if !p.hasColumn(col) {
			return fmt.Errorf("validation_rules references unknown column %q", col)
		}
	}
	return nil
}

func (p *PromptConfig) hasColumn(name string) bool {
	for _, c := range p.ColumnsToCode {
		if c == name {
			return true
		}
	}
	return false
}

// NotApplicableRow builds the substitute result for a row whose batch
// exhausted its retries under the continue strategy.
func (p *PromptConfig) NotApplicableRow(row types.Row) types.ResultRow {
	derived := make([]string, len(p.ColumnsToCode))
	for i, col := range p.ColumnsToCode {
		if v, ok := p.NotApplicableDefaults[col]; ok {
			derived[i] = v
		} else {
			derived[i] = "N/A"
		}
	}
	return types.ResultRow{Row: row, Derived: derived}
}
