package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/justapithecus/sluice/iox"
	"github.com/justapithecus/sluice/types"
)

// HTTPProcessor classifies batches by POSTing them to a model server.
type HTTPProcessor struct {
	endpoint string
	model    string
	prompt   *PromptConfig
	client   *http.Client
}

var _ Processor = (*HTTPProcessor)(nil)

// NewHTTPProcessor creates a processor targeting a model server
// endpoint. Timeout bounds a single batch request; retries are the
// caller's policy.
func NewHTTPProcessor(endpoint, model string, prompt *PromptConfig, timeout time.Duration) *HTTPProcessor {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPProcessor{
		endpoint: endpoint,
		model:    model,
		prompt:   prompt,
		client:   &http.Client{Timeout: timeout},
	}
}

// batchRequest is the wire format sent to the model server.
type batchRequest struct {
	Model        string      `json:"model"`
	SystemPrompt string      `json:"system_prompt"`
	Columns      []string    `json:"columns"`
	Rows         []types.Row `json:"rows"`
}

// batchResponse is the wire format returned by the model server.
type batchResponse struct {
	Results []struct {
		Derived          []string `json:"derived"`
		PromptTokens     int64    `json:"prompt_tokens"`
		CompletionTokens int64    `json:"completion_tokens"`
	} `json:"results"`
}

// ProcessBatch sends one batch and maps the response onto the input
// rows. Any transport error, non-2xx status, or row-count mismatch
// fails the whole batch.
func (h *HTTPProcessor) ProcessBatch(ctx context.Context, rows []types.Row) ([]types.ResultRow, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	first := rows[0].ID

	body, err := json.Marshal(batchRequest{
		Model:        h.model,
		SystemPrompt: h.prompt.SystemPrompt,
		Columns:      h.prompt.ColumnsToCode,
		Rows:         rows,
	})
	if err != nil {
		return nil, &Error{Batch: first, Msg: "encode request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Batch: first, Msg: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, &Error{Batch: first, Msg: "send request", Err: err}
	}
	defer iox.DiscardClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &Error{Batch: first,
			Msg: fmt.Sprintf("model server returned %d: %s", resp.StatusCode, snippet)}
	}

	var parsed batchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &Error{Batch: first, Msg: "decode response", Err: err}
	}
	if len(parsed.Results) != len(rows) {
		return nil, &Error{Batch: first,
			Msg: fmt.Sprintf("got %d results for %d rows", len(parsed.Results), len(rows))}
	}

	out := make([]types.ResultRow, len(rows))
	for i := range rows {
		r := parsed.Results[i]
		if len(r.Derived) != len(h.prompt.ColumnsToCode) {
			return nil, &Error{Batch: first,
				Msg: fmt.Sprintf("row %d has %d derived values, want %d",
					rows[i].ID, len(r.Derived), len(h.prompt.ColumnsToCode))}
		}
		out[i] = types.ResultRow{
			Row:     rows[i],
			Derived: r.Derived,
			Usage:   types.TokenUsage{Prompt: r.PromptTokens, Completion: r.CompletionTokens},
		}
	}
	return out, nil
}
