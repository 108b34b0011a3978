package checkpoint

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/sluice/types"
)

// Frame size constants for the part codec.
const (
	// MaxFrameSize is the maximum frame size (16 MiB), including length prefix.
	MaxFrameSize = 16 * 1024 * 1024
	// MaxPayloadSize is the maximum payload size (MaxFrameSize - 4 bytes).
	MaxPayloadSize = MaxFrameSize - LengthPrefixSize
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4
)

// PartHeaderType is the type discriminant for part header frames.
const PartHeaderType = "part_header"

// RowType is the type discriminant for row frames.
const RowType = "row"

// PartHeader is the first frame of every checkpoint part. It carries
// enough context that parts are self-describing: merge needs nothing
// beyond the part files themselves.
type PartHeader struct {
	// Type is always "part_header".
	Type string `msgpack:"type"`
	// JobID is the checkpoint namespace the part belongs to.
	JobID string `msgpack:"job_id"`
	// RunID, Label, WorkerID identify the writer.
	RunID    string `msgpack:"run_id"`
	Label    string `msgpack:"label"`
	WorkerID int    `msgpack:"worker_id"`
	// ModelName is stamped into merged metadata columns.
	ModelName string `msgpack:"model_name"`
	// Range is the worker's assigned range.
	Range types.RowRange `msgpack:"range"`
	// InputColumns and DerivedColumns fix merged CSV column order.
	InputColumns   []string `msgpack:"input_columns"`
	DerivedColumns []string `msgpack:"derived_columns"`
	// Rows is the number of row frames following the header.
	Rows int64 `msgpack:"rows"`
	// RowsPerSec and TokensPerSec snapshot worker throughput at save time.
	RowsPerSec   float64 `msgpack:"rows_per_sec"`
	TokensPerSec float64 `msgpack:"tokens_per_sec"`
	// CreatedAt is when the part was saved.
	CreatedAt time.Time `msgpack:"created_at"`
}

// rowFrame wraps one result row for the part stream.
type rowFrame struct {
	Type string          `msgpack:"type"`
	Row  types.ResultRow `msgpack:"result"`
}

// frameTypeProbe is used to peek at the type field without full decode.
type frameTypeProbe struct {
	Type string `msgpack:"type"`
}

// writeFrame writes one length-prefixed msgpack frame.
func writeFrame(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return &Error{Kind: ErrCorrupt, Op: "encode", Err: err}
	}
	if len(payload) > MaxPayloadSize {
		return &Error{Kind: ErrCorrupt, Op: "encode",
			Err: fmt.Errorf("payload size %d exceeds maximum %d", len(payload), MaxPayloadSize)}
	}
	var lengthBuf [LengthPrefixSize]byte
	binary.BigEndian.PutUint32(lengthBuf[:], uint32(len(payload)))
	if _, err := w.Write(lengthBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// frameDecoder decodes length-prefixed msgpack frames from a part stream.
type frameDecoder struct {
	reader *bufio.Reader
	path   string
}

func newFrameDecoder(r io.Reader, path string) *frameDecoder {
	return &frameDecoder{reader: bufio.NewReader(r), path: path}
}

// readFrame reads a single frame payload.
//
// Errors:
//   - io.EOF: stream ended cleanly (no more frames)
//   - *Error with Kind=ErrCorrupt: truncated or oversized frame
func (d *frameDecoder) readFrame() ([]byte, error) {
	var lengthBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(d.reader, lengthBuf[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, &Error{Kind: ErrCorrupt, Op: "read", Path: d.path,
			Err: fmt.Errorf("truncated length prefix: %w", err)}
	}

	payloadSize := binary.BigEndian.Uint32(lengthBuf[:])
	if payloadSize > MaxPayloadSize {
		return nil, &Error{Kind: ErrCorrupt, Op: "read", Path: d.path,
			Err: fmt.Errorf("payload size %d exceeds maximum %d", payloadSize, MaxPayloadSize)}
	}

	payload := make([]byte, payloadSize)
	if _, err := io.ReadFull(d.reader, payload); err != nil {
		return nil, &Error{Kind: ErrCorrupt, Op: "read", Path: d.path,
			Err: fmt.Errorf("truncated payload: %w", err)}
	}
	return payload, nil
}

// readHeader reads and decodes the part header frame.
func (d *frameDecoder) readHeader() (*PartHeader, error) {
	payload, err := d.readFrame()
	if err != nil {
		if err == io.EOF {
			return nil, &Error{Kind: ErrCorrupt, Op: "read", Path: d.path,
				Err: fmt.Errorf("empty part")}
		}
		return nil, err
	}

	var probe frameTypeProbe
	if err := msgpack.Unmarshal(payload, &probe); err != nil {
		return nil, &Error{Kind: ErrCorrupt, Op: "read", Path: d.path, Err: err}
	}
	if probe.Type != PartHeaderType {
		return nil, &Error{Kind: ErrCorrupt, Op: "read", Path: d.path,
			Err: fmt.Errorf("first frame is %q, want %q", probe.Type, PartHeaderType)}
	}

	var header PartHeader
	if err := msgpack.Unmarshal(payload, &header); err != nil {
		return nil, &Error{Kind: ErrCorrupt, Op: "read", Path: d.path, Err: err}
	}
	return &header, nil
}

// readRow reads and decodes the next row frame. Returns io.EOF at the
// clean end of the stream.
func (d *frameDecoder) readRow() (*types.ResultRow, error) {
	payload, err := d.readFrame()
	if err != nil {
		return nil, err
	}

	var frame rowFrame
	if err := msgpack.Unmarshal(payload, &frame); err != nil {
		return nil, &Error{Kind: ErrCorrupt, Op: "read", Path: d.path, Err: err}
	}
	if frame.Type != RowType {
		return nil, &Error{Kind: ErrCorrupt, Op: "read", Path: d.path,
			Err: fmt.Errorf("unexpected frame type %q", frame.Type)}
	}
	return &frame.Row, nil
}
