package types //nolint:revive // types is a valid package name

// Row is one input record: its 1-based position in the input file plus
// the raw column values in input column order.
type Row struct {
	// ID is the stable 1-based row position in the input file.
	ID int64 `msgpack:"id" json:"id"`
	// Values are the input column values in file order.
	Values []string `msgpack:"values" json:"values"`
}

// ResultRow is a processed record: the input row plus the derived
// classification values in prompt-declared column order.
type ResultRow struct {
	// Row is the originating input row.
	Row Row `msgpack:"row"`
	// Derived are classification values, one per derived column.
	Derived []string `msgpack:"derived"`
	// Usage is the token usage attributed to this row, when known.
	Usage TokenUsage `msgpack:"usage"`
}

// TokenUsage records model token consumption.
type TokenUsage struct {
	// Prompt is the number of prompt tokens consumed.
	Prompt int64 `msgpack:"prompt" json:"prompt"`
	// Completion is the number of completion tokens consumed.
	Completion int64 `msgpack:"completion" json:"completion"`
}

// Total is prompt plus completion tokens.
func (u TokenUsage) Total() int64 {
	return u.Prompt + u.Completion
}

// Add accumulates another usage sample.
func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		Prompt:     u.Prompt + other.Prompt,
		Completion: u.Completion + other.Completion,
	}
}
