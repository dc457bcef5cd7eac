package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// Row is one data row addressed by normalized header name.
type Row struct {
	index  map[string]int
	values []string
	Line   int
}

// Get returns the trimmed value of column name, or "" when absent.
func (r Row) Get(name string) string {
	i, ok := r.index[normalizeHeader(name)]
	if !ok || i >= len(r.values) {
		return ""
	}
	return strings.TrimSpace(r.values[i])
}

// First returns the first non-empty value among names.
func (r Row) First(names ...string) string {
	for _, name := range names {
		if v := r.Get(name); v != "" {
			return v
		}
	}
	return ""
}

// Map copies the row into a plain map keyed by normalized header.
func (r Row) Map() map[string]string {
	out := make(map[string]string, len(r.index))
	for name := range r.index {
		out[name] = r.Get(name)
	}
	return out
}

type StreamOptions struct {
	Comma     rune
	ChunkSize int
	MaxLine   int
}

// Stream parses a delimited feed body incrementally, one physical line per
// row. Quoting never spans lines, so an unbalanced quote damages only the
// row it appears in.
type Stream struct {
	body   io.Closer
	lines  *LineReader
	comma  rune
	header map[string]int
	width  int
	rows   int
	onDone func(bytes int64)
}

// NewStream wraps body. The header row is read on the first call to Next.
func NewStream(body io.ReadCloser, opts StreamOptions) *Stream {
	comma := opts.Comma
	if comma == 0 {
		comma = '|'
	}
	return &Stream{body: body, lines: NewLineReader(body, opts.ChunkSize, opts.MaxLine), comma: comma}
}

// split parses a single line. An unterminated quote swallows the rest of
// that line only, which then shows up as a column count mismatch.
func (s *Stream) split(text string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = s.comma
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	return r.Read()
}

// nextLine skips blank lines and returns the next non-empty one with its
// 1-based line number.
func (s *Stream) nextLine() (string, int, error) {
	for {
		text, err := s.lines.Next()
		if err != nil {
			return "", 0, err
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		return text, int(s.lines.Lines()), nil
	}
}

func normalizeHeader(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func headerIndex(record []string) map[string]int {
	index := make(map[string]int, len(record))
	for i, name := range record {
		key := normalizeHeader(name)
		if key == "" {
			continue
		}
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	return index
}

// NewRow builds a row from a header and its values outside a stream.
func NewRow(header, values []string) Row {
	return Row{index: headerIndex(header), values: values}
}

func (s *Stream) readHeader() error {
	text, _, err := s.nextLine()
	if err != nil {
		return err
	}
	record, err := s.split(text)
	if err != nil {
		return fmt.Errorf("feed: header: %w", err)
	}
	s.header = headerIndex(record)
	s.width = len(record)
	return nil
}

// Next returns the next row. A malformed row yields an error wrapping
// ErrMalformedRow and the stream stays usable; io.EOF ends the stream.
func (s *Stream) Next() (Row, error) {
	if s.header == nil {
		if err := s.readHeader(); err != nil {
			return Row{}, err
		}
	}
	text, line, err := s.nextLine()
	if err != nil {
		return Row{}, err
	}
	s.rows++
	record, err := s.split(text)
	if err != nil {
		return Row{Line: line}, fmt.Errorf("%w: line %d: %v", ErrMalformedRow, line, err)
	}
	if len(record) != s.width {
		return Row{Line: line}, fmt.Errorf("%w: line %d has %d columns, header has %d", ErrMalformedRow, line, len(record), s.width)
	}
	return Row{index: s.header, values: record, Line: line}, nil
}

// Header returns the normalized column names in file order.
func (s *Stream) Header() []string {
	out := make([]string, s.width)
	for name, i := range s.header {
		out[i] = name
	}
	return out
}

// Rows counts data rows read, malformed ones included.
func (s *Stream) Rows() int { return s.rows }

// BytesRead is the raw byte count consumed from the body.
func (s *Stream) BytesRead() int64 { return s.lines.BytesRead() }

// Digest is the blake2b-256 of the raw bytes consumed.
func (s *Stream) Digest() string { return s.lines.Digest() }

// Fallbacks counts lines decoded with a fallback charset.
func (s *Stream) Fallbacks() int64 { return s.lines.Fallbacks() }

func (s *Stream) Close() error {
	if s.onDone != nil {
		s.onDone(s.lines.BytesRead())
		s.onDone = nil
	}
	if s.body == nil {
		return nil
	}
	return s.body.Close()
}
