package feed

import (
	"encoding/json"
	"fmt"
	"io"
)

// ArrayReader yields the elements of a top-level JSON array one at a time.
type ArrayReader struct {
	dec     *json.Decoder
	started bool
	done    bool
	n       int
}

func NewArrayReader(r io.Reader) *ArrayReader {
	return &ArrayReader{dec: json.NewDecoder(r)}
}

// Next returns the next element, or io.EOF after the closing bracket.
func (a *ArrayReader) Next() (json.RawMessage, error) {
	if a.done {
		return nil, io.EOF
	}
	if !a.started {
		tok, err := a.dec.Token()
		if err != nil {
			return nil, fmt.Errorf("read array start: %w", err)
		}
		if delim, ok := tok.(json.Delim); !ok || delim != '[' {
			return nil, fmt.Errorf("expected JSON array, got %v", tok)
		}
		a.started = true
	}
	if !a.dec.More() {
		if _, err := a.dec.Token(); err != nil {
			return nil, fmt.Errorf("read array end: %w", err)
		}
		a.done = true
		return nil, io.EOF
	}
	var raw json.RawMessage
	if err := a.dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode element %d: %w", a.n, err)
	}
	a.n++
	return raw, nil
}

// Count is the number of elements returned so far.
func (a *ArrayReader) Count() int { return a.n }

// DecodeJSONArray streams a top-level JSON array, handing each element to fn
// without holding the whole document in memory.
func DecodeJSONArray(r io.Reader, fn func(json.RawMessage) error) error {
	arr := NewArrayReader(r)
	for {
		raw, err := arr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(raw); err != nil {
			return err
		}
	}
}
