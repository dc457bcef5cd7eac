package feed

import (
	"bytes"
	"encoding/hex"
	"hash"
	"io"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
)

const (
	DefaultChunkSize = 64 << 10
	DefaultMaxLine   = 1 << 30
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// fallbackDecoders are tried in order for lines that are not valid UTF-8.
var fallbackDecoders = []encoding.Encoding{
	korean.EUCKR,
	charmap.Windows1252,
}

// LineReader pulls fixed-size chunks from r and hands out complete lines
// decoded to UTF-8. Lines split across chunk boundaries are reassembled.
type LineReader struct {
	r       io.Reader
	chunk   []byte
	pending []byte
	off     int
	scanned int
	maxLine int
	eof     bool
	first   bool

	bytesRead int64
	lines     int64
	fallbacks int64
	digest    hash.Hash
}

func NewLineReader(r io.Reader, chunkSize, maxLine int) *LineReader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if maxLine <= 0 {
		maxLine = DefaultMaxLine
	}
	digest, _ := blake2b.New256(nil)
	return &LineReader{
		r:       r,
		chunk:   make([]byte, chunkSize),
		maxLine: maxLine,
		first:   true,
		digest:  digest,
	}
}

// Next returns the next line without its terminator. io.EOF marks the end.
func (lr *LineReader) Next() (string, error) {
	for {
		if i := bytes.IndexByte(lr.pending[lr.off+lr.scanned:], '\n'); i >= 0 {
			end := lr.off + lr.scanned + i
			line := lr.pending[lr.off:end]
			lr.off = end + 1
			lr.scanned = 0
			return lr.emit(line), nil
		}
		lr.scanned = len(lr.pending) - lr.off

		if lr.eof {
			if lr.off < len(lr.pending) {
				line := lr.pending[lr.off:]
				lr.off = len(lr.pending)
				lr.scanned = 0
				return lr.emit(line), nil
			}
			return "", io.EOF
		}

		if lr.off > 0 {
			n := copy(lr.pending, lr.pending[lr.off:])
			lr.pending = lr.pending[:n]
			lr.off = 0
		}
		if len(lr.pending) > lr.maxLine {
			return "", ErrLineTooLong
		}

		n, err := lr.r.Read(lr.chunk)
		if n > 0 {
			lr.pending = append(lr.pending, lr.chunk[:n]...)
			lr.bytesRead += int64(n)
			lr.digest.Write(lr.chunk[:n])
		}
		if err == io.EOF {
			lr.eof = true
		} else if err != nil {
			return "", err
		}
	}
}

func (lr *LineReader) emit(line []byte) string {
	lr.lines++
	if lr.first {
		line = bytes.TrimPrefix(line, utf8BOM)
		lr.first = false
	}
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if utf8.Valid(line) {
		return string(line)
	}
	lr.fallbacks++
	return decodeFallback(line)
}

func decodeFallback(line []byte) string {
	var last string
	for _, enc := range fallbackDecoders {
		out, err := enc.NewDecoder().Bytes(line)
		if err != nil {
			continue
		}
		last = string(out)
		if !bytes.ContainsRune(out, utf8.RuneError) {
			return last
		}
	}
	if last != "" {
		return last
	}
	return string(bytes.ToValidUTF8(line, []byte("�")))
}

// BytesRead is the number of raw bytes consumed so far.
func (lr *LineReader) BytesRead() int64 { return lr.bytesRead }

// Lines is the number of lines handed out so far.
func (lr *LineReader) Lines() int64 { return lr.lines }

// Fallbacks counts lines that needed a non-UTF-8 decoder.
func (lr *LineReader) Fallbacks() int64 { return lr.fallbacks }

// Digest is the hex blake2b-256 of every byte consumed so far.
func (lr *LineReader) Digest() string {
	return hex.EncodeToString(lr.digest.Sum(nil))
}
