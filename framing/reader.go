package framing

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/arloliu/rshuffle/types"
)

// Record is one decoded key/value pair.
type Record struct {
	Key   []byte
	Value []byte
}

// Reader parses a block stream produced by Writer.
type Reader struct {
	br      *bufio.Reader
	enc     lengthEncoding
	records int64
	done    bool
}

func newReader(r io.Reader, enc lengthEncoding) *Reader {
	return &Reader{br: bufio.NewReader(r), enc: enc}
}

// NewReader returns a Reader using the default VInt codec.
func NewReader(r io.Reader) *Reader {
	return VInt.NewReader(r)
}

// Next returns the next record, or io.EOF exactly when the sentinel pair has
// been consumed. A stream that ends before its sentinel, or that carries an
// invalid length, yields types.ErrCorruptStream.
func (r *Reader) Next() (Record, error) {
	if r.done {
		return Record{}, io.EOF
	}

	keyLen, err := r.enc.read(r.br)
	if err != nil {
		return Record{}, r.corrupt("key length", err)
	}
	valueLen, err := r.enc.read(r.br)
	if err != nil {
		return Record{}, r.corrupt("value length", err)
	}

	if keyLen == EOFMarker && valueLen == EOFMarker {
		r.done = true
		return Record{}, io.EOF
	}
	if keyLen < 0 || keyLen > MaxRecordLength || valueLen < 0 || valueLen > MaxRecordLength {
		return Record{}, fmt.Errorf("%w: record %d has lengths (%d, %d)", types.ErrCorruptStream, r.records, keyLen, valueLen)
	}

	rec := Record{Key: make([]byte, keyLen), Value: make([]byte, valueLen)}
	if _, err := io.ReadFull(r.br, rec.Key); err != nil {
		return Record{}, r.corrupt("key", err)
	}
	if _, err := io.ReadFull(r.br, rec.Value); err != nil {
		return Record{}, r.corrupt("value", err)
	}
	r.records++

	return rec, nil
}

// Records returns the number of records decoded so far.
func (r *Reader) Records() int64 {
	return r.records
}

// ReadAll decodes every record up to the sentinel and rejects trailing bytes.
func (r *Reader) ReadAll() ([]Record, error) {
	var out []Record
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}

	if _, err := r.br.ReadByte(); err == nil {
		return out, fmt.Errorf("%w: trailing bytes after sentinel", types.ErrCorruptStream)
	}

	return out, nil
}

func (r *Reader) corrupt(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated %s of record %d", types.ErrCorruptStream, what, r.records)
	}

	return fmt.Errorf("%w: reading %s of record %d: %w", types.ErrCorruptStream, what, r.records, err)
}
