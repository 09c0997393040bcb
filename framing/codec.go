package framing

import (
	"fmt"
	"io"

	"github.com/arloliu/rshuffle/types"
)

// Codec selects the varint scheme of a block stream.
type Codec interface {
	// Name returns the configuration name of the codec.
	Name() string

	// SizeOf returns the encoded size of v without encoding it.
	SizeOf(v int64) int

	// NewWriter returns a RecordFramer writing to w.
	NewWriter(w io.Writer) *Writer

	// NewReader returns a parser reading from r.
	NewReader(r io.Reader) *Reader
}

type codec struct {
	name string
	enc  lengthEncoding
}

var (
	// VInt is the default codec, byte-compatible with Hadoop WritableUtils.writeVInt.
	VInt Codec = codec{name: "vint", enc: vint{}}

	// ZigZag uses protobuf-style zigzag varints.
	ZigZag Codec = codec{name: "zigzag", enc: zigzag{}}
)

func (c codec) Name() string                  { return c.name }
func (c codec) SizeOf(v int64) int            { return c.enc.size(v) }
func (c codec) NewWriter(w io.Writer) *Writer { return newWriter(w, c.enc) }
func (c codec) NewReader(r io.Reader) *Reader { return newReader(r, c.enc) }

// Lookup returns the codec registered under name. An empty name selects VInt.
func Lookup(name string) (Codec, error) {
	switch name {
	case "", VInt.Name():
		return VInt, nil
	case ZigZag.Name():
		return ZigZag, nil
	default:
		return nil, fmt.Errorf("%w: unknown codec %q", types.ErrInvalidConfig, name)
	}
}

// RecordSize returns the framed size of one record under c.
func RecordSize(c Codec, keyLen, valueLen int) int64 {
	return int64(c.SizeOf(int64(keyLen))) + int64(c.SizeOf(int64(valueLen))) + int64(keyLen) + int64(valueLen)
}

// SentinelSize returns the size of the terminating sentinel pair under c.
func SentinelSize(c Codec) int64 {
	return 2 * int64(c.SizeOf(EOFMarker))
}
