package framing

import (
	"encoding/binary"
	"io"
	"math/bits"
)

// EOFMarker is the reserved length value written twice to terminate a block.
const EOFMarker = -1

// maxEncodedLen bounds the encoded size of any length under every scheme.
const maxEncodedLen = binary.MaxVarintLen64

// lengthEncoding is a magnitude-dependent integer encoding.
type lengthEncoding interface {
	// size returns the number of bytes put would write for v.
	size(v int64) int
	// put encodes v into buf and returns the number of bytes written.
	put(buf []byte, v int64) int
	// read decodes one value.
	read(r io.ByteReader) (int64, error)
}

// vint is the Hadoop WritableUtils VInt/VLong scheme: values in [-112, 127]
// take one byte, larger magnitudes a length byte plus big-endian magnitude.
type vint struct{}

func (vint) size(v int64) int {
	if v >= -112 && v <= 127 {
		return 1
	}
	if v < 0 {
		v ^= -1
	}
	dataBits := 64 - bits.LeadingZeros64(uint64(v))

	return (dataBits+7)/8 + 1
}

func (vint) put(buf []byte, v int64) int {
	if v >= -112 && v <= 127 {
		buf[0] = byte(int8(v))
		return 1
	}

	l := int8(-112)
	if v < 0 {
		v ^= -1
		l = -120
	}
	for tmp := v; tmp != 0; tmp >>= 8 {
		l--
	}
	buf[0] = byte(l)

	n := int(-(l + 112))
	if l < -120 {
		n = int(-(l + 120))
	}
	for i := n; i > 0; i-- {
		buf[1+n-i] = byte(v >> ((i - 1) * 8))
	}

	return n + 1
}

func (vint) read(r io.ByteReader) (int64, error) {
	first, err := r.ReadByte()
	if err != nil {
		return 0, err
	}

	b := int8(first)
	if b >= -112 {
		return int64(b), nil
	}

	negative := b < -120
	n := int(-111 - int(b))
	if negative {
		n = int(-119 - int(b))
	}

	var v int64
	for range n - 1 {
		c, err := r.ReadByte()
		if err != nil {
			return 0, io.ErrUnexpectedEOF
		}
		v = v<<8 | int64(c)
	}
	if negative {
		v ^= -1
	}

	return v, nil
}

// zigzag is the protobuf-style signed varint from encoding/binary.
type zigzag struct{}

func (zigzag) size(v int64) int {
	ux := uint64(v<<1) ^ uint64(v>>63) //nolint:gosec // zigzag mapping
	n := 1
	for ux >= 0x80 {
		ux >>= 7
		n++
	}

	return n
}

func (zigzag) put(buf []byte, v int64) int {
	return binary.PutVarint(buf, v)
}

func (zigzag) read(r io.ByteReader) (int64, error) {
	v, err := binary.ReadVarint(r)
	if err == io.EOF {
		return 0, io.EOF
	}
	if err != nil {
		return 0, io.ErrUnexpectedEOF
	}

	return v, nil
}
