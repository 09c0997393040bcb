package framing

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/arloliu/rshuffle/types"
)

// MaxRecordLength is the largest key or value length a block may carry.
const MaxRecordLength = math.MaxInt32

// Writer is the RecordFramer: it serializes key/value records into a block
// stream and tracks the exact number of bytes emitted.
//
// A Writer is owned by a single producer and is not safe for concurrent use.
type Writer struct {
	bw      *bufio.Writer
	dst     io.Writer
	enc     lengthEncoding
	scratch [maxEncodedLen]byte

	// total is 64-bit on purpose: a single skewed block can exceed 2^31 bytes.
	total   int64
	records int64
	closed  bool

	// err is the first transport failure; the stream is unusable after it.
	err error
}

func newWriter(w io.Writer, enc lengthEncoding) *Writer {
	return &Writer{
		bw:  bufio.NewWriter(w),
		dst: w,
		enc: enc,
	}
}

// NewWriter returns a Writer using the default VInt codec.
func NewWriter(w io.Writer) *Writer {
	return VInt.NewWriter(w)
}

// WriteRecord appends one framed record.
//
// Returns:
//   - types.ErrStreamClosed if the writer was closed
//   - types.ErrEncodingOverflow if a length does not fit the frame; nothing is written
//   - types.ErrTransportFailure if the underlying writer fails, now or on an
//     earlier call; bytes accepted before the failure stay counted
func (w *Writer) WriteRecord(key, value []byte) error {
	if w.closed {
		return types.ErrStreamClosed
	}
	if w.err != nil {
		return w.err
	}
	if err := checkLength("key", len(key)); err != nil {
		return err
	}
	if err := checkLength("value", len(value)); err != nil {
		return err
	}

	if err := w.writeLength(int64(len(key))); err != nil {
		return err
	}
	if err := w.writeLength(int64(len(value))); err != nil {
		return err
	}
	if err := w.write(key); err != nil {
		return err
	}
	if err := w.write(value); err != nil {
		return err
	}
	w.records++

	return nil
}

// Flush forces buffered bytes to the underlying writer without closing it.
func (w *Writer) Flush() error {
	if w.closed {
		return types.ErrStreamClosed
	}
	if w.err != nil {
		return w.err
	}

	return w.flush()
}

// Close writes the sentinel pair, flushes, and closes the underlying writer
// when it is an io.Closer. Calling Close again is a no-op.
//
// After a transport failure the sentinel is not written, so the partial
// stream can never parse as a complete block. The underlying writer is still
// closed and the original failure is returned.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.err
	if err == nil {
		err = w.writeLength(EOFMarker)
	}
	if err == nil {
		err = w.writeLength(EOFMarker)
	}
	if err == nil {
		err = w.flush()
	}

	if c, ok := w.dst.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: %w", types.ErrTransportFailure, cerr)
		}
	}

	return err
}

// TotalBytesWritten returns every byte emitted so far: framing, payload and sentinel.
func (w *Writer) TotalBytesWritten() int64 {
	return w.total
}

// Records returns the number of records written.
func (w *Writer) Records() int64 {
	return w.records
}

// Closed reports whether Close has been called.
func (w *Writer) Closed() bool {
	return w.closed
}

func checkLength(what string, n int) error {
	if int64(n) > MaxRecordLength {
		return fmt.Errorf("%w: %s of %d bytes", types.ErrEncodingOverflow, what, n)
	}

	return nil
}

func (w *Writer) writeLength(v int64) error {
	n := w.enc.put(w.scratch[:], v)
	return w.write(w.scratch[:n])
}

func (w *Writer) write(p []byte) error {
	n, err := w.bw.Write(p)
	w.total += int64(n)
	if err != nil {
		w.err = fmt.Errorf("%w: %w", types.ErrTransportFailure, err)
		return w.err
	}

	return nil
}

func (w *Writer) flush() error {
	if err := w.bw.Flush(); err != nil {
		w.err = fmt.Errorf("%w: %w", types.ErrTransportFailure, err)
		return w.err
	}

	return nil
}
