// Package formats provides the binary chunk encoding used to persist geometry.
//
// Every structure is written as a 32-bit chunk id followed by its fields in a
// fixed order. Integers and floats are little-endian, strings and sequences
// are prefixed with a uint32 element count.
package formats

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Chunk format errors.
var (
	ErrInvalidMagic       = errors.New("invalid magic: expected 'LMSH'")
	ErrUnsupportedVersion = errors.New("unsupported container version")
	ErrTruncated          = errors.New("truncated chunk data")
	ErrUnexpectedChunk    = errors.New("unexpected chunk id")
	ErrSequenceTooLong    = errors.New("sequence length exceeds limit")
)

// MaxSequenceLen bounds the element count accepted for any sequence.
const MaxSequenceLen = 1 << 28

// ChunkWriter writes chunk fields. The first error sticks; later writes are
// no-ops and Err reports it.
type ChunkWriter struct {
	w   io.Writer
	buf [8]byte
	err error
}

// NewChunkWriter returns a writer emitting to w.
func NewChunkWriter(w io.Writer) *ChunkWriter {
	return &ChunkWriter{w: w}
}

// Err returns the first write error.
func (cw *ChunkWriter) Err() error {
	return cw.err
}

func (cw *ChunkWriter) write(p []byte) {
	if cw.err != nil {
		return
	}
	_, cw.err = cw.w.Write(p)
}

// Chunk writes a chunk id.
func (cw *ChunkWriter) Chunk(id uint32) {
	cw.Uint32(id)
}

func (cw *ChunkWriter) Uint32(v uint32) {
	binary.LittleEndian.PutUint32(cw.buf[:4], v)
	cw.write(cw.buf[:4])
}

func (cw *ChunkWriter) Int32(v int32) {
	cw.Uint32(uint32(v))
}

func (cw *ChunkWriter) Float64(v float64) {
	binary.LittleEndian.PutUint64(cw.buf[:8], math.Float64bits(v))
	cw.write(cw.buf[:8])
}

func (cw *ChunkWriter) Bool(v bool) {
	if v {
		cw.write([]byte{1})
	} else {
		cw.write([]byte{0})
	}
}

func (cw *ChunkWriter) Text(s string) {
	cw.Uint32(uint32(len(s)))
	cw.write([]byte(s))
}

func (cw *ChunkWriter) Float32s(v []float32) {
	cw.Uint32(uint32(len(v)))
	if cw.err == nil && len(v) > 0 {
		cw.err = binary.Write(cw.w, binary.LittleEndian, v)
	}
}

func (cw *ChunkWriter) Uint32s(v []uint32) {
	cw.Uint32(uint32(len(v)))
	if cw.err == nil && len(v) > 0 {
		cw.err = binary.Write(cw.w, binary.LittleEndian, v)
	}
}

func (cw *ChunkWriter) Int32s(v []int32) {
	cw.Uint32(uint32(len(v)))
	if cw.err == nil && len(v) > 0 {
		cw.err = binary.Write(cw.w, binary.LittleEndian, v)
	}
}

// ChunkReader reads chunk fields with the same sticky error behavior as
// ChunkWriter. A short read is reported as ErrTruncated.
type ChunkReader struct {
	r   io.Reader
	buf [8]byte
	err error
}

// NewChunkReader returns a reader consuming r.
func NewChunkReader(r io.Reader) *ChunkReader {
	return &ChunkReader{r: r}
}

// Err returns the first read error.
func (cr *ChunkReader) Err() error {
	return cr.err
}

func (cr *ChunkReader) fail(err error) {
	if cr.err != nil {
		return
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		err = ErrTruncated
	}
	cr.err = err
}

func (cr *ChunkReader) read(n int) []byte {
	if cr.err != nil {
		return nil
	}
	if _, err := io.ReadFull(cr.r, cr.buf[:n]); err != nil {
		cr.fail(err)
		return nil
	}
	return cr.buf[:n]
}

// Expect reads a chunk id and fails with ErrUnexpectedChunk unless it is id.
func (cr *ChunkReader) Expect(id uint32) bool {
	got := cr.Uint32()
	if cr.err != nil {
		return false
	}
	if got != id {
		cr.fail(fmt.Errorf("%w: got 0x%x, want 0x%x", ErrUnexpectedChunk, got, id))
		return false
	}
	return true
}

func (cr *ChunkReader) Uint32() uint32 {
	b := cr.read(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (cr *ChunkReader) Int32() int32 {
	return int32(cr.Uint32())
}

func (cr *ChunkReader) Float64() float64 {
	b := cr.read(8)
	if b == nil {
		return 0
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b))
}

func (cr *ChunkReader) Bool() bool {
	b := cr.read(1)
	return b != nil && b[0] != 0
}

func (cr *ChunkReader) length() int {
	n := cr.Uint32()
	if cr.err != nil {
		return 0
	}
	if n > MaxSequenceLen {
		cr.fail(fmt.Errorf("%w: %d", ErrSequenceTooLong, n))
		return 0
	}
	return int(n)
}

func (cr *ChunkReader) Text() string {
	n := cr.length()
	if cr.err != nil || n == 0 {
		return ""
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(cr.r, b); err != nil {
		cr.fail(err)
		return ""
	}
	return string(b)
}

func (cr *ChunkReader) Float32s() []float32 {
	n := cr.length()
	if cr.err != nil || n == 0 {
		return nil
	}
	v := make([]float32, n)
	if err := binary.Read(cr.r, binary.LittleEndian, v); err != nil {
		cr.fail(err)
		return nil
	}
	return v
}

func (cr *ChunkReader) Uint32s() []uint32 {
	n := cr.length()
	if cr.err != nil || n == 0 {
		return nil
	}
	v := make([]uint32, n)
	if err := binary.Read(cr.r, binary.LittleEndian, v); err != nil {
		cr.fail(err)
		return nil
	}
	return v
}

func (cr *ChunkReader) Int32s() []int32 {
	n := cr.length()
	if cr.err != nil || n == 0 {
		return nil
	}
	v := make([]int32, n)
	if err := binary.Read(cr.r, binary.LittleEndian, v); err != nil {
		cr.fail(err)
		return nil
	}
	return v
}

// Count reads a sequence length, for callers decoding element chunks one by one.
func (cr *ChunkReader) Count() int {
	return cr.length()
}
