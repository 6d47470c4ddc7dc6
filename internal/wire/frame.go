// Package wire holds the owned payload buffers that cross the boundary
// between the core and the host, plus helpers for the fixed little-endian
// layouts of device payloads.
//
// A Frame is allocated by the core, handed to the host on collect, and
// returned exactly once through Release. Buffers are pooled per device
// kind.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/ferrobot-core/internal/device"
)

// HeaderSize is the size of the marshalled frame header: kind (1 byte)
// followed by payload length (4 bytes, little-endian).
const HeaderSize = 5

// MaxPayload bounds the payload accepted by ParseFrame.
const MaxPayload = 64 * 1024

var (
	// ErrShortFrame is returned when a buffer ends before the header or
	// payload is complete.
	ErrShortFrame = errors.New("wire: short frame")

	// ErrFrameTooLarge is returned when a header declares a payload
	// larger than MaxPayload.
	ErrFrameTooLarge = errors.New("wire: frame too large")
)

// Frame is an owned, kind-tagged payload buffer.
type Frame struct {
	kind     device.Kind
	buf      *[]byte
	released atomic.Bool
}

var (
	sparkMaxPool = sync.Pool{New: func() any { b := make([]byte, 0, 128); return &b }}
	navxPool     = sync.Pool{New: func() any { b := make([]byte, 0, 16); return &b }}
)

// poolFor is the closed dispatch over device kinds. A kind without a pool
// is a programming error.
func poolFor(kind device.Kind) *sync.Pool {
	switch kind {
	case device.KindSparkMax:
		return &sparkMaxPool
	case device.KindNavX:
		return &navxPool
	default:
		panic(fmt.Sprintf("wire: no buffer pool for device kind %d", uint8(kind)))
	}
}

// NewFrame copies payload into a pooled buffer for kind.
func NewFrame(kind device.Kind, payload []byte) *Frame {
	bp := poolFor(kind).Get().(*[]byte)
	*bp = append((*bp)[:0], payload...)
	return &Frame{kind: kind, buf: bp}
}

// Kind returns the device kind the frame belongs to.
func (f *Frame) Kind() device.Kind {
	return f.kind
}

// Bytes returns the payload. It must not be used after Release.
func (f *Frame) Bytes() []byte {
	if f.released.Load() {
		panic("wire: use of released frame")
	}
	return *f.buf
}

// Len returns the payload length.
func (f *Frame) Len() int {
	return len(f.Bytes())
}

// Released reports whether Release has been called.
func (f *Frame) Released() bool {
	return f.released.Load()
}

// AppendBinary appends the marshalled frame to dst.
func (f *Frame) AppendBinary(dst []byte) ([]byte, error) {
	payload := f.Bytes()
	dst = append(dst, byte(f.kind))
	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...), nil
}

// MarshalBinary encodes the frame as [kind u8][len u32 LE][payload].
func (f *Frame) MarshalBinary() ([]byte, error) {
	return f.AppendBinary(make([]byte, 0, HeaderSize+f.Len()))
}

// ParseFrame decodes one marshalled frame from the front of data and
// returns it with the number of bytes consumed. The payload is copied.
func ParseFrame(data []byte) (*Frame, int, error) {
	if len(data) < HeaderSize {
		return nil, 0, ErrShortFrame
	}
	kind := device.Kind(data[0])
	if !kind.Valid() {
		return nil, 0, fmt.Errorf("%w: %d", device.ErrUnknownKind, data[0])
	}
	n := binary.LittleEndian.Uint32(data[1:HeaderSize])
	if n > MaxPayload {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	end := HeaderSize + int(n)
	if len(data) < end {
		return nil, 0, ErrShortFrame
	}
	return NewFrame(kind, data[HeaderSize:end]), end, nil
}

// Release returns the frame's buffer to its kind's pool. Releasing a frame
// twice, or a frame of an unknown kind, panics. A nil frame is ignored.
func Release(f *Frame) {
	if f == nil {
		return
	}
	pool := poolFor(f.kind)
	if !f.released.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("wire: double release of %s frame", f.kind))
	}
	bp := f.buf
	f.buf = nil
	*bp = (*bp)[:0]
	pool.Put(bp)
}
