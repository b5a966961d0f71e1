// Package gpu defines the graphics device contract used by the geometry engine.
//
// The engine never calls a graphics API directly. Buffer allocation, uploads,
// read-back, draw submission and pixel read-back all go through Device so that
// the same mesh code runs against OpenGL (glbackend) or the in-memory device
// used for headless work (memgpu).
package gpu

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"
)

// Buffer is a device buffer handle. Zero means "no buffer".
type Buffer uint32

// IndexSize is the size in bytes of one element of an index buffer.
const IndexSize = 4

// Primitive is the topology used by a draw command.
type Primitive int

const (
	Triangles Primitive = iota
	TriangleStrip
	TriangleFan
	LineStrip
)

// String returns the primitive name.
func (p Primitive) String() string {
	switch p {
	case Triangles:
		return "Triangles"
	case TriangleStrip:
		return "TriangleStrip"
	case TriangleFan:
		return "TriangleFan"
	case LineStrip:
		return "LineStrip"
	default:
		return fmt.Sprintf("Primitive(%d)", int(p))
	}
}

// Capability is a fixed-function style toggle understood by every device.
type Capability int

const (
	Blend Capability = iota
	Texture
	Lighting
	DepthTest
)

// String returns the capability name.
func (c Capability) String() string {
	switch c {
	case Blend:
		return "Blend"
	case Texture:
		return "Texture"
	case Lighting:
		return "Lighting"
	case DepthTest:
		return "DepthTest"
	default:
		return fmt.Sprintf("Capability(%d)", int(c))
	}
}

// VertexBuffers names the device buffers holding vertex attributes.
// A zero handle disables the attribute.
type VertexBuffers struct {
	Position Buffer
	Normal   Buffer
	Texel    Buffer
	Color    Buffer
}

// VertexArrays holds client-side vertex attributes. Nil slices disable the attribute.
type VertexArrays struct {
	Position []float32
	Normal   []float32
	Texel    []float32
	Color    []float32
}

// Device is the graphics backend. All calls happen on the thread owning the
// graphics context; implementations are not required to be goroutine safe.
type Device interface {
	// GenBuffer allocates a new, empty buffer.
	GenBuffer() (Buffer, error)
	// DeleteBuffer releases a buffer. Deleting zero is a no-op.
	DeleteBuffer(b Buffer)

	UploadFloat32(b Buffer, data []float32) error
	UploadUint32(b Buffer, data []uint32) error
	// ReadFloat32 and ReadUint32 synchronously read back count elements.
	ReadFloat32(b Buffer, count int) ([]float32, error)
	ReadUint32(b Buffer, count int) ([]uint32, error)

	BindVertexBuffers(vb VertexBuffers) error
	BindVertexArrays(va VertexArrays) error
	BindIndexBuffer(b Buffer) error

	// DrawElements draws count indices from the bound index buffer starting at offsetBytes.
	DrawElements(mode Primitive, count int, offsetBytes int) error
	// DrawIndices draws from a client-side index slice.
	DrawIndices(mode Primitive, indices []uint32) error
	// DrawArrays draws count vertices starting at first, without indices.
	DrawArrays(mode Primitive, first, count int) error

	SetTransform(mvp mgl32.Mat4)
	SetColor(c [4]uint8)
	SetEnabled(c Capability, on bool)

	Clear(c [4]uint8)
	// ReadPixels returns RGBA bytes for the given window, rows bottom to top.
	ReadPixels(x, y, width, height int) ([]byte, error)
}

// OpError reports a backend failure for a named operation on a named geometry.
type OpError struct {
	Op    string
	Owner string
	Err   error
}

func (e *OpError) Error() string {
	if e.Owner == "" {
		return fmt.Sprintf("gpu %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gpu %s (%s): %v", e.Op, e.Owner, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Wrap returns err as an *OpError for op and owner. Nil stays nil and an
// existing OpError only gains the owner when it has none.
func Wrap(op, owner string, err error) error {
	if err == nil {
		return nil
	}
	if oe, ok := err.(*OpError); ok {
		if oe.Owner == "" {
			return &OpError{Op: oe.Op, Owner: owner, Err: oe.Err}
		}
		return oe
	}
	return &OpError{Op: op, Owner: owner, Err: err}
}
