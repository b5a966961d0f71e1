// Package memgpu provides an in-memory gpu.Device.
//
// It keeps buffer contents in Go slices, records every draw command, and
// rasterizes triangles and line strips into an RGBA surface so that picking
// passes can be run without a graphics context.
package memgpu

import (
	"errors"
	"fmt"
	gomath "math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/lodmesh/internal/engine/gpu"
)

// Errors returned by the device.
var (
	ErrUnknownBuffer = errors.New("unknown buffer")
	ErrOutOfRange    = errors.New("range outside buffer")
	ErrNoPositions   = errors.New("no position attribute bound")
	ErrNoIndexBuffer = errors.New("no index buffer bound")
)

// Call is one recorded draw command.
type Call struct {
	Op          string
	Mode        gpu.Primitive
	First       int
	Count       int
	OffsetBytes int
	Color       [4]uint8
	// Indices holds the resolved vertex indices of the command.
	Indices []uint32
}

type buffer struct {
	floats []float32
	uints  []uint32
}

// Device is an in-memory graphics device.
type Device struct {
	width  int
	height int

	buffers map[gpu.Buffer]*buffer
	next    gpu.Buffer

	vb     gpu.VertexBuffers
	va     gpu.VertexArrays
	client bool
	index  gpu.Buffer

	mvp     mgl32.Mat4
	color   [4]uint8
	enabled map[gpu.Capability]bool

	pixels []byte
	depth  []float32

	// Calls lists every draw command in submission order.
	Calls []Call
	// ColorChanges counts SetColor calls.
	ColorChanges int

	failures map[string]error
}

// New creates a device with a width x height surface.
func New(width, height int) *Device {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	d := &Device{
		width:   width,
		height:  height,
		buffers: make(map[gpu.Buffer]*buffer),
		mvp:     mgl32.Ident4(),
		color:   [4]uint8{255, 255, 255, 255},
		enabled: make(map[gpu.Capability]bool),
		pixels:  make([]byte, width*height*4),
		depth:   make([]float32, width*height),
	}
	d.Clear([4]uint8{})
	return d
}

// FailOn makes every subsequent call of op return err. A nil err clears it.
// Op names match the gpu.Device method names.
func (d *Device) FailOn(op string, err error) {
	if d.failures == nil {
		d.failures = make(map[string]error)
	}
	if err == nil {
		delete(d.failures, op)
		return
	}
	d.failures[op] = err
}

func (d *Device) fail(op string) error {
	if err, ok := d.failures[op]; ok {
		return &gpu.OpError{Op: op, Err: err}
	}
	return nil
}

// Size returns the surface dimensions.
func (d *Device) Size() (width, height int) {
	return d.width, d.height
}

// BufferCount returns the number of live buffers.
func (d *Device) BufferCount() int {
	return len(d.buffers)
}

// Enabled reports the state of a capability.
func (d *Device) Enabled(c gpu.Capability) bool {
	return d.enabled[c]
}

// Color returns the current draw color.
func (d *Device) Color() [4]uint8 {
	return d.color
}

// Float32Data returns a copy of a float buffer's contents.
func (d *Device) Float32Data(b gpu.Buffer) []float32 {
	if buf, ok := d.buffers[b]; ok {
		return append([]float32(nil), buf.floats...)
	}
	return nil
}

// Uint32Data returns a copy of an index buffer's contents.
func (d *Device) Uint32Data(b gpu.Buffer) []uint32 {
	if buf, ok := d.buffers[b]; ok {
		return append([]uint32(nil), buf.uints...)
	}
	return nil
}

// ResetCalls forgets recorded draw commands.
func (d *Device) ResetCalls() {
	d.Calls = nil
	d.ColorChanges = 0
}

// Pixel returns the RGBA value at (x, y), origin bottom-left.
func (d *Device) Pixel(x, y int) [4]uint8 {
	i := (y*d.width + x) * 4
	return [4]uint8{d.pixels[i], d.pixels[i+1], d.pixels[i+2], d.pixels[i+3]}
}

func (d *Device) GenBuffer() (gpu.Buffer, error) {
	if err := d.fail("GenBuffer"); err != nil {
		return 0, err
	}
	d.next++
	d.buffers[d.next] = &buffer{}
	return d.next, nil
}

func (d *Device) DeleteBuffer(b gpu.Buffer) {
	delete(d.buffers, b)
	if d.index == b {
		d.index = 0
	}
}

func (d *Device) UploadFloat32(b gpu.Buffer, data []float32) error {
	if err := d.fail("UploadFloat32"); err != nil {
		return err
	}
	buf, ok := d.buffers[b]
	if !ok {
		return &gpu.OpError{Op: "UploadFloat32", Err: fmt.Errorf("%w: %d", ErrUnknownBuffer, b)}
	}
	buf.floats = append(buf.floats[:0], data...)
	buf.uints = nil
	return nil
}

func (d *Device) UploadUint32(b gpu.Buffer, data []uint32) error {
	if err := d.fail("UploadUint32"); err != nil {
		return err
	}
	buf, ok := d.buffers[b]
	if !ok {
		return &gpu.OpError{Op: "UploadUint32", Err: fmt.Errorf("%w: %d", ErrUnknownBuffer, b)}
	}
	buf.uints = append(buf.uints[:0], data...)
	buf.floats = nil
	return nil
}

func (d *Device) ReadFloat32(b gpu.Buffer, count int) ([]float32, error) {
	if err := d.fail("ReadFloat32"); err != nil {
		return nil, err
	}
	buf, ok := d.buffers[b]
	if !ok {
		return nil, &gpu.OpError{Op: "ReadFloat32", Err: fmt.Errorf("%w: %d", ErrUnknownBuffer, b)}
	}
	if count < 0 || count > len(buf.floats) {
		return nil, &gpu.OpError{Op: "ReadFloat32", Err: ErrOutOfRange}
	}
	return append([]float32(nil), buf.floats[:count]...), nil
}

func (d *Device) ReadUint32(b gpu.Buffer, count int) ([]uint32, error) {
	if err := d.fail("ReadUint32"); err != nil {
		return nil, err
	}
	buf, ok := d.buffers[b]
	if !ok {
		return nil, &gpu.OpError{Op: "ReadUint32", Err: fmt.Errorf("%w: %d", ErrUnknownBuffer, b)}
	}
	if count < 0 || count > len(buf.uints) {
		return nil, &gpu.OpError{Op: "ReadUint32", Err: ErrOutOfRange}
	}
	return append([]uint32(nil), buf.uints[:count]...), nil
}

func (d *Device) BindVertexBuffers(vb gpu.VertexBuffers) error {
	if err := d.fail("BindVertexBuffers"); err != nil {
		return err
	}
	for _, b := range []gpu.Buffer{vb.Position, vb.Normal, vb.Texel, vb.Color} {
		if b == 0 {
			continue
		}
		if _, ok := d.buffers[b]; !ok {
			return &gpu.OpError{Op: "BindVertexBuffers", Err: fmt.Errorf("%w: %d", ErrUnknownBuffer, b)}
		}
	}
	d.vb = vb
	d.va = gpu.VertexArrays{}
	d.client = false
	return nil
}

func (d *Device) BindVertexArrays(va gpu.VertexArrays) error {
	if err := d.fail("BindVertexArrays"); err != nil {
		return err
	}
	d.va = va
	d.vb = gpu.VertexBuffers{}
	d.client = true
	return nil
}

func (d *Device) BindIndexBuffer(b gpu.Buffer) error {
	if err := d.fail("BindIndexBuffer"); err != nil {
		return err
	}
	if b != 0 {
		if _, ok := d.buffers[b]; !ok {
			return &gpu.OpError{Op: "BindIndexBuffer", Err: fmt.Errorf("%w: %d", ErrUnknownBuffer, b)}
		}
	}
	d.index = b
	return nil
}

func (d *Device) DrawElements(mode gpu.Primitive, count int, offsetBytes int) error {
	if err := d.fail("DrawElements"); err != nil {
		return err
	}
	buf, ok := d.buffers[d.index]
	if d.index == 0 || !ok {
		return &gpu.OpError{Op: "DrawElements", Err: ErrNoIndexBuffer}
	}
	first := offsetBytes / gpu.IndexSize
	if offsetBytes%gpu.IndexSize != 0 || first < 0 || count < 0 || first+count > len(buf.uints) {
		return &gpu.OpError{Op: "DrawElements", Err: ErrOutOfRange}
	}
	indices := append([]uint32(nil), buf.uints[first:first+count]...)
	d.Calls = append(d.Calls, Call{Op: "DrawElements", Mode: mode, First: first, Count: count, OffsetBytes: offsetBytes, Color: d.color, Indices: indices})
	return d.rasterize(mode, indices)
}

func (d *Device) DrawIndices(mode gpu.Primitive, indices []uint32) error {
	if err := d.fail("DrawIndices"); err != nil {
		return err
	}
	cp := append([]uint32(nil), indices...)
	d.Calls = append(d.Calls, Call{Op: "DrawIndices", Mode: mode, Count: len(indices), Color: d.color, Indices: cp})
	return d.rasterize(mode, cp)
}

func (d *Device) DrawArrays(mode gpu.Primitive, first, count int) error {
	if err := d.fail("DrawArrays"); err != nil {
		return err
	}
	indices := make([]uint32, count)
	for i := range indices {
		indices[i] = uint32(first + i)
	}
	d.Calls = append(d.Calls, Call{Op: "DrawArrays", Mode: mode, First: first, Count: count, Color: d.color, Indices: indices})
	return d.rasterize(mode, indices)
}

func (d *Device) SetTransform(mvp mgl32.Mat4) {
	d.mvp = mvp
}

func (d *Device) SetColor(c [4]uint8) {
	d.color = c
	d.ColorChanges++
}

func (d *Device) SetEnabled(c gpu.Capability, on bool) {
	d.enabled[c] = on
}

func (d *Device) Clear(c [4]uint8) {
	for i := 0; i < len(d.pixels); i += 4 {
		d.pixels[i], d.pixels[i+1], d.pixels[i+2], d.pixels[i+3] = c[0], c[1], c[2], c[3]
	}
	for i := range d.depth {
		d.depth[i] = gomath.MaxFloat32
	}
}

func (d *Device) ReadPixels(x, y, width, height int) ([]byte, error) {
	if err := d.fail("ReadPixels"); err != nil {
		return nil, err
	}
	if x < 0 || y < 0 || width < 0 || height < 0 || x+width > d.width || y+height > d.height {
		return nil, &gpu.OpError{Op: "ReadPixels", Err: ErrOutOfRange}
	}
	out := make([]byte, 0, width*height*4)
	for row := y; row < y+height; row++ {
		start := (row*d.width + x) * 4
		out = append(out, d.pixels[start:start+width*4]...)
	}
	return out, nil
}
