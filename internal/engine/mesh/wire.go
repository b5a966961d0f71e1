package mesh

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/lodmesh/internal/engine/gpu"
)

// Polyline addresses one group of a WireData vertex array.
type Polyline struct {
	ID    uint32
	First uint32
	Count uint32
}

// WireData stores polylines drawn as line strips. Each group shares one
// position array and carries its own primitive id for picking.
type WireData struct {
	positions    []float32
	positionSize int
	released     bool

	lines  []Polyline
	nextID uint32

	dev   gpu.Device
	vbo   gpu.Buffer
	owner string

	bbox *AABB
}

// NewWireData creates empty wire data. owner names the geometry in errors.
func NewWireData(owner string) *WireData {
	return &WireData{owner: owner, nextID: 1}
}

// AddVerticeGroup appends a polyline given as xyz triples and returns its id.
func (w *WireData) AddVerticeGroup(positions []float32) (uint32, error) {
	id := w.nextID
	if err := w.addGroup(positions, id); err != nil {
		return 0, err
	}
	w.nextID++
	return id, nil
}

func (w *WireData) addGroup(positions []float32, id uint32) error {
	if w.released {
		return ErrAlreadyFinished
	}
	if len(positions)%3 != 0 {
		return fmt.Errorf("%w: %d wire position floats", ErrVertexCountMismatch, len(positions))
	}
	if len(positions) < 6 {
		return ErrShortPolyline
	}
	first := uint32(len(w.positions) / 3)
	w.positions = append(w.positions, positions...)
	w.lines = append(w.lines, Polyline{ID: id, First: first, Count: uint32(len(positions) / 3)})
	w.bbox = nil
	return nil
}

// IsEmpty reports whether no polyline was added.
func (w *WireData) IsEmpty() bool {
	return len(w.lines) == 0
}

// Polylines returns the groups in insertion order.
func (w *WireData) Polylines() []Polyline {
	return w.lines
}

// VertexCount returns the number of wire vertices.
func (w *WireData) VertexCount() int {
	if w.released {
		return w.positionSize / 3
	}
	return len(w.positions) / 3
}

// Positions returns the wire positions, reading them back when released.
func (w *WireData) Positions() ([]float32, error) {
	if !w.released {
		return w.positions, nil
	}
	if w.positionSize == 0 {
		return nil, nil
	}
	v, err := w.dev.ReadFloat32(w.vbo, w.positionSize)
	if err != nil {
		return nil, gpu.Wrap("ReadFloat32", w.owner, err)
	}
	return v, nil
}

// BoundingBox returns the box of every wire vertex.
func (w *WireData) BoundingBox() (AABB, error) {
	if w.bbox != nil {
		return *w.bbox, nil
	}
	pos, err := w.Positions()
	if err != nil {
		return EmptyAABB(), err
	}
	box := boundsOf(pos, nil)
	w.bbox = &box
	return box, nil
}

// CreateGPUBuffer allocates and fills the position buffer. A buffer held by
// another device moves to dev, and released positions stay released.
func (w *WireData) CreateGPUBuffer(dev gpu.Device) error {
	if w.IsEmpty() {
		return nil
	}
	if dev == nil {
		return ErrNoDevice
	}
	if w.dev == dev {
		return nil
	}
	wasReleased := w.released
	if w.dev != nil {
		if err := w.Acquire(); err != nil {
			return err
		}
		w.DestroyGPUBuffer()
	}
	b, err := dev.GenBuffer()
	if err != nil {
		return gpu.Wrap("GenBuffer", w.owner, err)
	}
	if err := dev.UploadFloat32(b, w.positions); err != nil {
		dev.DeleteBuffer(b)
		return gpu.Wrap("UploadFloat32", w.owner, err)
	}
	w.dev, w.vbo = dev, b
	if wasReleased {
		return w.ReleaseCPUSide(false)
	}
	return nil
}

// ReleaseCPUSide drops the CPU positions, optionally uploading them first.
func (w *WireData) ReleaseCPUSide(update bool) error {
	if w.IsEmpty() || w.released {
		return nil
	}
	if w.dev == nil {
		return ErrNoGPUBuffers
	}
	if update {
		if err := w.dev.UploadFloat32(w.vbo, w.positions); err != nil {
			return gpu.Wrap("UploadFloat32", w.owner, err)
		}
	}
	w.positionSize = len(w.positions)
	w.positions = nil
	w.released = true
	return nil
}

// Acquire reads released positions back from the GPU.
func (w *WireData) Acquire() error {
	if !w.released {
		return nil
	}
	pos, err := w.Positions()
	if err != nil {
		return err
	}
	w.positions = pos
	w.released = false
	return nil
}

// DestroyGPUBuffer deletes the position buffer.
func (w *WireData) DestroyGPUBuffer() {
	if w.dev == nil {
		return
	}
	w.dev.DeleteBuffer(w.vbo)
	w.dev, w.vbo = nil, 0
}

// transform applies m to every position. The CPU copy must be held.
func (w *WireData) transform(m mgl32.Mat4) {
	for i := 0; i+2 < len(w.positions); i += 3 {
		p := m.Mul4x1(mgl32.Vec4{w.positions[i], w.positions[i+1], w.positions[i+2], 1})
		w.positions[i], w.positions[i+1], w.positions[i+2] = p[0], p[1], p[2]
	}
	w.bbox = nil
}

// draw binds the wire positions and issues one line strip per polyline.
// colorOf, when set, picks the color of each polyline.
func (w *WireData) draw(dev gpu.Device, useVBO bool, colorOf func(id uint32) [4]uint8) error {
	if w.IsEmpty() {
		return nil
	}
	if useVBO && w.dev != nil {
		if err := dev.BindVertexBuffers(gpu.VertexBuffers{Position: w.vbo}); err != nil {
			return err
		}
	} else {
		if err := w.Acquire(); err != nil {
			return err
		}
		if err := dev.BindVertexArrays(gpu.VertexArrays{Position: w.positions}); err != nil {
			return err
		}
	}
	for _, l := range w.lines {
		if colorOf != nil {
			dev.SetColor(colorOf(l.ID))
		}
		if err := dev.DrawArrays(gpu.LineStrip, int(l.First), int(l.Count)); err != nil {
			return err
		}
	}
	return nil
}

// clone copies the polylines without GPU buffers.
func (w *WireData) clone(owner string) (*WireData, error) {
	pos, err := w.Positions()
	if err != nil {
		return nil, err
	}
	return &WireData{
		positions: append([]float32(nil), pos...),
		lines:     append([]Polyline(nil), w.lines...),
		nextID:    w.nextID,
		owner:     owner,
		bbox:      w.bbox,
	}, nil
}
