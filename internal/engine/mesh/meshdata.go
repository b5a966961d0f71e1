package mesh

import (
	"fmt"

	"github.com/Faultbox/lodmesh/internal/engine/gpu"
)

// Attribute identifies a per-vertex array.
type Attribute int

const (
	Position Attribute = iota
	Normal
	Texel
	Color
	attributeCount
)

// Components returns the number of floats per vertex.
func (a Attribute) Components() int {
	switch a {
	case Texel:
		return 2
	case Color:
		return 4
	default:
		return 3
	}
}

func (a Attribute) String() string {
	switch a {
	case Position:
		return "position"
	case Normal:
		return "normal"
	case Texel:
		return "texel"
	case Color:
		return "color"
	default:
		return fmt.Sprintf("attribute(%d)", int(a))
	}
}

// MeshData owns the vertex attributes and LOD index buffers of a mesh, on the
// CPU, on the GPU, or both.
type MeshData struct {
	attrs [attributeCount][]float32
	// sizes holds float counts recorded when the CPU copies are released.
	sizes    [attributeCount]int
	released bool

	lods []*LodBuffer

	dev     gpu.Device
	buffers [attributeCount]gpu.Buffer
	owner   string
}

// NewMeshData creates empty mesh data. owner names the geometry in errors.
func NewMeshData(owner string) *MeshData {
	return &MeshData{owner: owner}
}

func (d *MeshData) add(a Attribute, v []float32) {
	d.attrs[a] = append(d.attrs[a], v...)
}

// Data returns the CPU copy of an attribute, nil once released.
func (d *MeshData) Data(a Attribute) []float32 {
	return d.attrs[a]
}

// Size returns the float count of an attribute, held on the CPU or not.
func (d *MeshData) Size(a Attribute) int {
	if d.released {
		return d.sizes[a]
	}
	return len(d.attrs[a])
}

// VertexCount returns the number of positions.
func (d *MeshData) VertexCount() int {
	return d.Size(Position) / 3
}

// IsEmpty reports whether there are no positions.
func (d *MeshData) IsEmpty() bool {
	return d.Size(Position) == 0
}

// IsReleased reports whether the CPU copies have been dropped.
func (d *MeshData) IsReleased() bool {
	return d.released
}

// Validate checks that every attribute describes the same vertices.
func (d *MeshData) Validate() error {
	if d.IsEmpty() {
		return ErrEmptyGeometry
	}
	if d.Size(Position)%3 != 0 {
		return fmt.Errorf("%w: %d position floats", ErrVertexCountMismatch, d.Size(Position))
	}
	n := d.VertexCount()
	for _, a := range []Attribute{Normal, Texel, Color} {
		size := d.Size(a)
		if a != Normal && size == 0 {
			continue
		}
		if size != n*a.Components() {
			return fmt.Errorf("%w: %d vertices, %d %s floats", ErrVertexCountMismatch, n, size, a)
		}
	}
	return nil
}

// AppendLod returns the buffer for level, creating it at the end of the list.
// Buffers are appended in the order levels are first used.
func (d *MeshData) AppendLod(level int, accuracy float64) *LodBuffer {
	if l, ok := d.Lod(level); ok {
		return l
	}
	l := newLodBuffer(level, accuracy)
	d.lods = append(d.lods, l)
	return l
}

// Lod returns the buffer created for level.
func (d *MeshData) Lod(level int) (*LodBuffer, bool) {
	for _, l := range d.lods {
		if l.level == level {
			return l, true
		}
	}
	return nil, false
}

// Lods returns the buffers in list order. After FinishLod the first one is
// the master LOD.
func (d *MeshData) Lods() []*LodBuffer {
	return d.lods
}

func (d *MeshData) LodCount() int {
	return len(d.lods)
}

// MasterLod returns the most detailed buffer once the list is finished.
func (d *MeshData) MasterLod() *LodBuffer {
	if len(d.lods) == 0 {
		return nil
	}
	return d.lods[0]
}

// FinishLod promotes the last appended buffer to the master position at the
// front. The other buffers keep their relative order.
func (d *MeshData) FinishLod() {
	n := len(d.lods)
	if n < 2 {
		return
	}
	last := d.lods[n-1]
	copy(d.lods[1:], d.lods[:n-1])
	d.lods[0] = last
}

// HasGPUBuffers reports whether CreateGPUBuffers succeeded.
func (d *MeshData) HasGPUBuffers() bool {
	return d.dev != nil
}

// Device returns the device owning the GPU buffers.
func (d *MeshData) Device() gpu.Device {
	return d.dev
}

// CreateGPUBuffers allocates one buffer per non-empty attribute and one index
// buffer per LOD. Buffers held by another device are read back and deleted
// there first, leaving the CPU copies held.
func (d *MeshData) CreateGPUBuffers(dev gpu.Device) error {
	if dev == nil {
		return ErrNoDevice
	}
	if d.dev == dev {
		return nil
	}
	if d.dev != nil {
		if err := d.Acquire(); err != nil {
			return err
		}
		d.DestroyGPUBuffers()
	}

	var created []gpu.Buffer
	fail := func(err error) error {
		for _, b := range created {
			dev.DeleteBuffer(b)
		}
		d.buffers = [attributeCount]gpu.Buffer{}
		for _, l := range d.lods {
			l.ibo = 0
		}
		return gpu.Wrap("CreateGPUBuffers", d.owner, err)
	}

	for a := Attribute(0); a < attributeCount; a++ {
		if d.Size(a) == 0 {
			continue
		}
		b, err := dev.GenBuffer()
		if err != nil {
			return fail(err)
		}
		created = append(created, b)
		d.buffers[a] = b
	}
	for _, l := range d.lods {
		b, err := dev.GenBuffer()
		if err != nil {
			return fail(err)
		}
		created = append(created, b)
		l.ibo = b
	}
	d.dev = dev
	return nil
}

// FillGPUBuffers uploads the CPU copies. Empty attributes are skipped.
func (d *MeshData) FillGPUBuffers() error {
	if d.dev == nil {
		return ErrNoGPUBuffers
	}
	if d.released {
		return nil
	}
	for a := Attribute(0); a < attributeCount; a++ {
		if err := d.fillAttribute(a); err != nil {
			return err
		}
	}
	for _, l := range d.lods {
		if err := d.dev.UploadUint32(l.ibo, l.indices); err != nil {
			return gpu.Wrap("UploadUint32", d.owner, err)
		}
	}
	return nil
}

func (d *MeshData) fillAttribute(a Attribute) error {
	if len(d.attrs[a]) == 0 || d.buffers[a] == 0 {
		return nil
	}
	if err := d.dev.UploadFloat32(d.buffers[a], d.attrs[a]); err != nil {
		return gpu.Wrap("UploadFloat32", d.owner, err)
	}
	return nil
}

// ReleaseCPUSide drops the CPU copies, optionally uploading them first.
// A failed upload leaves the CPU copies in place.
func (d *MeshData) ReleaseCPUSide(update bool) error {
	if d.dev == nil {
		return ErrNoGPUBuffers
	}
	if d.released {
		return nil
	}
	if update {
		if err := d.FillGPUBuffers(); err != nil {
			return err
		}
	}
	for a := range d.attrs {
		d.sizes[a] = len(d.attrs[a])
		d.attrs[a] = nil
	}
	for _, l := range d.lods {
		l.size = len(l.indices)
		l.indices = nil
	}
	d.released = true
	return nil
}

// Acquire reads released data back from the GPU so the CPU copies exist
// again. Nothing changes when a read fails.
func (d *MeshData) Acquire() error {
	if !d.released {
		return nil
	}
	var attrs [attributeCount][]float32
	for a := Attribute(0); a < attributeCount; a++ {
		v, err := d.read(a)
		if err != nil {
			return err
		}
		attrs[a] = v
	}
	lodIndices := make([][]uint32, len(d.lods))
	for i, l := range d.lods {
		v, err := d.readIndices(l)
		if err != nil {
			return err
		}
		lodIndices[i] = v
	}

	d.attrs = attrs
	for i, l := range d.lods {
		l.indices = lodIndices[i]
	}
	d.released = false
	return nil
}

func (d *MeshData) read(a Attribute) ([]float32, error) {
	if d.sizes[a] == 0 {
		return nil, nil
	}
	v, err := d.dev.ReadFloat32(d.buffers[a], d.sizes[a])
	if err != nil {
		return nil, gpu.Wrap("ReadFloat32", d.owner, err)
	}
	return v, nil
}

func (d *MeshData) readIndices(l *LodBuffer) ([]uint32, error) {
	if l.size == 0 {
		return []uint32{}, nil
	}
	v, err := d.dev.ReadUint32(l.ibo, l.size)
	if err != nil {
		return nil, gpu.Wrap("ReadUint32", d.owner, err)
	}
	return v, nil
}

// View returns an attribute without changing where the data lives: the CPU
// copy when held, otherwise a read-back copy.
func (d *MeshData) View(a Attribute) ([]float32, error) {
	if !d.released {
		return d.attrs[a], nil
	}
	return d.read(a)
}

// IndicesView is View for a LOD index buffer.
func (d *MeshData) IndicesView(l *LodBuffer) ([]uint32, error) {
	if !d.released {
		return l.indices, nil
	}
	return d.readIndices(l)
}

// VertexBuffers returns the GPU buffers to bind. The color buffer is left out
// unless withColor is set.
func (d *MeshData) VertexBuffers(withColor bool) gpu.VertexBuffers {
	vb := gpu.VertexBuffers{
		Position: d.buffers[Position],
		Normal:   d.buffers[Normal],
		Texel:    d.buffers[Texel],
	}
	if withColor {
		vb.Color = d.buffers[Color]
	}
	return vb
}

// VertexArrays returns the CPU copies to bind.
func (d *MeshData) VertexArrays(withColor bool) gpu.VertexArrays {
	va := gpu.VertexArrays{
		Position: d.attrs[Position],
		Normal:   d.attrs[Normal],
		Texel:    d.attrs[Texel],
	}
	if withColor {
		va.Color = d.attrs[Color]
	}
	return va
}

// DestroyGPUBuffers deletes every GPU buffer. Released data is lost.
func (d *MeshData) DestroyGPUBuffers() {
	if d.dev == nil {
		return
	}
	for a := range d.buffers {
		d.dev.DeleteBuffer(d.buffers[a])
		d.buffers[a] = 0
	}
	for _, l := range d.lods {
		d.dev.DeleteBuffer(l.ibo)
		l.ibo = 0
	}
	d.dev = nil
}

// clone copies the attributes and LOD buffers without GPU buffers. Released
// data is read back.
func (d *MeshData) clone(owner string) (*MeshData, error) {
	c := NewMeshData(owner)
	for a := Attribute(0); a < attributeCount; a++ {
		v, err := d.View(a)
		if err != nil {
			return nil, err
		}
		c.attrs[a] = append([]float32(nil), v...)
	}
	c.lods = make([]*LodBuffer, len(d.lods))
	for i, l := range d.lods {
		indices, err := d.IndicesView(l)
		if err != nil {
			return nil, err
		}
		c.lods[i] = &LodBuffer{
			level:    l.level,
			accuracy: l.accuracy,
			indices:  append([]uint32(nil), indices...),
		}
	}
	return c, nil
}
