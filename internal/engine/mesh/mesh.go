// Package mesh implements retained geometry: primitives are accumulated per
// material and level of detail, linearized into shared LOD index buffers, and
// drawn through the render loop selected by RenderProperties.
package mesh

import (
	"fmt"
	"slices"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/lodmesh/internal/engine/gpu"
	"github.com/Faultbox/lodmesh/internal/engine/material"
	"github.com/Faultbox/lodmesh/internal/logger"
)

var lastGeometryID atomic.Uint64

// idSpace records the highest primitive id issued by a mesh and its clones.
type idSpace struct {
	last uint32
}

// Mesh owns its primitive groups, vertex data and wire data. Materials are
// shared through usage-counted handles.
type Mesh struct {
	id   uint64
	name string

	nextPrimitiveID uint32
	ids             *idSpace
	groups          map[int]map[uint32]*PrimitiveGroup
	materials       map[uint32]*material.Handle
	defaultMaterial *material.Handle

	data *MeshData
	wire *WireData

	currentLod     int
	colorPerVertex bool
	finished       bool

	bbox *AABB
}

// New creates an empty mesh.
func New(name string) *Mesh {
	return &Mesh{
		id:              lastGeometryID.Add(1),
		name:            name,
		nextPrimitiveID: 1,
		ids:             &idSpace{},
		groups:          make(map[int]map[uint32]*PrimitiveGroup),
		materials:       make(map[uint32]*material.Handle),
		data:            NewMeshData(name),
		wire:            NewWireData(name),
	}
}

// ID returns the process-unique geometry id used as material owner.
func (m *Mesh) ID() uint64 { return m.id }

func (m *Mesh) Name() string { return m.name }

func (m *Mesh) SetName(name string) {
	m.name = name
	m.data.owner = name
	m.wire.owner = name
}

// IsFinished reports whether Finish has run.
func (m *Mesh) IsFinished() bool { return m.finished }

// Data returns the vertex and LOD buffers.
func (m *Mesh) Data() *MeshData { return m.data }

// Wire returns the polyline part.
func (m *Mesh) Wire() *WireData { return m.wire }

func (m *Mesh) addAttribute(a Attribute, v []float32) error {
	if m.finished {
		return ErrAlreadyFinished
	}
	m.data.add(a, v)
	if a == Position {
		m.bbox = nil
	}
	return nil
}

// AddVertices appends positions as xyz triples.
func (m *Mesh) AddVertices(v []float32) error { return m.addAttribute(Position, v) }

// AddNormals appends normals as xyz triples.
func (m *Mesh) AddNormals(v []float32) error { return m.addAttribute(Normal, v) }

// AddTexels appends texture coordinates as uv pairs.
func (m *Mesh) AddTexels(v []float32) error { return m.addAttribute(Texel, v) }

// AddColors appends per-vertex rgba colors in 0..1.
func (m *Mesh) AddColors(v []float32) error { return m.addAttribute(Color, v) }

// SetColorPerVertex selects per-vertex colors over material colors.
func (m *Mesh) SetColorPerVertex(on bool) { m.colorPerVertex = on }

func (m *Mesh) ColorPerVertex() bool { return m.colorPerVertex }

// AddTriangles adds a triangle list drawn with mat at lod. A nil mat uses the
// mesh default material. The returned id is zero above LOD 0.
func (m *Mesh) AddTriangles(mat *material.Handle, indices []uint32, lod int, accuracy float64) (uint32, error) {
	if len(indices)%3 != 0 {
		return 0, fmt.Errorf("triangle list of %d indices is not a multiple of 3", len(indices))
	}
	return m.addPrimitive(mat, indices, lod, accuracy, (*PrimitiveGroup).AddTriangles)
}

// AddStrip adds one triangle strip.
func (m *Mesh) AddStrip(mat *material.Handle, indices []uint32, lod int, accuracy float64) (uint32, error) {
	return m.addPrimitive(mat, indices, lod, accuracy, (*PrimitiveGroup).AddStrip)
}

// AddFan adds one triangle fan.
func (m *Mesh) AddFan(mat *material.Handle, indices []uint32, lod int, accuracy float64) (uint32, error) {
	return m.addPrimitive(mat, indices, lod, accuracy, (*PrimitiveGroup).AddFan)
}

func (m *Mesh) addPrimitive(mat *material.Handle, indices []uint32, lod int, accuracy float64,
	add func(*PrimitiveGroup, []uint32, uint32) error) (uint32, error) {
	if m.finished {
		return 0, ErrAlreadyFinished
	}
	if lod < 0 {
		return 0, fmt.Errorf("%w: %d", ErrUnknownLod, lod)
	}
	// an empty primitive is dropped without an id
	if len(indices) == 0 {
		return 0, nil
	}
	if mat == nil {
		mat = m.defaultHandle()
	}
	g, err := m.group(mat, lod, accuracy)
	if err != nil {
		return 0, err
	}

	var id uint32
	if lod == 0 {
		id = m.peekID()
	}
	if err := add(g, indices, id); err != nil {
		return 0, err
	}
	if lod == 0 {
		m.takeID()
	}
	return id, nil
}

// peekID returns the next primitive id, skipping ids issued by clones.
func (m *Mesh) peekID() uint32 {
	if m.nextPrimitiveID <= m.ids.last {
		m.nextPrimitiveID = m.ids.last + 1
	}
	return m.nextPrimitiveID
}

// takeID issues the id returned by peekID.
func (m *Mesh) takeID() uint32 {
	id := m.peekID()
	m.nextPrimitiveID++
	m.ids.last = id
	return id
}

func (m *Mesh) defaultHandle() *material.Handle {
	if m.defaultMaterial == nil {
		m.defaultMaterial = material.Share(material.Default())
	}
	return m.defaultMaterial
}

// group returns the group for (lod, material), creating the group, the LOD
// buffer and the material registration on first use.
func (m *Mesh) group(mat *material.Handle, lod int, accuracy float64) (*PrimitiveGroup, error) {
	id := mat.ID()
	if have, ok := m.materials[id]; ok && have != mat {
		return nil, fmt.Errorf("%w: id %d", ErrMaterialCollision, id)
	}

	byMaterial, ok := m.groups[lod]
	if !ok {
		byMaterial = make(map[uint32]*PrimitiveGroup)
		m.groups[lod] = byMaterial
		m.data.AppendLod(lod, accuracy)
	}
	g, ok := byMaterial[id]
	if !ok {
		g = NewPrimitiveGroup(id)
		byMaterial[id] = g
		m.addMaterial(mat)
	}
	return g, nil
}

func (m *Mesh) addMaterial(mat *material.Handle) {
	if _, ok := m.materials[mat.ID()]; ok {
		return
	}
	m.materials[mat.ID()] = mat
	mat.Acquire(m.id)
}

// AddVerticeGroup adds a wire polyline given as xyz triples. Wire ids come
// from the same counter as primitive ids.
func (m *Mesh) AddVerticeGroup(positions []float32) (uint32, error) {
	if m.finished {
		return 0, ErrAlreadyFinished
	}
	id := m.peekID()
	if err := m.wire.addGroup(positions, id); err != nil {
		return 0, err
	}
	m.takeID()
	m.bbox = nil
	return id, nil
}

// Levels returns the LOD keys in ascending order.
func (m *Mesh) Levels() []int {
	levels := make([]int, 0, len(m.groups))
	for lod := range m.groups {
		levels = append(levels, lod)
	}
	slices.Sort(levels)
	return levels
}

// materialOrder returns the material ids of a LOD in ascending order, which
// is the order groups are linearized and drawn in.
func (m *Mesh) materialOrder(lod int) []uint32 {
	byMaterial := m.groups[lod]
	ids := make([]uint32, 0, len(byMaterial))
	for id := range byMaterial {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Finish linearizes every group into its LOD index buffer and promotes the
// master LOD. Finishing twice is a no-op.
func (m *Mesh) Finish() error {
	if m.finished {
		return nil
	}
	if m.data.IsEmpty() && m.wire.IsEmpty() {
		return ErrEmptyGeometry
	}
	if !m.data.IsEmpty() {
		if err := m.data.Validate(); err != nil {
			return err
		}
	}
	if err := m.checkIndices(); err != nil {
		return err
	}

	for _, lod := range m.Levels() {
		buf, ok := m.data.Lod(lod)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnknownLod, lod)
		}
		for _, id := range m.materialOrder(lod) {
			g := m.groups[lod][id]
			if g.IsEmpty() {
				delete(m.groups[lod], id)
				continue
			}
			triBase := buf.appendIndices(g.triangles.flatten())
			stripBase := buf.appendIndices(g.strips.flatten())
			fanBase := buf.appendIndices(g.fans.flatten())
			if err := g.Finish(triBase, stripBase, fanBase); err != nil {
				return err
			}
		}
	}
	m.data.FinishLod()
	m.finished = true
	m.bbox = nil

	logger.Named("mesh").Debug("mesh finished",
		zap.String("name", m.name),
		zap.Int("vertices", m.data.VertexCount()),
		zap.Int("lods", m.data.LodCount()),
		zap.Int("materials", len(m.materials)),
		zap.Int("wires", len(m.wire.lines)),
	)
	return nil
}

func (m *Mesh) checkIndices() error {
	n := uint32(m.data.VertexCount())
	for lod, byMaterial := range m.groups {
		for _, g := range byMaterial {
			for _, l := range []*batchList{&g.triangles, &g.strips, &g.fans} {
				for _, batch := range l.raw {
					for _, idx := range batch {
						if idx >= n {
							return fmt.Errorf("%w: index %d at lod %d, %d vertices", ErrIndexOutOfRange, idx, lod, n)
						}
					}
				}
			}
		}
	}
	return nil
}

// SetCurrentLod maps a 0..100 percentage onto the LOD keys: 0 selects the
// first level and 100 the last.
func (m *Mesh) SetCurrentLod(percent int) {
	levels := m.Levels()
	if len(levels) == 0 {
		m.currentLod = 0
		return
	}
	percent = min(max(percent, 0), 100)
	m.currentLod = levels[(len(levels)-1)*percent/100]
}

// CurrentLod returns the LOD key drawn by Render.
func (m *Mesh) CurrentLod() int { return m.currentLod }

// LodCount returns the number of LOD buffers.
func (m *Mesh) LodCount() int { return m.data.LodCount() }

// LodAccuracy returns the accuracy of the LOD at list position i.
func (m *Mesh) LodAccuracy(i int) (float64, error) {
	lods := m.data.Lods()
	if i < 0 || i >= len(lods) {
		return 0, fmt.Errorf("%w: position %d", ErrUnknownLod, i)
	}
	return lods[i].Accuracy(), nil
}

// Group returns the primitive group of a material at a LOD.
func (m *Mesh) Group(lod int, materialID uint32) (*PrimitiveGroup, bool) {
	g, ok := m.groups[lod][materialID]
	return g, ok
}

// GroupIndices returns the indices of a material at a LOD split by kind.
func (m *Mesh) GroupIndices(lod int, materialID uint32) (GroupIndices, error) {
	byMaterial, ok := m.groups[lod]
	if !ok {
		return GroupIndices{}, fmt.Errorf("%w: %d", ErrUnknownLod, lod)
	}
	g, ok := byMaterial[materialID]
	if !ok {
		return GroupIndices{}, fmt.Errorf("%w: id %d at lod %d", ErrUnknownMaterial, materialID, lod)
	}
	if !g.finished {
		return g.indices(nil), nil
	}
	buf, ok := m.data.Lod(lod)
	if !ok {
		return GroupIndices{}, fmt.Errorf("%w: %d", ErrUnknownLod, lod)
	}
	indices, err := m.data.IndicesView(buf)
	if err != nil {
		return GroupIndices{}, err
	}
	return g.indices(indices), nil
}

// VertexCount returns the number of shared vertices.
func (m *Mesh) VertexCount() int { return m.data.VertexCount() }

// NormalCount returns the number of normals.
func (m *Mesh) NormalCount() int { return m.data.Size(Normal) / 3 }

// FaceCount returns the number of triangles drawn at lod.
func (m *Mesh) FaceCount(lod int) int {
	n := 0
	for _, g := range m.groups[lod] {
		n += g.FaceCount()
	}
	return n
}

// PrimitiveCount returns the number of pickable primitives at LOD 0.
func (m *Mesh) PrimitiveCount() int {
	n := 0
	for _, g := range m.groups[0] {
		n += g.triangles.count() + g.strips.count() + g.fans.count()
	}
	return n + len(m.wire.lines)
}

// Attribute returns a copy of an attribute array, read back from the GPU
// when the CPU copy was released.
func (m *Mesh) Attribute(a Attribute) ([]float32, error) {
	v, err := m.data.View(a)
	if err != nil {
		return nil, err
	}
	return append([]float32(nil), v...), nil
}

// Materials returns the material handles in id order.
func (m *Mesh) Materials() []*material.Handle {
	ids := m.MaterialIDs()
	out := make([]*material.Handle, len(ids))
	for i, id := range ids {
		out[i] = m.materials[id]
	}
	return out
}

// MaterialIDs returns the ids of the materials in use, ascending.
func (m *Mesh) MaterialIDs() []uint32 {
	ids := make([]uint32, 0, len(m.materials))
	for id := range m.materials {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// MaterialCount returns the number of materials in use.
func (m *Mesh) MaterialCount() int { return len(m.materials) }

// ContainsMaterial reports whether the mesh draws with material id.
func (m *Mesh) ContainsMaterial(id uint32) bool {
	_, ok := m.materials[id]
	return ok
}

// HasTransparentMaterials reports whether any material is transparent.
func (m *Mesh) HasTransparentMaterials() bool {
	for _, h := range m.materials {
		if h.IsTransparent() {
			return true
		}
	}
	return false
}

// ReplaceMaterial moves every group drawn with oldID to h. Usage counts are
// updated on both materials. Replacing the default material makes h the
// default.
func (m *Mesh) ReplaceMaterial(oldID uint32, h *material.Handle) error {
	old, ok := m.materials[oldID]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUnknownMaterial, oldID)
	}
	if h == old {
		return nil
	}
	newID := h.ID()
	if newID != oldID {
		if _, taken := m.materials[newID]; taken {
			return fmt.Errorf("%w: id %d", ErrMaterialCollision, newID)
		}
		for _, byMaterial := range m.groups {
			if g, ok := byMaterial[oldID]; ok {
				delete(byMaterial, oldID)
				g.materialID = newID
				byMaterial[newID] = g
			}
		}
	}
	delete(m.materials, oldID)
	m.materials[newID] = h
	if m.defaultMaterial == old {
		m.defaultMaterial = h
	}
	h.Acquire(m.id)
	old.Release(m.id)
	return nil
}

// BoundingBox returns the box of the master LOD and the wires. Before finish
// every position counts. The result is cached until the geometry changes.
func (m *Mesh) BoundingBox() (AABB, error) {
	if m.bbox != nil {
		return *m.bbox, nil
	}
	box := EmptyAABB()
	if !m.data.IsEmpty() {
		positions, err := m.data.View(Position)
		if err != nil {
			return box, err
		}
		var indices []uint32
		if master := m.data.MasterLod(); m.finished && master != nil {
			if indices, err = m.data.IndicesView(master); err != nil {
				return box, err
			}
			if indices == nil {
				indices = []uint32{}
			}
		}
		box = boundsOf(positions, indices)
	}
	wireBox, err := m.wire.BoundingBox()
	if err != nil {
		return box, err
	}
	box = box.Combine(wireBox)
	m.bbox = &box
	return box, nil
}

// mutate runs fn with the CPU copies held, then re-uploads them and restores
// the previous residency.
func (m *Mesh) mutate(op string, fn func()) error {
	wasReleased := m.data.IsReleased()
	wireReleased := m.wire.released
	if err := m.data.Acquire(); err != nil {
		return err
	}
	if err := m.wire.Acquire(); err != nil {
		return err
	}

	fn()
	m.bbox = nil

	if m.data.HasGPUBuffers() {
		if err := m.data.FillGPUBuffers(); err != nil {
			return err
		}
	}
	if m.wire.dev != nil {
		if err := m.wire.dev.UploadFloat32(m.wire.vbo, m.wire.positions); err != nil {
			return gpu.Wrap("UploadFloat32", m.name, err)
		}
	}
	if wasReleased {
		if err := m.data.ReleaseCPUSide(false); err != nil {
			return err
		}
	}
	if wireReleased {
		if err := m.wire.ReleaseCPUSide(false); err != nil {
			return err
		}
	}
	logger.Named("mesh").Debug("mesh "+op, zap.String("name", m.name))
	return nil
}

// ReverseNormals negates every normal.
func (m *Mesh) ReverseNormals() error {
	return m.mutate("normals reversed", func() {
		normals := m.data.attrs[Normal]
		for i := range normals {
			normals[i] = -normals[i]
		}
	})
}

// Transform applies mat to positions and wires, and its inverse transpose to
// normals.
func (m *Mesh) Transform(mat mgl32.Mat4) error {
	normalMat := mat.Mat3().Inv().Transpose()
	return m.mutate("transformed", func() {
		pos := m.data.attrs[Position]
		for i := 0; i+2 < len(pos); i += 3 {
			p := mat.Mul4x1(mgl32.Vec4{pos[i], pos[i+1], pos[i+2], 1})
			pos[i], pos[i+1], pos[i+2] = p[0], p[1], p[2]
		}
		normals := m.data.attrs[Normal]
		for i := 0; i+2 < len(normals); i += 3 {
			n := normalMat.Mul3x1(mgl32.Vec3{normals[i], normals[i+1], normals[i+2]})
			if l := n.Len(); l > 0 {
				n = n.Mul(1 / l)
			}
			normals[i], normals[i+1], normals[i+2] = n[0], n[1], n[2]
		}
		m.wire.transform(mat)
	})
}

// CreateGPUBuffers allocates and fills the GPU buffers of the mesh and wires.
// Buffers created on another device move to dev; released data stays
// released.
func (m *Mesh) CreateGPUBuffers(dev gpu.Device) error {
	if !m.finished {
		return ErrNotFinished
	}
	if dev == nil {
		return ErrNoDevice
	}
	if !m.data.IsEmpty() && m.data.Device() != dev {
		wasReleased := m.data.IsReleased()
		if m.data.HasGPUBuffers() {
			logger.Named("mesh").Debug("moving gpu buffers to another device",
				zap.String("name", m.name), zap.Bool("released", wasReleased))
		}
		if err := m.data.CreateGPUBuffers(dev); err != nil {
			return err
		}
		if err := m.data.FillGPUBuffers(); err != nil {
			m.data.DestroyGPUBuffers()
			return err
		}
		if wasReleased {
			if err := m.data.ReleaseCPUSide(false); err != nil {
				return err
			}
		}
	}
	return m.wire.CreateGPUBuffer(dev)
}

// SetVBOUsage creates the GPU buffers, or reads them back and deletes them.
func (m *Mesh) SetVBOUsage(dev gpu.Device, on bool) error {
	if on {
		return m.CreateGPUBuffers(dev)
	}
	if err := m.data.Acquire(); err != nil {
		return err
	}
	if err := m.wire.Acquire(); err != nil {
		return err
	}
	m.data.DestroyGPUBuffers()
	m.wire.DestroyGPUBuffer()
	return nil
}

// ReleaseVBOClientSide drops the CPU copies once the GPU buffers exist,
// uploading them first when update is set. A failed upload keeps the CPU
// copies and is logged.
func (m *Mesh) ReleaseVBOClientSide(update bool) error {
	if !m.data.IsEmpty() {
		if err := m.data.ReleaseCPUSide(update); err != nil {
			logger.Named("mesh").Error("release of cpu side failed",
				zap.String("name", m.name), zap.Error(err))
			return err
		}
	}
	if err := m.wire.ReleaseCPUSide(update); err != nil {
		logger.Named("mesh").Error("release of wire cpu side failed",
			zap.String("name", m.name), zap.Error(err))
		return err
	}
	return nil
}

// Destroy deletes the GPU buffers and releases every material.
func (m *Mesh) Destroy() {
	m.data.DestroyGPUBuffers()
	m.wire.DestroyGPUBuffer()
	for id, h := range m.materials {
		h.Release(m.id)
		delete(m.materials, id)
	}
}
