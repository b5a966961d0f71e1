package mesh

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/Faultbox/lodmesh/internal/engine/material"
	"github.com/Faultbox/lodmesh/internal/logger"
	"github.com/Faultbox/lodmesh/pkg/formats"
)

// Chunk ids of the persisted structures.
const (
	MeshChunk           uint32 = 0xA701
	PrimitiveGroupChunk uint32 = 0xA702
	MeshDataChunk       uint32 = 0xA705
	WireDataChunk       uint32 = 0xA706
	LodChunk            uint32 = 0xA708
)

// MaterialResolver maps a stored material id back to a shared material.
// *material.Library implements it.
type MaterialResolver interface {
	Resolve(id uint32) *material.Handle
}

// Write stores a finished mesh in a geometry container.
func Write(w io.Writer, m *Mesh, compress bool) error {
	return formats.WriteContainer(w, compress, func(cw *formats.ChunkWriter) error {
		return WriteChunk(cw, m)
	})
}

// Read loads a mesh from a geometry container.
func Read(r io.Reader, res MaterialResolver) (*Mesh, error) {
	cr, _, err := formats.OpenContainer(r)
	if err != nil {
		return nil, err
	}
	return ReadChunk(cr, res)
}

// SaveFile writes a mesh container to path.
func SaveFile(path string, m *Mesh, compress bool) error {
	return formats.WriteContainerFile(path, compress, func(cw *formats.ChunkWriter) error {
		return WriteChunk(cw, m)
	})
}

// LoadFile reads a mesh container from path.
func LoadFile(path string, res MaterialResolver) (*Mesh, error) {
	var m *Mesh
	err := formats.ReadContainerFile(path, func(cr *formats.ChunkReader, hdr formats.Header) error {
		var err error
		m, err = ReadChunk(cr, res)
		if err == nil {
			logger.Named("mesh").Debug("mesh loaded",
				zap.String("path", path),
				zap.String("name", m.name),
				zap.Stringer("version", hdr.Version),
				zap.Bool("compressed", hdr.Compressed),
			)
		}
		return err
	})
	return m, err
}

// WriteChunk writes the mesh chunk. The mesh must be finished.
func WriteChunk(cw *formats.ChunkWriter, m *Mesh) error {
	if !m.finished {
		return ErrNotFinished
	}
	cw.Chunk(MeshChunk)
	cw.Text(m.name)
	if err := writeWire(cw, m.wire); err != nil {
		return err
	}
	cw.Uint32(m.nextPrimitiveID)
	if err := writeMeshData(cw, m.data); err != nil {
		return err
	}

	levels := m.Levels()
	lodList := make([]int32, len(levels))
	for i, lod := range levels {
		lodList[i] = int32(lod)
	}
	cw.Int32s(lodList)
	for _, lod := range levels {
		order := m.materialOrder(lod)
		cw.Uint32(uint32(len(order)))
		for _, id := range order {
			writeGroup(cw, m.groups[lod][id])
		}
	}

	cw.Uint32(uint32(m.VertexCount()))
	cw.Uint32(uint32(m.NormalCount()))
	cw.Bool(m.colorPerVertex)
	return cw.Err()
}

func writeWire(cw *formats.ChunkWriter, w *WireData) error {
	pos, err := w.Positions()
	if err != nil {
		return err
	}
	cw.Chunk(WireDataChunk)
	cw.Uint32(w.nextID)
	cw.Float32s(pos)
	ids := make([]uint32, len(w.lines))
	counts := make([]uint32, len(w.lines))
	for i, l := range w.lines {
		ids[i], counts[i] = l.ID, l.Count
	}
	cw.Uint32s(ids)
	cw.Uint32s(counts)
	return nil
}

func writeMeshData(cw *formats.ChunkWriter, d *MeshData) error {
	cw.Chunk(MeshDataChunk)
	for a := Attribute(0); a < attributeCount; a++ {
		v, err := d.View(a)
		if err != nil {
			return err
		}
		cw.Float32s(v)
	}
	cw.Uint32(uint32(len(d.lods)))
	for _, l := range d.lods {
		indices, err := d.IndicesView(l)
		if err != nil {
			return err
		}
		cw.Chunk(LodChunk)
		cw.Int32(int32(l.level))
		cw.Float64(l.accuracy)
		cw.Uint32s(indices)
	}
	return nil
}

// writeGroup stores offsets as element indices.
func writeGroup(cw *formats.ChunkWriter, g *PrimitiveGroup) {
	cw.Chunk(PrimitiveGroupChunk)
	cw.Uint32(g.materialID)

	tri := g.triangles.span()
	cw.Uint32(tri.Size)
	cw.Uint32(tri.OffsetElements)
	cw.Uint32s(g.triangles.sizes)
	cw.Uint32s(g.triangles.ids)

	for _, l := range []*batchList{&g.strips, &g.fans} {
		cw.Uint32(uint32(l.count()))
		cw.Uint32s(l.offsets)
		cw.Uint32s(l.sizes)
		cw.Uint32s(l.ids)
	}
}

// ReadChunk reads a mesh chunk, resolving material ids through res. A nil
// res gives every material a generated gray one.
func ReadChunk(cr *formats.ChunkReader, res MaterialResolver) (*Mesh, error) {
	if res == nil {
		res = material.NewLibrary()
	}
	if !cr.Expect(MeshChunk) {
		return nil, cr.Err()
	}
	m := New(cr.Text())

	wire, err := readWire(cr, m.name)
	if err != nil {
		return nil, err
	}
	m.wire = wire
	m.nextPrimitiveID = cr.Uint32()

	data, err := readMeshData(cr, m.name)
	if err != nil {
		return nil, err
	}
	m.data = data

	lodList := cr.Int32s()
	for _, lod := range lodList {
		buf, ok := m.data.Lod(int(lod))
		if cr.Err() == nil && !ok {
			m.Destroy()
			return nil, fmt.Errorf("%w: stored group list for lod %d", ErrUnknownLod, lod)
		}
		n := cr.Count()
		byMaterial := make(map[uint32]*PrimitiveGroup, n)
		for i := 0; i < n && cr.Err() == nil; i++ {
			g, err := readGroup(cr, buf.IndexCount())
			if err != nil {
				m.Destroy()
				return nil, err
			}
			byMaterial[g.materialID] = g
			m.addMaterial(res.Resolve(g.materialID))
		}
		m.groups[int(lod)] = byMaterial
	}

	vertexCount := cr.Uint32()
	normalCount := cr.Uint32()
	m.colorPerVertex = cr.Bool()
	if err := cr.Err(); err != nil {
		m.Destroy()
		return nil, err
	}
	if int(vertexCount) != m.VertexCount() || int(normalCount) != m.NormalCount() {
		m.Destroy()
		return nil, fmt.Errorf("%w: header says %d vertices and %d normals, data has %d and %d",
			ErrVertexCountMismatch, vertexCount, normalCount, m.VertexCount(), m.NormalCount())
	}
	if err := checkStored(m); err != nil {
		m.Destroy()
		return nil, err
	}
	m.finished = true
	return m, nil
}

// checkStored applies the checks Finish makes to geometry read back from a
// container. Indices are checked on the linearized LOD buffers.
func checkStored(m *Mesh) error {
	if m.data.IsEmpty() && m.wire.IsEmpty() {
		return ErrEmptyGeometry
	}
	if !m.data.IsEmpty() {
		if err := m.data.Validate(); err != nil {
			return err
		}
	}
	n := uint32(m.data.VertexCount())
	for _, l := range m.data.lods {
		for _, idx := range l.indices {
			if idx >= n {
				return fmt.Errorf("%w: index %d at lod %d, %d vertices", ErrIndexOutOfRange, idx, l.level, n)
			}
		}
	}
	return nil
}

func readWire(cr *formats.ChunkReader, owner string) (*WireData, error) {
	if !cr.Expect(WireDataChunk) {
		return nil, cr.Err()
	}
	w := NewWireData(owner)
	w.nextID = cr.Uint32()
	w.positions = cr.Float32s()
	ids := cr.Uint32s()
	counts := cr.Uint32s()
	if err := cr.Err(); err != nil {
		return nil, err
	}
	if len(ids) != len(counts) {
		return nil, fmt.Errorf("%w: %d wire ids, %d sizes", ErrInvalidLayout, len(ids), len(counts))
	}
	var first uint32
	for i, id := range ids {
		w.lines = append(w.lines, Polyline{ID: id, First: first, Count: counts[i]})
		first += counts[i]
	}
	if int(first) != len(w.positions)/3 {
		return nil, fmt.Errorf("%w: wire groups cover %d of %d vertices", ErrInvalidLayout, first, len(w.positions)/3)
	}
	return w, nil
}

func readMeshData(cr *formats.ChunkReader, owner string) (*MeshData, error) {
	if !cr.Expect(MeshDataChunk) {
		return nil, cr.Err()
	}
	d := NewMeshData(owner)
	for a := Attribute(0); a < attributeCount; a++ {
		d.attrs[a] = cr.Float32s()
	}
	n := cr.Count()
	for i := 0; i < n && cr.Err() == nil; i++ {
		if !cr.Expect(LodChunk) {
			break
		}
		l := newLodBuffer(int(cr.Int32()), cr.Float64())
		l.indices = cr.Uint32s()
		if l.indices == nil {
			l.indices = []uint32{}
		}
		d.lods = append(d.lods, l)
	}
	if err := cr.Err(); err != nil {
		return nil, err
	}
	return d, nil
}

// readGroup restores a finished group and checks its ranges against the LOD
// buffer length.
func readGroup(cr *formats.ChunkReader, lodLen int) (*PrimitiveGroup, error) {
	if !cr.Expect(PrimitiveGroupChunk) {
		return nil, cr.Err()
	}
	g := NewPrimitiveGroup(cr.Uint32())

	triTotal := cr.Uint32()
	triBase := cr.Uint32()
	g.triangles.sizes = cr.Uint32s()
	g.triangles.ids = cr.Uint32s()
	offset := triBase
	for _, s := range g.triangles.sizes {
		g.triangles.offsets = append(g.triangles.offsets, offset)
		offset += s
	}

	for _, l := range []*batchList{&g.strips, &g.fans} {
		count := cr.Uint32()
		l.offsets = cr.Uint32s()
		l.sizes = cr.Uint32s()
		l.ids = cr.Uint32s()
		if cr.Err() == nil && (len(l.offsets) != int(count) || len(l.sizes) != int(count) || len(l.ids) != int(count)) {
			return nil, fmt.Errorf("%w: %d batches with %d offsets, %d sizes, %d ids",
				ErrInvalidLayout, count, len(l.offsets), len(l.sizes), len(l.ids))
		}
	}
	if err := cr.Err(); err != nil {
		return nil, err
	}

	if len(g.triangles.ids) != len(g.triangles.sizes) || g.triangles.total() != triTotal {
		return nil, fmt.Errorf("%w: triangle batches of material %d", ErrInvalidLayout, g.materialID)
	}
	for _, l := range []*batchList{&g.triangles, &g.strips, &g.fans} {
		for i := range l.sizes {
			if int(l.offsets[i])+int(l.sizes[i]) > lodLen {
				return nil, fmt.Errorf("%w: range %d+%d past %d indices",
					ErrInvalidLayout, l.offsets[i], l.sizes[i], lodLen)
			}
		}
	}
	g.finished = !g.IsEmpty()
	return g, nil
}
