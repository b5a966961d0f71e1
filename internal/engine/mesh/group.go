package mesh

import "github.com/Faultbox/lodmesh/internal/engine/gpu"

// Range addresses a slice of a LOD index buffer.
type Range struct {
	// OffsetElements is the position of the first index in the LOD sequence.
	OffsetElements uint32
	// OffsetBytes is OffsetElements scaled to the index buffer layout.
	OffsetBytes int
	Size        uint32
}

func newRange(offset, size uint32) Range {
	return Range{OffsetElements: offset, OffsetBytes: int(offset) * gpu.IndexSize, Size: size}
}

// End returns the element offset one past the range.
func (r Range) End() uint32 {
	return r.OffsetElements + r.Size
}

// Batch is one strip, fan or triangle batch with the primitive id it was
// added under.
type Batch struct {
	ID uint32
	Range
}

// batchList stores batches of one primitive kind. Before finish, raw holds
// the indices and offsets are local cumulative counts. After finish, raw is
// dropped and offsets address the LOD buffer.
type batchList struct {
	raw     [][]uint32
	sizes   []uint32
	offsets []uint32
	ids     []uint32
}

func (b *batchList) add(indices []uint32, id uint32) {
	if len(indices) == 0 {
		return
	}
	b.offsets = append(b.offsets, b.total())
	b.sizes = append(b.sizes, uint32(len(indices)))
	b.ids = append(b.ids, id)
	b.raw = append(b.raw, append([]uint32(nil), indices...))
}

func (b *batchList) count() int {
	return len(b.sizes)
}

// total returns the number of indices in all batches.
func (b *batchList) total() uint32 {
	var n uint32
	for _, s := range b.sizes {
		n += s
	}
	return n
}

func (b *batchList) flatten() []uint32 {
	out := make([]uint32, 0, b.total())
	for _, r := range b.raw {
		out = append(out, r...)
	}
	return out
}

func (b *batchList) finish(base uint32) {
	for i := range b.offsets {
		b.offsets[i] += base
	}
	b.raw = nil
}

func (b *batchList) batches() []Batch {
	out := make([]Batch, len(b.sizes))
	for i := range b.sizes {
		out[i] = Batch{ID: b.ids[i], Range: newRange(b.offsets[i], b.sizes[i])}
	}
	return out
}

// span returns the range covering every batch.
func (b *batchList) span() Range {
	if len(b.offsets) == 0 {
		return Range{}
	}
	return newRange(b.offsets[0], b.total())
}

func (b *batchList) clone() batchList {
	c := batchList{
		sizes:   append([]uint32(nil), b.sizes...),
		offsets: append([]uint32(nil), b.offsets...),
		ids:     append([]uint32(nil), b.ids...),
	}
	if b.raw != nil {
		c.raw = make([][]uint32, len(b.raw))
		for i, r := range b.raw {
			c.raw[i] = append([]uint32(nil), r...)
		}
	}
	return c
}

// PrimitiveGroup batches the triangles, strips and fans of one material at
// one LOD. Triangles are drawn with a single call; each strip and fan is
// drawn on its own.
type PrimitiveGroup struct {
	materialID uint32
	triangles  batchList
	strips     batchList
	fans       batchList
	finished   bool
}

// NewPrimitiveGroup creates an empty group for a material.
func NewPrimitiveGroup(materialID uint32) *PrimitiveGroup {
	return &PrimitiveGroup{materialID: materialID}
}

// MaterialID returns the id of the material the group is drawn with.
func (g *PrimitiveGroup) MaterialID() uint32 { return g.materialID }

// IsFinished reports whether offsets address the LOD buffer.
func (g *PrimitiveGroup) IsFinished() bool { return g.finished }

// AddTriangles appends a triangle batch. len(indices) must be a multiple of 3.
func (g *PrimitiveGroup) AddTriangles(indices []uint32, id uint32) error {
	if g.finished {
		return ErrAlreadyFinished
	}
	g.triangles.add(indices, id)
	return nil
}

// AddStrip appends one triangle strip.
func (g *PrimitiveGroup) AddStrip(indices []uint32, id uint32) error {
	if g.finished {
		return ErrAlreadyFinished
	}
	g.strips.add(indices, id)
	return nil
}

// AddFan appends one triangle fan.
func (g *PrimitiveGroup) AddFan(indices []uint32, id uint32) error {
	if g.finished {
		return ErrAlreadyFinished
	}
	g.fans.add(indices, id)
	return nil
}

// IsEmpty reports whether no primitive was added.
func (g *PrimitiveGroup) IsEmpty() bool {
	return g.triangles.count() == 0 && g.strips.count() == 0 && g.fans.count() == 0
}

func (g *PrimitiveGroup) ContainsTriangles() bool { return g.triangles.count() > 0 }
func (g *PrimitiveGroup) ContainsStrips() bool    { return g.strips.count() > 0 }
func (g *PrimitiveGroup) ContainsFans() bool      { return g.fans.count() > 0 }

// IndexCount returns the number of indices of every kind.
func (g *PrimitiveGroup) IndexCount() int {
	return int(g.triangles.total() + g.strips.total() + g.fans.total())
}

// FaceCount returns the number of triangles the group draws.
func (g *PrimitiveGroup) FaceCount() int {
	n := int(g.triangles.total()) / 3
	for _, s := range g.strips.sizes {
		n += max(int(s)-2, 0)
	}
	for _, s := range g.fans.sizes {
		n += max(int(s)-2, 0)
	}
	return n
}

// Finish converts local offsets into offsets in the LOD buffer, given the
// element offsets at which the triangles, strips and fans were appended.
// Finishing an empty group does nothing.
func (g *PrimitiveGroup) Finish(triangleBase, stripBase, fanBase uint32) error {
	if g.finished {
		return ErrAlreadyFinished
	}
	if g.IsEmpty() {
		return nil
	}
	g.triangles.finish(triangleBase)
	g.strips.finish(stripBase)
	g.fans.finish(fanBase)
	g.finished = true
	return nil
}

// Triangles returns the range covering all triangle batches.
func (g *PrimitiveGroup) Triangles() (Range, error) {
	if !g.ContainsTriangles() {
		return Range{}, ErrNoTriangles
	}
	return g.triangles.span(), nil
}

// TriangleBatches returns each AddTriangles call as its own range.
func (g *PrimitiveGroup) TriangleBatches() ([]Batch, error) {
	if !g.ContainsTriangles() {
		return nil, ErrNoTriangles
	}
	return g.triangles.batches(), nil
}

// Strips returns one range per strip.
func (g *PrimitiveGroup) Strips() ([]Batch, error) {
	if !g.ContainsStrips() {
		return nil, ErrNoStrips
	}
	return g.strips.batches(), nil
}

// Fans returns one range per fan.
func (g *PrimitiveGroup) Fans() ([]Batch, error) {
	if !g.ContainsFans() {
		return nil, ErrNoFans
	}
	return g.fans.batches(), nil
}

// ContainsID reports whether any batch was added under id.
func (g *PrimitiveGroup) ContainsID(id uint32) bool {
	for _, l := range []*batchList{&g.triangles, &g.strips, &g.fans} {
		for _, v := range l.ids {
			if v == id {
				return true
			}
		}
	}
	return false
}

// GroupIndices holds the indices of a group split by primitive kind.
type GroupIndices struct {
	Triangles []uint32
	Strips    [][]uint32
	Fans      [][]uint32
}

// indices extracts the group's indices. lod is required once finished.
func (g *PrimitiveGroup) indices(lod []uint32) GroupIndices {
	var out GroupIndices
	if !g.finished {
		out.Triangles = g.triangles.flatten()
		for _, r := range g.strips.raw {
			out.Strips = append(out.Strips, append([]uint32(nil), r...))
		}
		for _, r := range g.fans.raw {
			out.Fans = append(out.Fans, append([]uint32(nil), r...))
		}
		return out
	}
	slice := func(r Range) []uint32 {
		return append([]uint32(nil), lod[r.OffsetElements:r.End()]...)
	}
	if g.ContainsTriangles() {
		out.Triangles = slice(g.triangles.span())
	}
	for _, b := range g.strips.batches() {
		out.Strips = append(out.Strips, slice(b.Range))
	}
	for _, b := range g.fans.batches() {
		out.Fans = append(out.Fans, slice(b.Range))
	}
	return out
}

func (g *PrimitiveGroup) clone() *PrimitiveGroup {
	return &PrimitiveGroup{
		materialID: g.materialID,
		triangles:  g.triangles.clone(),
		strips:     g.strips.clone(),
		fans:       g.fans.clone(),
		finished:   g.finished,
	}
}
