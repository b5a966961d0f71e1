package mesh

import (
	"errors"
	"math"
	"slices"
	"sort"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Faultbox/lodmesh/internal/engine/material"
	"github.com/Faultbox/lodmesh/internal/logger"
)

var errBoom = errors.New("boom")

// fixturePositions holds two triangles side by side covering the lower
// half of clip space and a vertex at (1,1) shared with the top strip.
var fixturePositions = []float32{
	-1, -1, 0,
	0, -1, 0,
	-1, 1, 0,
	1, -1, 0,
	1, 1, 0,
}

func upNormals(n int) []float32 {
	out := make([]float32, n*3)
	for i := 0; i < n; i++ {
		out[i*3+2] = 1
	}
	return out
}

func solid(name string, c [4]uint8) *material.Handle {
	return material.Share(material.NewBasic(0, name, c))
}

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	logger.Set(zap.New(core))
	t.Cleanup(func() { logger.Set(nil) })
	return logs
}

// near compares component-wise with an absolute tolerance.
func near(a, b mgl32.Vec3) bool {
	for i := range a {
		if math.Abs(float64(a[i]-b[i])) > 1e-5 {
			return false
		}
	}
	return true
}

func newVertexMesh(t *testing.T, name string) *Mesh {
	t.Helper()
	m := New(name)
	if err := m.AddVertices(fixturePositions); err != nil {
		t.Fatal(err)
	}
	if err := m.AddNormals(upNormals(5)); err != nil {
		t.Fatal(err)
	}
	return m
}

func TestEndToEndScenario(t *testing.T) {
	m := New("scenario")
	m.AddVertices([]float32{0, 0, 0, 1, 0, 0, 0, 1, 0, 1, 1, 0})
	m.AddNormals(upNormals(4))
	mat := solid("m", [4]uint8{200, 200, 200, 255})

	triID, err := m.AddTriangles(mat, []uint32{0, 1, 2}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	stripID, err := m.AddStrip(mat, []uint32{0, 1, 2, 3}, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Finish(); err != nil {
		t.Fatal(err)
	}

	lod, ok := m.Data().Lod(0)
	if !ok {
		t.Fatal("lod 0 missing")
	}
	if lod.IndexCount() != 7 {
		t.Errorf("expected 7 indices, got %d", lod.IndexCount())
	}

	g, _ := m.Group(0, mat.ID())
	tri, _ := g.Triangles()
	if tri.OffsetElements != 0 || tri.Size != 3 {
		t.Errorf("unexpected triangle range %+v", tri)
	}
	strips, _ := g.Strips()
	if strips[0].OffsetElements != 3 || strips[0].Size != 4 {
		t.Errorf("unexpected strip range %+v", strips[0])
	}
	if triID == 0 || stripID == 0 || triID == stripID {
		t.Errorf("expected distinct non-zero ids, got %d and %d", triID, stripID)
	}
}

func TestFinishOffsetsCoverLodExactly(t *testing.T) {
	m := newVertexMesh(t, "coverage")
	a := solid("a", [4]uint8{255, 0, 0, 255})
	b := solid("b", [4]uint8{0, 0, 255, 255})

	m.AddTriangles(a, []uint32{0, 1, 2, 1, 3, 4}, 0, 0)
	m.AddStrip(a, []uint32{2, 1, 4}, 0, 0)
	m.AddFan(b, []uint32{0, 1, 4, 2}, 0, 0)
	m.AddStrip(b, []uint32{0, 1, 2, 3}, 0, 0)
	m.AddTriangles(b, []uint32{0, 3, 4}, 1, 0.5)
	m.AddFan(a, []uint32{0, 3, 4}, 1, 0.5)
	if err := m.Finish(); err != nil {
		t.Fatal(err)
	}

	for _, level := range m.Levels() {
		lod, _ := m.Data().Lod(level)
		var ranges []Range
		for _, id := range m.MaterialIDs() {
			g, ok := m.Group(level, id)
			if !ok {
				continue
			}
			if r, err := g.Triangles(); err == nil {
				ranges = append(ranges, r)
			}
			strips, _ := g.Strips()
			fans, _ := g.Fans()
			for _, s := range append(strips, fans...) {
				ranges = append(ranges, s.Range)
			}
		}
		sort.Slice(ranges, func(i, j int) bool { return ranges[i].OffsetElements < ranges[j].OffsetElements })

		var next uint32
		for _, r := range ranges {
			if r.OffsetElements != next {
				t.Fatalf("lod %d: gap or overlap at %d, range %+v", level, next, r)
			}
			if r.OffsetBytes != int(r.OffsetElements)*4 {
				t.Errorf("lod %d: byte offset %d for element %d", level, r.OffsetBytes, r.OffsetElements)
			}
			next = r.End()
		}
		if int(next) != lod.IndexCount() {
			t.Errorf("lod %d: ranges cover %d of %d indices", level, next, lod.IndexCount())
		}
	}
}

func TestFinishPromotesLastAppendedLod(t *testing.T) {
	m := newVertexMesh(t, "lods")
	mat := solid("m", [4]uint8{255, 255, 255, 255})
	m.AddTriangles(mat, []uint32{0, 1, 2}, 0, 0.1)
	m.AddTriangles(mat, []uint32{0, 1, 3}, 1, 0.5)
	m.AddTriangles(mat, []uint32{0, 3, 4}, 2, 1.0)
	if err := m.Finish(); err != nil {
		t.Fatal(err)
	}

	want := []float64{1.0, 0.1, 0.5}
	for i, acc := range want {
		got, err := m.LodAccuracy(i)
		if err != nil {
			t.Fatal(err)
		}
		if got != acc {
			t.Errorf("position %d: expected accuracy %v, got %v", i, acc, got)
		}
	}
	if _, err := m.LodAccuracy(3); !errors.Is(err, ErrUnknownLod) {
		t.Errorf("expected ErrUnknownLod, got %v", err)
	}
}

func TestFinishIsIdempotent(t *testing.T) {
	m := newVertexMesh(t, "twice")
	m.AddTriangles(nil, []uint32{0, 1, 2}, 0, 0)
	if err := m.Finish(); err != nil {
		t.Fatal(err)
	}
	lod, _ := m.Data().Lod(0)
	before := slices.Clone(lod.Indices())

	if err := m.Finish(); err != nil {
		t.Fatalf("second finish: %v", err)
	}
	if !slices.Equal(before, lod.Indices()) {
		t.Errorf("second finish changed indices: %v -> %v", before, lod.Indices())
	}
	if _, err := m.AddTriangles(nil, []uint32{0, 1, 2}, 0, 0); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("expected ErrAlreadyFinished, got %v", err)
	}
}

func TestFinishErrors(t *testing.T) {
	tests := []struct {
		name    string
		build   func(m *Mesh)
		wantErr error
	}{
		{
			name:    "empty",
			build:   func(m *Mesh) {},
			wantErr: ErrEmptyGeometry,
		},
		{
			name: "missing normals",
			build: func(m *Mesh) {
				m.AddVertices(fixturePositions)
				m.AddTriangles(nil, []uint32{0, 1, 2}, 0, 0)
			},
			wantErr: ErrVertexCountMismatch,
		},
		{
			name: "short texels",
			build: func(m *Mesh) {
				m.AddVertices(fixturePositions)
				m.AddNormals(upNormals(5))
				m.AddTexels([]float32{0, 0})
			},
			wantErr: ErrVertexCountMismatch,
		},
		{
			name: "index past vertices",
			build: func(m *Mesh) {
				m.AddVertices(fixturePositions)
				m.AddNormals(upNormals(5))
				m.AddStrip(nil, []uint32{0, 1, 5}, 0, 0)
			},
			wantErr: ErrIndexOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.name)
			tt.build(m)
			if err := m.Finish(); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
			if m.IsFinished() {
				t.Error("mesh should not be finished after an error")
			}
		})
	}
}

func TestPrimitiveIDs(t *testing.T) {
	m := newVertexMesh(t, "ids")
	seen := map[uint32]bool{}
	add := func(id uint32, err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
		if id == 0 || seen[id] {
			t.Fatalf("id %d is zero or reused", id)
		}
		seen[id] = true
	}
	add(m.AddTriangles(nil, []uint32{0, 1, 2}, 0, 0))
	add(m.AddStrip(nil, []uint32{0, 1, 2}, 0, 0))
	add(m.AddFan(nil, []uint32{0, 1, 2}, 0, 0))
	add(m.AddVerticeGroup([]float32{0, 0, 0, 1, 1, 1}))

	id, err := m.AddTriangles(nil, []uint32{0, 1, 3}, 1, 0.5)
	if err != nil {
		t.Fatal(err)
	}
	if id != 0 {
		t.Errorf("expected id 0 above lod 0, got %d", id)
	}
	if m.PrimitiveCount() != 4 {
		t.Errorf("expected 4 pickable primitives, got %d", m.PrimitiveCount())
	}
}

func TestAddVerticeGroupValidation(t *testing.T) {
	m := New("wires")
	if _, err := m.AddVerticeGroup([]float32{0, 0, 0}); !errors.Is(err, ErrShortPolyline) {
		t.Errorf("expected ErrShortPolyline, got %v", err)
	}
	if _, err := m.AddVerticeGroup([]float32{0, 0, 0, 1}); !errors.Is(err, ErrVertexCountMismatch) {
		t.Errorf("expected ErrVertexCountMismatch, got %v", err)
	}
	if _, err := m.AddVerticeGroup([]float32{0, 0, 0, 1, 0, 0, 1, 1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := m.Finish(); err != nil {
		t.Errorf("wire-only mesh should finish, got %v", err)
	}
}

func TestSetCurrentLod(t *testing.T) {
	m := newVertexMesh(t, "select")
	for lod := 0; lod < 3; lod++ {
		m.AddTriangles(nil, []uint32{0, 1, 2}, lod, float64(lod))
	}

	tests := []struct {
		percent int
		want    int
	}{
		{0, 0},
		{49, 0},
		{50, 1},
		{99, 1},
		{100, 2},
		{-10, 0},
		{250, 2},
	}
	for _, tt := range tests {
		m.SetCurrentLod(tt.percent)
		if m.CurrentLod() != tt.want {
			t.Errorf("SetCurrentLod(%d): expected lod %d, got %d", tt.percent, tt.want, m.CurrentLod())
		}
	}
}

func TestBoundingBox(t *testing.T) {
	m := New("box")
	m.AddVertices([]float32{0, 0, 0, 2, 0, 0, 0, 3, 0, 100, 100, 100})
	m.AddNormals(upNormals(4))
	m.AddTriangles(nil, []uint32{0, 1, 2}, 0, 0)

	box, err := m.BoundingBox()
	if err != nil {
		t.Fatal(err)
	}
	if box.Max != (mgl32.Vec3{100, 100, 100}) {
		t.Errorf("before finish every position counts, got %v", box.Max)
	}

	if err := m.Finish(); err != nil {
		t.Fatal(err)
	}
	box, _ = m.BoundingBox()
	if box.Min != (mgl32.Vec3{0, 0, 0}) || box.Max != (mgl32.Vec3{2, 3, 0}) {
		t.Errorf("expected master lod box (0,0,0)-(2,3,0), got %v-%v", box.Min, box.Max)
	}

	if err := m.Transform(mgl32.Translate3D(1, 1, 1)); err != nil {
		t.Fatal(err)
	}
	box, _ = m.BoundingBox()
	if box.Min != (mgl32.Vec3{1, 1, 1}) || box.Max != (mgl32.Vec3{3, 4, 1}) {
		t.Errorf("expected translated box, got %v-%v", box.Min, box.Max)
	}
}

func TestBoundingBoxIncludesWires(t *testing.T) {
	m := newVertexMesh(t, "wirebox")
	m.AddTriangles(nil, []uint32{0, 1, 2}, 0, 0)
	m.AddVerticeGroup([]float32{0, 0, 0, 0, 0, 5})
	m.Finish()

	box, _ := m.BoundingBox()
	if box.Max.Z() != 5 {
		t.Errorf("expected wire to extend the box to z=5, got %v", box.Max)
	}
}

func TestReverseNormals(t *testing.T) {
	m := newVertexMesh(t, "flip")
	m.AddTriangles(nil, []uint32{0, 1, 2}, 0, 0)
	m.Finish()

	if err := m.ReverseNormals(); err != nil {
		t.Fatal(err)
	}
	normals, _ := m.Attribute(Normal)
	for i := 2; i < len(normals); i += 3 {
		if normals[i] != -1 {
			t.Fatalf("normal %d not reversed: %v", i/3, normals[i-2:i+1])
		}
	}
}

func TestTransformNormals(t *testing.T) {
	m := newVertexMesh(t, "rotate")
	m.AddTriangles(nil, []uint32{0, 1, 2}, 0, 0)
	m.Finish()

	if err := m.Transform(mgl32.HomogRotate3DX(mgl32.DegToRad(90)).Mul4(mgl32.Scale3D(2, 2, 2))); err != nil {
		t.Fatal(err)
	}
	normals, _ := m.Attribute(Normal)
	n := mgl32.Vec3{normals[0], normals[1], normals[2]}
	if !near(n, mgl32.Vec3{0, -1, 0}) {
		t.Errorf("expected unit normal (0,-1,0), got %v", n)
	}
}

func TestGroupIndices(t *testing.T) {
	m := newVertexMesh(t, "extract")
	a := solid("a", [4]uint8{255, 0, 0, 255})
	b := solid("b", [4]uint8{0, 255, 0, 255})
	m.AddTriangles(a, []uint32{0, 1, 2}, 0, 0)
	m.AddStrip(b, []uint32{1, 3, 4, 2}, 0, 0)
	m.AddFan(b, []uint32{0, 3, 4}, 0, 0)
	m.Finish()

	got, err := m.GroupIndices(0, b.ID())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Triangles) != 0 || !slices.Equal(got.Strips[0], []uint32{1, 3, 4, 2}) || !slices.Equal(got.Fans[0], []uint32{0, 3, 4}) {
		t.Errorf("unexpected indices %+v", got)
	}

	if _, err := m.GroupIndices(3, b.ID()); !errors.Is(err, ErrUnknownLod) {
		t.Errorf("expected ErrUnknownLod, got %v", err)
	}
	if _, err := m.GroupIndices(0, 999999); !errors.Is(err, ErrUnknownMaterial) {
		t.Errorf("expected ErrUnknownMaterial, got %v", err)
	}
}

func TestCounts(t *testing.T) {
	m := newVertexMesh(t, "counts")
	m.AddTriangles(nil, []uint32{0, 1, 2, 1, 3, 4}, 0, 0)
	m.AddStrip(nil, []uint32{0, 1, 2, 3}, 0, 0)
	m.AddFan(nil, []uint32{0, 1, 2, 3, 4}, 0, 0)
	m.Finish()

	if m.VertexCount() != 5 || m.NormalCount() != 5 {
		t.Errorf("expected 5 vertices and normals, got %d and %d", m.VertexCount(), m.NormalCount())
	}
	if got := m.FaceCount(0); got != 2+2+3 {
		t.Errorf("expected 7 faces, got %d", got)
	}
	if m.MaterialCount() != 1 || m.LodCount() != 1 {
		t.Errorf("expected one material and one lod, got %d and %d", m.MaterialCount(), m.LodCount())
	}
}

func TestMaterialCollision(t *testing.T) {
	m := newVertexMesh(t, "collide")
	first := material.Share(material.NewBasic(4242, "a", [4]uint8{255, 255, 255, 255}))
	second := material.Share(material.NewBasic(4242, "b", [4]uint8{0, 0, 0, 255}))

	if _, err := m.AddTriangles(first, []uint32{0, 1, 2}, 0, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddTriangles(second, []uint32{0, 1, 2}, 0, 0); !errors.Is(err, ErrMaterialCollision) {
		t.Errorf("expected ErrMaterialCollision, got %v", err)
	}
}

type trackedMaterial struct {
	*material.Basic
	destroyed int
}

func (m *trackedMaterial) Destroy() { m.destroyed++ }

func TestReplaceMaterial(t *testing.T) {
	oldMat := &trackedMaterial{Basic: material.NewBasic(0, "old", [4]uint8{255, 0, 0, 255})}
	old := material.Share(oldMat)
	replacement := solid("new", [4]uint8{0, 255, 0, 255})

	first := newVertexMesh(t, "first")
	first.AddTriangles(old, []uint32{0, 1, 2}, 0, 0)
	first.AddTriangles(old, []uint32{0, 1, 3}, 1, 0.5)
	first.Finish()
	second := newVertexMesh(t, "second")
	second.AddTriangles(old, []uint32{0, 1, 2}, 0, 0)
	second.Finish()

	if old.UsageCount() != 2 {
		t.Fatalf("expected 2 users, got %d", old.UsageCount())
	}

	if err := first.ReplaceMaterial(old.ID(), replacement); err != nil {
		t.Fatal(err)
	}
	if old.UsageCount() != 1 || replacement.UsageCount() != 1 {
		t.Errorf("expected usage old=1 new=1, got old=%d new=%d", old.UsageCount(), replacement.UsageCount())
	}
	if oldMat.destroyed != 0 {
		t.Error("material still used by another mesh was destroyed")
	}
	for _, lod := range []int{0, 1} {
		if _, ok := first.Group(lod, replacement.ID()); !ok {
			t.Errorf("lod %d not re-keyed to the new material", lod)
		}
	}
	if first.ContainsMaterial(old.ID()) {
		t.Error("old material still registered")
	}

	if err := second.ReplaceMaterial(old.ID(), replacement); err != nil {
		t.Fatal(err)
	}
	if oldMat.destroyed != 1 {
		t.Errorf("expected old material destroyed once, got %d", oldMat.destroyed)
	}

	if err := second.ReplaceMaterial(old.ID(), replacement); !errors.Is(err, ErrUnknownMaterial) {
		t.Errorf("expected ErrUnknownMaterial, got %v", err)
	}
}

func TestReplaceDefaultMaterial(t *testing.T) {
	m := newVertexMesh(t, "default")
	if _, err := m.AddTriangles(nil, []uint32{0, 1, 2}, 0, 0); err != nil {
		t.Fatal(err)
	}
	def := m.Materials()[0]
	replacement := solid("new", [4]uint8{0, 255, 0, 255})

	if err := m.ReplaceMaterial(def.ID(), replacement); err != nil {
		t.Fatal(err)
	}
	if def.UsageCount() != 0 {
		t.Fatalf("expected the default released, usage %d", def.UsageCount())
	}

	if _, err := m.AddTriangles(nil, []uint32{0, 3, 4}, 1, 0.5); err != nil {
		t.Fatal(err)
	}
	if def.UsageCount() != 0 {
		t.Errorf("released default was acquired again, usage %d", def.UsageCount())
	}
	if ids := m.MaterialIDs(); !slices.Equal(ids, []uint32{replacement.ID()}) {
		t.Errorf("expected only the replacement in use, got %v", ids)
	}
	if _, ok := m.Group(1, replacement.ID()); !ok {
		t.Error("later default primitives should use the replacement")
	}
	if replacement.UsageCount() != 1 {
		t.Errorf("expected one user of the replacement, got %d", replacement.UsageCount())
	}
}

func TestReplaceMaterialCollision(t *testing.T) {
	a := solid("a", [4]uint8{255, 0, 0, 255})
	b := solid("b", [4]uint8{0, 255, 0, 255})
	m := newVertexMesh(t, "collision")
	m.AddTriangles(a, []uint32{0, 1, 2}, 0, 0)
	m.AddTriangles(b, []uint32{1, 3, 4}, 0, 0)
	m.Finish()

	if err := m.ReplaceMaterial(a.ID(), b); !errors.Is(err, ErrMaterialCollision) {
		t.Errorf("expected ErrMaterialCollision, got %v", err)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	mat := solid("shared", [4]uint8{255, 255, 255, 255})
	src := newVertexMesh(t, "source")
	srcTri, _ := src.AddTriangles(mat, []uint32{0, 1, 2}, 0, 0)
	src.AddVerticeGroup([]float32{0, 0, 0, 1, 1, 1})
	src.Finish()

	c, err := src.Clone()
	if err != nil {
		t.Fatal(err)
	}
	if c.ID() == src.ID() {
		t.Error("clone shares the geometry id")
	}
	if mat.UsageCount() != 2 {
		t.Errorf("expected clone to acquire the material, usage %d", mat.UsageCount())
	}

	if err := c.Transform(mgl32.Translate3D(10, 0, 0)); err != nil {
		t.Fatal(err)
	}
	srcPos, _ := src.Attribute(Position)
	if srcPos[0] != -1 {
		t.Errorf("transforming the clone changed the source: %v", srcPos[:3])
	}

	g, _ := c.Group(0, mat.ID())
	batches, _ := g.TriangleBatches()
	if batches[0].ID == srcTri {
		t.Errorf("clone primitive id %d aliases the source", batches[0].ID)
	}
	if c.Wire().Polylines()[0].ID == src.Wire().Polylines()[0].ID {
		t.Error("clone wire id aliases the source")
	}

	srcIdx, _ := src.GroupIndices(0, mat.ID())
	cloneIdx, _ := c.GroupIndices(0, mat.ID())
	if !slices.Equal(srcIdx.Triangles, cloneIdx.Triangles) {
		t.Errorf("clone indices differ: %v vs %v", srcIdx.Triangles, cloneIdx.Triangles)
	}

	c.Destroy()
	if mat.UsageCount() != 1 {
		t.Errorf("expected destroy to release the clone's usage, got %d", mat.UsageCount())
	}
}

func TestClonesGetDistinctIDs(t *testing.T) {
	mat := solid("shared", [4]uint8{255, 255, 255, 255})
	src := newVertexMesh(t, "source")
	src.AddTriangles(mat, []uint32{0, 1, 2}, 0, 0)
	src.AddVerticeGroup([]float32{0, 0, 0, 1, 1, 1})
	if err := src.Finish(); err != nil {
		t.Fatal(err)
	}

	first, err := src.Clone()
	if err != nil {
		t.Fatal(err)
	}
	second, err := src.Clone()
	if err != nil {
		t.Fatal(err)
	}
	nested, err := first.Clone()
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[uint32]string)
	for _, m := range []struct {
		name string
		mesh *Mesh
	}{
		{"source", src},
		{"first", first},
		{"second", second},
		{"nested", nested},
	} {
		g, _ := m.mesh.Group(0, mat.ID())
		batches, _ := g.TriangleBatches()
		ids := []uint32{batches[0].ID, m.mesh.Wire().Polylines()[0].ID}
		for _, id := range ids {
			if other, ok := seen[id]; ok {
				t.Errorf("%s reuses id %d of %s", m.name, id, other)
			}
			seen[id] = m.name
		}
	}
}

func TestEmptyPrimitivesAreDropped(t *testing.T) {
	m := newVertexMesh(t, "empty")
	mat := solid("m", [4]uint8{255, 255, 255, 255})

	if id, err := m.AddStrip(mat, nil, 0, 1); err != nil || id != 0 {
		t.Errorf("AddStrip(nil) = %d, %v", id, err)
	}
	if id, err := m.AddTriangles(mat, []uint32{}, 1, 0.5); err != nil || id != 0 {
		t.Errorf("AddTriangles(empty) = %d, %v", id, err)
	}
	if m.LodCount() != 0 || m.MaterialCount() != 0 {
		t.Errorf("expected no lod or material, got %d and %d", m.LodCount(), m.MaterialCount())
	}

	if _, err := m.AddFan(mat, []uint32{0, 1, 2}, 0, 1); err != nil {
		t.Fatal(err)
	}
	if m.PrimitiveCount() != 1 {
		t.Errorf("expected one pickable primitive, got %d", m.PrimitiveCount())
	}
}
