package mesh

import (
	"errors"
	"testing"
)

func TestPrimitiveGroupFinishOffsets(t *testing.T) {
	g := NewPrimitiveGroup(1)
	g.AddTriangles([]uint32{0, 1, 2}, 1)
	g.AddTriangles([]uint32{3, 4, 5}, 2)
	g.AddStrip([]uint32{0, 1, 2, 3}, 3)
	g.AddStrip([]uint32{4, 5, 6}, 4)
	g.AddFan([]uint32{0, 1, 2, 3, 4}, 5)

	if err := g.Finish(10, 16, 23); err != nil {
		t.Fatalf("Finish: %v", err)
	}

	tri, err := g.Triangles()
	if err != nil {
		t.Fatal(err)
	}
	if tri.OffsetElements != 10 || tri.Size != 6 || tri.OffsetBytes != 40 {
		t.Errorf("unexpected triangle range %+v", tri)
	}

	batches, _ := g.TriangleBatches()
	if len(batches) != 2 || batches[1].OffsetElements != 13 || batches[1].ID != 2 {
		t.Errorf("unexpected triangle batches %+v", batches)
	}

	strips, _ := g.Strips()
	wantStrips := []Batch{
		{ID: 3, Range: Range{OffsetElements: 16, OffsetBytes: 64, Size: 4}},
		{ID: 4, Range: Range{OffsetElements: 20, OffsetBytes: 80, Size: 3}},
	}
	for i, want := range wantStrips {
		if strips[i] != want {
			t.Errorf("strip %d: expected %+v, got %+v", i, want, strips[i])
		}
	}

	fans, _ := g.Fans()
	if len(fans) != 1 || fans[0].OffsetElements != 23 || fans[0].Size != 5 || fans[0].ID != 5 {
		t.Errorf("unexpected fans %+v", fans)
	}
}

func TestPrimitiveGroupFinishOnce(t *testing.T) {
	g := NewPrimitiveGroup(1)
	g.AddTriangles([]uint32{0, 1, 2}, 1)

	if err := g.Finish(0, 3, 3); err != nil {
		t.Fatal(err)
	}
	if err := g.Finish(0, 3, 3); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("expected ErrAlreadyFinished on second finish, got %v", err)
	}
	if err := g.AddStrip([]uint32{0, 1, 2}, 2); !errors.Is(err, ErrAlreadyFinished) {
		t.Errorf("expected ErrAlreadyFinished on add after finish, got %v", err)
	}
}

func TestPrimitiveGroupEmptyFinish(t *testing.T) {
	g := NewPrimitiveGroup(1)
	if err := g.Finish(5, 5, 5); err != nil {
		t.Fatalf("finishing an empty group should do nothing, got %v", err)
	}
	if g.IsFinished() {
		t.Error("empty group should stay unfinished")
	}
}

func TestPrimitiveGroupMissingKinds(t *testing.T) {
	g := NewPrimitiveGroup(1)
	g.AddStrip([]uint32{0, 1, 2}, 1)

	if _, err := g.Triangles(); !errors.Is(err, ErrNoTriangles) {
		t.Errorf("expected ErrNoTriangles, got %v", err)
	}
	if _, err := g.Fans(); !errors.Is(err, ErrNoFans) {
		t.Errorf("expected ErrNoFans, got %v", err)
	}
	if _, err := g.Strips(); err != nil {
		t.Errorf("unexpected error %v", err)
	}

	empty := NewPrimitiveGroup(2)
	if _, err := empty.Strips(); !errors.Is(err, ErrNoStrips) {
		t.Errorf("expected ErrNoStrips, got %v", err)
	}
}

func TestPrimitiveGroupCounts(t *testing.T) {
	g := NewPrimitiveGroup(1)
	g.AddTriangles([]uint32{0, 1, 2, 2, 1, 3}, 1)
	g.AddStrip([]uint32{0, 1, 2, 3}, 2)
	g.AddStrip([]uint32{0, 1, 2}, 3)
	g.AddFan([]uint32{0, 1, 2, 3, 4}, 4)

	if got := g.FaceCount(); got != 8 {
		t.Errorf("expected 8 faces, got %d", got)
	}
	if got := g.IndexCount(); got != 18 {
		t.Errorf("expected 18 indices, got %d", got)
	}
	if !g.ContainsID(3) || g.ContainsID(9) {
		t.Error("ContainsID mismatch")
	}
}

func TestPrimitiveGroupIndicesBeforeAndAfterFinish(t *testing.T) {
	g := NewPrimitiveGroup(1)
	g.AddTriangles([]uint32{0, 1, 2}, 1)
	g.AddStrip([]uint32{3, 4, 5, 6}, 2)

	before := g.indices(nil)
	if len(before.Triangles) != 3 || len(before.Strips) != 1 || before.Strips[0][3] != 6 {
		t.Fatalf("unexpected raw indices %+v", before)
	}

	lod := []uint32{9, 9, 0, 1, 2, 3, 4, 5, 6}
	g.Finish(2, 5, 9)
	after := g.indices(lod)
	if after.Triangles[0] != 0 || after.Strips[0][0] != 3 || len(after.Fans) != 0 {
		t.Errorf("unexpected finished indices %+v", after)
	}
}
