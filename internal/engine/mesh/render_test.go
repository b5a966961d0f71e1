package mesh

import (
	"errors"
	"slices"
	"testing"

	"github.com/Faultbox/lodmesh/internal/engine/gpu"
	"github.com/Faultbox/lodmesh/internal/engine/gpu/memgpu"
	"github.com/Faultbox/lodmesh/internal/engine/material"
	"github.com/Faultbox/lodmesh/internal/engine/picking"
)

var (
	red    = [4]uint8{255, 0, 0, 255}
	blue   = [4]uint8{0, 0, 255, 128}
	green  = [4]uint8{0, 255, 0, 255}
	yellow = [4]uint8{255, 255, 0, 255}
)

// renderFixture is two opaque triangles at the bottom of clip space and a
// transparent strip of one triangle on top between them.
type renderFixture struct {
	mesh              *Mesh
	opaque, clear     *material.Handle
	left, right, band uint32
	dev               *memgpu.Device
	ctx               *RenderContext
}

func newRenderFixture(t *testing.T) *renderFixture {
	t.Helper()
	f := &renderFixture{
		mesh:   newVertexMesh(t, "fixture"),
		opaque: solid("opaque", red),
		clear:  solid("clear", blue),
		dev:    memgpu.New(64, 64),
	}
	var err error
	if f.left, err = f.mesh.AddTriangles(f.opaque, []uint32{0, 1, 2}, 0, 0); err != nil {
		t.Fatal(err)
	}
	if f.right, err = f.mesh.AddTriangles(f.opaque, []uint32{1, 3, 4}, 0, 0); err != nil {
		t.Fatal(err)
	}
	if f.band, err = f.mesh.AddStrip(f.clear, []uint32{2, 1, 4}, 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := f.mesh.Finish(); err != nil {
		t.Fatal(err)
	}
	f.ctx = NewRenderContext(f.dev)
	return f
}

func (f *renderFixture) render(t *testing.T, props RenderProperties) []memgpu.Call {
	t.Helper()
	f.dev.ResetCalls()
	if err := f.mesh.Render(f.ctx, props); err != nil {
		t.Fatalf("Render(%s): %v", props.Mode, err)
	}
	return f.dev.Calls
}

func colors(calls []memgpu.Call) [][4]uint8 {
	out := make([][4]uint8, len(calls))
	for i, c := range calls {
		out[i] = c.Color
	}
	return out
}

func TestRenderNormalPasses(t *testing.T) {
	f := newRenderFixture(t)

	calls := f.render(t, RenderProperties{Mode: RenderNormal})
	if len(calls) != 1 {
		t.Fatalf("expected one opaque draw, got %d", len(calls))
	}
	want := memgpu.Call{Op: "DrawElements", Mode: gpu.Triangles, Count: 6, OffsetBytes: 0, Color: red}
	if got := calls[0]; got.Op != want.Op || got.Mode != want.Mode || got.Count != want.Count || got.OffsetBytes != want.OffsetBytes || got.Color != want.Color {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if f.dev.BufferCount() == 0 {
		t.Error("first VBO render should create GPU buffers")
	}

	calls = f.render(t, RenderProperties{Mode: RenderNormal, TransparentPass: true})
	if len(calls) != 1 || calls[0].Mode != gpu.TriangleStrip || calls[0].OffsetBytes != 24 || calls[0].Color != blue {
		t.Errorf("unexpected transparent pass %+v", calls)
	}
}

func TestRenderSelectedOnlyInOpaquePass(t *testing.T) {
	f := newRenderFixture(t)

	calls := f.render(t, RenderProperties{Mode: RenderNormal, Selected: true})
	if len(calls) != 2 {
		t.Fatalf("expected the whole body in the opaque pass, got %d draws", len(calls))
	}
	for _, c := range colors(calls) {
		if c != green {
			t.Errorf("expected highlight color, got %v", c)
		}
	}

	if calls := f.render(t, RenderProperties{Mode: RenderNormal, Selected: true, TransparentPass: true}); len(calls) != 0 {
		t.Errorf("selected body drawn again in the transparent pass: %+v", calls)
	}
}

func TestRenderClientSide(t *testing.T) {
	f := newRenderFixture(t)
	f.ctx.UseVBO = false

	calls := f.render(t, RenderProperties{Mode: RenderNormal})
	if len(calls) != 1 || calls[0].Op != "DrawIndices" {
		t.Fatalf("expected one client-side draw, got %+v", calls)
	}
	if !slices.Equal(calls[0].Indices, []uint32{0, 1, 2, 1, 3, 4}) {
		t.Errorf("unexpected indices %v", calls[0].Indices)
	}
	if f.dev.BufferCount() != 0 {
		t.Errorf("client-side render created %d buffers", f.dev.BufferCount())
	}
}

func TestRenderClientSideAfterRelease(t *testing.T) {
	f := newRenderFixture(t)
	if err := f.mesh.CreateGPUBuffers(f.dev); err != nil {
		t.Fatal(err)
	}
	if err := f.mesh.ReleaseVBOClientSide(false); err != nil {
		t.Fatal(err)
	}
	f.ctx.UseVBO = false

	calls := f.render(t, RenderProperties{Mode: RenderNormal})
	if len(calls) != 1 || !slices.Equal(calls[0].Indices, []uint32{0, 1, 2, 1, 3, 4}) {
		t.Errorf("unexpected draws after read-back %+v", calls)
	}
	if f.mesh.Data().IsReleased() {
		t.Error("client-side render should have acquired the CPU copies")
	}
}

func TestRenderOnTwoDevices(t *testing.T) {
	f := newRenderFixture(t)
	first := f.render(t, RenderProperties{Mode: RenderNormal})

	other := memgpu.New(64, 64)
	if err := f.mesh.Render(NewRenderContext(other), RenderProperties{Mode: RenderNormal}); err != nil {
		t.Fatal(err)
	}
	if len(other.Calls) != len(first) {
		t.Fatalf("expected %d draws on the second device, got %d", len(first), len(other.Calls))
	}
	for i := range first {
		if !slices.Equal(other.Calls[i].Indices, first[i].Indices) {
			t.Errorf("draw %d: expected indices %v, got %v", i, first[i].Indices, other.Calls[i].Indices)
		}
	}
	if f.dev.BufferCount() != 0 {
		t.Errorf("expected the first device released, %d buffers left", f.dev.BufferCount())
	}
}

func TestRenderBodySelection(t *testing.T) {
	f := newRenderFixture(t)
	f.dev.SetEnabled(gpu.Lighting, true)
	f.dev.SetEnabled(gpu.Blend, true)

	calls := f.render(t, RenderProperties{Mode: BodySelection, InstanceID: 7})
	if len(calls) != 2 {
		t.Fatalf("expected every group drawn, got %d draws", len(calls))
	}
	for _, c := range colors(calls) {
		if c != picking.ColorOf(7, 0) {
			t.Errorf("expected instance color, got %v", c)
		}
	}
	if f.dev.Enabled(gpu.Lighting) || f.dev.Enabled(gpu.Blend) || f.dev.Enabled(gpu.Texture) {
		t.Error("selection pass left lighting, blending or texturing on")
	}

	calls = f.render(t, RenderProperties{Mode: BodySelection, InstanceID: 7, Selected: true})
	if calls[0].Color != picking.ColorOf(7, picking.FlagSelected) {
		t.Errorf("expected selected flag in color, got %v", calls[0].Color)
	}
}

func TestRenderPrimitiveSelection(t *testing.T) {
	f := newRenderFixture(t)

	calls := f.render(t, RenderProperties{Mode: PrimitiveSelection})
	want := []struct {
		id     uint32
		offset int
	}{
		{f.left, 0},
		{f.right, 12},
		{f.band, 24},
	}
	if len(calls) != len(want) {
		t.Fatalf("expected %d draws, got %d", len(want), len(calls))
	}
	for i, w := range want {
		if calls[i].Color != picking.ColorOf(w.id, 0) || calls[i].OffsetBytes != w.offset || calls[i].Count != 3 {
			t.Errorf("draw %d: expected id %d at %d, got %+v", i, w.id, w.offset, calls[i])
		}
	}
}

func TestRenderPrimitiveSelected(t *testing.T) {
	f := newRenderFixture(t)
	selected := map[uint32]struct{}{f.right: {}}

	calls := f.render(t, RenderProperties{Mode: PrimitiveSelected, SelectedPrimitives: selected})
	if got := colors(calls); !slices.Equal(got, [][4]uint8{red, green}) {
		t.Errorf("opaque pass: expected red then highlight, got %v", got)
	}

	calls = f.render(t, RenderProperties{Mode: PrimitiveSelected, SelectedPrimitives: selected, TransparentPass: true})
	if len(calls) != 1 || calls[0].Color != blue {
		t.Errorf("transparent pass: expected only the strip, got %+v", calls)
	}
}

func TestRenderOverwritePrimitiveMaterial(t *testing.T) {
	f := newRenderFixture(t)

	calls := f.render(t, RenderProperties{Mode: OverwritePrimitiveMaterial})
	if got := colors(calls); !slices.Equal(got, [][4]uint8{red, red}) {
		t.Errorf("expected both triangles red, got %v", got)
	}
	if f.dev.ColorChanges != 1 {
		t.Errorf("expected the shared material activated once, got %d", f.dev.ColorChanges)
	}

	override := map[uint32]material.Material{f.right: material.NewBasic(0, "override", green)}
	calls = f.render(t, RenderProperties{Mode: OverwritePrimitiveMaterial, PrimitiveMaterials: override})
	if got := colors(calls); !slices.Equal(got, [][4]uint8{red, green}) {
		t.Errorf("expected override on the right triangle, got %v", got)
	}
}

func TestRenderOverwriteMaterial(t *testing.T) {
	f := newRenderFixture(t)
	over := material.NewBasic(0, "yellow", yellow)

	calls := f.render(t, RenderProperties{Mode: OverwriteMaterial, OverwriteMaterial: over})
	if got := colors(calls); !slices.Equal(got, [][4]uint8{yellow, yellow}) {
		t.Errorf("expected every group in the overwrite color, got %v", got)
	}
	if calls := f.render(t, RenderProperties{Mode: OverwriteMaterial, OverwriteMaterial: over, TransparentPass: true}); len(calls) != 0 {
		t.Errorf("opaque overwrite drawn in the transparent pass: %+v", calls)
	}

	err := f.mesh.Render(f.ctx, RenderProperties{Mode: OverwriteMaterial})
	if !errors.Is(err, ErrNoMaterial) {
		t.Errorf("expected ErrNoMaterial, got %v", err)
	}
}

func TestRenderOverwriteTransparency(t *testing.T) {
	f := newRenderFixture(t)

	if calls := f.render(t, RenderProperties{Mode: OverwriteTransparency, OverwriteAlpha: 0.5}); len(calls) != 0 {
		t.Errorf("translucent overwrite drawn in the opaque pass: %+v", calls)
	}
	calls := f.render(t, RenderProperties{Mode: OverwriteTransparency, OverwriteAlpha: 0.5, TransparentPass: true})
	want := [][4]uint8{{255, 0, 0, 128}, {0, 0, 255, 128}}
	if got := colors(calls); !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}

	calls = f.render(t, RenderProperties{
		Mode:              OverwriteTransparencyAndMaterial,
		OverwriteMaterial: material.NewBasic(0, "yellow", yellow),
		OverwriteAlpha:    0.25,
		TransparentPass:   true,
	})
	for _, c := range colors(calls) {
		if c != [4]uint8{255, 255, 0, 64} {
			t.Errorf("expected translucent yellow, got %v", c)
		}
	}
}

func TestRenderWire(t *testing.T) {
	m := newVertexMesh(t, "wired")
	m.AddTriangles(nil, []uint32{0, 1, 2}, 0, 0)
	wireID, _ := m.AddVerticeGroup([]float32{-1, 0, 0, 0, 0, 0, 1, 0, 0})
	m.Finish()
	dev := memgpu.New(16, 16)
	ctx := NewRenderContext(dev)
	ctx.WireColor = yellow

	if err := m.Render(ctx, RenderProperties{Mode: RenderNormal}); err != nil {
		t.Fatal(err)
	}
	last := dev.Calls[len(dev.Calls)-1]
	if last.Op != "DrawArrays" || last.Mode != gpu.LineStrip || last.Count != 3 || last.Color != yellow {
		t.Errorf("unexpected wire draw %+v", last)
	}
	if dev.Enabled(gpu.Lighting) {
		t.Error("wires must be drawn unlit")
	}

	dev.ResetCalls()
	m.Render(ctx, RenderProperties{Mode: RenderNormal, TransparentPass: true})
	for _, c := range dev.Calls {
		if c.Mode == gpu.LineStrip {
			t.Error("wire drawn in the transparent pass")
		}
	}

	dev.ResetCalls()
	m.Render(ctx, RenderProperties{Mode: PrimitiveSelection})
	last = dev.Calls[len(dev.Calls)-1]
	if last.Color != picking.ColorOf(wireID, 0) {
		t.Errorf("expected wire picking color, got %v", last.Color)
	}
}

func TestRenderCurrentLod(t *testing.T) {
	m := newVertexMesh(t, "lod")
	m.AddTriangles(nil, []uint32{0, 1, 2}, 0, 1)
	m.AddTriangles(nil, []uint32{0, 1, 3}, 1, 0.5)
	m.Finish()
	dev := memgpu.New(16, 16)
	ctx := NewRenderContext(dev)

	m.SetCurrentLod(100)
	if err := m.Render(ctx, RenderProperties{Mode: RenderNormal}); err != nil {
		t.Fatal(err)
	}
	if len(dev.Calls) != 1 || !slices.Equal(dev.Calls[0].Indices, []uint32{0, 1, 3}) {
		t.Errorf("expected lod 1 indices, got %+v", dev.Calls)
	}
}

func TestRenderErrors(t *testing.T) {
	logs := observe(t)

	err := New("unfinished").Render(NewRenderContext(memgpu.New(4, 4)), RenderProperties{})
	if !errors.Is(err, ErrNotFinished) {
		t.Errorf("expected ErrNotFinished, got %v", err)
	}

	f := newRenderFixture(t)
	f.dev.FailOn("DrawElements", errBoom)
	err = f.mesh.Render(f.ctx, RenderProperties{Mode: PrimitiveSelection})

	var re *RenderError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RenderError, got %T", err)
	}
	if re.Call != "primitive-selection" || re.Geometry != "fixture" {
		t.Errorf("unexpected error context %+v", re)
	}
	var oe *gpu.OpError
	if !errors.As(err, &oe) || oe.Op != "DrawElements" {
		t.Errorf("expected the backend error to be wrapped, got %v", err)
	}
	if !errors.Is(err, errBoom) {
		t.Errorf("expected errBoom in the chain, got %v", err)
	}
	if n := logs.FilterMessage("render failed").Len(); n != 2 {
		t.Errorf("expected 2 logged failures, got %d", n)
	}
}

func TestPickingEndToEnd(t *testing.T) {
	f := newRenderFixture(t)
	sel := picking.NewSelector(f.dev, nil, 64, 64, picking.DefaultWindowSize)
	pass := func(mode RenderMode) picking.Pass {
		return func(dev gpu.Device) error {
			return f.mesh.Render(f.ctx, RenderProperties{Mode: mode, InstanceID: 9})
		}
	}

	tests := []struct {
		name string
		x, y int
		mode RenderMode
		want uint32
	}{
		{"body left", 8, 16, BodySelection, 9},
		{"body right", 56, 40, BodySelection, 9},
		{"left triangle", 8, 16, PrimitiveSelection, f.left},
		{"right triangle", 56, 40, PrimitiveSelection, f.right},
		{"strip", 32, 56, PrimitiveSelection, f.band},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sel.Pick(tt.x, tt.y, pass(tt.mode))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("expected id %d, got %d", tt.want, got)
			}
		})
	}
}
