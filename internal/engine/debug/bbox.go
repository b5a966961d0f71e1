// Package debug provides debug overlays and frame capture for the viewer and tools.
package debug

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/lodmesh/internal/engine/mesh"
)

// DefaultBoundsPadding expands overlay boxes so they do not z-fight with the geometry.
const DefaultBoundsPadding = 0.01

// BoundsOutline returns the edges of box, grown by padding on every side, as
// polylines: the bottom loop, the top loop and the four vertical edges.
// Each polyline is a flat [x, y, z] list.
func BoundsOutline(box mesh.AABB, padding float32) [][]float32 {
	pad := mgl32.Vec3{padding, padding, padding}
	lo, hi := box.Min.Sub(pad), box.Max.Add(pad)

	corner := func(x, z bool, y float32) []float32 {
		c := []float32{lo.X(), y, lo.Z()}
		if x {
			c[0] = hi.X()
		}
		if z {
			c[2] = hi.Z()
		}
		return c
	}
	loop := func(y float32) []float32 {
		var line []float32
		for _, c := range [][2]bool{{false, false}, {true, false}, {true, true}, {false, true}, {false, false}} {
			line = append(line, corner(c[0], c[1], y)...)
		}
		return line
	}

	lines := [][]float32{loop(lo.Y()), loop(hi.Y())}
	for _, c := range [][2]bool{{false, false}, {true, false}, {true, true}, {false, true}} {
		lines = append(lines, append(corner(c[0], c[1], lo.Y()), corner(c[0], c[1], hi.Y())...))
	}
	return lines
}

// BoundsMesh builds a finished, wire-only mesh outlining box.
func BoundsMesh(name string, box mesh.AABB, padding float32) (*mesh.Mesh, error) {
	m := mesh.New(name)
	for _, line := range BoundsOutline(box, padding) {
		if _, err := m.AddVerticeGroup(line); err != nil {
			return nil, err
		}
	}
	if err := m.Finish(); err != nil {
		return nil, err
	}
	return m, nil
}
