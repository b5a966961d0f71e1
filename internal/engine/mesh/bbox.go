package mesh

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// AABB is an axis-aligned bounding box. The zero value is not empty; use
// EmptyAABB for an accumulator.
type AABB struct {
	Min mgl32.Vec3
	Max mgl32.Vec3
}

// EmptyAABB returns a box that any point extends.
func EmptyAABB() AABB {
	inf := float32(math.Inf(1))
	return AABB{
		Min: mgl32.Vec3{inf, inf, inf},
		Max: mgl32.Vec3{-inf, -inf, -inf},
	}
}

// IsEmpty reports whether no point has been added.
func (b AABB) IsEmpty() bool {
	return b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] || b.Min[2] > b.Max[2]
}

// Extend grows the box to contain p.
func (b *AABB) Extend(p mgl32.Vec3) {
	for i := 0; i < 3; i++ {
		b.Min[i] = min(b.Min[i], p[i])
		b.Max[i] = max(b.Max[i], p[i])
	}
}

// Combine returns the union of two boxes.
func (b AABB) Combine(o AABB) AABB {
	if o.IsEmpty() {
		return b
	}
	if b.IsEmpty() {
		return o
	}
	b.Extend(o.Min)
	b.Extend(o.Max)
	return b
}

// Center returns the center point.
func (b AABB) Center() mgl32.Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Size returns the box dimensions.
func (b AABB) Size() mgl32.Vec3 {
	return b.Max.Sub(b.Min)
}

// Radius returns half the diagonal.
func (b AABB) Radius() float32 {
	return b.Size().Len() / 2
}

// Transform returns the box enclosing the eight transformed corners.
func (b AABB) Transform(m mgl32.Mat4) AABB {
	if b.IsEmpty() {
		return b
	}
	out := EmptyAABB()
	for i := 0; i < 8; i++ {
		c := b.Min
		if i&1 != 0 {
			c[0] = b.Max[0]
		}
		if i&2 != 0 {
			c[1] = b.Max[1]
		}
		if i&4 != 0 {
			c[2] = b.Max[2]
		}
		out.Extend(m.Mul4x1(c.Vec4(1)).Vec3())
	}
	return out
}

func boundsOf(positions []float32, indices []uint32) AABB {
	box := EmptyAABB()
	if indices == nil {
		for i := 0; i+2 < len(positions); i += 3 {
			box.Extend(mgl32.Vec3{positions[i], positions[i+1], positions[i+2]})
		}
		return box
	}
	for _, idx := range indices {
		i := int(idx) * 3
		if i+2 >= len(positions) {
			continue
		}
		box.Extend(mgl32.Vec3{positions[i], positions[i+1], positions[i+2]})
	}
	return box
}
