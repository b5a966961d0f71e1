package memgpu

import (
	gomath "math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/lodmesh/internal/engine/gpu"
)

type screenVertex struct {
	x, y, z float32
	ok      bool
}

// attributes returns the bound position and color arrays.
func (d *Device) attributes() (positions, colors []float32) {
	if d.client {
		return d.va.Position, d.va.Color
	}
	if buf, ok := d.buffers[d.vb.Position]; ok && d.vb.Position != 0 {
		positions = buf.floats
	}
	if buf, ok := d.buffers[d.vb.Color]; ok && d.vb.Color != 0 {
		colors = buf.floats
	}
	return positions, colors
}

func (d *Device) project(positions []float32, i uint32) screenVertex {
	base := int(i) * 3
	if base+2 >= len(positions) {
		return screenVertex{}
	}
	clip := d.mvp.Mul4x1(mgl32.Vec4{positions[base], positions[base+1], positions[base+2], 1})
	if clip.W() <= 0 {
		return screenVertex{}
	}
	ndc := clip.Vec3().Mul(1 / clip.W())
	return screenVertex{
		x:  (ndc.X() + 1) * 0.5 * float32(d.width),
		y:  (ndc.Y() + 1) * 0.5 * float32(d.height),
		z:  ndc.Z(),
		ok: true,
	}
}

func (d *Device) vertexColor(colors []float32, i uint32) [4]uint8 {
	base := int(i) * 4
	if colors == nil || base+3 >= len(colors) {
		return d.color
	}
	var c [4]uint8
	for k := 0; k < 4; k++ {
		c[k] = uint8(mgl32.Clamp(colors[base+k], 0, 1)*255 + 0.5)
	}
	return c
}

// rasterize draws the primitive into the surface using the current color
// (or the first vertex color when a color attribute is bound).
func (d *Device) rasterize(mode gpu.Primitive, indices []uint32) error {
	positions, colors := d.attributes()
	if positions == nil {
		return &gpu.OpError{Op: "Draw", Err: ErrNoPositions}
	}

	tri := func(a, b, c uint32) {
		d.fillTriangle(d.project(positions, a), d.project(positions, b), d.project(positions, c), d.vertexColor(colors, a))
	}

	switch mode {
	case gpu.Triangles:
		for i := 0; i+2 < len(indices); i += 3 {
			tri(indices[i], indices[i+1], indices[i+2])
		}
	case gpu.TriangleStrip:
		for i := 0; i+2 < len(indices); i++ {
			tri(indices[i], indices[i+1], indices[i+2])
		}
	case gpu.TriangleFan:
		for i := 1; i+1 < len(indices); i++ {
			tri(indices[0], indices[i], indices[i+1])
		}
	case gpu.LineStrip:
		for i := 0; i+1 < len(indices); i++ {
			d.drawLine(d.project(positions, indices[i]), d.project(positions, indices[i+1]), d.vertexColor(colors, indices[i]))
		}
	}
	return nil
}

func edge(ax, ay, bx, by, px, py float32) float32 {
	return (bx-ax)*(py-ay) - (by-ay)*(px-ax)
}

func (d *Device) fillTriangle(a, b, c screenVertex, color [4]uint8) {
	if !a.ok || !b.ok || !c.ok {
		return
	}
	area := edge(a.x, a.y, b.x, b.y, c.x, c.y)
	if area == 0 {
		return
	}

	minX := int(gomath.Floor(float64(min(a.x, b.x, c.x))))
	maxX := int(gomath.Ceil(float64(max(a.x, b.x, c.x))))
	minY := int(gomath.Floor(float64(min(a.y, b.y, c.y))))
	maxY := int(gomath.Ceil(float64(max(a.y, b.y, c.y))))
	minX, minY = max(minX, 0), max(minY, 0)
	maxX, maxY = min(maxX, d.width-1), min(maxY, d.height-1)

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			px, py := float32(x)+0.5, float32(y)+0.5
			w0 := edge(b.x, b.y, c.x, c.y, px, py) / area
			w1 := edge(c.x, c.y, a.x, a.y, px, py) / area
			w2 := edge(a.x, a.y, b.x, b.y, px, py) / area
			if w0 < 0 || w1 < 0 || w2 < 0 {
				continue
			}
			d.plot(x, y, w0*a.z+w1*b.z+w2*c.z, color)
		}
	}
}

func (d *Device) drawLine(a, b screenVertex, color [4]uint8) {
	if !a.ok || !b.ok {
		return
	}
	dx, dy := b.x-a.x, b.y-a.y
	steps := int(gomath.Ceil(gomath.Max(gomath.Abs(float64(dx)), gomath.Abs(float64(dy)))))
	if steps == 0 {
		steps = 1
	}
	for i := 0; i <= steps; i++ {
		t := float32(i) / float32(steps)
		x := int(gomath.Floor(float64(a.x + t*dx)))
		y := int(gomath.Floor(float64(a.y + t*dy)))
		if x < 0 || y < 0 || x >= d.width || y >= d.height {
			continue
		}
		d.plot(x, y, a.z+t*(b.z-a.z), color)
	}
}

func (d *Device) plot(x, y int, z float32, color [4]uint8) {
	i := y*d.width + x
	if d.enabled[gpu.DepthTest] {
		if z >= d.depth[i] {
			return
		}
		d.depth[i] = z
	}
	p := i * 4
	if d.enabled[gpu.Blend] && color[3] < 255 {
		a := float32(color[3]) / 255
		for k := 0; k < 3; k++ {
			d.pixels[p+k] = uint8(float32(color[k])*a + float32(d.pixels[p+k])*(1-a))
		}
		return
	}
	d.pixels[p], d.pixels[p+1], d.pixels[p+2], d.pixels[p+3] = color[0], color[1], color[2], color[3]
}
