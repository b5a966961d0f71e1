package main

import (
	gomath "math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/lodmesh/internal/engine/material"
	"github.com/Faultbox/lodmesh/internal/engine/mesh"
)

// demoGrid is the number of cells per side of the demo terrain at full detail.
const demoGrid = 8

func demoHeight(x, z float64) float64 {
	return 0.15 * gomath.Sin(x*1.3) * gomath.Cos(z*0.9)
}

// buildDemo creates a terrain patch with three levels of detail. The near
// half is drawn with triangles and the far half with one strip per row, each
// half with its own material. A translucent fan caps the center at full
// detail and a wire outlines the border.
func buildDemo(lib *material.Library) (*mesh.Mesh, error) {
	ground := lib.Add(material.NewBasic(0, "ground", [4]uint8{120, 170, 90, 255}))
	rock := lib.Add(material.NewBasic(0, "rock", [4]uint8{150, 140, 130, 255}))
	glass := lib.Add(material.NewBasic(0, "glass", [4]uint8{90, 160, 230, 140}))

	m := mesh.New("demo-terrain")
	n := demoGrid + 1
	index := func(col, row int) uint32 { return uint32(row*n + col) }

	var positions, normals []float32
	for row := 0; row < n; row++ {
		for col := 0; col < n; col++ {
			x, z := float64(col)/demoGrid*2-1, float64(row)/demoGrid*2-1
			positions = append(positions, float32(x), float32(demoHeight(x, z)), float32(z))

			const eps = 1e-3
			dx := (demoHeight(x+eps, z) - demoHeight(x-eps, z)) / (2 * eps)
			dz := (demoHeight(x, z+eps) - demoHeight(x, z-eps)) / (2 * eps)
			nv := mgl32.Vec3{float32(-dx), 1, float32(-dz)}.Normalize()
			normals = append(normals, nv[0], nv[1], nv[2])
		}
	}
	apex := uint32(n * n)
	positions = append(positions, 0, 0.6, 0)
	normals = append(normals, 0, 1, 0)

	if err := m.AddVertices(positions); err != nil {
		return nil, err
	}
	if err := m.AddNormals(normals); err != nil {
		return nil, err
	}

	levels := []struct {
		step     int
		accuracy float64
	}{
		{1, 1.0},
		{2, 0.5},
		{4, 0.1},
	}
	for lod, lv := range levels {
		half := demoGrid / 2
		for row := 0; row < half; row += lv.step {
			var tris []uint32
			for col := 0; col < demoGrid; col += lv.step {
				a, b := index(col, row), index(col+lv.step, row)
				c, d := index(col, row+lv.step), index(col+lv.step, row+lv.step)
				tris = append(tris, a, c, b, b, c, d)
			}
			if _, err := m.AddTriangles(ground, tris, lod, lv.accuracy); err != nil {
				return nil, err
			}
		}
		for row := half; row < demoGrid; row += lv.step {
			var strip []uint32
			for col := 0; col <= demoGrid; col += lv.step {
				strip = append(strip, index(col, row), index(col, row+lv.step))
			}
			if _, err := m.AddStrip(rock, strip, lod, lv.accuracy); err != nil {
				return nil, err
			}
		}
	}

	c := demoGrid / 2
	fan := []uint32{apex,
		index(c-1, c-1), index(c-1, c+1), index(c+1, c+1), index(c+1, c-1), index(c-1, c-1)}
	if _, err := m.AddFan(glass, fan, 0, levels[0].accuracy); err != nil {
		return nil, err
	}

	var border []float32
	for _, p := range [][2]int{{0, 0}, {demoGrid, 0}, {demoGrid, demoGrid}, {0, demoGrid}, {0, 0}} {
		i := int(index(p[0], p[1])) * 3
		border = append(border, positions[i], positions[i+1]+0.01, positions[i+2])
	}
	if _, err := m.AddVerticeGroup(border); err != nil {
		return nil, err
	}

	if err := m.Finish(); err != nil {
		return nil, err
	}
	return m, nil
}
