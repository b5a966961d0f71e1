// Package material defines what the geometry engine needs from a material and
// the shared, usage-counted handles through which meshes reference materials.
package material

import (
	"fmt"
	"sync/atomic"

	"github.com/Faultbox/lodmesh/internal/engine/gpu"
)

// Material is executed before the primitives that use it are drawn.
type Material interface {
	ID() uint32
	Name() string
	IsTransparent() bool
	// Activate applies the material to the device.
	Activate(dev gpu.Device) error
	// ActivateWithAlpha applies the material with its opacity replaced by alpha (0..1).
	ActivateWithAlpha(dev gpu.Device, alpha float32) error
}

// Destroyer is implemented by materials owning resources that must be freed
// once no geometry uses them.
type Destroyer interface {
	Destroy()
}

// SelectionID is the id reserved for the selection highlight material.
const SelectionID = ^uint32(0)

var lastID atomic.Uint32

// NextID returns a new process-unique material id.
func NextID() uint32 {
	return lastID.Add(1)
}

// Basic is a flat color material.
type Basic struct {
	id    uint32
	name  string
	Color [4]uint8
}

// reserve makes sure NextID never hands out id.
func reserve(id uint32) {
	for {
		cur := lastID.Load()
		if cur >= id || lastID.CompareAndSwap(cur, id) {
			return
		}
	}
}

// NewBasic creates a flat color material. An id of zero allocates a new one.
func NewBasic(id uint32, name string, color [4]uint8) *Basic {
	if id == 0 {
		id = NextID()
	} else if id != SelectionID {
		reserve(id)
	}
	return &Basic{id: id, name: name, Color: color}
}

// Default returns the material used for primitives added without one.
func Default() *Basic {
	return NewBasic(0, "default", [4]uint8{204, 204, 204, 255})
}

// Highlight returns the material substituted for selected geometry.
func Highlight(color [4]uint8) *Basic {
	return &Basic{id: SelectionID, name: "selection", Color: color}
}

func (b *Basic) ID() uint32   { return b.id }
func (b *Basic) Name() string { return b.name }

// IsTransparent reports whether the color is not fully opaque.
func (b *Basic) IsTransparent() bool {
	return b.Color[3] < 255
}

func (b *Basic) Activate(dev gpu.Device) error {
	dev.SetColor(b.Color)
	dev.SetEnabled(gpu.Lighting, true)
	dev.SetEnabled(gpu.Blend, b.IsTransparent())
	return nil
}

func (b *Basic) ActivateWithAlpha(dev gpu.Device, alpha float32) error {
	c := b.Color
	c[3] = uint8(min(max(alpha, 0), 1)*255 + 0.5)
	dev.SetColor(c)
	dev.SetEnabled(gpu.Lighting, true)
	dev.SetEnabled(gpu.Blend, c[3] < 255)
	return nil
}

func (b *Basic) String() string {
	return fmt.Sprintf("%s#%d", b.name, b.id)
}
