package mesh

import (
	"go.uber.org/zap"

	"github.com/Faultbox/lodmesh/internal/engine/gpu"
	"github.com/Faultbox/lodmesh/internal/engine/material"
	"github.com/Faultbox/lodmesh/internal/engine/picking"
	"github.com/Faultbox/lodmesh/internal/logger"
)

// RenderMode selects the render loop.
type RenderMode int

const (
	// RenderNormal draws each group with its own material.
	RenderNormal RenderMode = iota
	// OverwriteMaterial draws every group with RenderProperties.OverwriteMaterial.
	OverwriteMaterial
	// OverwriteTransparency draws every group with its material at OverwriteAlpha.
	OverwriteTransparency
	// OverwriteTransparencyAndMaterial combines the two modes above.
	OverwriteTransparencyAndMaterial
	// OverwritePrimitiveMaterial draws primitives listed in
	// RenderProperties.PrimitiveMaterials with their own material.
	OverwritePrimitiveMaterial
	// BodySelection draws the whole mesh in the color encoding InstanceID.
	BodySelection
	// PrimitiveSelection draws each primitive in the color encoding its id.
	PrimitiveSelection
	// PrimitiveSelected highlights the primitives in SelectedPrimitives.
	PrimitiveSelected
)

func (m RenderMode) String() string {
	switch m {
	case RenderNormal:
		return "normal"
	case OverwriteMaterial:
		return "overwrite-material"
	case OverwriteTransparency:
		return "overwrite-transparency"
	case OverwriteTransparencyAndMaterial:
		return "overwrite-transparency-and-material"
	case OverwritePrimitiveMaterial:
		return "overwrite-primitive-material"
	case BodySelection:
		return "body-selection"
	case PrimitiveSelection:
		return "primitive-selection"
	case PrimitiveSelected:
		return "primitive-selected"
	default:
		return "unknown"
	}
}

// IsSelection reports whether the mode draws picking colors.
func (m RenderMode) IsSelection() bool {
	return m == BodySelection || m == PrimitiveSelection
}

// RenderContext carries the device and the settings shared by every draw.
type RenderContext struct {
	Device gpu.Device
	// UseVBO draws from GPU buffers, creating them on first use. Otherwise
	// the CPU copies are streamed.
	UseVBO bool
	// SelectionMaterial replaces the material of selected geometry.
	SelectionMaterial material.Material
	// WireColor is the color of polylines outside selection.
	WireColor [4]uint8
}

// NewRenderContext returns a context drawing from GPU buffers with the
// default highlight.
func NewRenderContext(dev gpu.Device) *RenderContext {
	return &RenderContext{
		Device:            dev,
		UseVBO:            true,
		SelectionMaterial: material.Highlight([4]uint8{0, 255, 0, 255}),
		WireColor:         [4]uint8{0, 0, 0, 255},
	}
}

// RenderProperties describes one draw of one mesh instance.
type RenderProperties struct {
	Mode RenderMode
	// Selected draws the body with the selection material, in the opaque pass only.
	Selected bool
	// InstanceID is encoded in BodySelection mode.
	InstanceID uint32
	// TransparentPass draws transparent materials; otherwise opaque ones.
	TransparentPass bool

	OverwriteMaterial material.Material
	// OverwriteAlpha is the opacity used by the transparency overwrite modes.
	OverwriteAlpha float32

	PrimitiveMaterials map[uint32]material.Material
	SelectedPrimitives map[uint32]struct{}
}

// activator activates materials only when they change.
type activator struct {
	dev    gpu.Device
	active material.Material
}

func (a *activator) use(mat material.Material) error {
	if mat == a.active {
		return nil
	}
	if err := mat.Activate(a.dev); err != nil {
		return err
	}
	a.active = mat
	return nil
}

// drawer issues range draws from the GPU index buffer or the CPU indices.
type drawer struct {
	dev     gpu.Device
	vbo     bool
	indices []uint32
}

func (d drawer) draw(mode gpu.Primitive, r Range) error {
	if r.Size == 0 {
		return nil
	}
	if d.vbo {
		return d.dev.DrawElements(mode, int(r.Size), r.OffsetBytes)
	}
	return d.dev.DrawIndices(mode, d.indices[r.OffsetElements:r.End()])
}

// drawGroup draws every primitive of g: the triangles in one call, then each
// strip and fan.
func (d drawer) drawGroup(g *PrimitiveGroup) error {
	if g.ContainsTriangles() {
		if err := d.draw(gpu.Triangles, g.triangles.span()); err != nil {
			return err
		}
	}
	for _, b := range g.strips.batches() {
		if err := d.draw(gpu.TriangleStrip, b.Range); err != nil {
			return err
		}
	}
	for _, b := range g.fans.batches() {
		if err := d.draw(gpu.TriangleFan, b.Range); err != nil {
			return err
		}
	}
	return nil
}

// drawBatches draws every batch of g on its own, calling before first. A
// false return from before skips the batch.
func (d drawer) drawBatches(g *PrimitiveGroup, before func(id uint32) (bool, error)) error {
	kinds := []struct {
		mode gpu.Primitive
		list *batchList
	}{
		{gpu.Triangles, &g.triangles},
		{gpu.TriangleStrip, &g.strips},
		{gpu.TriangleFan, &g.fans},
	}
	for _, k := range kinds {
		for _, b := range k.list.batches() {
			ok, err := before(b.ID)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			if err := d.draw(k.mode, b.Range); err != nil {
				return err
			}
		}
	}
	return nil
}

// Render draws the current LOD and the wires with the loop selected by
// props.Mode. Failures are returned as *RenderError and logged.
func (m *Mesh) Render(ctx *RenderContext, props RenderProperties) error {
	if err := m.render(ctx, props); err != nil {
		if _, ok := err.(*RenderError); !ok {
			err = &RenderError{Call: props.Mode.String(), Geometry: m.name, Err: err}
		}
		logger.Named("mesh").Error("render failed",
			zap.String("name", m.name),
			zap.Stringer("mode", props.Mode),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (m *Mesh) render(ctx *RenderContext, props RenderProperties) error {
	if !m.finished {
		return ErrNotFinished
	}
	if ctx == nil || ctx.Device == nil {
		return ErrNoDevice
	}
	dev := ctx.Device

	if props.Mode.IsSelection() {
		dev.SetEnabled(gpu.Blend, false)
		dev.SetEnabled(gpu.Texture, false)
		dev.SetEnabled(gpu.Lighting, false)
	}

	if !m.data.IsEmpty() {
		d, err := m.bind(ctx, props)
		if err != nil {
			return err
		}
		if err := m.renderGroups(ctx, props, d); err != nil {
			return err
		}
	}
	return m.renderWire(ctx, props)
}

// bind makes the vertex and index source of the current LOD active.
func (m *Mesh) bind(ctx *RenderContext, props RenderProperties) (drawer, error) {
	dev := ctx.Device
	d := drawer{dev: dev, vbo: ctx.UseVBO}
	withColor := m.colorPerVertex && !props.Mode.IsSelection() && m.data.Size(Color) > 0

	lod, ok := m.data.Lod(m.currentLod)
	if !ok {
		return d, nil
	}

	if ctx.UseVBO {
		if err := m.CreateGPUBuffers(dev); err != nil {
			return d, err
		}
		if err := dev.BindVertexBuffers(m.data.VertexBuffers(withColor)); err != nil {
			return d, err
		}
		return d, dev.BindIndexBuffer(lod.Buffer())
	}

	if m.data.IsReleased() {
		logger.Named("mesh").Debug("reading released data back for client-side draw",
			zap.String("name", m.name))
		if err := m.data.Acquire(); err != nil {
			return d, err
		}
	}
	d.indices = lod.Indices()
	return d, dev.BindVertexArrays(m.data.VertexArrays(withColor))
}

func (m *Mesh) renderGroups(ctx *RenderContext, props RenderProperties, d drawer) error {
	byMaterial, ok := m.groups[m.currentLod]
	if !ok {
		return nil
	}
	order := m.materialOrder(m.currentLod)
	dev := ctx.Device

	switch props.Mode {
	case RenderNormal:
		return m.normalLoop(ctx, props, d, order)

	case OverwriteMaterial, OverwriteTransparency, OverwriteTransparencyAndMaterial:
		return m.overwriteLoop(ctx, props, d, order)

	case OverwritePrimitiveMaterial:
		return m.primitiveMaterialLoop(ctx, props, d, order)

	case BodySelection:
		flags := uint32(0)
		if props.Selected {
			flags = picking.FlagSelected
		}
		dev.SetColor(picking.ColorOf(props.InstanceID, flags))
		for _, id := range order {
			if err := d.drawGroup(byMaterial[id]); err != nil {
				return err
			}
		}
		return nil

	case PrimitiveSelection:
		for _, id := range order {
			err := d.drawBatches(byMaterial[id], func(pid uint32) (bool, error) {
				dev.SetColor(picking.ColorOf(pid, 0))
				return true, nil
			})
			if err != nil {
				return err
			}
		}
		return nil

	case PrimitiveSelected:
		return m.primitiveSelectedLoop(ctx, props, d, order)
	}
	return nil
}

// selectionMaterial returns the highlight used for selected geometry.
func selectionMaterial(ctx *RenderContext) material.Material {
	if ctx.SelectionMaterial != nil {
		return ctx.SelectionMaterial
	}
	return material.Highlight([4]uint8{0, 255, 0, 255})
}

// normalLoop draws groups whose material matches the pass. Selected meshes
// are drawn once, in the opaque pass, with the selection material.
func (m *Mesh) normalLoop(ctx *RenderContext, props RenderProperties, d drawer, order []uint32) error {
	if props.Selected {
		if props.TransparentPass {
			return nil
		}
		if err := selectionMaterial(ctx).Activate(ctx.Device); err != nil {
			return err
		}
	}
	byMaterial := m.groups[m.currentLod]
	for _, id := range order {
		g := byMaterial[id]
		if !props.Selected {
			mat := m.materials[id]
			if mat.IsTransparent() != props.TransparentPass {
				continue
			}
			if err := mat.Activate(ctx.Device); err != nil {
				return err
			}
		}
		if err := d.drawGroup(g); err != nil {
			return err
		}
	}
	return nil
}

// overwriteLoop covers the material and transparency overwrite modes.
func (m *Mesh) overwriteLoop(ctx *RenderContext, props RenderProperties, d drawer, order []uint32) error {
	overwriteMat := props.Mode == OverwriteMaterial || props.Mode == OverwriteTransparencyAndMaterial
	overwriteAlpha := props.Mode != OverwriteMaterial
	if overwriteMat && props.OverwriteMaterial == nil {
		return ErrNoMaterial
	}

	if props.Selected {
		if props.TransparentPass {
			return nil
		}
		if err := selectionMaterial(ctx).Activate(ctx.Device); err != nil {
			return err
		}
	} else if overwriteMat && !overwriteAlpha {
		if props.OverwriteMaterial.IsTransparent() != props.TransparentPass {
			return nil
		}
		if err := props.OverwriteMaterial.Activate(ctx.Device); err != nil {
			return err
		}
	} else if overwriteAlpha && (props.OverwriteAlpha < 1) != props.TransparentPass {
		return nil
	}

	byMaterial := m.groups[m.currentLod]
	for _, id := range order {
		if !props.Selected && overwriteAlpha {
			mat := material.Material(m.materials[id])
			if overwriteMat {
				mat = props.OverwriteMaterial
			}
			if err := mat.ActivateWithAlpha(ctx.Device, props.OverwriteAlpha); err != nil {
				return err
			}
		}
		if err := d.drawGroup(byMaterial[id]); err != nil {
			return err
		}
	}
	return nil
}

// primitiveMaterialLoop draws each primitive with its overriding material
// when it has one, and with the group material otherwise.
func (m *Mesh) primitiveMaterialLoop(ctx *RenderContext, props RenderProperties, d drawer, order []uint32) error {
	act := activator{dev: ctx.Device}
	byMaterial := m.groups[m.currentLod]
	for _, id := range order {
		groupMat := material.Material(m.materials[id])
		err := d.drawBatches(byMaterial[id], func(pid uint32) (bool, error) {
			mat := groupMat
			if props.Selected {
				if props.TransparentPass {
					return false, nil
				}
				mat = selectionMaterial(ctx)
			} else {
				if override, ok := props.PrimitiveMaterials[pid]; ok {
					mat = override
				}
				if mat.IsTransparent() != props.TransparentPass {
					return false, nil
				}
			}
			return true, act.use(mat)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// primitiveSelectedLoop highlights selected primitives in the opaque pass and
// draws the others with their group material.
func (m *Mesh) primitiveSelectedLoop(ctx *RenderContext, props RenderProperties, d drawer, order []uint32) error {
	act := activator{dev: ctx.Device}
	highlight := selectionMaterial(ctx)
	byMaterial := m.groups[m.currentLod]
	for _, id := range order {
		groupMat := material.Material(m.materials[id])
		err := d.drawBatches(byMaterial[id], func(pid uint32) (bool, error) {
			if _, selected := props.SelectedPrimitives[pid]; selected {
				if props.TransparentPass {
					return false, nil
				}
				return true, act.use(highlight)
			}
			if groupMat.IsTransparent() != props.TransparentPass {
				return false, nil
			}
			return true, act.use(groupMat)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// renderWire draws the polylines. Wires are opaque and drawn unlit.
func (m *Mesh) renderWire(ctx *RenderContext, props RenderProperties) error {
	if m.wire.IsEmpty() {
		return nil
	}
	dev := ctx.Device
	if ctx.UseVBO {
		if err := m.wire.CreateGPUBuffer(dev); err != nil {
			return err
		}
	}

	switch props.Mode {
	case BodySelection:
		flags := uint32(0)
		if props.Selected {
			flags = picking.FlagSelected
		}
		dev.SetColor(picking.ColorOf(props.InstanceID, flags))
		return m.wire.draw(dev, ctx.UseVBO, nil)
	case PrimitiveSelection:
		return m.wire.draw(dev, ctx.UseVBO, func(id uint32) [4]uint8 {
			return picking.ColorOf(id, 0)
		})
	}

	if props.TransparentPass {
		return nil
	}
	dev.SetEnabled(gpu.Lighting, false)
	dev.SetEnabled(gpu.Blend, false)
	color := ctx.WireColor
	if props.Selected {
		if b, ok := selectionMaterial(ctx).(*material.Basic); ok {
			color = b.Color
		}
	}
	var selectedColor func(id uint32) [4]uint8
	if props.Mode == PrimitiveSelected && len(props.SelectedPrimitives) > 0 {
		highlight := color
		if b, ok := selectionMaterial(ctx).(*material.Basic); ok {
			highlight = b.Color
		}
		selectedColor = func(id uint32) [4]uint8 {
			if _, ok := props.SelectedPrimitives[id]; ok {
				return highlight
			}
			return color
		}
	} else {
		dev.SetColor(color)
	}
	return m.wire.draw(dev, ctx.UseVBO, selectedColor)
}
