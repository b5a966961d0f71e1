package shader

import (
	_ "embed"
	"fmt"

	"github.com/go-gl/gl/v4.1-core/gl"
)

//go:embed geometry.vert
var geometryVertexShader string

//go:embed geometry.frag
var geometryFragmentShader string

// Attribute locations of the geometry program.
const (
	LocPosition = 0
	LocNormal   = 1
	LocTexel    = 2
	LocColor    = 3
)

// GeometryProgram is the linked program used to draw meshes and wires.
type GeometryProgram struct {
	ID uint32

	locMVP            int32
	locColor          int32
	locUseVertexColor int32
	locLighting       int32
	locTexturing      int32
	locLightDir       int32
}

// NewGeometryProgram compiles the embedded geometry shaders.
func NewGeometryProgram() (*GeometryProgram, error) {
	id, err := CompileProgram(geometryVertexShader, geometryFragmentShader)
	if err != nil {
		return nil, fmt.Errorf("geometry program: %w", err)
	}
	p := &GeometryProgram{
		ID:                id,
		locMVP:            GetUniform(id, "uMVP"),
		locColor:          GetUniform(id, "uColor"),
		locUseVertexColor: GetUniform(id, "uUseVertexColor"),
		locLighting:       GetUniform(id, "uLighting"),
		locTexturing:      GetUniform(id, "uTexturing"),
		locLightDir:       GetUniform(id, "uLightDir"),
	}
	gl.UseProgram(id)
	gl.Uniform3f(p.locLightDir, -0.3, -1.0, -0.5)
	return p, nil
}

// Use makes the program current.
func (p *GeometryProgram) Use() {
	gl.UseProgram(p.ID)
}

// SetMVP uploads the model-view-projection matrix (column-major).
func (p *GeometryProgram) SetMVP(m *[16]float32) {
	gl.UniformMatrix4fv(p.locMVP, 1, false, &m[0])
}

// SetColor uploads the flat draw color.
func (p *GeometryProgram) SetColor(c [4]uint8) {
	gl.Uniform4f(p.locColor, float32(c[0])/255, float32(c[1])/255, float32(c[2])/255, float32(c[3])/255)
}

// SetUseVertexColor switches between flat and per-vertex color.
func (p *GeometryProgram) SetUseVertexColor(on bool) {
	gl.Uniform1i(p.locUseVertexColor, boolToInt(on))
}

// SetLighting toggles diffuse lighting.
func (p *GeometryProgram) SetLighting(on bool) {
	gl.Uniform1i(p.locLighting, boolToInt(on))
}

// SetTexturing toggles texture sampling.
func (p *GeometryProgram) SetTexturing(on bool) {
	gl.Uniform1i(p.locTexturing, boolToInt(on))
}

// Delete releases the program.
func (p *GeometryProgram) Delete() {
	if p.ID != 0 {
		gl.DeleteProgram(p.ID)
		p.ID = 0
	}
}

func boolToInt(b bool) int32 {
	if b {
		return 1
	}
	return 0
}
