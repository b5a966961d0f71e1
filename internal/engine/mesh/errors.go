package mesh

import (
	"errors"
	"fmt"
)

// Contract errors returned by geometry operations.
var (
	ErrAlreadyFinished     = errors.New("geometry already finished")
	ErrNotFinished         = errors.New("geometry not finished")
	ErrEmptyGeometry       = errors.New("geometry has no vertices")
	ErrVertexCountMismatch = errors.New("attribute arrays disagree on vertex count")
	ErrIndexOutOfRange     = errors.New("index references a missing vertex")
	ErrShortPolyline       = errors.New("polyline needs at least two vertices")

	ErrNoTriangles = errors.New("primitive group has no triangles")
	ErrNoStrips    = errors.New("primitive group has no strips")
	ErrNoFans      = errors.New("primitive group has no fans")

	ErrUnknownLod        = errors.New("unknown lod")
	ErrUnknownMaterial   = errors.New("unknown material")
	ErrMaterialCollision = errors.New("material already used by this mesh")
	ErrNoMaterial        = errors.New("render mode requires a material")

	ErrInvalidLayout = errors.New("stored layout is inconsistent")

	ErrNoDevice     = errors.New("no render device")
	ErrNoGPUBuffers = errors.New("gpu buffers not created")
)

// RenderError reports a failed draw. Geometry data is left intact.
type RenderError struct {
	Call     string
	Geometry string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("rendering %q: %s: %v", e.Geometry, e.Call, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}
