// Package glbackend implements gpu.Device on OpenGL 4.1 core.
//
// Core profile has no client-side arrays, so VertexArrays and DrawIndices are
// streamed through scratch buffers owned by the device.
package glbackend

import (
	"fmt"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/lodmesh/internal/engine/gpu"
	"github.com/Faultbox/lodmesh/internal/engine/shader"
	"github.com/Faultbox/lodmesh/internal/logger"
)

// Device is an OpenGL implementation of gpu.Device.
// It must be created after the OpenGL context is current.
type Device struct {
	program *shader.GeometryProgram
	vao     uint32

	// scratch buffers for client-side arrays, one per attribute plus indices
	scratch      [4]uint32
	scratchIndex uint32

	boundIndex uint32
	colorBound bool
	viewport   [4]int32
}

// New initializes OpenGL, compiles the geometry program and creates the vertex array.
func New() (*Device, error) {
	if err := gl.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize OpenGL: %w", err)
	}

	logger.Info("OpenGL initialized",
		zap.String("version", gl.GoStr(gl.GetString(gl.VERSION))),
		zap.String("renderer", gl.GoStr(gl.GetString(gl.RENDERER))),
	)

	program, err := shader.NewGeometryProgram()
	if err != nil {
		return nil, err
	}

	d := &Device{program: program}
	gl.GenVertexArrays(1, &d.vao)
	gl.BindVertexArray(d.vao)
	gl.GenBuffers(int32(len(d.scratch)), &d.scratch[0])
	gl.GenBuffers(1, &d.scratchIndex)

	gl.Enable(gl.DEPTH_TEST)
	gl.DepthFunc(gl.LESS)
	gl.BlendFunc(gl.SRC_ALPHA, gl.ONE_MINUS_SRC_ALPHA)
	program.Use()
	program.SetColor([4]uint8{255, 255, 255, 255})
	d.SetTransform(mgl32.Ident4())

	if err := check("init"); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Close releases the program and device-owned buffers.
func (d *Device) Close() {
	gl.DeleteBuffers(int32(len(d.scratch)), &d.scratch[0])
	gl.DeleteBuffers(1, &d.scratchIndex)
	if d.vao != 0 {
		gl.DeleteVertexArrays(1, &d.vao)
		d.vao = 0
	}
	d.program.Delete()
}

// Viewport sets the GL viewport.
func (d *Device) Viewport(x, y, width, height int32) {
	d.viewport = [4]int32{x, y, width, height}
	gl.Viewport(x, y, width, height)
}

// check converts a pending GL error into an *gpu.OpError.
func check(op string) error {
	if code := gl.GetError(); code != gl.NO_ERROR {
		return &gpu.OpError{Op: op, Err: fmt.Errorf("gl error 0x%x", code)}
	}
	return nil
}

func (d *Device) GenBuffer() (gpu.Buffer, error) {
	var id uint32
	gl.GenBuffers(1, &id)
	if id == 0 {
		return 0, &gpu.OpError{Op: "GenBuffer", Err: fmt.Errorf("glGenBuffers returned 0")}
	}
	return gpu.Buffer(id), check("GenBuffer")
}

func (d *Device) DeleteBuffer(b gpu.Buffer) {
	if b == 0 {
		return
	}
	id := uint32(b)
	gl.DeleteBuffers(1, &id)
	if d.boundIndex == id {
		d.boundIndex = 0
	}
}

func (d *Device) UploadFloat32(b gpu.Buffer, data []float32) error {
	gl.BindBuffer(gl.ARRAY_BUFFER, uint32(b))
	gl.BufferData(gl.ARRAY_BUFFER, len(data)*4, ptr(data), gl.STATIC_DRAW)
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)
	return check("UploadFloat32")
}

func (d *Device) UploadUint32(b gpu.Buffer, data []uint32) error {
	gl.BindVertexArray(d.vao)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, uint32(b))
	gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(data)*gpu.IndexSize, ptrUint(data), gl.STATIC_DRAW)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, d.boundIndex)
	return check("UploadUint32")
}

func (d *Device) ReadFloat32(b gpu.Buffer, count int) ([]float32, error) {
	out := make([]float32, count)
	if count == 0 {
		return out, nil
	}
	gl.BindBuffer(gl.COPY_READ_BUFFER, uint32(b))
	gl.GetBufferSubData(gl.COPY_READ_BUFFER, 0, count*4, gl.Ptr(out))
	gl.BindBuffer(gl.COPY_READ_BUFFER, 0)
	return out, check("ReadFloat32")
}

func (d *Device) ReadUint32(b gpu.Buffer, count int) ([]uint32, error) {
	out := make([]uint32, count)
	if count == 0 {
		return out, nil
	}
	gl.BindBuffer(gl.COPY_READ_BUFFER, uint32(b))
	gl.GetBufferSubData(gl.COPY_READ_BUFFER, 0, count*gpu.IndexSize, gl.Ptr(out))
	gl.BindBuffer(gl.COPY_READ_BUFFER, 0)
	return out, check("ReadUint32")
}

func (d *Device) bindAttribute(loc uint32, size int32, buffer uint32) {
	if buffer == 0 {
		gl.DisableVertexAttribArray(loc)
		return
	}
	gl.BindBuffer(gl.ARRAY_BUFFER, buffer)
	gl.VertexAttribPointerWithOffset(loc, size, gl.FLOAT, false, 0, 0)
	gl.EnableVertexAttribArray(loc)
}

func (d *Device) BindVertexBuffers(vb gpu.VertexBuffers) error {
	gl.BindVertexArray(d.vao)
	d.bindAttribute(shader.LocPosition, 3, uint32(vb.Position))
	d.bindAttribute(shader.LocNormal, 3, uint32(vb.Normal))
	d.bindAttribute(shader.LocTexel, 2, uint32(vb.Texel))
	d.bindAttribute(shader.LocColor, 4, uint32(vb.Color))
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)
	d.setVertexColor(vb.Color != 0)
	return check("BindVertexBuffers")
}

func (d *Device) BindVertexArrays(va gpu.VertexArrays) error {
	gl.BindVertexArray(d.vao)
	arrays := [4][]float32{va.Position, va.Normal, va.Texel, va.Color}
	sizes := [4]int32{3, 3, 2, 4}
	for i, data := range arrays {
		if data == nil {
			d.bindAttribute(uint32(i), sizes[i], 0)
			continue
		}
		gl.BindBuffer(gl.ARRAY_BUFFER, d.scratch[i])
		gl.BufferData(gl.ARRAY_BUFFER, len(data)*4, ptr(data), gl.STREAM_DRAW)
		d.bindAttribute(uint32(i), sizes[i], d.scratch[i])
	}
	gl.BindBuffer(gl.ARRAY_BUFFER, 0)
	d.setVertexColor(va.Color != nil)
	return check("BindVertexArrays")
}

func (d *Device) setVertexColor(on bool) {
	if d.colorBound == on {
		return
	}
	d.colorBound = on
	d.program.Use()
	d.program.SetUseVertexColor(on)
}

func (d *Device) BindIndexBuffer(b gpu.Buffer) error {
	gl.BindVertexArray(d.vao)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, uint32(b))
	d.boundIndex = uint32(b)
	return check("BindIndexBuffer")
}

func glMode(mode gpu.Primitive) uint32 {
	switch mode {
	case gpu.TriangleStrip:
		return gl.TRIANGLE_STRIP
	case gpu.TriangleFan:
		return gl.TRIANGLE_FAN
	case gpu.LineStrip:
		return gl.LINE_STRIP
	default:
		return gl.TRIANGLES
	}
}

func (d *Device) DrawElements(mode gpu.Primitive, count int, offsetBytes int) error {
	d.program.Use()
	gl.BindVertexArray(d.vao)
	gl.DrawElementsWithOffset(glMode(mode), int32(count), gl.UNSIGNED_INT, uintptr(offsetBytes))
	return check("DrawElements")
}

func (d *Device) DrawIndices(mode gpu.Primitive, indices []uint32) error {
	if len(indices) == 0 {
		return nil
	}
	d.program.Use()
	gl.BindVertexArray(d.vao)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, d.scratchIndex)
	gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(indices)*gpu.IndexSize, ptrUint(indices), gl.STREAM_DRAW)
	gl.DrawElementsWithOffset(glMode(mode), int32(len(indices)), gl.UNSIGNED_INT, 0)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, d.boundIndex)
	return check("DrawIndices")
}

func (d *Device) DrawArrays(mode gpu.Primitive, first, count int) error {
	d.program.Use()
	gl.BindVertexArray(d.vao)
	gl.DrawArrays(glMode(mode), int32(first), int32(count))
	return check("DrawArrays")
}

func (d *Device) SetTransform(mvp mgl32.Mat4) {
	d.program.Use()
	m := [16]float32(mvp)
	d.program.SetMVP(&m)
}

func (d *Device) SetColor(c [4]uint8) {
	d.program.Use()
	d.program.SetColor(c)
}

func (d *Device) SetEnabled(c gpu.Capability, on bool) {
	switch c {
	case gpu.Blend:
		toggle(gl.BLEND, on)
	case gpu.DepthTest:
		toggle(gl.DEPTH_TEST, on)
	case gpu.Lighting:
		d.program.Use()
		d.program.SetLighting(on)
	case gpu.Texture:
		d.program.Use()
		d.program.SetTexturing(on)
	}
}

func toggle(capability uint32, on bool) {
	if on {
		gl.Enable(capability)
	} else {
		gl.Disable(capability)
	}
}

func (d *Device) Clear(c [4]uint8) {
	gl.ClearColor(float32(c[0])/255, float32(c[1])/255, float32(c[2])/255, float32(c[3])/255)
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)
}

// ReadPixels reads from the currently bound read framebuffer.
func (d *Device) ReadPixels(x, y, width, height int) ([]byte, error) {
	pixels := make([]byte, width*height*4)
	if len(pixels) == 0 {
		return pixels, nil
	}
	gl.PixelStorei(gl.PACK_ALIGNMENT, 1)
	gl.ReadPixels(int32(x), int32(y), int32(width), int32(height), gl.RGBA, gl.UNSIGNED_BYTE, gl.Ptr(pixels))
	return pixels, check("ReadPixels")
}

func ptr(data []float32) unsafe.Pointer {
	if len(data) == 0 {
		return nil
	}
	return gl.Ptr(data)
}

func ptrUint(data []uint32) unsafe.Pointer {
	if len(data) == 0 {
		return nil
	}
	return gl.Ptr(data)
}
