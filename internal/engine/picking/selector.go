package picking

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/lodmesh/internal/engine/gpu"
	"github.com/Faultbox/lodmesh/internal/logger"
)

// DefaultWindowSize is the side of the pixel window read around the cursor.
const DefaultWindowSize = 5

// MaxWindowSize bounds the configurable window.
const MaxWindowSize = 32

// Target is an offscreen render target. framebuffer.Framebuffer implements it.
type Target interface {
	BindWithViewport() func()
	// ReadRegion returns RGBA rows bottom to top.
	ReadRegion(x, y, width, height int32) []byte
}

// Pass draws the scene with picking colors.
type Pass func(dev gpu.Device) error

// Selector runs picking passes and reads back the window around the cursor.
type Selector struct {
	Device gpu.Device
	// Target receives the picking pass. Nil draws into the current framebuffer.
	Target Target
	// Width and Height are the dimensions of the surface drawn into.
	Width, Height int
	// WindowSize is the side of the read-back square.
	WindowSize int
}

// NewSelector creates a selector for a width x height surface.
func NewSelector(dev gpu.Device, target Target, width, height, windowSize int) *Selector {
	return &Selector{
		Device:     dev,
		Target:     target,
		Width:      width,
		Height:     height,
		WindowSize: windowSize,
	}
}

// Window returns the square of side size centered on (x, y), clipped to a
// width x height surface. Empty windows have zero width or height.
func Window(x, y, size, width, height int) (x0, y0, w, h int) {
	size = min(max(size, 1), MaxWindowSize)
	x0 = x - size/2
	y0 = y - size/2
	x1 := min(x0+size, width)
	y1 := min(y0+size, height)
	x0, y0 = max(x0, 0), max(y0, 0)
	return x0, y0, max(x1-x0, 0), max(y1-y0, 0)
}

// Pick clears the target, runs pass with blending, texturing and lighting
// disabled, and returns the majority id around (x, y). Coordinates have their
// origin at the bottom-left corner of the surface.
func (s *Selector) Pick(x, y int, pass Pass) (uint32, error) {
	if s.Target != nil {
		restore := s.Target.BindWithViewport()
		defer restore()
	}

	dev := s.Device
	dev.Clear([4]uint8{0, 0, 0, 255})
	dev.SetEnabled(gpu.Blend, false)
	dev.SetEnabled(gpu.Texture, false)
	dev.SetEnabled(gpu.Lighting, false)
	dev.SetEnabled(gpu.DepthTest, true)

	if err := pass(dev); err != nil {
		return NoHit, fmt.Errorf("picking pass: %w", err)
	}

	x0, y0, w, h := Window(x, y, s.windowSize(), s.Width, s.Height)
	if w == 0 || h == 0 {
		return NoHit, nil
	}
	pixels, err := s.read(x0, y0, w, h)
	if err != nil {
		return NoHit, err
	}

	id := MajorityIDInSquare(pixels, w, h)
	logger.Named("picking").Debug("pick",
		zap.Int("x", x),
		zap.Int("y", y),
		zap.Int("window", w),
		zap.Uint32("id", id),
	)
	return id, nil
}

// PickInstanceAndPrimitive finds the instance under (x, y) with instancePass,
// then redraws only that instance with primitivePass to find the primitive.
// The primitive id is NoHit when no instance was hit.
func (s *Selector) PickInstanceAndPrimitive(x, y int, instancePass Pass, primitivePass func(dev gpu.Device, instance uint32) error) (instance, primitive uint32, err error) {
	instance, err = s.Pick(x, y, instancePass)
	if err != nil || instance == NoHit {
		return instance, NoHit, err
	}
	primitive, err = s.Pick(x, y, func(dev gpu.Device) error {
		return primitivePass(dev, instance)
	})
	return instance, primitive, err
}

// read returns the window from the target when there is one, otherwise from
// the current framebuffer of the device.
func (s *Selector) read(x, y, w, h int) ([]byte, error) {
	if s.Target == nil {
		pixels, err := s.Device.ReadPixels(x, y, w, h)
		if err != nil {
			return nil, gpu.Wrap("ReadPixels", "picking", err)
		}
		return pixels, nil
	}
	pixels := s.Target.ReadRegion(int32(x), int32(y), int32(w), int32(h))
	if len(pixels) != w*h*4 {
		return nil, fmt.Errorf("picking target returned %d bytes for a %dx%d window", len(pixels), w, h)
	}
	return pixels, nil
}

func (s *Selector) windowSize() int {
	if s.WindowSize <= 0 {
		return DefaultWindowSize
	}
	return s.WindowSize
}
