// meshview is an interactive OpenGL viewer for lodmesh files.
//
// Controls:
//
//	left click     toggle the primitive under the cursor
//	right drag     orbit
//	wheel          zoom
//	W A S D Q E    pan
//	+ / -          more / less detail
//	V              toggle GPU buffers
//	C              clear the selection
//	B              toggle the bounding box
//	F12            save a screenshot
//	Esc            quit
package main

import (
	"fmt"
	"os"

	"github.com/veandco/go-sdl2/sdl"
	"go.uber.org/zap"

	"github.com/Faultbox/lodmesh/internal/config"
	"github.com/Faultbox/lodmesh/internal/engine/camera"
	"github.com/Faultbox/lodmesh/internal/engine/debug"
	"github.com/Faultbox/lodmesh/internal/engine/framebuffer"
	"github.com/Faultbox/lodmesh/internal/engine/gpu"
	"github.com/Faultbox/lodmesh/internal/engine/gpu/glbackend"
	"github.com/Faultbox/lodmesh/internal/engine/mesh"
	"github.com/Faultbox/lodmesh/internal/engine/picking"
	"github.com/Faultbox/lodmesh/internal/engine/window"
	"github.com/Faultbox/lodmesh/internal/logger"
)

const (
	windowTitle = "lodmesh viewer"
	instanceID  = 1
	lodStep     = 10
)

var background = [4]uint8{40, 44, 52, 255}

type viewer struct {
	cfg *config.Config
	win *window.Window
	dev *glbackend.Device
	fb  *framebuffer.Framebuffer
	ctx *mesh.RenderContext
	sel *picking.Selector
	cam *camera.OrbitCamera

	mesh     *mesh.Mesh
	lod      int
	selected map[uint32]struct{}

	bounds      *mesh.Mesh
	showBounds  bool
	screenshots *debug.Screenshots
	// capture saves the next frame before it is swapped
	capture bool

	width, height int
	// scale converts window coordinates to drawable pixels
	scale float32
}

func main() {
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	path := config.Arg(0)
	if path == "" {
		fmt.Fprintln(os.Stderr, "Usage: meshview [options] <file.lmsh>")
		os.Exit(1)
	}

	logger.Info("=== lodmesh viewer ===")

	m, err := mesh.LoadFile(path, nil)
	if err != nil {
		logger.Error("failed to load mesh", zap.String("path", path), zap.Error(err))
		os.Exit(1)
	}
	defer m.Destroy()

	win, err := window.New(window.Config{
		Title:      windowTitle,
		Width:      cfg.Viewer.Width,
		Height:     cfg.Viewer.Height,
		Fullscreen: cfg.Viewer.Fullscreen,
		VSync:      cfg.Viewer.VSync,
	})
	if err != nil {
		logger.Error("window creation failed", zap.Error(err))
		os.Exit(1)
	}
	defer win.Close()

	v, err := newViewer(cfg, win, m)
	if err != nil {
		logger.Error("viewer init failed", zap.Error(err))
		os.Exit(1)
	}
	defer v.close()

	v.run()
}

func newViewer(cfg *config.Config, win *window.Window, m *mesh.Mesh) (*viewer, error) {
	dev, err := glbackend.New()
	if err != nil {
		return nil, err
	}

	v := &viewer{
		cfg:         cfg,
		win:         win,
		dev:         dev,
		ctx:         cfg.RenderContext(dev),
		cam:         camera.NewOrbitCamera(),
		mesh:        m,
		lod:         cfg.Render.LodPercent,
		selected:    make(map[uint32]struct{}),
		screenshots: debug.NewScreenshots("screenshots", "meshview"),
	}
	v.resize()

	v.fb, err = framebuffer.New(int32(v.width), int32(v.height))
	if err != nil {
		dev.Close()
		return nil, err
	}
	v.sel = cfg.Selector(dev, v.fb, v.width, v.height)

	box, err := m.BoundingBox()
	if err != nil {
		v.close()
		return nil, err
	}
	v.cam.FitToBounds(box.Min, box.Max)
	m.SetCurrentLod(v.lod)

	v.bounds, err = debug.BoundsMesh(m.Name()+"-bounds", box, debug.DefaultBoundsPadding*box.Radius())
	if err != nil {
		v.close()
		return nil, err
	}

	if v.ctx.UseVBO {
		if err := m.CreateGPUBuffers(dev); err != nil {
			v.close()
			return nil, err
		}
		if cfg.Render.ReleaseClientSide {
			if err := m.ReleaseVBOClientSide(false); err != nil {
				logger.Warn("keeping cpu copies of the mesh", zap.Error(err))
			}
		}
	}

	logger.Info("mesh ready",
		zap.String("name", m.Name()),
		zap.Int("vertices", m.VertexCount()),
		zap.Int("lods", m.LodCount()),
		zap.Int("materials", m.MaterialCount()),
		zap.Bool("vbo", v.ctx.UseVBO),
	)
	v.updateTitle()
	return v, nil
}

func (v *viewer) close() {
	if v.bounds != nil {
		v.bounds.Destroy()
	}
	if v.fb != nil {
		v.fb.Destroy()
	}
	v.dev.Close()
}

func (v *viewer) resize() {
	v.width, v.height = v.win.DrawableSize()
	ww, _ := v.win.GetSize()
	v.scale = 1
	if ww > 0 {
		v.scale = float32(v.width) / float32(ww)
	}
	v.dev.Viewport(0, 0, int32(v.width), int32(v.height))
	if v.fb != nil {
		v.fb.Resize(int32(v.width), int32(v.height))
		v.sel.Width, v.sel.Height = v.width, v.height
	}
}

func (v *viewer) run() {
	var rightMouseDown bool
	var lastX, lastY int32

	running := true
	for running {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				running = false

			case *sdl.WindowEvent:
				if e.Event == sdl.WINDOWEVENT_RESIZED || e.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
					v.resize()
				}

			case *sdl.MouseMotionEvent:
				if rightMouseDown {
					v.cam.HandleDrag(float32(e.X-lastX), float32(e.Y-lastY))
				}
				lastX, lastY = e.X, e.Y

			case *sdl.MouseButtonEvent:
				pressed := e.State == sdl.PRESSED
				switch e.Button {
				case sdl.BUTTON_LEFT:
					if pressed {
						v.pick(e.X, e.Y)
					}
				case sdl.BUTTON_RIGHT:
					rightMouseDown = pressed
				}

			case *sdl.MouseWheelEvent:
				v.cam.HandleZoom(float32(e.Y))

			case *sdl.KeyboardEvent:
				if e.Type == sdl.KEYDOWN {
					running = v.handleKey(e.Keysym.Sym)
				}
			}
		}

		if err := v.draw(); err != nil {
			logger.Error("frame failed", zap.Error(err))
			running = false
		}
		if v.capture {
			v.screenshot()
			v.capture = false
		}
		v.win.SwapBuffers()
	}
}

// handleKey reports whether the viewer keeps running.
func (v *viewer) handleKey(key sdl.Keycode) bool {
	switch key {
	case sdl.K_ESCAPE:
		return false
	case sdl.K_w:
		v.cam.HandleMovement(1, 0, 0)
	case sdl.K_s:
		v.cam.HandleMovement(-1, 0, 0)
	case sdl.K_a:
		v.cam.HandleMovement(0, -1, 0)
	case sdl.K_d:
		v.cam.HandleMovement(0, 1, 0)
	case sdl.K_q:
		v.cam.HandleMovement(0, 0, -1)
	case sdl.K_e:
		v.cam.HandleMovement(0, 0, 1)
	case sdl.K_PLUS, sdl.K_EQUALS, sdl.K_KP_PLUS:
		v.setLod(v.lod - lodStep)
	case sdl.K_MINUS, sdl.K_KP_MINUS:
		v.setLod(v.lod + lodStep)
	case sdl.K_v:
		v.toggleVBO()
	case sdl.K_c:
		clear(v.selected)
		v.updateTitle()
	case sdl.K_b:
		v.showBounds = !v.showBounds
	case sdl.K_F12:
		v.capture = true
	}
	return true
}

// setLod selects the LOD by percentage, 0 being the most detailed level.
func (v *viewer) setLod(percent int) {
	v.lod = min(max(percent, 0), 100)
	v.mesh.SetCurrentLod(v.lod)
	v.updateTitle()
}

func (v *viewer) toggleVBO() {
	on := !v.ctx.UseVBO
	if err := v.mesh.SetVBOUsage(v.dev, on); err != nil {
		logger.Warn("switching vbo usage failed", zap.Bool("vbo", on), zap.Error(err))
		return
	}
	v.ctx.UseVBO = on
	v.updateTitle()
}

// pick toggles the primitive under the window coordinates (x, y).
func (v *viewer) pick(x, y int32) {
	px := int(float32(x) * v.scale)
	py := v.height - 1 - int(float32(y)*v.scale)
	v.dev.SetTransform(v.cam.ViewProjection(v.width, v.height))

	instance, primitive, err := v.sel.PickInstanceAndPrimitive(px, py,
		func(gpu.Device) error {
			return v.mesh.Render(v.ctx, mesh.RenderProperties{Mode: mesh.BodySelection, InstanceID: instanceID})
		},
		func(_ gpu.Device, id uint32) error {
			if id != instanceID {
				return nil
			}
			return v.mesh.Render(v.ctx, mesh.RenderProperties{Mode: mesh.PrimitiveSelection})
		})
	if err != nil {
		logger.Warn("pick failed", zap.Error(err))
		return
	}

	switch {
	case instance == picking.NoHit:
		return
	case primitive == picking.NoHit:
		logger.Info("no primitive ids at this level of detail", zap.Int("lod", v.mesh.CurrentLod()))
		return
	}

	if _, ok := v.selected[primitive]; ok {
		delete(v.selected, primitive)
	} else {
		v.selected[primitive] = struct{}{}
	}
	logger.Debug("primitive toggled",
		zap.Uint32("id", primitive),
		zap.Int("selected", len(v.selected)),
	)
	v.updateTitle()
}

func (v *viewer) draw() error {
	dev := v.dev
	dev.Clear(background)
	dev.SetEnabled(gpu.DepthTest, true)
	dev.SetTransform(v.cam.ViewProjection(v.width, v.height))

	props := mesh.RenderProperties{Mode: mesh.RenderNormal}
	if len(v.selected) > 0 {
		props.Mode = mesh.PrimitiveSelected
		props.SelectedPrimitives = v.selected
	}

	for _, transparent := range []bool{false, true} {
		dev.SetEnabled(gpu.Blend, transparent)
		props.TransparentPass = transparent
		if err := v.mesh.Render(v.ctx, props); err != nil {
			return err
		}
	}
	dev.SetEnabled(gpu.Blend, false)

	if v.showBounds {
		return v.bounds.Render(v.ctx, mesh.RenderProperties{Mode: mesh.RenderNormal})
	}
	return nil
}

func (v *viewer) screenshot() {
	pixels, err := v.dev.ReadPixels(0, 0, v.width, v.height)
	if err != nil {
		logger.Warn("screenshot failed", zap.Error(err))
		return
	}
	path, err := v.screenshots.Save(pixels, v.width, v.height)
	if err != nil {
		logger.Warn("screenshot failed", zap.Error(err))
		return
	}
	logger.Info("screenshot saved", zap.String("path", path))
}

func (v *viewer) updateTitle() {
	v.win.SetTitle(fmt.Sprintf("%s - %s [lod %d%% level %d, %d selected, vbo %v]",
		windowTitle, v.mesh.Name(), v.lod, v.mesh.CurrentLod(), len(v.selected), v.ctx.UseVBO))
}
