// meshtool is a CLI utility for inspecting, converting and picking lodmesh files.
// It runs headless on the in-memory graphics device.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/Faultbox/lodmesh/internal/config"
	"github.com/Faultbox/lodmesh/internal/engine/camera"
	"github.com/Faultbox/lodmesh/internal/engine/debug"
	"github.com/Faultbox/lodmesh/internal/engine/gpu"
	"github.com/Faultbox/lodmesh/internal/engine/gpu/memgpu"
	"github.com/Faultbox/lodmesh/internal/engine/material"
	"github.com/Faultbox/lodmesh/internal/engine/mesh"
	"github.com/Faultbox/lodmesh/internal/engine/picking"
	"github.com/Faultbox/lodmesh/internal/logger"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}
	if os.Getenv("LODMESH_DEBUG") != "" {
		cfg.Logging.Level = "debug"
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "info":
		err = cmdInfo(args)
	case "demo":
		err = cmdDemo(cfg, args)
	case "convert":
		err = cmdConvert(cfg, args)
	case "pick":
		err = cmdPick(cfg, args)
	case "render":
		err = cmdRender(cfg, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		logger.Error("command failed", zap.String("command", command), zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`meshtool - lodmesh geometry file utility

Usage:
  meshtool <command> [options]

Commands:
  info <file.lmsh>                      Show LODs, materials and primitive counts
  demo [-compress] <out.lmsh>           Write a 3-LOD demo terrain
  convert [-compress] <in> <out>        Rewrite a mesh file
  pick [-x X -y Y -size WxH -lod P] <file.lmsh>
                                        Pick the primitive under a pixel
  render [-size WxH -lod P -bounds] <file.lmsh> <out.png>
                                        Rasterize the mesh in software

Set LODMESH_DEBUG=1 for debug logging.

Examples:
  meshtool demo terrain.lmsh
  meshtool info terrain.lmsh
  meshtool convert -compress=false terrain.lmsh plain.lmsh
  meshtool pick -x 100 -y 80 terrain.lmsh
  meshtool render -lod 100 terrain.lmsh far.png`)
}

func cmdInfo(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: meshtool info <file.lmsh>")
	}

	m, err := mesh.LoadFile(args[0], nil)
	if err != nil {
		return err
	}
	defer m.Destroy()

	printInfo(m)
	return nil
}

func printInfo(m *mesh.Mesh) {
	fmt.Printf("Mesh:       %s\n", m.Name())
	fmt.Printf("Vertices:   %d\n", m.VertexCount())
	fmt.Printf("Normals:    %d\n", m.NormalCount())
	fmt.Printf("Primitives: %d pickable\n", m.PrimitiveCount())
	fmt.Printf("Wires:      %d\n", len(m.Wire().Polylines()))
	if box, err := m.BoundingBox(); err == nil && !box.IsEmpty() {
		fmt.Printf("Bounds:     %v - %v\n", box.Min, box.Max)
	}
	fmt.Println()

	fmt.Println("LODs (master first):")
	for i, lod := range m.Data().Lods() {
		fmt.Printf("  [%d] level %-3d accuracy %-6.3f indices %-7d faces %d\n",
			i, lod.Level(), lod.Accuracy(), lod.IndexCount(), m.FaceCount(lod.Level()))
	}
	fmt.Println()

	fmt.Println("Materials:")
	for _, h := range m.Materials() {
		var kinds []string
		for _, level := range m.Levels() {
			g, ok := m.Group(level, h.ID())
			if !ok {
				continue
			}
			kinds = append(kinds, fmt.Sprintf("L%d:%s", level, groupKinds(g)))
		}
		transparent := ""
		if h.IsTransparent() {
			transparent = " (transparent)"
		}
		fmt.Printf("  %-6d %-12s%s %s\n", h.ID(), h.Name(), transparent, strings.Join(kinds, " "))
	}
}

func groupKinds(g *mesh.PrimitiveGroup) string {
	var parts []string
	if batches, err := g.TriangleBatches(); err == nil {
		parts = append(parts, fmt.Sprintf("%dt", len(batches)))
	}
	if strips, err := g.Strips(); err == nil {
		parts = append(parts, fmt.Sprintf("%ds", len(strips)))
	}
	if fans, err := g.Fans(); err == nil {
		parts = append(parts, fmt.Sprintf("%df", len(fans)))
	}
	return strings.Join(parts, "/")
}

func cmdDemo(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	compress := fs.Bool("compress", cfg.Storage.Compress, "lz4-compress the file")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: meshtool demo [-compress] <out.lmsh>")
	}

	m, err := buildDemo(material.NewLibrary())
	if err != nil {
		return err
	}
	defer m.Destroy()

	if err := mesh.SaveFile(fs.Arg(0), m, *compress); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n\n", fs.Arg(0))
	printInfo(m)
	return nil
}

func cmdConvert(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("convert", flag.ExitOnError)
	compress := fs.Bool("compress", cfg.Storage.Compress, "lz4-compress the output")
	fs.Parse(args)

	if fs.NArg() < 2 {
		return fmt.Errorf("usage: meshtool convert [-compress] <in> <out>")
	}

	m, err := mesh.LoadFile(fs.Arg(0), nil)
	if err != nil {
		return err
	}
	defer m.Destroy()

	if err := mesh.SaveFile(fs.Arg(1), m, *compress); err != nil {
		return err
	}
	fmt.Printf("Converted %s -> %s (compress=%v)\n", fs.Arg(0), fs.Arg(1), *compress)
	return nil
}

// pickResult is what a headless pick found.
type pickResult struct {
	Instance  uint32
	Primitive uint32
}

// pickAt frames m with an orbit camera on a width x height memgpu surface
// and picks the instance and primitive under (x, y), origin bottom-left.
func pickAt(cfg *config.Config, m *mesh.Mesh, width, height, x, y int) (pickResult, error) {
	const instanceID = 1

	box, err := m.BoundingBox()
	if err != nil {
		return pickResult{}, err
	}
	dev := framed(box, width, height)
	ctx := cfg.RenderContext(dev)
	sel := cfg.Selector(dev, nil, width, height)

	instance, primitive, err := sel.PickInstanceAndPrimitive(x, y,
		func(gpu.Device) error {
			return m.Render(ctx, mesh.RenderProperties{Mode: mesh.BodySelection, InstanceID: instanceID})
		},
		func(_ gpu.Device, id uint32) error {
			if id != instanceID {
				return nil
			}
			return m.Render(ctx, mesh.RenderProperties{Mode: mesh.PrimitiveSelection})
		})
	return pickResult{Instance: instance, Primitive: primitive}, err
}

func cmdPick(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("pick", flag.ExitOnError)
	x := fs.Int("x", -1, "Pixel x (default: center)")
	y := fs.Int("y", -1, "Pixel y from the bottom (default: center)")
	size := fs.String("size", "256x256", "Surface size WxH")
	lod := fs.Int("lod", cfg.Render.LodPercent, "Level of detail in percent")
	fs.Parse(args)

	if fs.NArg() < 1 {
		return fmt.Errorf("usage: meshtool pick [-x X -y Y -size WxH -lod P] <file.lmsh>")
	}
	width, height, err := parseSize(*size)
	if err != nil {
		return err
	}
	if *x < 0 {
		*x = width / 2
	}
	if *y < 0 {
		*y = height / 2
	}

	m, err := mesh.LoadFile(fs.Arg(0), nil)
	if err != nil {
		return err
	}
	defer m.Destroy()
	m.SetCurrentLod(*lod)

	res, err := pickAt(cfg, m, width, height, *x, *y)
	if err != nil {
		return err
	}

	switch {
	case res.Instance == picking.NoHit:
		fmt.Printf("(%d,%d): nothing\n", *x, *y)
	case res.Primitive == picking.NoHit:
		fmt.Printf("(%d,%d): mesh %q, no primitive id at lod %d\n", *x, *y, m.Name(), m.CurrentLod())
	default:
		fmt.Printf("(%d,%d): mesh %q, primitive %d\n", *x, *y, m.Name(), res.Primitive)
	}
	return nil
}

// framed returns a width x height software device looking at box.
func framed(box mesh.AABB, width, height int) *memgpu.Device {
	cam := camera.NewOrbitCamera()
	cam.FitToBounds(box.Min, box.Max)

	dev := memgpu.New(width, height)
	dev.SetTransform(cam.ViewProjection(width, height))
	return dev
}

// renderImage draws m at its current LOD in both passes and returns the
// RGBA pixels, rows bottom to top.
func renderImage(cfg *config.Config, m *mesh.Mesh, width, height int, bounds bool) ([]byte, error) {
	box, err := m.BoundingBox()
	if err != nil {
		return nil, err
	}
	dev := framed(box, width, height)
	ctx := cfg.RenderContext(dev)

	dev.Clear([4]uint8{40, 44, 52, 255})
	dev.SetEnabled(gpu.DepthTest, true)
	for _, transparent := range []bool{false, true} {
		dev.SetEnabled(gpu.Blend, transparent)
		if err := m.Render(ctx, mesh.RenderProperties{TransparentPass: transparent}); err != nil {
			return nil, err
		}
	}

	if bounds {
		outline, err := debug.BoundsMesh(m.Name()+"-bounds", box, debug.DefaultBoundsPadding*box.Radius())
		if err != nil {
			return nil, err
		}
		defer outline.Destroy()
		if err := outline.Render(ctx, mesh.RenderProperties{}); err != nil {
			return nil, err
		}
	}
	return dev.ReadPixels(0, 0, width, height)
}

func cmdRender(cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("render", flag.ExitOnError)
	size := fs.String("size", "256x256", "Image size WxH")
	lod := fs.Int("lod", cfg.Render.LodPercent, "Level of detail in percent")
	bounds := fs.Bool("bounds", false, "Outline the bounding box")
	fs.Parse(args)

	if fs.NArg() < 2 {
		return fmt.Errorf("usage: meshtool render [-size WxH -lod P -bounds] <file.lmsh> <out.png>")
	}
	width, height, err := parseSize(*size)
	if err != nil {
		return err
	}

	m, err := mesh.LoadFile(fs.Arg(0), nil)
	if err != nil {
		return err
	}
	defer m.Destroy()
	m.SetCurrentLod(*lod)

	pixels, err := renderImage(cfg, m, width, height, *bounds)
	if err != nil {
		return err
	}

	out, err := os.Create(fs.Arg(1))
	if err != nil {
		return err
	}
	defer out.Close()
	if err := debug.WritePNG(out, pixels, width, height); err != nil {
		return err
	}
	fmt.Printf("Rendered %s at level %d -> %s (%dx%d)\n", m.Name(), m.CurrentLod(), fs.Arg(1), width, height)
	return nil
}

func parseSize(s string) (width, height int, err error) {
	if _, err := fmt.Sscanf(s, "%dx%d", &width, &height); err != nil || width <= 0 || height <= 0 {
		return 0, 0, fmt.Errorf("invalid size %q", s)
	}
	return width, height, nil
}
