// Package config handles engine and viewer configuration loading and management.
package config

import (
	"github.com/Faultbox/lodmesh/internal/engine/gpu"
	"github.com/Faultbox/lodmesh/internal/engine/material"
	"github.com/Faultbox/lodmesh/internal/engine/mesh"
	"github.com/Faultbox/lodmesh/internal/engine/picking"
)

// Config holds all settings.
type Config struct {
	Render  RenderConfig  `yaml:"render"`
	Picking PickingConfig `yaml:"picking"`
	Storage StorageConfig `yaml:"storage"`
	Viewer  ViewerConfig  `yaml:"viewer"`
	Logging LoggingConfig `yaml:"logging"`
}

// RenderConfig holds geometry drawing settings.
type RenderConfig struct {
	UseVBO            bool  `yaml:"use_vbo"`             // Draw from GPU buffers
	ReleaseClientSide bool  `yaml:"release_client_side"` // Drop CPU copies once uploaded
	LodPercent        int   `yaml:"lod_percent"`         // 0 = first level, 100 = last
	WireColor         Color `yaml:"wire_color"`
}

// PickingConfig holds selection settings.
type PickingConfig struct {
	WindowSize     int   `yaml:"window_size"` // Side of the pixel window read around the cursor
	SelectionColor Color `yaml:"selection_color"`
}

// StorageConfig holds mesh file settings.
type StorageConfig struct {
	Compress bool `yaml:"compress"` // lz4 frame compression of written files
}

// ViewerConfig holds display settings of the viewer.
type ViewerConfig struct {
	Width      int  `yaml:"width"`
	Height     int  `yaml:"height"`
	Fullscreen bool `yaml:"fullscreen"`
	VSync      bool `yaml:"vsync"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Render: RenderConfig{
			UseVBO:            true,
			ReleaseClientSide: false,
			LodPercent:        0,
			WireColor:         Color{0, 0, 0, 255},
		},
		Picking: PickingConfig{
			WindowSize:     picking.DefaultWindowSize,
			SelectionColor: Color{0, 255, 0, 255},
		},
		Storage: StorageConfig{
			Compress: true,
		},
		Viewer: ViewerConfig{
			Width:      1280,
			Height:     720,
			Fullscreen: false,
			VSync:      true,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}

// normalize clamps values that have a fixed range.
func (c *Config) normalize() {
	c.Render.LodPercent = min(max(c.Render.LodPercent, 0), 100)
	c.Picking.WindowSize = min(max(c.Picking.WindowSize, 1), picking.MaxWindowSize)
	if c.Viewer.Width <= 0 {
		c.Viewer.Width = 1280
	}
	if c.Viewer.Height <= 0 {
		c.Viewer.Height = 720
	}
}

// RenderContext returns the draw settings for dev.
func (c *Config) RenderContext(dev gpu.Device) *mesh.RenderContext {
	ctx := mesh.NewRenderContext(dev)
	ctx.UseVBO = c.Render.UseVBO
	ctx.WireColor = c.Render.WireColor
	ctx.SelectionMaterial = material.Highlight(c.Picking.SelectionColor)
	return ctx
}

// Selector returns a picking selector for a width x height surface.
func (c *Config) Selector(dev gpu.Device, target picking.Target, width, height int) *picking.Selector {
	return picking.NewSelector(dev, target, width, height, c.Picking.WindowSize)
}
