package main

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
	"os"
	"strings"

	"github.com/chewxy/math32"
	"github.com/gogpu/rtcore"
	"github.com/gogpu/rtcore/gpu/soft"
	"github.com/gogpu/rtcore/loader"
	"github.com/pelletier/go-toml/v2"
)

// Config is the demo configuration, read from a TOML file.
//
//	width = 640
//	height = 480
//	driver = "soft"
//	output = "frame.png"
//	log_level = "info"
//
//	[scene]
//	mesh = "cube"
//	size = 1.5
//	texture = "checker"
//
//	[camera]
//	eye = [2.0, 1.5, 3.0]
//	target = [0.0, 0.0, 0.0]
//	fov = 60.0
type Config struct {
	Width     uint32 `toml:"width"`
	Height    uint32 `toml:"height"`
	Driver    string `toml:"driver"`
	ShaderDir string `toml:"shader_dir"`
	Output    string `toml:"output"`
	LogLevel  string `toml:"log_level"`

	Scene  SceneConfig  `toml:"scene"`
	Camera CameraConfig `toml:"camera"`
}

// SceneConfig selects the built-in mesh and its base color.
type SceneConfig struct {
	// Mesh is "quad" or "cube".
	Mesh string  `toml:"mesh"`
	Size float32 `toml:"size"`

	// Texture is an image path, "checker", or empty for white.
	Texture string `toml:"texture"`
}

// CameraConfig is the view the frame is rendered from.
type CameraConfig struct {
	Eye    [3]float32 `toml:"eye"`
	Target [3]float32 `toml:"target"`
	Up     [3]float32 `toml:"up"`

	// Fov is the vertical field of view in degrees.
	Fov float32 `toml:"fov"`
}

func defaultConfig() Config {
	return Config{
		Width:    640,
		Height:   480,
		Driver:   soft.DriverName,
		Output:   "rtdemo.png",
		LogLevel: "info",
		Scene: SceneConfig{
			Mesh:    "cube",
			Size:    1.5,
			Texture: "checker",
		},
		Camera: CameraConfig{
			Eye: [3]float32{2, 1.5, 3},
			Up:  [3]float32{0, 1, 0},
			Fov: 60,
		},
	}
}

// loadConfig reads path over the defaults. An empty path returns the
// defaults. Unknown keys are rejected.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return cfg, fmt.Errorf("%s: %s", path, strict.String())
		}
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.Width == 0 || c.Height == 0 {
		return fmt.Errorf("frame size %dx%d", c.Width, c.Height)
	}
	switch c.Scene.Mesh {
	case "quad", "cube":
	default:
		return fmt.Errorf("unknown mesh %q, want quad or cube", c.Scene.Mesh)
	}
	if c.Scene.Size <= 0 {
		return fmt.Errorf("mesh size %v", c.Scene.Size)
	}
	if _, err := rtcore.FormatFromPath(c.Output); err != nil {
		return err
	}
	if _, err := c.level(); err != nil {
		return err
	}
	return nil
}

func (c *Config) level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

// scene builds the mesh and base color.
func (c *Config) scene() rtcore.Scene {
	mesh := loader.Quad(c.Scene.Size)
	if c.Scene.Mesh == "cube" {
		mesh = loader.Cube(c.Scene.Size)
	}
	switch c.Scene.Texture {
	case "":
		return rtcore.Scene{Mesh: mesh}
	case "checker":
		base := loader.Checker(64, 64, 8, color.RGBA{230, 90, 40, 255}, color.RGBA{245, 235, 220, 255})
		return rtcore.Scene{Mesh: mesh, BaseColor: base}
	}
	return rtcore.LoadSceneFiles(mesh, c.Scene.Texture)
}

// view converts the camera to an rtcore.View.
func (c *Config) view() rtcore.View {
	v := rtcore.DefaultView()
	v.Eye, v.Target = c.Camera.Eye, c.Camera.Target
	if c.Camera.Up != ([3]float32{}) {
		v.Up = c.Camera.Up
	}
	if c.Camera.Fov > 0 {
		v.FovY = c.Camera.Fov * math32.Pi / 180
	}
	return v
}
