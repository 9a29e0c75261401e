// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command rtdemo renders one raytraced frame of a built-in mesh and
// writes it as PNG, JPEG, BMP or TIFF.
//
// Usage:
//
//	rtdemo [-config demo.toml] [-output frame.png] [-width 640] [-height 480]
package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gogpu/rtcore"
)

func main() {
	var (
		config = flag.String("config", "", "TOML config file")
		output = flag.String("output", "", "output file, overrides the config")
		width  = flag.Uint("width", 0, "frame width, overrides the config")
		height = flag.Uint("height", 0, "frame height, overrides the config")
	)
	flag.Parse()

	cfg, err := loadConfig(*config)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *output != "" {
		cfg.Output = *output
	}
	if *width > 0 {
		cfg.Width = uint32(*width)
	}
	if *height > 0 {
		cfg.Height = uint32(*height)
	}
	if err := cfg.validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	if err := run(cfg); err != nil {
		log.Fatalf("rtdemo: %v", err)
	}
	log.Printf("Frame saved to %s (%dx%d)\n", cfg.Output, cfg.Width, cfg.Height)
}

func run(cfg Config) error {
	level, err := cfg.level()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	r, err := rtcore.New(
		rtcore.WithDriver(cfg.Driver),
		rtcore.WithSize(cfg.Width, cfg.Height),
		rtcore.WithShaderDir(cfg.ShaderDir),
		rtcore.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer r.Close()

	if err := r.LoadScene(cfg.scene()); err != nil {
		return err
	}
	start := time.Now()
	if _, err := r.Render(cfg.view()); err != nil {
		return err
	}
	frame, err := r.Readback()
	if err != nil {
		return err
	}
	logger.Info("rtdemo: frame rendered", "device", r.DeviceName(), "elapsed", time.Since(start))
	if err := frame.Save(cfg.Output); err != nil {
		return fmt.Errorf("save %s: %w", cfg.Output, err)
	}
	return nil
}
