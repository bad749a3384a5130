// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// ./cmd/calibration/main.go
//
// Guided range calibration of one axis against live device frames.
// The axis is bound on a scratch target; the mapper then walks the user
// through the MAXIMUM, CENTER (rotations only) and MINIMUM poses. Timed
// phases last CALIBRATION_WINDOW_MS; the value channel waits for Enter.
//
// Run:
//
//	go run ./cmd/calibration -device glove -label grip -kind value -axis value -channel value -out grip.yaml
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/relabs-tech/device_mapper/internal/app"
	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/config"
	"github.com/relabs-tech/device_mapper/internal/mapping"
	"github.com/relabs-tech/device_mapper/internal/observability"
)

func main() {
	configPath := flag.String("config", "./mapper_config.txt", "path to configuration file")
	dev := flag.String("device", "", "device name as published on the frames topic")
	label := flag.String("label", "", "input label on the device")
	kind := flag.String("kind", "position", "property kind: position, rotation, bool, value")
	ax := flag.String("axis", "x", "axis to calibrate: x, y, z, value, bool")
	ch := flag.String("channel", "", "raw channel: pos_x..rot_z, value, bool (default from kind and axis)")
	out := flag.String("out", "", "save the calibrated binding to this .json or .yaml document")
	flag.Parse()

	if *dev == "" || *label == "" {
		log.Fatalf("fatal: -device and -label are required")
	}

	req := app.CalibrationRequest{
		Input:  mapping.Input{Device: *dev, Label: *label},
		Output: *out,
	}
	var err error
	if req.Kind, err = axis.ParseKind(*kind); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if req.Axis, err = axis.ParseAxis(*ax); err != nil {
		log.Fatalf("fatal: %v", err)
	}
	if *ch == "" {
		req.Channel = defaultChannel(req.Kind, req.Axis)
	} else if req.Channel, err = axis.ParseChannel(*ch); err != nil {
		log.Fatalf("fatal: %v", err)
	}

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()

	logger := observability.MustLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunCalibrationCLI(ctx, cfg, logger, req, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		logger.Fatal("calibration failed", zap.Error(err))
	}
}

func defaultChannel(k axis.Kind, a axis.Axis) axis.Channel {
	switch k {
	case axis.Position:
		return [...]axis.Channel{axis.PosX, axis.PosY, axis.PosZ}[axis.MappingIndex(a)]
	case axis.Rotation:
		return [...]axis.Channel{axis.RotX, axis.RotY, axis.RotZ}[axis.MappingIndex(a)]
	case axis.Boolean:
		return axis.ChannelBool
	default:
		return axis.ChannelValue
	}
}
