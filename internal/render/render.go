// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package render draws the calibration bars of one mapped property onto a
// 128x64 monochrome canvas, the size of the bench OLED panels.
package render

import (
	"fmt"
	"image"
	"image/draw"
	"io"
	"math"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/relabs-tech/device_mapper/internal/axis"
	"github.com/relabs-tech/device_mapper/internal/calibration"
	"github.com/relabs-tech/device_mapper/internal/interpreter"
)

const (
	Width  = 128
	Height = 64

	lineHeight = 13
	barLeft    = 14
	barWidth   = 54
	barGap     = 4
	barHeight  = 9
)

// Row is one axis: where the raw input sits inside its calibrated range
// and where the world value sits inside the output range, both nominally
// in [0,1].
type Row struct {
	Label  string
	Input  float64
	Output float64
}

// Rows builds the bars of a property of kind k from its profile, the raw
// readings per axis and the current world value.
func Rows(k axis.Kind, p *calibration.Profile, readings [axis.Count]float64, v interpreter.MapperValue) []Row {
	if k == axis.Sample {
		return nil
	}
	rows := make([]Row, 0, k.MappingCount())
	for _, a := range k.Axes() {
		rows = append(rows, Row{
			Label:  a.String()[:1],
			Input:  p.RelativeInput(readings[a], a),
			Output: p.RelativeOutput(worldValue(k, v, a), a),
		})
	}
	return rows
}

func worldValue(k axis.Kind, v interpreter.MapperValue, a axis.Axis) float64 {
	switch k {
	case axis.Position:
		return v.Position.At(int(a))
	case axis.Rotation:
		return v.Rotation.At(int(a))
	case axis.Boolean:
		if v.Bool {
			return 1
		}
		return 0
	}
	return v.Value
}

// Panel draws title on the first line and one pair of bars per row below
// it, input on the left and output on the right. At most three rows fit.
func Panel(title string, rows []Row) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, Width, Height))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	drawer.Dot = fixed.P(0, lineHeight-2)
	drawer.DrawString(title)

	if len(rows) == 0 {
		drawer.Dot = fixed.P(0, 2*lineHeight+4)
		drawer.DrawString("no bars")
		return img
	}

	for i, r := range rows {
		if i == 3 {
			break
		}
		top := (i+1)*lineHeight + 4
		drawer.Dot = fixed.P(0, top+barHeight)
		drawer.DrawString(r.Label)
		bar(img, barLeft, top, r.Input)
		bar(img, barLeft+barWidth+barGap, top, r.Output)
	}
	return img
}

// bar draws an outlined box filled from the left by f, clipped to [0,1].
func bar(img *image1bit.VerticalLSB, left, top int, f float64) {
	if math.IsNaN(f) {
		f = 0
	}
	f = math.Max(0, math.Min(1, f))
	right, bottom := left+barWidth-1, top+barHeight-1

	for x := left; x <= right; x++ {
		img.SetBit(x, top, image1bit.On)
		img.SetBit(x, bottom, image1bit.On)
	}
	for y := top; y <= bottom; y++ {
		img.SetBit(left, y, image1bit.On)
		img.SetBit(right, y, image1bit.On)
	}

	fill := int(math.Round(f * float64(barWidth-4)))
	for x := left + 2; x < left+2+fill; x++ {
		for y := top + 2; y <= bottom-2; y++ {
			img.SetBit(x, y, image1bit.On)
		}
	}
}

// EncodeWebP writes img as a lossless WebP.
func EncodeWebP(w io.Writer, img image.Image) error {
	rgba := image.NewNRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	if err := nativewebp.Encode(w, rgba, nil); err != nil {
		return fmt.Errorf("render: encode webp: %w", err)
	}
	return nil
}
