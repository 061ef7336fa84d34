// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package visual describes the frames a computation can attach to its
// progress and completion records, and maps values onto a spiral layout.
package visual

import (
	"fmt"
	"math"
)

// Point is a position on the canvas. Z is unused by the spiral layout.
type Point struct {
	X float64  `json:"x"`
	Y float64  `json:"y"`
	Z *float64 `json:"z"`
}

// Attributes control how an element is drawn.
type Attributes struct {
	Color     *string  `json:"color"`
	Intensity *float64 `json:"intensity"`
	Size      *float64 `json:"size"`
	Group     *string  `json:"group"`
}

// Element is one drawn value.
type Element struct {
	Position   Point      `json:"position"`
	Attributes Attributes `json:"attributes"`
	Timestamp  uint64     `json:"timestamp"`
}

// Frame is an ordered set of elements.
type Frame struct {
	Elements   []Element `json:"elements"`
	FrameIndex uint32    `json:"frame_index"`
}

// Spiral lays values out on a golden-angle spiral around a centre point.
type Spiral struct {
	CenterX float64
	CenterY float64
	Scale   float64
}

// DefaultSpiral matches an 800x600 canvas.
func DefaultSpiral() Spiral {
	return Spiral{CenterX: 400, CenterY: 300, Scale: 2}
}

var phi = (1 + math.Sqrt(5)) / 2

// Position maps value onto the spiral.
func (s Spiral) Position(value uint64) Point {
	v := float64(value)
	angle := 2 * math.Pi * v / phi
	radius := math.Sqrt(v) * s.Scale
	return Point{
		X: s.CenterX + radius*math.Cos(angle),
		Y: s.CenterY + radius*math.Sin(angle),
	}
}

// Color returns the hsl colour for value.
func Color(value uint64) string {
	return fmt.Sprintf("hsl(%d, %d%%, %d%%)", value%360, 70, 50)
}

// Element builds a full-intensity element for value.
func (s Spiral) Element(value uint64, timestamp uint64) Element {
	color := Color(value)
	intensity := 1.0
	size := 1.0
	return Element{
		Position: s.Position(value),
		Attributes: Attributes{
			Color:     &color,
			Intensity: &intensity,
			Size:      &size,
		},
		Timestamp: timestamp,
	}
}

// Frame builds a frame from values, keeping at most limit of the most recent ones.
func (s Spiral) Frame(index uint32, values []uint64, timestamp uint64, limit int) Frame {
	if limit > 0 && len(values) > limit {
		values = values[len(values)-limit:]
	}
	elements := make([]Element, 0, len(values))
	for _, v := range values {
		elements = append(elements, s.Element(v, timestamp))
	}
	return Frame{Elements: elements, FrameIndex: index}
}
