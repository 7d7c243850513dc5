// Package geometry holds the rectangle helpers shared by the framing and
// mixing stages.
package geometry

import (
	"errors"
	"fmt"
	"image"
)

// ErrOutOfRange reports a rectangle that does not fit inside an image.
var ErrOutOfRange = errors.New("rectangle out of image range")

// Center returns the centre point of r using truncating division.
func Center(r image.Rectangle) image.Point {
	return image.Point{
		X: r.Min.X + r.Dx()/2,
		Y: r.Min.Y + r.Dy()/2,
	}
}

// Inside reports whether r is non-empty and lies entirely within bounds.
func Inside(r, bounds image.Rectangle) bool {
	return !r.Empty() && r.In(bounds)
}

func RequireInside(r, bounds image.Rectangle) error {
	if !Inside(r, bounds) {
		return fmt.Errorf("%w: %v not inside %v", ErrOutOfRange, r, bounds)
	}
	return nil
}

// CenteredWindow returns a size.X by size.Y window centred on center and
// shifted down by dy pixels (up when negative).
func CenteredWindow(center, size image.Point, dy int) image.Rectangle {
	topLeft := image.Point{
		X: center.X - size.X/2,
		Y: center.Y - size.Y/2 + dy,
	}
	return image.Rectangle{Min: topLeft, Max: topLeft.Add(size)}
}
