package geometry

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCenter(t *testing.T) {
	tests := []struct {
		name string
		r    image.Rectangle
		want image.Point
	}{
		{"even", image.Rect(350, 230, 650, 530), image.Pt(500, 380)},
		{"odd truncates", image.Rect(0, 0, 5, 3), image.Pt(2, 1)},
		{"offset", image.Rect(10, 20, 11, 21), image.Pt(10, 20)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Center(tt.r))
		})
	}
}

func TestInside(t *testing.T) {
	bounds := image.Rect(0, 0, 1000, 1000)

	tests := []struct {
		name string
		r    image.Rectangle
		want bool
	}{
		{"fully inside", image.Rect(400, 250, 600, 510), true},
		{"exact bounds", bounds, true},
		{"left overflow", image.Rect(-1, 0, 10, 10), false},
		{"bottom overflow", image.Rect(0, 990, 10, 1001), false},
		{"larger than image", image.Rect(-500, -620, 1500, 1380), false},
		{"empty", image.Rect(5, 5, 5, 5), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Inside(tt.r, bounds))
		})
	}
}

func TestRequireInside(t *testing.T) {
	bounds := image.Rect(0, 0, 10, 10)
	assert.NoError(t, RequireInside(image.Rect(1, 1, 9, 9), bounds))

	err := RequireInside(image.Rect(1, 1, 11, 9), bounds)
	assert.True(t, errors.Is(err, ErrOutOfRange))
}

func TestCenteredWindow(t *testing.T) {
	center := image.Pt(500, 380)

	assert.Equal(t, image.Rect(400, 250, 600, 510), CenteredWindow(center, image.Pt(200, 260), 0))
	assert.Equal(t, image.Rect(400, 270, 600, 530), CenteredWindow(center, image.Pt(200, 260), 20))
	assert.Equal(t, image.Rect(400, 200, 600, 460), CenteredWindow(center, image.Pt(200, 260), -50))
}
