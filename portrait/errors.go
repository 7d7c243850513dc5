package portrait

import (
	"errors"

	"portrait-mixer/internal/face"
	"portrait-mixer/internal/geometry"
)

var (
	// ErrFaceCount is returned when detection does not find exactly one face.
	// The wrapped *face.CountError carries the actual count.
	ErrFaceCount = face.ErrFaceCount

	// ErrOutOfRange is returned when a crop window leaves the source image.
	ErrOutOfRange = geometry.ErrOutOfRange

	// ErrEmptySemiData is the panic value for reads of an empty SemiData.
	ErrEmptySemiData = errors.New("semi data is empty")

	ErrMatteMismatch   = errors.New("matte does not match image dimensions")
	ErrInvalidArgument = errors.New("invalid argument")
)
