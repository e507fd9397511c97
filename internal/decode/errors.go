package decode

import "errors"

var (
	// ErrUnsupportedImage is returned when the bytes are not a PNG or JPEG image.
	ErrUnsupportedImage = errors.New("decode: unsupported image")

	// ErrNoCode is returned when no reader recognises a code in the image.
	ErrNoCode = errors.New("decode: no code found")
)
