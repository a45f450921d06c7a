package catalog

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/colthorp/sol-cli-go/internal/core"
)

// Decoder turns stored bytes into an image.
type Decoder func(data []byte) (image.Image, error)

// DecodeImage decodes any format registered with the image package.
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}

// InvalidImageDataError is returned when bytes for Key do not decode.
type InvalidImageDataError struct {
	Key string
	Err error
}

func (e *InvalidImageDataError) Error() string {
	return fmt.Sprintf("invalid image data for %s: %v", e.Key, e.Err)
}

func (e *InvalidImageDataError) Unwrap() []error {
	return []error{core.ErrDecode, e.Err}
}
