package capture

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/webp"
)

// DefaultMaxFrameWidth is the width frames are scaled down to before detection.
const DefaultMaxFrameWidth = 1280

// frameTypes are the content types DecodeFrame accepts.
var frameTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}

// DecodeFrame sniffs the content and decodes a still frame (jpeg, png, gif, webp).
// Anything else, such as a camera's HTML login page, is ErrUnsupportedFrame.
func DecodeFrame(r io.Reader) (image.Image, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read frame: %w", err)
	}

	mt := mimetype.Detect(data)
	if !mimetype.EqualsAny(mt.String(), frameTypes...) {
		return nil, "", fmt.Errorf("%w: %s", ErrUnsupportedFrame, mt.String())
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode frame: %w", err)
	}
	return img, format, nil
}

// Preprocess converts a frame to grayscale and scales it down to maxWidth, keeping the aspect ratio.
// maxWidth <= 0 keeps the original size.
func Preprocess(frame image.Image, maxWidth int) image.Image {
	img := imaging.Grayscale(frame)
	if maxWidth > 0 && img.Bounds().Dx() > maxWidth {
		return imaging.Resize(img, maxWidth, 0, imaging.Linear)
	}
	return img
}
