package capture

import (
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ZXingDetector decodes common retail and warehouse symbologies:
// EAN-13, EAN-8, UPC-A, UPC-E, Code 128, Code 39 and QR.
type ZXingDetector struct {
	readers []gozxing.Reader
	hints   map[gozxing.DecodeHintType]interface{}
}

// NewZXingDetector creates a detector trying each symbology in turn.
func NewZXingDetector() *ZXingDetector {
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}
	return &ZXingDetector{
		readers: []gozxing.Reader{
			oned.NewMultiFormatUPCEANReader(hints),
			oned.NewCode128Reader(),
			oned.NewCode39Reader(),
			qrcode.NewQRCodeReader(),
		},
		hints: hints,
	}
}

// Detect returns the first code any reader finds. A frame without a code is not an error.
func (d *ZXingDetector) Detect(frame image.Image) (string, bool, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(frame)
	if err != nil {
		return "", false, fmt.Errorf("failed to binarize frame: %w", err)
	}
	for _, r := range d.readers {
		result, err := r.Decode(bmp, d.hints)
		r.Reset()
		if err != nil || result == nil {
			continue
		}
		if text := result.GetText(); text != "" {
			return text, true, nil
		}
	}
	return "", false, nil
}
