// Package decode recognises the code printed on a book from a kiosk photo.
//
// Images are reduced to luminance and handed to gozxing readers, tried in
// order: QR Code, EAN-13 (ISBN barcodes), Code 128 (library accession labels).
package decode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // ESP32 camera frames
	_ "image/png"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// ZXingDecoder decodes codes with gozxing. The zero value is not usable;
// construct with NewZXingDecoder.
//
// gozxing readers hold internal state, so Decode builds fresh ones per call
// and a ZXingDecoder is safe for concurrent use.
type ZXingDecoder struct {
	hints map[gozxing.DecodeHintType]any
}

// NewZXingDecoder creates a decoder that tries harder on low-quality frames.
func NewZXingDecoder() *ZXingDecoder {
	return &ZXingDecoder{
		hints: map[gozxing.DecodeHintType]any{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

type namedReader struct {
	name   string
	reader gozxing.Reader
}

func readers() []namedReader {
	return []namedReader{
		{name: "qr_code", reader: qrcode.NewQRCodeReader()},
		{name: "ean_13", reader: oned.NewEAN13Reader()},
		{name: "code_128", reader: oned.NewCode128Reader()},
	}
}

// Decode returns the text of the first code found in the encoded image.
//
// Returns:
//   - string: The decoded text
//   - error: ErrUnsupportedImage, ErrNoCode, or the context's error
func (d *ZXingDecoder) Decode(ctx context.Context, data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}

	bmp, err := gozxing.NewBinaryBitmapFromImage(Luminance(img))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnsupportedImage, err)
	}

	var lastErr error
	for _, r := range readers() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		result, err := r.reader.Decode(bmp, d.hints)
		if err == nil {
			return result.GetText(), nil
		}
		lastErr = fmt.Errorf("%s: %w", r.name, err)
	}

	return "", errors.Join(ErrNoCode, lastErr)
}
