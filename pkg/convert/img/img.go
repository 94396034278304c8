package img

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math"

	"github.com/sunshineplan/imgconv"
)

// Downscale re-encodes an image as JPEG no larger than maxMPXS megapixels.
// Images already within the limit are returned unchanged.
func Downscale(imageData *[]byte, maxMPXS float64) (*[]byte, error) {
	img, err := imgconv.Decode(bytes.NewReader(*imageData))
	if err != nil {
		return nil, fmt.Errorf("error decoding image: %v", err)
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	currentMPXS := float64(width*height) / 1000000.0

	if currentMPXS <= maxMPXS {
		return imageData, nil
	}

	// Area scales with the square of the side ratio.
	ratio := math.Sqrt(maxMPXS / currentMPXS)
	resized := imgconv.Resize(img, &imgconv.ResizeOption{
		Width:  int(float64(width) * ratio),
		Height: int(float64(height) * ratio),
	})

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("error encoding JPEG: %v", err)
	}

	b := buf.Bytes()
	return &b, nil
}

// Megapixels reports the size of an encoded image without keeping it decoded.
func Megapixels(imageData []byte) (float64, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(imageData))
	if err != nil {
		return 0, fmt.Errorf("error decoding image config: %v", err)
	}
	return float64(cfg.Width*cfg.Height) / 1000000.0, nil
}
