package notify

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
)

// WritePlaceholder writes a small grey test-pattern JPEG to path
func WritePlaceholder(path string) error {
	img := image.NewRGBA(image.Rect(0, 0, 320, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			shade := uint8(96)
			if (x/40+y/40)%2 == 0 {
				shade = 160
			}
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create placeholder: %w", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 80}); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode placeholder: %w", err)
	}
	return f.Close()
}
