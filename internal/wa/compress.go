package wa

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// jpeg quality ladder tried before any resizing.
var qualitySteps = []int{85, 75, 65, 55, 45, 35}

// Prepare returns payload bytes no larger than target when possible. Inputs
// at or under target pass through untouched. Oversized images are re-encoded
// as JPEG down the quality ladder, then downscaled with bilinear
// interpolation until they fit. A result still over hardCap is an
// ErrTooLarge; a send must fail rather than breach the channel's media
// limit.
//
// The returned content type is "image/jpeg" whenever re-encoding happened.
func Prepare(data []byte, contentType string, target, hardCap int64) ([]byte, string, error) {
	if int64(len(data)) <= target {
		return data, contentType, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		// Not decodable but over target: give up early when over the cap.
		if int64(len(data)) > hardCap {
			return nil, "", fmt.Errorf("%w: %d bytes, undecodable", ErrTooLarge, len(data))
		}
		return data, contentType, nil
	}

	for _, q := range qualitySteps {
		out, err := encodeJPEG(img, q)
		if err != nil {
			return nil, "", err
		}
		if int64(len(out)) <= target {
			return out, "image/jpeg", nil
		}
	}

	// Quality alone was not enough; halve dimensions until it fits or the
	// image becomes too small to shrink further.
	const minDim = 64
	for {
		b := img.Bounds()
		w, h := b.Dx()/2, b.Dy()/2
		if w < minDim || h < minDim {
			break
		}
		scaled := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.BiLinear.Scale(scaled, scaled.Bounds(), img, b, draw.Over, nil)
		img = scaled

		out, err := encodeJPEG(img, 75)
		if err != nil {
			return nil, "", err
		}
		if int64(len(out)) <= target {
			return out, "image/jpeg", nil
		}
	}

	out, err := encodeJPEG(img, qualitySteps[len(qualitySteps)-1])
	if err != nil {
		return nil, "", err
	}
	if int64(len(out)) > hardCap {
		return nil, "", fmt.Errorf("%w: %d bytes after compression", ErrTooLarge, len(out))
	}
	return out, "image/jpeg", nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("wa: jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}
