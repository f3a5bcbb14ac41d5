package pdfdoc

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
)

// encodeRaw converts a raw sample buffer into the requested codec.
// It returns the encoded bytes and the actual output format: streams that
// arrive JPEG-compressed stay "jpeg" regardless of the requested format.
func encodeRaw(raw *RawImage, format string, quality int) ([]byte, string, error) {
	if len(raw.JPEG) > 0 {
		return raw.JPEG, "jpeg", nil
	}

	img, err := rawToImage(raw)
	if err != nil {
		return nil, "", err
	}

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, "", fmt.Errorf("jpeg encode: %w", err)
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", fmt.Errorf("png encode: %w", err)
		}
		format = "png"
	}
	return buf.Bytes(), format, nil
}

// rawToImage reinterprets the pixel buffer according to the channel kind.
// A buffer shorter than width*height*channels is a conversion error; the
// caller treats it as a per-image skip.
func rawToImage(raw *RawImage) (image.Image, error) {
	w, h := raw.Width, raw.Height
	need := w * h * raw.Channels
	if len(raw.Pixels) < need {
		return nil, fmt.Errorf("pixel buffer too short: have %d, need %d (%dx%d, %d channels)",
			len(raw.Pixels), need, w, h, raw.Channels)
	}

	rect := image.Rect(0, 0, w, h)
	switch raw.Channels {
	case 1:
		return &image.Gray{Pix: raw.Pixels[:w*h], Stride: w, Rect: rect}, nil
	case 3:
		img := image.NewNRGBA(rect)
		for i := 0; i < w*h; i++ {
			img.Pix[i*4+0] = raw.Pixels[i*3+0]
			img.Pix[i*4+1] = raw.Pixels[i*3+1]
			img.Pix[i*4+2] = raw.Pixels[i*3+2]
			img.Pix[i*4+3] = 0xff
		}
		return img, nil
	case 4:
		return &image.NRGBA{Pix: raw.Pixels[:w*h*4], Stride: w * 4, Rect: rect}, nil
	default:
		return nil, fmt.Errorf("unsupported channel count %d", raw.Channels)
	}
}
