package image

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
)

const (
	defaultMaxWidth     = 1280
	defaultMaxSizeBytes = 1 * 1024 * 1024
	defaultQuality      = 80
)

// ProcessedImage результат подготовки: JPEG, упакованный в data URL для мультимодального сообщения.
type ProcessedImage struct {
	DataURL   string
	Width     int
	Height    int
	SizeBytes int
	MimeType  string
}

type Processor struct {
	maxWidth    int
	maxSizeByte int
	quality     int
}

// NewProcessor создаёт обработчик. Неположительные лимиты заменяются значениями по умолчанию.
func NewProcessor(maxWidth, maxSizeBytes int) *Processor {
	if maxWidth <= 0 {
		maxWidth = defaultMaxWidth
	}
	if maxSizeBytes <= 0 {
		maxSizeBytes = defaultMaxSizeBytes
	}
	return &Processor{
		maxWidth:    maxWidth,
		maxSizeByte: maxSizeBytes,
		quality:     defaultQuality,
	}
}

// Process декодирует исходное изображение (PNG/JPEG/GIF), при необходимости
// уменьшает его до maxWidth и пережимает в JPEG, пока не уложится в лимит байтов.
func (p *Processor) Process(raw []byte) (ProcessedImage, error) {
	if len(raw) == 0 {
		return ProcessedImage{}, errors.New("empty image payload")
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return ProcessedImage{}, err
	}

	origBounds := img.Bounds()
	origWidth := origBounds.Dx()
	origHeight := origBounds.Dy()
	if origWidth == 0 || origHeight == 0 {
		return ProcessedImage{}, fmt.Errorf("invalid image size: %dx%d", origWidth, origHeight)
	}

	quality := max(p.quality, defaultQuality)
	if quality > 100 {
		quality = 100
	}

	resizedWidth := min(origWidth, p.maxWidth)
	resizedHeight := max(1, origHeight*resizedWidth/origWidth)

	var encoded []byte
	for {
		resized := resizeNearest(img, resizedWidth, resizedHeight)
		encoded, err = encodeJPEG(resized, quality)
		if err != nil {
			return ProcessedImage{}, err
		}

		if len(encoded) <= p.maxSizeByte {
			break
		}

		if resizedWidth <= 320 {
			return ProcessedImage{}, fmt.Errorf("image exceeds max size %d bytes even after downscale", p.maxSizeByte)
		}

		resizedWidth = max(1, int(float64(resizedWidth)*0.9))
		resizedHeight = max(1, origHeight*resizedWidth/origWidth)
	}

	return ProcessedImage{
		DataURL:   fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(encoded)),
		Width:     resizedWidth,
		Height:    resizedHeight,
		SizeBytes: len(encoded),
		MimeType:  "image/jpeg",
	}, nil
}

func encodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func resizeNearest(src image.Image, width int, height int) *image.RGBA {
	if width <= 0 || height <= 0 {
		return image.NewRGBA(image.Rect(0, 0, 1, 1))
	}

	srcBounds := src.Bounds()
	srcWidth := srcBounds.Dx()
	srcHeight := srcBounds.Dy()
	if srcWidth == 0 || srcHeight == 0 {
		return image.NewRGBA(image.Rect(0, 0, width, height))
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		srcY := srcBounds.Min.Y + y*srcHeight/height
		for x := range width {
			srcX := srcBounds.Min.X + x*srcWidth/width
			dst.Set(x, y, src.At(srcX, srcY))
		}
	}

	return dst
}

var _ = png.Decode
var _ = gif.Decode
