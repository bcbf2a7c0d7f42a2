package transcoder

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/HugoSmits86/nativewebp"
	"github.com/disintegration/imaging"

	// Register WebP decoding for origin images that are already WebP.
	_ "golang.org/x/image/webp"
)

// ContentType is the MIME type of every transcoder output.
const ContentType = "image/webp"

// ErrUnprocessable reports input the decoder cannot handle: corrupt bytes,
// an unsupported codec, or an empty payload.
var ErrUnprocessable = errors.New("transcoder: unprocessable image")

// Transcoder converts raw origin image bytes into a square WebP of a
// requested size.
type Transcoder interface {
	Transcode(data []byte, size int) ([]byte, error)
}

// WebPTranscoder decodes any registered raster format and re-encodes a
// size×size square WebP. Animated inputs do not error; decoding yields the
// first frame.
type WebPTranscoder struct{}

// New creates a WebPTranscoder.
func New() *WebPTranscoder {
	return &WebPTranscoder{}
}

// Transcode produces exactly size×size WebP bytes from data.
func (t *WebPTranscoder) Transcode(data []byte, size int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnprocessable, err)
	}

	// Square crop centred on the image, then scale to the target size.
	resized := imaging.Fill(img, size, size, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := nativewebp.Encode(&buf, resized, nil); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}

	return buf.Bytes(), nil
}
