package placeholder

import "fmt"

// ContentType is the MIME type of the placeholder image.
const ContentType = "image/svg+xml"

const svgTemplate = `<?xml version="1.0" standalone="no"?>
    <svg xmlns="http://www.w3.org/2000/svg" xmlns:xlink="http://www.w3.org/1999/xlink" height="%dpx" width="%dpx">
      <defs>
        <linearGradient id="0" x1="0.66" y1="0.03" x2="0.34" y2="0.97">
          <stop offset="1%%" stop-color="#5298ff"/>
          <stop offset="51%%" stop-color="#5298ff"/>
          <stop offset="100%%" stop-color="#5298ff"/>
        </linearGradient>
      </defs>
      <rect fill="url(#0)" height="100%%" width="100%%"/>
    </svg>`

// Render returns the deterministic fallback avatar for names without a
// resolvable image: a gradient square sized to the request. Pure, no I/O,
// identical output for identical size.
func Render(size int) []byte {
	return []byte(fmt.Sprintf(svgTemplate, size, size))
}
