package placeholder

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderSizedToRequest(t *testing.T) {
	for _, size := range []int{64, 128, 256} {
		t.Run(fmt.Sprintf("size_%d", size), func(t *testing.T) {
			out := Render(size)
			assert.Contains(t, string(out), fmt.Sprintf(`height="%dpx"`, size))
			assert.Contains(t, string(out), fmt.Sprintf(`width="%dpx"`, size))
		})
	}
}

func TestRenderDeterministic(t *testing.T) {
	assert.Equal(t, Render(64), Render(64))
	assert.NotEqual(t, Render(64), Render(128))
}

func TestRenderWellFormedXML(t *testing.T) {
	dec := xml.NewDecoder(bytes.NewReader(Render(128)))
	for {
		_, err := dec.Token()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
}
