package helpers

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shortWriter accepts at most max bytes per Write call.
type shortWriter struct {
	buf bytes.Buffer
	max int
}

func (sw *shortWriter) Write(p []byte) (int, error) {
	if len(p) > sw.max {
		p = p[:sw.max]
	}
	return sw.buf.Write(p)
}

func TestWriteAll(t *testing.T) {
	t.Parallel()
	content := []byte("$,UTC=00:00:00 00/00/0000,CPS=5,#")
	sw := &shortWriter{max: 7}

	n, err := sw.Write(content)
	require.NoError(t, err)
	require.Equal(t, 7, n, "writer must be short for this test to mean anything")

	sw.buf.Reset()
	require.NoError(t, WriteAll(sw, content))
	assert.Equal(t, string(content), sw.buf.String())
}
