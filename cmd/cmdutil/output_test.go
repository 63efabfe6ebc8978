package cmdutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintYAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, PrintYAML(&buf, map[string]any{"stage": "copy_wait", "files": 3}))
	assert.Equal(t, "files: 3\nstage: copy_wait\n", buf.String())
}
