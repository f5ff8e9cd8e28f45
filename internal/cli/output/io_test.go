package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintYAMLAndJSONRoundTripTheSameData(t *testing.T) {
	data := map[string]any{"name": "public", "writeable": true}

	var yamlOut bytes.Buffer
	require.NoError(t, PrintYAML(&yamlOut, data))
	assert.Contains(t, yamlOut.String(), "name: public")

	var jsonOut bytes.Buffer
	require.NoError(t, PrintJSON(&jsonOut, data))
	assert.Contains(t, jsonOut.String(), `"name": "public"`)
}
