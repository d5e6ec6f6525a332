package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMappingsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mappings.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMappingsFromFile(t *testing.T) {
	path := writeMappingsFile(t, `[
		{"id": "m2", "entity_type": "contact", "internal_field": "first_name", "external_field": "FirstName", "position": 2},
		{"id": "m1", "entity_type": "contact", "internal_field": "email", "external_field": "Email", "transform": "lowercase", "position": 1}
	]`)

	mappings, err := LoadMappingsFromFile(path)
	require.NoError(t, err)
	require.Len(t, mappings, 2)

	assert.Equal(t, "email", mappings[0].InternalField)
	assert.Equal(t, "lowercase", mappings[0].Transform)
	assert.Equal(t, "first_name", mappings[1].InternalField)
}

func TestLoadMappingsFromFileMissingField(t *testing.T) {
	path := writeMappingsFile(t, `[
		{"id": "m1", "entity_type": "contact", "internal_field": "email", "position": 1}
	]`)

	_, err := LoadMappingsFromFile(path)
	assert.Error(t, err)
}

func TestLoadMappingsFromFileMalformedJSON(t *testing.T) {
	path := writeMappingsFile(t, `{not json`)

	_, err := LoadMappingsFromFile(path)
	assert.Error(t, err)
}

func TestLoadMappingsFromFileMissing(t *testing.T) {
	_, err := LoadMappingsFromFile(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
