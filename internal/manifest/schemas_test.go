package manifest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labflow/internal/workflow"
)

func TestReadSchemasFromFile_Full(t *testing.T) {
	sm, err := ReadSchemasFromFile(filepath.Join("testdata", "schemas_full.yaml"))

	require.NoError(t, err)
	require.NotNil(t, sm)
	assert.Len(t, sm.Sections, 3)

	hem := sm.GetSection("hematology")
	require.NotNil(t, hem)
	require.Len(t, hem.Parameters, 3)
	assert.Equal(t, workflow.ParameterField{Name: "wbc", Type: workflow.ParameterNumber, Required: true}, hem.Parameters[0])
	assert.Equal(t, workflow.ParameterFile, hem.Parameters[1].Type)
	assert.Equal(t, "none", hem.Parameters[2].Default)

	review := sm.GetSection("review")
	require.NotNil(t, review)
	assert.Empty(t, review.Parameters)
}

func TestReadSchemasFromFile_Errors(t *testing.T) {
	tests := []struct {
		file    string
		wantErr string
	}{
		{"nonexistent.yaml", "failed to read schema manifest"},
		{"schemas_invalid.yaml", "has no id"},
		{"schemas_empty.yaml", "contains no sections"},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			sm, err := ReadSchemasFromFile(filepath.Join("testdata", tt.file))

			assert.Error(t, err)
			assert.Nil(t, sm)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestReadSchemasFromBytes_InvalidYAML(t *testing.T) {
	sm, err := ReadSchemasFromBytes([]byte("sections: [unclosed"))

	assert.Error(t, err)
	assert.Nil(t, sm)
	assert.Contains(t, err.Error(), "failed to parse schema manifest")
}

func TestSchemaManifest_Lookups(t *testing.T) {
	sm, err := ReadSchemasFromFile(filepath.Join("testdata", "schemas_full.yaml"))
	require.NoError(t, err)

	assert.True(t, sm.HasSection("reception"))
	assert.False(t, sm.HasSection("chemistry"))
	assert.Nil(t, sm.GetSection("chemistry"))
	assert.Equal(t, []string{"hematology", "reception", "review"}, sm.IDs())

	var empty *SchemaManifest
	assert.Nil(t, empty.GetSection("reception"))
}
