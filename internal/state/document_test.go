// ABOUTME: Tests for the canonical state document shape
// ABOUTME: Valid must reject every malformed top-level variant

package state

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDocument_IsValid(t *testing.T) {
	doc := NewDocument()
	assert.True(t, Valid(doc))
	for _, c := range Collections {
		assert.Contains(t, doc, c)
	}
}

func TestNewDocument_SurvivesJSONRoundTrip(t *testing.T) {
	raw, err := json.Marshal(NewDocument())
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.True(t, Valid(doc))
	assert.Equal(t, float64(SchemaVersion), doc["schemaVersion"])
}

func TestValid_RejectsMalformedDocuments(t *testing.T) {
	missingCollection := NewDocument()
	delete(missingCollection, "permissions")

	wrongCollectionType := NewDocument()
	wrongCollectionType["sessions"] = []any{}

	missingByID := NewDocument()
	missingByID["messages"] = map[string]any{}

	noVersion := NewDocument()
	delete(noVersion, "schemaVersion")

	tests := []struct {
		name string
		doc  map[string]any
	}{
		{"nil document", nil},
		{"empty document", map[string]any{}},
		{"missing collection", missingCollection},
		{"collection not an object", wrongCollectionType},
		{"collection without byId", missingByID},
		{"missing schemaVersion", noVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, Valid(tt.doc))
		})
	}
}
