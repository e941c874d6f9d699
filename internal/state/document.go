// ABOUTME: Canonical shape of the shared workspace state document.
// ABOUTME: Keyed-by-id collections under byId plus a schemaVersion field.

// Package state defines the shared state document transported between the
// provider-side source of truth and subscribed clients. The document is
// carried in its JSON-decoded form (map[string]any) so the patch engine
// and codec can treat it generically.
package state

// SchemaVersion is the current document schema version.
const SchemaVersion = 1

// Collections are the entity collections a state document carries. Each is
// a mapping from entity id to entity record under a "byId" key; insertion
// order is irrelevant.
var Collections = []string{"sessions", "messages", "parts", "permissions", "questions"}

// NewDocument returns an empty state document in canonical shape.
func NewDocument() map[string]any {
	doc := map[string]any{
		"schemaVersion": float64(SchemaVersion),
	}
	for _, c := range Collections {
		doc[c] = map[string]any{"byId": map[string]any{}}
	}
	return doc
}

// Valid reports whether doc carries the canonical top-level shape: a
// schemaVersion field and every collection present as an object.
func Valid(doc map[string]any) bool {
	if doc == nil {
		return false
	}
	if _, ok := doc["schemaVersion"]; !ok {
		return false
	}
	for _, c := range Collections {
		coll, ok := doc[c].(map[string]any)
		if !ok {
			return false
		}
		if _, ok := coll["byId"].(map[string]any); !ok {
			return false
		}
	}
	return true
}
