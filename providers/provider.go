package providers

import "context"

// ClassifyRequest enthält Beispielzeilen und die erlaubten Zielkategorien.
type ClassifyRequest struct {
	SampleRows          []map[string]any `json:"sampleRows"`
	AvailableCategories []string         `json:"availableCategories"`
}

// MappingSuggestion ist die Antwort eines Klassifizierers: Zielfeld -> Quellspalte.
type MappingSuggestion struct {
	Mappings            map[string]string `json:"mappings"`
	SchemaType          string            `json:"schemaType"`
	RecommendedCategory string            `json:"recommendedCategory"`
}

// Classifier ist das Interface, das jeder externe Mapping-Klassifizierer implementieren muss.
type Classifier interface {
	// Suggest schlägt anhand von Beispielzeilen ein Spalten-Mapping vor.
	Suggest(ctx context.Context, req ClassifyRequest) (*MappingSuggestion, error)

	// Name gibt den eindeutigen Namen des Providers zurück.
	Name() string
}
