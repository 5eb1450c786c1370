package models

// ImportError beschreibt einen fehlgeschlagenen Eintrag.
type ImportError struct {
	Item    DirectoryItem `json:"item"`
	Message string        `json:"message"`
}

// DuplicateReport beschreibt einen als Duplikat erkannten Eintrag.
type DuplicateReport struct {
	Item  DirectoryItem `json:"item"`
	Error string        `json:"error"`
}

// ImportCounts zählt die Endergebnisse eines Imports.
type ImportCounts struct {
	Inserted   int `json:"inserted"`
	Skipped    int `json:"skipped"`
	Replaced   int `json:"replaced"`
	Merged     int `json:"merged"`
	Variants   int `json:"variants"`
	Errors     int `json:"errors"`
	Duplicates int `json:"duplicates"`
}

// Add zählt ein Ergebnis.
func (c *ImportCounts) Add(o Outcome) {
	switch o {
	case OutcomeInserted:
		c.Inserted++
	case OutcomeSkipped:
		c.Skipped++
	case OutcomeReplaced:
		c.Replaced++
	case OutcomeMerged:
		c.Merged++
	case OutcomeVariant:
		c.Variants++
	case OutcomeError:
		c.Errors++
	}
}

// Total ist die Summe aller Endergebnisse.
func (c ImportCounts) Total() int {
	return c.Inserted + c.Skipped + c.Replaced + c.Merged + c.Variants + c.Errors
}

// ImportResult ist die Zusammenfassung eines Batch-Imports. Die Form ist immer vollständig,
// auch wenn nichts importiert werden konnte.
type ImportResult struct {
	Success        []DirectoryItem   `json:"success"`
	Errors         []ImportError     `json:"errors"`
	Duplicates     []DuplicateReport `json:"duplicates"`
	MissingColumns []string          `json:"missingColumns,omitempty"`
	Counts         ImportCounts      `json:"counts"`
}

// NewImportResult liefert ein Ergebnis mit leeren, nicht-nil Listen.
func NewImportResult() *ImportResult {
	return &ImportResult{
		Success:    []DirectoryItem{},
		Errors:     []ImportError{},
		Duplicates: []DuplicateReport{},
	}
}
