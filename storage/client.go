package storage

import (
	"context"
	"errors"

	"canna-directory/models"
)

var (
	// ErrNotFound wird geliefert, wenn ein Eintrag mit der ID nicht existiert.
	ErrNotFound = errors.New("directory item not found")
	// ErrUnknownColumn markiert Inserts, die an einer im Zielschema fehlenden Spalte scheitern.
	ErrUnknownColumn = errors.New("column does not exist in target schema")
)

// SelectOptions steuern eine Abfrage. Filter sind reine Gleichheitsvergleiche.
type SelectOptions struct {
	Columns []string
	Filters map[string]any
	Single  bool
	OrderBy string
	Limit   int
	Offset  int
}

// InsertOptions schränken die geschriebenen Spalten ein. Leer bedeutet alle Spalten.
type InsertOptions struct {
	Columns []string
}

// BulkInsertOptions erweitert InsertOptions um eine Ausweich-Projektion, mit der ein
// an einer unbekannten Spalte gescheiterter Insert einmal wiederholt wird.
type BulkInsertOptions struct {
	Columns         []string
	FallbackColumns []string
}

// Client ist die Persistenzschnittstelle für Verzeichniseinträge.
type Client interface {
	Select(ctx context.Context, opts SelectOptions) ([]models.DirectoryItem, error)
	// Insert schreibt den Eintrag und setzt ID und Zeitstempel am übergebenen Wert.
	Insert(ctx context.Context, item *models.DirectoryItem, opts InsertOptions) error
	// Update überschreibt die genannten Spalten mit den Werten aus item und liefert den neuen Stand.
	Update(ctx context.Context, id string, item *models.DirectoryItem, columns []string) (*models.DirectoryItem, error)
	Delete(ctx context.Context, id string) error
	BulkInsert(ctx context.Context, items []models.DirectoryItem, opts BulkInsertOptions) ([]models.DirectoryItem, error)
}
