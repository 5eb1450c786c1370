package models

import (
	"errors"
	"strings"
)

const (
	// TargetIgnore markiert eine Spalte, die nicht übernommen wird.
	TargetIgnore = "ignore"
	// AdditionalFieldsPrefix leitet Ziele in die additionalFields-Map.
	AdditionalFieldsPrefix = "additionalFields."
)

// Standard-Zielfelder eines Verzeichniseintrags.
const (
	TargetTitle        = "title"
	TargetDescription  = "description"
	TargetCategory     = "category"
	TargetSubcategory  = "subcategory"
	TargetTags         = "tags"
	TargetImageURL     = "imageUrl"
	TargetThumbnailURL = "thumbnailUrl"
)

// ErrNoTitleMapping wird geliefert, wenn keine Spalte auf title zeigt.
var ErrNoTitleMapping = errors.New("no column is mapped to title")

// RawRow ist eine Zeile aus CSV, Excel oder JSON, Header -> Wert.
type RawRow map[string]any

// ColumnMapping ordnet eine Quellspalte einem Zielfeld zu.
type ColumnMapping struct {
	SourceColumn  string   `json:"sourceColumn"`
	TargetField   string   `json:"targetField"`
	IsCustomField bool     `json:"isCustomField"`
	SampleData    []string `json:"sampleData,omitempty"`
}

// MappingConfig beschreibt, wie Rohzeilen in Einträge übersetzt werden.
type MappingConfig struct {
	Columns []ColumnMapping `json:"columns"`
	// Category ist die Zielkategorie, falls keine Spalte auf category zeigt.
	Category    string `json:"category"`
	Subcategory string `json:"subcategory,omitempty"`
	// SchemaType ist der JSON-LD @type, Standard "Thing".
	SchemaType string `json:"schemaType,omitempty"`
	// DefaultDescription ersetzt fehlende Beschreibungen.
	DefaultDescription string `json:"defaultDescription,omitempty"`
}

// MappingFromTargets baut eine Konfiguration aus einer Map Zielfeld -> Quellspalte.
func MappingFromTargets(targets map[string]string, category string) MappingConfig {
	cfg := MappingConfig{Category: category}
	for target, source := range targets {
		cfg.Columns = append(cfg.Columns, ColumnMapping{
			SourceColumn:  source,
			TargetField:   target,
			IsCustomField: strings.HasPrefix(target, AdditionalFieldsPrefix),
		})
	}
	return cfg
}

// Validate prüft, ob die Konfiguration einen Titel liefern kann.
func (c MappingConfig) Validate() error {
	for _, cm := range c.Columns {
		if cm.TargetField == TargetTitle && strings.TrimSpace(cm.SourceColumn) != "" {
			return nil
		}
	}
	return ErrNoTitleMapping
}

// SourceColumns liefert alle übernommenen Quellspalten (ohne ignorierte).
func (c MappingConfig) SourceColumns() []string {
	var out []string
	for _, cm := range c.Columns {
		if cm.TargetField == "" || cm.TargetField == TargetIgnore || cm.SourceColumn == "" {
			continue
		}
		out = append(out, cm.SourceColumn)
	}
	return out
}
