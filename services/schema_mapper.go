package services

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"canna-directory/models"
	"canna-directory/providers"
)

const (
	sampleRowCount = 5
	columnScanRows = 100
)

// standardTargets sind die Zielfelder, die direkt am Eintrag liegen und keine Custom-Felder sind.
var standardTargets = map[string]bool{
	models.TargetTitle:        true,
	models.TargetDescription:  true,
	models.TargetSubcategory:  true,
	models.TargetTags:         true,
	models.TargetImageURL:     true,
	models.TargetThumbnailURL: true,
}

// heuristicRules werden der Reihe nach geprüft; die erste passende Regel gewinnt.
var heuristicRules = []struct {
	target   string
	patterns []string
}{
	{models.TargetSubcategory, []string{"subcat"}},
	{models.TargetTitle, []string{"name", "title"}},
	{models.TargetDescription, []string{"desc"}},
	{models.TargetThumbnailURL, []string{"thumb"}},
	{models.TargetImageURL, []string{"image", "photo"}},
	{models.TargetTags, []string{"tag"}},
}

// MappingProposal ist ein Vorschlag für das Spalten-Mapping einer Datei.
type MappingProposal struct {
	Mappings            []models.ColumnMapping `json:"mappings"`
	Unmapped            []string               `json:"unmapped"`
	SchemaType          string                 `json:"schemaType"`
	RecommendedCategory string                 `json:"recommendedCategory"`
	// Fallback ist gesetzt, wenn der Klassifizierer nicht nutzbar war und Heuristiken griffen.
	Fallback bool   `json:"fallback"`
	Source   string `json:"source"`
}

// Config liefert die MappingConfig für einen Import in die angegebene Kategorie.
func (p *MappingProposal) Config(category string) models.MappingConfig {
	if category == "" {
		category = p.RecommendedCategory
	}
	return models.MappingConfig{
		Columns:    p.Mappings,
		Category:   category,
		SchemaType: p.SchemaType,
	}
}

// SchemaMapper schlägt Spalten-Mappings vor, heuristisch oder über einen Klassifizierer.
type SchemaMapper struct {
	Classifier providers.Classifier
	Logger     *zap.Logger
	Categories []string
}

// NewSchemaMapper erstellt einen Mapper; classifier darf nil sein.
func NewSchemaMapper(classifier providers.Classifier, categories []string, logger *zap.Logger) *SchemaMapper {
	return &SchemaMapper{Classifier: classifier, Categories: categories, Logger: logger}
}

// DetectColumns liefert alle Spaltennamen: zuerst die Header in Dateireihenfolge,
// dann Schlüssel, die nur in späteren Zeilen (bis Zeile 100) vorkommen.
func DetectColumns(headers []string, rows []models.RawRow) []string {
	seen := make(map[string]bool, len(headers))
	var cols []string
	for _, h := range headers {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		cols = append(cols, h)
	}

	var extra []string
	for i, row := range rows {
		if i >= columnScanRows {
			break
		}
		for k := range row {
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return append(cols, extra...)
}

// Suggest schlägt ein Mapping vor. Ist ein Klassifizierer gesetzt, wird er zuerst gefragt;
// scheitert er oder liefert nichts Verwertbares, greifen die Heuristiken.
func (m *SchemaMapper) Suggest(ctx context.Context, headers []string, rows []models.RawRow) (*MappingProposal, error) {
	cols := DetectColumns(headers, rows)
	if len(rows) == 0 || len(cols) == 0 {
		return nil, ErrNoData
	}

	if m.Classifier == nil {
		return m.heuristic(cols, rows, false), nil
	}

	proposal, err := m.assisted(ctx, cols, rows)
	if err != nil {
		m.Logger.Warn("Mapping-Klassifizierer fehlgeschlagen, nutze Heuristik",
			zap.String("classifier", m.Classifier.Name()), zap.Error(err))
		return m.heuristic(cols, rows, true), nil
	}
	return proposal, nil
}

// SuggestAssisted fragt ausschließlich den Klassifizierer, ohne Rückfall.
func (m *SchemaMapper) SuggestAssisted(ctx context.Context, headers []string, rows []models.RawRow) (*MappingProposal, error) {
	if m.Classifier == nil {
		return nil, ErrClassifierUnavailable
	}
	cols := DetectColumns(headers, rows)
	if len(rows) == 0 || len(cols) == 0 {
		return nil, ErrNoData
	}
	return m.assisted(ctx, cols, rows)
}

// SuggestHeuristic wendet nur die Namensheuristiken an.
func (m *SchemaMapper) SuggestHeuristic(headers []string, rows []models.RawRow) (*MappingProposal, error) {
	cols := DetectColumns(headers, rows)
	if len(rows) == 0 || len(cols) == 0 {
		return nil, ErrNoData
	}
	return m.heuristic(cols, rows, false), nil
}

func (m *SchemaMapper) heuristic(cols []string, rows []models.RawRow, fallback bool) *MappingProposal {
	assigned := map[string]string{} // target -> source
	used := map[string]bool{}

	for _, col := range cols {
		lower := strings.ToLower(col)
		for _, rule := range heuristicRules {
			if _, taken := assigned[rule.target]; taken {
				continue
			}
			if containsAny(lower, rule.patterns) {
				assigned[rule.target] = col
				used[col] = true
				break
			}
		}
	}

	// Titel und Beschreibung bleiben nie beide ohne Quelle.
	if _, ok := assigned[models.TargetTitle]; !ok {
		if col := firstUnused(cols, used); col != "" {
			assigned[models.TargetTitle] = col
			used[col] = true
		}
		if _, ok := assigned[models.TargetDescription]; !ok {
			if col := firstUnused(cols, used); col != "" {
				assigned[models.TargetDescription] = col
				used[col] = true
			}
		}
	}

	p := &MappingProposal{Fallback: fallback, Source: "heuristic"}
	for _, col := range cols {
		target := ""
		for t, src := range assigned {
			if src == col {
				target = t
				break
			}
		}
		if target == "" {
			p.Unmapped = append(p.Unmapped, col)
			continue
		}
		p.Mappings = append(p.Mappings, models.ColumnMapping{
			SourceColumn: col,
			TargetField:  target,
			SampleData:   sampleValues(rows, col),
		})
	}
	return p
}

func (m *SchemaMapper) assisted(ctx context.Context, cols []string, rows []models.RawRow) (*MappingProposal, error) {
	samples := make([]map[string]any, 0, sampleRowCount)
	for i, row := range rows {
		if i >= sampleRowCount {
			break
		}
		samples = append(samples, map[string]any(row))
	}

	suggestion, err := m.Classifier.Suggest(ctx, providers.ClassifyRequest{
		SampleRows:          samples,
		AvailableCategories: m.Categories,
	})
	if err != nil {
		return nil, err
	}
	if suggestion == nil {
		return nil, fmt.Errorf("%s returned no suggestion", m.Classifier.Name())
	}

	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c] = true
	}

	bySource := map[string]models.ColumnMapping{}
	targets := make([]string, 0, len(suggestion.Mappings))
	for t := range suggestion.Mappings {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, target := range targets {
		source := suggestion.Mappings[target]
		if target == "" || !known[source] {
			continue
		}
		if _, dup := bySource[source]; dup {
			continue
		}
		cm := models.ColumnMapping{SourceColumn: source, TargetField: target}
		if !standardTargets[target] && target != models.TargetIgnore {
			cm.IsCustomField = true
			if !strings.HasPrefix(target, models.AdditionalFieldsPrefix) {
				cm.TargetField = models.AdditionalFieldsPrefix + target
			}
		}
		bySource[source] = cm
	}
	if len(bySource) == 0 {
		return nil, fmt.Errorf("%s returned no usable mapping", m.Classifier.Name())
	}

	p := &MappingProposal{
		SchemaType:          suggestion.SchemaType,
		RecommendedCategory: suggestion.RecommendedCategory,
		Source:              m.Classifier.Name(),
	}
	for _, col := range cols {
		cm, ok := bySource[col]
		if !ok {
			p.Unmapped = append(p.Unmapped, col)
			continue
		}
		cm.SampleData = sampleValues(rows, col)
		p.Mappings = append(p.Mappings, cm)
	}
	return p, nil
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func firstUnused(cols []string, used map[string]bool) string {
	for _, c := range cols {
		if !used[c] {
			return c
		}
	}
	return ""
}

func sampleValues(rows []models.RawRow, col string) []string {
	var out []string
	for _, row := range rows {
		if len(out) >= sampleRowCount {
			break
		}
		v, ok := row[col]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(fmt.Sprint(v))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
