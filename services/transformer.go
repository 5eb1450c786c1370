package services

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"canna-directory/models"
)

const (
	schemaContext     = "https://schema.org"
	defaultSchemaType = "Thing"
	uncategorized     = "Uncategorized"
)

// RowTransformer übersetzt Rohzeilen anhand einer MappingConfig in Verzeichniseinträge.
type RowTransformer struct {
	Logger *zap.Logger
}

func NewRowTransformer(logger *zap.Logger) *RowTransformer {
	return &RowTransformer{Logger: logger}
}

// Transform baut aus einer Zeile einen Eintrag ohne ID. rowIndex ist nullbasiert.
// Die Funktion schreibt nichts und verändert weder row noch cfg.
func (t *RowTransformer) Transform(row models.RawRow, cfg models.MappingConfig, rowIndex int) models.DirectoryItem {
	item := models.DirectoryItem{
		Category:    strings.TrimSpace(cfg.Category),
		Subcategory: strings.TrimSpace(cfg.Subcategory),
	}
	item.EnsureDefaults()

	consumed := map[string]bool{}
	for _, cm := range cfg.Columns {
		target := strings.TrimSpace(cm.TargetField)
		if target == "" {
			continue
		}
		if target == models.TargetIgnore {
			consumed[cm.SourceColumn] = true
			continue
		}

		raw, present := row[cm.SourceColumn]
		consumed[cm.SourceColumn] = true

		if field, ok := strings.CutPrefix(target, models.AdditionalFieldsPrefix); ok {
			if field == "" {
				continue
			}
			if !present || raw == nil {
				t.Logger.Warn("Quellspalte fehlt, Zusatzfeld wird leer angelegt",
					zap.String("column", cm.SourceColumn),
					zap.String("field", field),
					zap.Int("row", rowIndex+1))
				item.AdditionalFields[field] = ""
				continue
			}
			item.AdditionalFields[field] = customValue(raw)
			continue
		}

		if !present {
			continue
		}
		switch target {
		case models.TargetTitle:
			item.Title = stringValue(raw)
		case models.TargetDescription:
			item.Description = stringValue(raw)
		case models.TargetCategory:
			if v := stringValue(raw); v != "" {
				item.Category = v
			}
		case models.TargetSubcategory:
			if v := stringValue(raw); v != "" {
				item.Subcategory = v
			}
		case models.TargetTags:
			item.Tags = ParseTags(raw)
		case models.TargetImageURL:
			item.ImageURL = stringValue(raw)
		case models.TargetThumbnailURL:
			item.ThumbnailURL = stringValue(raw)
		default:
			// Unbekannte Ziele ohne Präfix landen ebenfalls in additionalFields.
			item.AdditionalFields[target] = customValue(raw)
		}
	}

	if item.Title == "" {
		item.Title = fmt.Sprintf("Item %d", rowIndex+1)
	}
	if item.Description == "" {
		if d := strings.TrimSpace(cfg.DefaultDescription); d != "" {
			item.Description = d
		} else {
			item.Description = fmt.Sprintf("No description provided for item %d", rowIndex+1)
		}
	}
	if item.Category == "" {
		item.Category = uncategorized
	}

	item.JSONLD = buildJSONLD(item, row, consumed, cfg.SchemaType)
	return item
}

// TransformAll wendet Transform auf alle Zeilen an.
func (t *RowTransformer) TransformAll(rows []models.RawRow, cfg models.MappingConfig) []models.DirectoryItem {
	items := make([]models.DirectoryItem, 0, len(rows))
	for i, row := range rows {
		items = append(items, t.Transform(row, cfg, i))
	}
	return items
}

func buildJSONLD(item models.DirectoryItem, row models.RawRow, consumed map[string]bool, schemaType string) datatypes.JSONMap {
	if strings.TrimSpace(schemaType) == "" {
		schemaType = defaultSchemaType
	}
	doc := datatypes.JSONMap{
		"@context":    schemaContext,
		"@type":       schemaType,
		"name":        item.Title,
		"description": item.Description,
	}
	if item.ImageURL != "" {
		doc["image"] = item.ImageURL
	}

	keys := make([]string, 0, len(row))
	for k := range row {
		if !consumed[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := CamelCase(k)
		if name == "" {
			continue
		}
		if _, exists := doc[name]; exists {
			continue
		}
		doc[name] = row[k]
	}
	return doc
}

// CamelCase entfernt Sonderzeichen und setzt die Wörter als lowerCamelCase zusammen:
// "Dominant Terpene" -> "dominantTerpene", "THC %" -> "thc", "breed-by" -> "breedby".
func CamelCase(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			return r
		}
		return -1
	}, s)

	var b strings.Builder
	for i, word := range strings.Fields(cleaned) {
		runes := []rune(strings.ToLower(word))
		if i > 0 {
			runes[0] = unicode.ToUpper(runes[0])
		}
		b.WriteString(string(runes))
	}
	return b.String()
}

// ParseTags akzeptiert eine Liste oder einen kommagetrennten String.
func ParseTags(v any) []string {
	out := []string{}
	var parts []string
	switch tv := v.(type) {
	case nil:
		return out
	case []string:
		parts = tv
	case []any:
		for _, e := range tv {
			if e != nil {
				parts = append(parts, fmt.Sprint(e))
			}
		}
	default:
		parts = strings.Split(fmt.Sprint(tv), ",")
	}
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func stringValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func customValue(v any) any {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return v
}

// EnsureJSONLD setzt @context, @type, name und description, falls sie fehlen.
func EnsureJSONLD(item *models.DirectoryItem, schemaType string) {
	item.EnsureDefaults()
	if strings.TrimSpace(schemaType) == "" {
		schemaType = defaultSchemaType
	}
	if s, _ := item.JSONLD["@context"].(string); s == "" {
		item.JSONLD["@context"] = schemaContext
	}
	if s, _ := item.JSONLD["@type"].(string); s == "" {
		item.JSONLD["@type"] = schemaType
	}
	backfill(item.JSONLD, "name", item.Title)
	backfill(item.JSONLD, "description", item.Description)
}
