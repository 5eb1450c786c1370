package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"canna-directory/models"
	"canna-directory/storage"
)

const standardizeUpdateConcurrency = 5

// categorySynonyms bildet kleingeschriebene Varianten auf die kanonische Kategorie ab.
var categorySynonyms = map[string]string{
	"genetics":      "Genetics",
	"genetic":       "Genetics",
	"strain":        "Genetics",
	"strains":       "Genetics",
	"cultivars":     "Genetics",
	"seeds":         "Seeds",
	"seed":          "Seeds",
	"seed bank":     "Seeds",
	"seedbanks":     "Seeds",
	"breeder":       "Breeders",
	"breeders":      "Breeders",
	"dispensary":    "Dispensaries",
	"dispensaries":  "Dispensaries",
	"shop":          "Dispensaries",
	"shops":         "Dispensaries",
	"brand":         "Brands",
	"brands":        "Brands",
	"accessory":     "Accessories",
	"accessories":   "Accessories",
	"gear":          "Accessories",
	"cbd":           "CBD Products",
	"cbd products":  "CBD Products",
	"event":         "Events",
	"events":        "Events",
	"organization":  "Organizations",
	"organizations": "Organizations",
	"associations":  "Organizations",
	"cultivation":   "Cultivation",
	"grow":          "Cultivation",
	"growing":       "Cultivation",
	"article":       "Articles",
	"articles":      "Articles",
	"news":          "Articles",
}

// fieldSynonyms bildet kleingeschriebene additionalFields-Schlüssel auf kanonische Namen ab.
var fieldSynonyms = map[string]string{
	"thc":               "thcContent",
	"thc%":              "thcContent",
	"thc_content":       "thcContent",
	"thclevel":          "thcContent",
	"cbd":               "cbdContent",
	"cbd%":              "cbdContent",
	"cbd_content":       "cbdContent",
	"breeder_name":      "breeder",
	"breedername":       "breeder",
	"terpenes":          "dominantTerpenes",
	"terpene":           "dominantTerpenes",
	"dominant_terpenes": "dominantTerpenes",
	"dominantterpenes":  "dominantTerpenes",
	"flavor":            "flavorProfile",
	"flavors":           "flavorProfile",
	"flavour":           "flavorProfile",
	"flavorprofile":     "flavorProfile",
	"taste":             "flavorProfile",
	"effect":            "effects",
	"medical":           "medicalUses",
	"medical_uses":      "medicalUses",
	"medicaluses":       "medicalUses",
	"flowering":         "floweringTime",
	"flowering_time":    "floweringTime",
	"floweringtime":     "floweringTime",
	"strain_type":       "strainType",
	"straintype":        "strainType",
	"lineage":           "genetics",
	"parents":           "genetics",
}

// listFields werden aus getrennten Strings in Listen umgewandelt.
var listFields = []string{"effects", "dominantTerpenes", "flavorProfile", "medicalUses"}

// schemaTypes ordnet kanonischen Kategorien einen schema.org-Typ zu.
var schemaTypes = map[string]string{
	"Genetics":      "Product",
	"Seeds":         "Product",
	"Accessories":   "Product",
	"CBD Products":  "Product",
	"Breeders":      "Organization",
	"Brands":        "Brand",
	"Dispensaries":  "Store",
	"Organizations": "Organization",
	"Cultivation":   "HowTo",
	"Events":        "Event",
	"Articles":      "Article",
}

// KnownCategories liefert die kanonischen Kategorien, sortiert.
func KnownCategories() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range categorySynonyms {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// CanonicalCategory liefert die kanonische Kategorie; unbekannte Werte werden in Title Case gesetzt.
func CanonicalCategory(category string) string {
	trimmed := strings.Join(strings.Fields(category), " ")
	if trimmed == "" {
		return ""
	}
	if c, ok := categorySynonyms[strings.ToLower(trimmed)]; ok {
		return c
	}
	return cases.Title(language.English).String(trimmed)
}

// SchemaTypeFor liefert den schema.org-Typ einer Kategorie, Standard "Thing".
func SchemaTypeFor(category string) string {
	if t, ok := schemaTypes[CanonicalCategory(category)]; ok {
		return t
	}
	return defaultSchemaType
}

// NormalizeTags setzt Tags in Kleinschreibung (NFC) und entfernt Leere und Dubletten.
func NormalizeTags(tags []string) []string {
	lower := cases.Lower(language.Und)
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = lower.String(norm.NFC.String(strings.TrimSpace(t)))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// StandardizeItem liefert die standardisierte Form von item und ob sich etwas geändert hat.
// Die Funktion ist idempotent: StandardizeItem(StandardizeItem(x)) ändert nichts mehr.
func StandardizeItem(item models.DirectoryItem) (models.DirectoryItem, bool) {
	before := item.Clone()
	before.EnsureDefaults()
	out := before.Clone()

	out.Title = CleanLine(out.Title)
	out.Description = CleanText(out.Description)
	out.Category = CanonicalCategory(out.Category)
	out.Tags = NormalizeTags(out.Tags)

	for key, value := range before.AdditionalFields {
		canonical, ok := fieldSynonyms[strings.ToLower(key)]
		if !ok || canonical == key {
			continue
		}
		if _, taken := out.AdditionalFields[canonical]; taken {
			continue
		}
		delete(out.AdditionalFields, key)
		out.AdditionalFields[canonical] = value
	}

	for _, field := range listFields {
		if v, ok := out.AdditionalFields[field]; ok {
			out.AdditionalFields[field] = coerceList(v)
		}
	}

	if s, _ := out.JSONLD["@context"].(string); s == "" {
		out.JSONLD["@context"] = schemaContext
	}
	if s, _ := out.JSONLD["@type"].(string); s == "" {
		out.JSONLD["@type"] = SchemaTypeFor(out.Category)
	}
	backfill(out.JSONLD, "name", out.Title)
	backfill(out.JSONLD, "description", out.Description)
	backfill(out.JSONLD, "category", out.Category)

	return out, !reflect.DeepEqual(before, out)
}

func backfill(doc map[string]any, key, value string) {
	if value == "" {
		return
	}
	if s, ok := doc[key].(string); ok && s != "" {
		return
	}
	if v, ok := doc[key]; ok && v != nil {
		if _, isString := v.(string); !isString {
			return
		}
	}
	doc[key] = value
}

func coerceList(v any) any {
	switch tv := v.(type) {
	case string:
		parts := strings.FieldsFunc(tv, func(r rune) bool { return r == ',' || r == ';' || r == '|' })
		out := make([]any, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	case []string:
		out := make([]any, 0, len(tv))
		for _, p := range tv {
			out = append(out, p)
		}
		return out
	}
	return v
}

// StandardizeOptions steuern einen Lauf der Standardisierung.
type StandardizeOptions struct {
	BatchSize int `json:"batchSize"`
	// Pause zwischen zwei Seiten; 0 übernimmt die Vorgabe des Standardizers, negativ heißt keine Pause.
	Pause  time.Duration `json:"-"`
	DryRun bool          `json:"dryRun"`
	// Category beschränkt den Lauf auf eine Kategorie (Groß-/Kleinschreibung egal).
	Category string `json:"category,omitempty"`
}

// StandardizeChange beschreibt einen geänderten Eintrag.
type StandardizeChange struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Fields []string `json:"fields"`
}

// StandardizeReport fasst einen Lauf zusammen.
type StandardizeReport struct {
	Scanned   int                 `json:"scanned"`
	Updated   int                 `json:"updated"`
	Unchanged int                 `json:"unchanged"`
	Failed    int                 `json:"failed"`
	DryRun    bool                `json:"dryRun"`
	Changes   []StandardizeChange `json:"changes"`
	Errors    []string            `json:"errors"`
}

// Standardizer läuft seitenweise über alle Einträge und schreibt nur geänderte zurück.
type Standardizer struct {
	Store    storage.Client
	Logger   *zap.Logger
	Defaults StandardizeOptions

	mu      sync.Mutex
	running bool
}

func NewStandardizer(store storage.Client, defaults StandardizeOptions, logger *zap.Logger) *Standardizer {
	return &Standardizer{Store: store, Defaults: defaults, Logger: logger}
}

// ErrStandardizeRunning: es läuft bereits eine Standardisierung.
var ErrStandardizeRunning = errors.New("standardization already running")

// Run standardisiert alle Einträge. Fehler einzelner Einträge landen im Report;
// ein Fehler wird nur geliefert, wenn das Lesen scheitert oder ctx endet.
func (s *Standardizer) Run(ctx context.Context, opts StandardizeOptions) (*StandardizeReport, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil, ErrStandardizeRunning
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if opts.BatchSize <= 0 {
		opts.BatchSize = s.Defaults.BatchSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Pause == 0 {
		opts.Pause = s.Defaults.Pause
	}
	if opts.Pause < 0 {
		opts.Pause = 0
	}

	report := &StandardizeReport{DryRun: opts.DryRun, Changes: []StandardizeChange{}, Errors: []string{}}
	log := s.Logger.With(zap.Bool("dry_run", opts.DryRun), zap.String("category", opts.Category))
	log.Info("Starte Standardisierung", zap.Int("batch_size", opts.BatchSize))

	var mu sync.Mutex
	for offset := 0; ; offset += opts.BatchSize {
		batch, err := s.Store.Select(ctx, storage.SelectOptions{
			OrderBy: models.ColID,
			Limit:   opts.BatchSize,
			Offset:  offset,
		})
		if err != nil {
			return report, fmt.Errorf("load batch at offset %d: %w", offset, err)
		}

		var g errgroup.Group
		g.SetLimit(standardizeUpdateConcurrency)
		for _, item := range batch {
			if opts.Category != "" && !strings.EqualFold(CanonicalCategory(item.Category), CanonicalCategory(opts.Category)) {
				continue
			}
			report.Scanned++
			std, changed := StandardizeItem(item)
			if !changed {
				report.Unchanged++
				standardizedItems.WithLabelValues("unchanged").Inc()
				continue
			}
			change := StandardizeChange{ID: item.ID, Title: std.Title, Fields: changedColumns(item, std)}
			if opts.DryRun {
				report.Updated++
				report.Changes = append(report.Changes, change)
				continue
			}
			g.Go(func() error {
				_, err := s.Store.Update(ctx, item.ID, &std, models.ContentColumns)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					report.Failed++
					report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", item.ID, err))
					standardizedItems.WithLabelValues("failed").Inc()
					return nil
				}
				report.Updated++
				report.Changes = append(report.Changes, change)
				standardizedItems.WithLabelValues("updated").Inc()
				return nil
			})
		}
		_ = g.Wait()

		log.Info("Batch standardisiert",
			zap.Int("offset", offset), zap.Int("scanned", report.Scanned), zap.Int("updated", report.Updated))

		if len(batch) < opts.BatchSize {
			break
		}
		select {
		case <-ctx.Done():
			return report, ctx.Err()
		case <-time.After(opts.Pause):
		}
	}

	log.Info("Standardisierung abgeschlossen",
		zap.Int("scanned", report.Scanned), zap.Int("updated", report.Updated),
		zap.Int("unchanged", report.Unchanged), zap.Int("failed", report.Failed))
	return report, nil
}

func changedColumns(before, after models.DirectoryItem) []string {
	before.EnsureDefaults()
	var out []string
	if before.Title != after.Title {
		out = append(out, models.ColTitle)
	}
	if before.Category != after.Category {
		out = append(out, models.ColCategory)
	}
	if !reflect.DeepEqual(before.Tags, after.Tags) {
		out = append(out, models.ColTags)
	}
	if !reflect.DeepEqual(before.AdditionalFields, after.AdditionalFields) {
		out = append(out, models.ColAdditionalFields)
	}
	if !reflect.DeepEqual(before.JSONLD, after.JSONLD) {
		out = append(out, models.ColJSONLD)
	}
	return out
}
