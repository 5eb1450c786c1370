package services

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"canna-directory/models"
	"canna-directory/storage"
)

const defaultBatchSize = 50

// ImportOptions steuern einen Batch-Import. Leere Felder übernehmen die Defaults des Importers.
type ImportOptions struct {
	// DuplicateMode ist die Strategie für erkannte Duplikate, Standard skip.
	DuplicateMode models.DuplicateMode `json:"duplicateHandlingMode"`
	// BatchSize ist die Größe eines Chunks, Standard 50.
	BatchSize int `json:"batchSize"`
	// VariantInfo ergänzt Variantentitel, wenn kein Züchter bekannt ist.
	VariantInfo string `json:"variantInfo,omitempty"`
	// FallbackColumns ist die Projektion für den Wiederholungsversuch bei unbekannten Spalten.
	FallbackColumns []string `json:"fallbackColumns,omitempty"`
	Reporter        Reporter `json:"-"`
}

// Importer führt Einträge chunkweise durch Duplikatprüfung, Auflösung und Persistenz.
type Importer struct {
	Store       storage.Client
	Detector    *DuplicateDetector
	Resolver    *Resolver
	Transformer *RowTransformer
	Logger      *zap.Logger
	Defaults    ImportOptions
}

func NewImporter(store storage.Client, detector *DuplicateDetector, resolver *Resolver, transformer *RowTransformer, defaults ImportOptions, logger *zap.Logger) *Importer {
	return &Importer{
		Store:       store,
		Detector:    detector,
		Resolver:    resolver,
		Transformer: transformer,
		Defaults:    defaults,
		Logger:      logger,
	}
}

// ImportRows transformiert Rohzeilen und importiert sie. Fehler werden nur für
// fatale Fälle geliefert (keine Daten, kein Titel-Mapping, ungültiger Modus).
func (im *Importer) ImportRows(ctx context.Context, rows []models.RawRow, cfg models.MappingConfig, opts ImportOptions) (*models.ImportResult, error) {
	if len(rows) == 0 {
		return nil, ErrNoData
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = im.withDefaults(opts)
	opts.Reporter.Step("Transformiere Zeilen", zap.Int("rows", len(rows)))

	items := im.Transformer.TransformAll(rows, cfg)
	result, err := im.ImportItems(ctx, items, opts)
	if err != nil {
		return nil, err
	}
	result.MissingColumns = MissingColumns(rows, cfg)
	return result, nil
}

// ImportItems importiert bereits transformierte Einträge. Chunks laufen strikt
// nacheinander, innerhalb eines Chunks werden Einträge nebenläufig aufgelöst.
// Das Ergebnis ist immer vollständig, auch wenn einzelne Einträge scheitern.
func (im *Importer) ImportItems(ctx context.Context, items []models.DirectoryItem, opts ImportOptions) (*models.ImportResult, error) {
	if len(items) == 0 {
		return nil, ErrNoData
	}
	opts = im.withDefaults(opts)
	if !opts.DuplicateMode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, opts.DuplicateMode)
	}

	items = append([]models.DirectoryItem(nil), items...)
	for i := range items {
		items[i].EnsureDefaults()
	}

	log := im.Logger.With(zap.String("mode", string(opts.DuplicateMode)), zap.Int("items", len(items)))
	opts.Reporter.Step("Starte Import", zap.Int("items", len(items)), zap.Int("batchSize", opts.BatchSize))

	check := CheckBatch(items)
	invalid := make(map[int]bool, len(check.Invalid))
	for _, i := range check.Invalid {
		invalid[i] = true
	}
	if len(check.InBatch) > 0 {
		opts.Reporter.Step("Duplikate im Batch erkannt", zap.Int("count", len(check.InBatch)))
	}

	acc := &accumulator{result: models.NewImportResult(), reporter: opts.Reporter, ids: map[int]string{}}
	processed := 0
	for start := 0; start < len(items); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(items))
		if err := ctx.Err(); err != nil {
			for i := start; i < len(items); i++ {
				acc.fail(items[i], fmt.Sprintf("import cancelled: %v", err))
			}
			log.Warn("Import abgebrochen", zap.Int("processed", processed), zap.Error(err))
			break
		}

		im.processChunk(ctx, items, start, end, check, invalid, opts, acc)

		processed = end
		opts.Reporter.Progress(processed, len(items))
	}

	c := acc.result.Counts
	log.Info("Import abgeschlossen",
		zap.Int("inserted", c.Inserted), zap.Int("skipped", c.Skipped),
		zap.Int("replaced", c.Replaced), zap.Int("merged", c.Merged),
		zap.Int("variants", c.Variants), zap.Int("errors", c.Errors),
		zap.Int("duplicates", c.Duplicates))
	return acc.result, nil
}

func (im *Importer) processChunk(ctx context.Context, items []models.DirectoryItem, start, end int, check BatchCheck, invalid map[int]bool, opts ImportOptions, acc *accumulator) {
	var unique, inBatch []int
	for i := start; i < end; i++ {
		switch {
		case invalid[i]:
			acc.fail(items[i], "missing required title or category")
		case hasKey(check.InBatch, i):
			inBatch = append(inBatch, i)
		default:
			unique = append(unique, i)
		}
	}

	// 1. Prüfung gegen den Bestand, begrenzt durch Timeout und Limit
	candidates := make([]models.DirectoryItem, len(unique))
	for n, i := range unique {
		candidates[n] = items[i]
	}
	existing := im.Detector.CheckPersisted(ctx, candidates)

	var fresh, matched []int
	for n, i := range unique {
		if m, ok := existing[n]; ok {
			acc.duplicate(items[i], fmt.Sprintf("duplicate of existing item %s", m[0].ID))
			acc.remember(i, m[0].ID)
			matched = append(matched, i)
			continue
		}
		fresh = append(fresh, i)
	}

	// 2. Neue Einträge gesammelt schreiben
	if len(fresh) > 0 {
		im.insertFresh(ctx, items, fresh, opts, acc)
	}

	// 3. Treffer im Bestand nebenläufig auflösen
	var g errgroup.Group
	g.SetLimit(max(len(matched), 1))
	for _, i := range matched {
		g.Go(func() error {
			im.resolveAgainst(ctx, items[i], acc.persistedID(i), opts, acc)
			return nil
		})
	}
	_ = g.Wait()

	// 4. Duplikate innerhalb des Batches zuletzt, aufgelöst gegen den Eintrag ihres ersten Vorkommens
	for _, i := range inBatch {
		first := check.InBatch[i]
		acc.duplicate(items[i], fmt.Sprintf("duplicate of row %d in this batch", first+1))
		im.resolveAgainst(ctx, items[i], acc.persistedID(first), opts, acc)
	}
}

// insertFresh schreibt die Einträge mit den Indizes idx und merkt sich ihre IDs.
func (im *Importer) insertFresh(ctx context.Context, items []models.DirectoryItem, idx []int, opts ImportOptions, acc *accumulator) {
	fresh := make([]models.DirectoryItem, len(idx))
	for n, i := range idx {
		fresh[n] = items[i]
	}
	inserted, err := im.Store.BulkInsert(ctx, fresh, storage.BulkInsertOptions{FallbackColumns: opts.FallbackColumns})
	if err == nil {
		for n, it := range inserted {
			if n < len(idx) {
				acc.remember(idx[n], it.ID)
			}
			acc.succeed(models.OutcomeInserted, it)
		}
		return
	}

	im.Logger.Warn("Bulk-Insert fehlgeschlagen, schreibe einzeln", zap.Int("items", len(fresh)), zap.Error(err))
	var g errgroup.Group
	g.SetLimit(len(fresh))
	for n, it := range fresh {
		g.Go(func() error {
			if err := im.Store.Insert(ctx, &it, storage.InsertOptions{}); err != nil {
				acc.fail(it, err.Error())
				return nil
			}
			acc.remember(idx[n], it.ID)
			acc.succeed(models.OutcomeInserted, it)
			return nil
		})
	}
	_ = g.Wait()
}

func (im *Importer) resolveAgainst(ctx context.Context, item models.DirectoryItem, targetID string, opts ImportOptions, acc *accumulator) {
	outcome, written, err := im.Resolver.ResolveAgainst(ctx, item, targetID, opts.DuplicateMode, opts.VariantInfo)
	if err != nil {
		im.Logger.Warn("Duplikat konnte nicht aufgelöst werden", zap.String("title", item.Title), zap.Error(err))
		acc.fail(item, err.Error())
		return
	}
	if written == nil {
		acc.count(outcome)
		return
	}
	acc.succeed(outcome, *written)
}

func (im *Importer) withDefaults(opts ImportOptions) ImportOptions {
	if opts.DuplicateMode == "" {
		opts.DuplicateMode = im.Defaults.DuplicateMode
	}
	if opts.DuplicateMode == "" {
		opts.DuplicateMode = models.ModeSkip
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = im.Defaults.BatchSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FallbackColumns == nil {
		opts.FallbackColumns = im.Defaults.FallbackColumns
	}
	if opts.Reporter == nil {
		opts.Reporter = im.Defaults.Reporter
	}
	if opts.Reporter == nil {
		opts.Reporter = nopReporter{}
	}
	return opts
}

// MissingColumns liefert gemappte Quellspalten, die in keiner Zeile vorkommen.
func MissingColumns(rows []models.RawRow, cfg models.MappingConfig) []string {
	var missing []string
	seen := map[string]bool{}
	for _, col := range cfg.SourceColumns() {
		if seen[col] {
			continue
		}
		seen[col] = true
		found := false
		for _, row := range rows {
			if _, ok := row[col]; ok {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, col)
		}
	}
	return missing
}

func hasKey(m map[int]int, k int) bool {
	_, ok := m[k]
	return ok
}

// accumulator sammelt Ergebnisse nebenläufiger Auflösungen.
type accumulator struct {
	mu       sync.Mutex
	result   *models.ImportResult
	reporter Reporter
	// ids: Index im Import -> ID des persistierten Eintrags (neu geschrieben oder Treffer im Bestand)
	ids map[int]string
}

func (a *accumulator) remember(i int, id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids[i] = id
}

func (a *accumulator) persistedID(i int) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ids[i]
}

func (a *accumulator) succeed(o models.Outcome, item models.DirectoryItem) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result.Success = append(a.result.Success, item)
	a.result.Counts.Add(o)
	a.reporter.Outcome(o)
}

func (a *accumulator) count(o models.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result.Counts.Add(o)
	a.reporter.Outcome(o)
}

func (a *accumulator) fail(item models.DirectoryItem, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result.Errors = append(a.result.Errors, models.ImportError{Item: item, Message: strings.TrimSpace(msg)})
	a.result.Counts.Add(models.OutcomeError)
	a.reporter.Outcome(models.OutcomeError)
}

func (a *accumulator) duplicate(item models.DirectoryItem, msg string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result.Duplicates = append(a.result.Duplicates, models.DuplicateReport{Item: item, Error: msg})
	a.result.Counts.Duplicates++
}
