package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"canna-directory/models"
	"canna-directory/storage"
)

const duplicateLookupConcurrency = 5

// CompositeKey baut den Schlüssel title-category[-breederSource|-subcategory] in Kleinschreibung.
// Ein Züchter/Herkunft-Wert hat Vorrang vor der Unterkategorie.
func CompositeKey(item models.DirectoryItem) string {
	key := strings.ToLower(strings.TrimSpace(item.Title)) + "-" + strings.ToLower(strings.TrimSpace(item.Category))
	if bs := item.BreederSource(); bs != "" {
		return key + "-" + strings.ToLower(bs)
	}
	if sub := strings.TrimSpace(item.Subcategory); sub != "" {
		return key + "-" + strings.ToLower(sub)
	}
	return key
}

// BatchCheck ist das Ergebnis der Duplikatprüfung innerhalb eines Batches.
type BatchCheck struct {
	// Unique enthält die Indizes der ersten Vorkommen je Schlüssel.
	Unique []int
	// InBatch ordnet Duplikat-Index -> Index des ersten Vorkommens.
	InBatch map[int]int
	// Invalid enthält Einträge ohne Titel oder Kategorie.
	Invalid []int
}

// CheckBatch markiert Duplikate innerhalb von items anhand des CompositeKey.
func CheckBatch(items []models.DirectoryItem) BatchCheck {
	res := BatchCheck{InBatch: map[int]int{}}
	first := map[string]int{}
	for i, it := range items {
		if strings.TrimSpace(it.Title) == "" || strings.TrimSpace(it.Category) == "" {
			res.Invalid = append(res.Invalid, i)
			continue
		}
		key := CompositeKey(it)
		if j, ok := first[key]; ok {
			res.InBatch[i] = j
			continue
		}
		first[key] = i
		res.Unique = append(res.Unique, i)
	}
	return res
}

// DuplicateDetector prüft Einträge gegen den persistierten Bestand.
type DuplicateDetector struct {
	Store   storage.Client
	Logger  *zap.Logger
	Timeout time.Duration
	// Limit begrenzt, wie viele Einträge eines Batches gegen den Bestand geprüft werden.
	Limit int
}

func NewDuplicateDetector(store storage.Client, timeout time.Duration, limit int, logger *zap.Logger) *DuplicateDetector {
	return &DuplicateDetector{Store: store, Timeout: timeout, Limit: limit, Logger: logger}
}

// FindExisting sucht persistierte Einträge mit gleichem Titel und gleicher Kategorie
// (und Unterkategorie, falls gesetzt). Hat der neue Eintrag einen Züchter/Herkunft-Wert,
// zählen nur Treffer mit identischem Wert.
func (d *DuplicateDetector) FindExisting(ctx context.Context, item models.DirectoryItem) ([]models.DirectoryItem, error) {
	filters := map[string]any{
		models.ColTitle:    item.Title,
		models.ColCategory: item.Category,
	}
	if item.Subcategory != "" {
		filters[models.ColSubcategory] = item.Subcategory
	}
	found, err := d.Store.Select(ctx, storage.SelectOptions{Filters: filters, OrderBy: models.ColCreatedAt})
	if err != nil {
		return nil, err
	}

	bs := item.BreederSource()
	if bs == "" {
		return found, nil
	}
	var matches []models.DirectoryItem
	for _, f := range found {
		if strings.EqualFold(f.BreederSource(), bs) {
			matches = append(matches, f)
		}
	}
	return matches, nil
}

// CheckPersisted prüft die ersten Limit Einträge gegen den Bestand und liefert
// Index -> Treffer. Einzelne Fehler zählen als "kein Duplikat". Läuft die gesamte
// Prüfung länger als Timeout, wird sie abgebrochen und es gilt: keine Duplikate.
func (d *DuplicateDetector) CheckPersisted(ctx context.Context, items []models.DirectoryItem) map[int][]models.DirectoryItem {
	n := len(items)
	if d.Limit > 0 && n > d.Limit {
		n = d.Limit
	}
	if n == 0 {
		return map[int][]models.DirectoryItem{}
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	found := map[int][]models.DirectoryItem{}

	// Verteilung und Warten laufen im Hintergrund; g.Go blockiert bei erreichtem Limit,
	// die Frist darf davon nicht abhängen.
	done := make(chan struct{})
	go func() {
		defer close(done)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(duplicateLookupConcurrency)
		for i := 0; i < n; i++ {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				matches, err := d.FindExisting(gctx, items[i])
				if err != nil {
					if gctx.Err() == nil {
						d.Logger.Warn("Duplikatprüfung fehlgeschlagen, Eintrag gilt als neu",
							zap.String("title", items[i].Title), zap.Error(err))
					}
					return nil
				}
				if len(matches) > 0 {
					mu.Lock()
					found[i] = matches
					mu.Unlock()
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case <-done:
		if ctx.Err() != nil {
			d.abandon(n)
			return map[int][]models.DirectoryItem{}
		}
		mu.Lock()
		defer mu.Unlock()
		return found
	case <-ctx.Done():
		d.abandon(n)
		return map[int][]models.DirectoryItem{}
	}
}

func (d *DuplicateDetector) abandon(n int) {
	duplicateCheckTimeouts.Inc()
	d.Logger.Warn("Duplikatprüfung abgebrochen, fahre ohne Duplikate fort",
		zap.Duration("timeout", d.Timeout), zap.Int("items", n))
}
