package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"canna-directory/models"
	"canna-directory/storage"
)

// memStore ist ein storage.Client im Speicher für Service-Tests.
type memStore struct {
	mu    sync.Mutex
	items map[string]models.DirectoryItem
	seq   int

	selectDelay time.Duration
	// selectStall blockiert Select, ohne auf ctx zu reagieren
	selectStall time.Duration
	selectErr   error
	bulkErr     error
	insertErr   func(models.DirectoryItem) error

	bulkCalls   int
	insertCalls int
	updateCalls int
}

func newMemStore(seed ...models.DirectoryItem) *memStore {
	s := &memStore{items: map[string]models.DirectoryItem{}}
	for _, it := range seed {
		_ = s.Insert(context.Background(), &it, storage.InsertOptions{})
	}
	return s
}

func (s *memStore) Select(ctx context.Context, opts storage.SelectOptions) ([]models.DirectoryItem, error) {
	if s.selectStall > 0 {
		time.Sleep(s.selectStall)
	}
	if s.selectDelay > 0 {
		select {
		case <-time.After(s.selectDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selectErr != nil {
		return nil, s.selectErr
	}

	var out []models.DirectoryItem
	for _, it := range s.items {
		if matches(it, opts.Filters) {
			out = append(out, it.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if opts.OrderBy == models.ColID {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			out = nil
		} else {
			out = out[opts.Offset:]
		}
	}
	if opts.Single && len(out) > 1 {
		out = out[:1]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	if opts.Single && len(out) == 0 {
		return nil, storage.ErrNotFound
	}
	return out, nil
}

func (s *memStore) Insert(ctx context.Context, item *models.DirectoryItem, opts storage.InsertOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	if s.insertErr != nil {
		if err := s.insertErr(*item); err != nil {
			return err
		}
	}
	s.put(item)
	return nil
}

func (s *memStore) put(item *models.DirectoryItem) {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	s.seq++
	item.CreatedAt = time.Date(2024, 1, 1, 0, 0, s.seq, 0, time.UTC)
	item.UpdatedAt = item.CreatedAt
	item.EnsureDefaults()
	s.items[item.ID] = item.Clone()
}

func (s *memStore) Update(ctx context.Context, id string, item *models.DirectoryItem, columns []string) (*models.DirectoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	current, ok := s.items[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	next := item.Clone()
	next.ID = id
	next.CreatedAt = current.CreatedAt
	next.UpdatedAt = current.UpdatedAt.Add(time.Second)
	next.EnsureDefaults()
	s.items[id] = next
	out := next.Clone()
	return &out, nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *memStore) BulkInsert(ctx context.Context, items []models.DirectoryItem, opts storage.BulkInsertOptions) ([]models.DirectoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bulkCalls++
	if s.bulkErr != nil {
		return nil, s.bulkErr
	}
	out := make([]models.DirectoryItem, len(items))
	for i := range items {
		it := items[i].Clone()
		s.put(&it)
		out[i] = it
	}
	return out, nil
}

func (s *memStore) all() []models.DirectoryItem {
	items, _ := s.Select(context.Background(), storage.SelectOptions{})
	return items
}

func (s *memStore) byTitle(title string) []models.DirectoryItem {
	items, _ := s.Select(context.Background(), storage.SelectOptions{Filters: map[string]any{models.ColTitle: title}})
	return items
}

func matches(it models.DirectoryItem, filters map[string]any) bool {
	for col, want := range filters {
		var got string
		switch col {
		case models.ColID:
			got = it.ID
		case models.ColTitle:
			got = it.Title
		case models.ColCategory:
			got = it.Category
		case models.ColSubcategory:
			got = it.Subcategory
		default:
			return false
		}
		if got != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// recordingReporter sammelt Schritte, Fortschritt und Ergebnisse.
type recordingReporter struct {
	mu       sync.Mutex
	steps    []string
	progress [][2]int
	outcomes []models.Outcome
}

func (r *recordingReporter) Step(msg string, _ ...zap.Field) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, msg)
}

func (r *recordingReporter) Progress(processed, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, [2]int{processed, total})
}

func (r *recordingReporter) Outcome(o models.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

var errBackend = errors.New("backend unavailable")

func newTestImporter(t *testing.T, store storage.Client) *Importer {
	t.Helper()
	logger := zap.NewNop()
	detector := NewDuplicateDetector(store, time.Second, 50, logger)
	resolver := NewResolver(store, detector, logger)
	resolver.Now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return NewImporter(store, detector, resolver, NewRowTransformer(logger), ImportOptions{BatchSize: 25}, logger)
}
