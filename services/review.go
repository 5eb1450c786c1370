package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"canna-directory/models"
	"canna-directory/storage"
)

// ResolveSummary beschreibt, was eine Gruppenauflösung geschrieben hat.
type ResolveSummary struct {
	Action   models.GroupAction    `json:"action"`
	Primary  *models.DirectoryItem `json:"primary,omitempty"`
	Updated  []string              `json:"updated"`
	Deleted  []string              `json:"deleted"`
	Variants []string              `json:"variants"`
	Errors   []string              `json:"errors"`
}

// ReviewService baut Gruppen ähnlicher Einträge für die manuelle Prüfung und wendet
// die gewählte Aktion an.
type ReviewService struct {
	Store  storage.Client
	Logger *zap.Logger
	Now    func() time.Time
}

func NewReviewService(store storage.Client, logger *zap.Logger) *ReviewService {
	return &ReviewService{Store: store, Logger: logger, Now: time.Now}
}

// FindGroups lädt die Einträge einer Kategorie (leer: alle) und gruppiert sie unscharf.
func (s *ReviewService) FindGroups(ctx context.Context, category string, threshold float64) ([]models.DuplicateGroup, error) {
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("%w, got %v", ErrInvalidThreshold, threshold)
	}
	opts := storage.SelectOptions{OrderBy: models.ColCreatedAt}
	if category != "" {
		opts.Filters = map[string]any{models.ColCategory: category}
	}
	items, err := s.Store.Select(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	groups := GroupFuzzyDuplicates(items, threshold)
	s.Logger.Info("Duplikatgruppen gebildet",
		zap.String("category", category), zap.Float64("threshold", threshold),
		zap.Int("items", len(items)), zap.Int("groups", len(groups)))
	return groups, nil
}

// ResolveGroup wendet group.Action auf die ausgewählten Duplikate an. Die Einträge
// werden frisch geladen, damit veraltete Kopien aus der Prüfsitzung nichts überschreiben.
func (s *ReviewService) ResolveGroup(ctx context.Context, group models.DuplicateGroup) (*ResolveSummary, error) {
	summary := &ResolveSummary{Action: group.Action, Updated: []string{}, Deleted: []string{}, Variants: []string{}, Errors: []string{}}
	if group.Action == models.ActionKeep || group.Action == "" {
		summary.Action = models.ActionKeep
		return summary, nil
	}
	if group.PrimaryRecord.ID == "" {
		return nil, errors.New("primary record has no id")
	}

	primary, err := s.load(ctx, group.PrimaryRecord.ID)
	if err != nil {
		return nil, fmt.Errorf("load primary: %w", err)
	}
	summary.Primary = primary

	var selected []models.DirectoryItem
	for _, id := range group.SelectedDuplicates {
		if id == "" || id == primary.ID {
			continue
		}
		item, err := s.load(ctx, id)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		selected = append(selected, *item)
	}
	if len(selected) == 0 {
		return summary, nil
	}

	switch group.Action {
	case models.ActionMerge:
		merged := MergeItems(*primary, selected, s.Now(), mergeSourceReview)
		updated, err := s.Store.Update(ctx, primary.ID, &merged, models.ContentColumns)
		if err != nil {
			return nil, fmt.Errorf("update primary %s: %w", primary.ID, err)
		}
		summary.Primary = updated
		summary.Updated = append(summary.Updated, primary.ID)
		s.deleteAll(ctx, selected, summary)

	case models.ActionVariant:
		for n, dup := range selected {
			variant := MakeVariant(dup, fmt.Sprintf("Variant %d", n+1), s.Now(), primary.ID)
			if _, err := s.Store.Update(ctx, dup.ID, &variant, models.ContentColumns); err != nil {
				summary.Errors = append(summary.Errors, fmt.Sprintf("%s: %v", dup.ID, err))
				continue
			}
			summary.Variants = append(summary.Variants, dup.ID)
		}

	case models.ActionDelete:
		s.deleteAll(ctx, selected, summary)

	default:
		return nil, fmt.Errorf("unknown group action %q", group.Action)
	}

	s.Logger.Info("Duplikatgruppe aufgelöst",
		zap.String("action", string(group.Action)), zap.String("primary", primary.ID),
		zap.Int("updated", len(summary.Updated)), zap.Int("deleted", len(summary.Deleted)),
		zap.Int("variants", len(summary.Variants)), zap.Int("errors", len(summary.Errors)))
	return summary, nil
}

// DeleteMany löscht mehrere Einträge; fehlende IDs werden als Fehler gemeldet.
func (s *ReviewService) DeleteMany(ctx context.Context, ids []string) (deleted []string, failed []string) {
	deleted, failed = []string{}, []string{}
	for _, id := range ids {
		if err := s.Store.Delete(ctx, id); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		deleted = append(deleted, id)
	}
	return deleted, failed
}

func (s *ReviewService) deleteAll(ctx context.Context, items []models.DirectoryItem, summary *ResolveSummary) {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	deleted, failed := s.DeleteMany(ctx, ids)
	summary.Deleted = append(summary.Deleted, deleted...)
	summary.Errors = append(summary.Errors, failed...)
}

func (s *ReviewService) load(ctx context.Context, id string) (*models.DirectoryItem, error) {
	items, err := s.Store.Select(ctx, storage.SelectOptions{
		Filters: map[string]any{models.ColID: id},
		Single:  true,
	})
	if err != nil {
		return nil, err
	}
	return &items[0], nil
}
