package services

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"canna-directory/models"
	"canna-directory/storage"
)

const (
	mergeSourceImport = "bulk-import"
	mergeSourceReview = "dedupe-tool"
)

// Resolver wendet eine Duplikat-Strategie auf einen einzelnen Eintrag an.
// Gleichzeitige replace/merge-Auflösungen auf denselben Zieleintrag sind nicht
// gegeneinander geschützt: der letzte Schreibvorgang gewinnt.
type Resolver struct {
	Store    storage.Client
	Detector *DuplicateDetector
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewResolver(store storage.Client, detector *DuplicateDetector, logger *zap.Logger) *Resolver {
	return &Resolver{Store: store, Detector: detector, Logger: logger, Now: time.Now}
}

// Resolve behandelt item als Duplikat gemäß mode. Das zurückgegebene Element ist
// der geschriebene Stand (nil bei skip).
func (r *Resolver) Resolve(ctx context.Context, item models.DirectoryItem, mode models.DuplicateMode, variantInfo string) (models.Outcome, *models.DirectoryItem, error) {
	return r.ResolveAgainst(ctx, item, "", mode, variantInfo)
}

// ResolveAgainst wie Resolve, aber gegen den Eintrag mit targetID. Bei leerer targetID
// wird das Ziel über FindExisting gesucht.
func (r *Resolver) ResolveAgainst(ctx context.Context, item models.DirectoryItem, targetID string, mode models.DuplicateMode, variantInfo string) (models.Outcome, *models.DirectoryItem, error) {
	switch mode {
	case models.ModeSkip, "":
		return models.OutcomeSkipped, nil, nil

	case models.ModeReplace:
		target, err := r.target(ctx, item, targetID)
		if err != nil {
			return models.OutcomeError, nil, err
		}
		replacement := item.Clone()
		replacement.ID = target.ID
		updated, err := r.Store.Update(ctx, target.ID, &replacement, models.ContentColumns)
		if err != nil {
			return models.OutcomeError, nil, fmt.Errorf("replace %s: %w", target.ID, err)
		}
		return models.OutcomeReplaced, updated, nil

	case models.ModeMerge:
		target, err := r.target(ctx, item, targetID)
		if err != nil {
			return models.OutcomeError, nil, err
		}
		merged := MergeItems(*target, []models.DirectoryItem{item}, r.Now(), mergeSourceImport)
		updated, err := r.Store.Update(ctx, target.ID, &merged, models.ContentColumns)
		if err != nil {
			return models.OutcomeError, nil, fmt.Errorf("merge into %s: %w", target.ID, err)
		}
		return models.OutcomeMerged, updated, nil

	case models.ModeVariant:
		primaryID := targetID
		if primaryID == "" {
			if matches, err := r.Detector.FindExisting(ctx, item); err == nil && len(matches) > 0 {
				primaryID = matches[0].ID
			}
		}
		variant := MakeVariant(item, variantInfo, r.Now(), primaryID)
		variant.ID = ""
		if err := r.Store.Insert(ctx, &variant, storage.InsertOptions{}); err != nil {
			return models.OutcomeError, nil, fmt.Errorf("insert variant: %w", err)
		}
		return models.OutcomeVariant, &variant, nil
	}
	return models.OutcomeError, nil, fmt.Errorf("unknown duplicate mode %q", mode)
}

func (r *Resolver) target(ctx context.Context, item models.DirectoryItem, targetID string) (*models.DirectoryItem, error) {
	if targetID == "" {
		return r.firstMatch(ctx, item)
	}
	found, err := r.Store.Select(ctx, storage.SelectOptions{
		Filters: map[string]any{models.ColID: targetID},
		Single:  true,
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: item %s vanished", ErrNoMatch, targetID)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", targetID, err)
	}
	return &found[0], nil
}

func (r *Resolver) firstMatch(ctx context.Context, item models.DirectoryItem) (*models.DirectoryItem, error) {
	matches, err := r.Detector.FindExisting(ctx, item)
	if err != nil {
		return nil, fmt.Errorf("lookup match: %w", err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w for %q in %q", ErrNoMatch, item.Title, item.Category)
	}
	return &matches[0], nil
}

// MergeItems führt duplicates in primary zusammen:
//   - Tags: Vereinigungsmenge.
//   - additionalFields: fehlende oder leere Werte werden gefüllt; bei Konflikt gewinnt
//     das erste Duplikat, Werte späterer Duplikate landen unter alt_<feld>_<n>
//     mit dem ersten freien n ab 1.
//   - Beschreibung: der längere Text gewinnt.
//   - metaData.mergeHistory erhält je Duplikat einen Eintrag {date, source}.
func MergeItems(primary models.DirectoryItem, duplicates []models.DirectoryItem, now time.Time, source string) models.DirectoryItem {
	out := primary.Clone()
	out.EnsureDefaults()

	seenTags := make(map[string]bool, len(out.Tags))
	for _, t := range out.Tags {
		seenTags[t] = true
	}

	overwritten := map[string]bool{}
	history := mergeHistory(out.MetaData)
	stamp := now.UTC().Format(time.RFC3339)

	for n, dup := range duplicates {
		for _, t := range dup.Tags {
			if !seenTags[t] {
				seenTags[t] = true
				out.Tags = append(out.Tags, t)
			}
		}

		for k, v := range dup.AdditionalFields {
			if isEmptyValue(v) {
				continue
			}
			current, ok := out.AdditionalFields[k]
			if !ok || isEmptyValue(current) {
				out.AdditionalFields[k] = v
				continue
			}
			if reflect.DeepEqual(current, v) {
				continue
			}
			if n == 0 && !overwritten[k] {
				out.AdditionalFields[k] = v
				overwritten[k] = true
				continue
			}
			out.AdditionalFields[altKey(out.AdditionalFields, k)] = v
		}

		if len(strings.TrimSpace(dup.Description)) > len(strings.TrimSpace(out.Description)) {
			out.Description = dup.Description
		}
		if out.ImageURL == "" {
			out.ImageURL = dup.ImageURL
		}
		if out.ThumbnailURL == "" {
			out.ThumbnailURL = dup.ThumbnailURL
		}
		if out.Subcategory == "" {
			out.Subcategory = dup.Subcategory
		}
		for k, v := range dup.JSONLD {
			if _, ok := out.JSONLD[k]; !ok {
				out.JSONLD[k] = v
			}
		}

		history = append(history, map[string]any{"date": stamp, "source": source})
	}

	if len(duplicates) > 0 {
		out.MetaData["mergeHistory"] = history
		out.MetaData["lastMergedAt"] = stamp
		if _, ok := out.JSONLD["description"]; ok {
			out.JSONLD["description"] = out.Description
		}
	}
	return out
}

// MakeVariant markiert item als Variante mit ergänztem Titel:
// "<title> (<breeder>)", sonst "<title> (<variantInfo>)", sonst "<title> (Variant <ms>)".
func MakeVariant(item models.DirectoryItem, variantInfo string, now time.Time, primaryID string) models.DirectoryItem {
	out := item.Clone()
	out.EnsureDefaults()

	suffix := out.BreederSource()
	if suffix == "" {
		suffix = strings.TrimSpace(variantInfo)
	}
	if suffix == "" {
		suffix = fmt.Sprintf("Variant %d", now.UnixMilli())
	}

	original := out.Title
	if orig, ok := out.MetaData["originalTitle"].(string); ok && orig != "" {
		original = orig
	}
	out.Title = fmt.Sprintf("%s (%s)", original, suffix)
	out.MetaData["isVariant"] = true
	out.MetaData["originalTitle"] = original
	if primaryID != "" {
		out.MetaData["variantOf"] = primaryID
	}
	out.JSONLD["name"] = out.Title
	return out
}

func mergeHistory(meta datatypes.JSONMap) []any {
	switch h := meta["mergeHistory"].(type) {
	case []any:
		return append([]any{}, h...)
	case []map[string]any:
		out := make([]any, 0, len(h))
		for _, e := range h {
			out = append(out, e)
		}
		return out
	}
	return []any{}
}

func altKey(fields datatypes.JSONMap, key string) string {
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("alt_%s_%d", key, n)
		if _, taken := fields[candidate]; !taken {
			return candidate
		}
	}
}

func isEmptyValue(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
