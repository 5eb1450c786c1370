package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"canna-directory/models"
)

func messyItem(title, category string) models.DirectoryItem {
	return models.DirectoryItem{
		Title:       title,
		Description: "desc " + title,
		Category:    category,
		Tags:        []string{"Indica", "indica", " Classic ", ""},
		AdditionalFields: datatypes.JSONMap{
			"THC":      "20%",
			"effects":  "relaxed; sleepy | happy",
			"Terpenes": "myrcene, limonene",
		},
		JSONLD: datatypes.JSONMap{"name": title},
	}
}

func TestStandardizeItem(t *testing.T) {
	out, changed := StandardizeItem(messyItem("Northern Lights", "genetics"))
	require.True(t, changed)

	assert.Equal(t, "Genetics", out.Category)
	assert.Equal(t, []string{"indica", "classic"}, out.Tags)
	assert.Equal(t, "20%", out.AdditionalFields["thcContent"])
	assert.NotContains(t, out.AdditionalFields, "THC")
	assert.Equal(t, []any{"relaxed", "sleepy", "happy"}, out.AdditionalFields["effects"])
	assert.Equal(t, []any{"myrcene", "limonene"}, out.AdditionalFields["dominantTerpenes"])
	assert.Equal(t, "https://schema.org", out.JSONLD["@context"])
	assert.Equal(t, "Product", out.JSONLD["@type"])
	assert.Equal(t, "Northern Lights", out.JSONLD["name"])
	assert.Equal(t, "desc Northern Lights", out.JSONLD["description"])
	assert.Equal(t, "Genetics", out.JSONLD["category"])

	again, changedAgain := StandardizeItem(out)
	assert.False(t, changedAgain)
	assert.Equal(t, out, again)
}

func TestStandardizeKeepsConflictingKeys(t *testing.T) {
	item := messyItem("Gelato", "Genetics")
	item.AdditionalFields["thcContent"] = "22%"

	out, _ := StandardizeItem(item)
	assert.Equal(t, "22%", out.AdditionalFields["thcContent"])
	assert.Equal(t, "20%", out.AdditionalFields["THC"])
}

func TestCanonicalCategory(t *testing.T) {
	assert.Equal(t, "Genetics", CanonicalCategory("GENETICS"))
	assert.Equal(t, "CBD Products", CanonicalCategory("cbd  products"))
	assert.Equal(t, "Grow Lights", CanonicalCategory("grow lights"))
	assert.Equal(t, "Grow Lights", CanonicalCategory(CanonicalCategory("grow lights")))
	assert.Equal(t, "Thing", SchemaTypeFor("unknown stuff"))
	assert.Equal(t, "Store", SchemaTypeFor("dispensary"))
}

func TestStandardizerRunIsIdempotent(t *testing.T) {
	var seed []models.DirectoryItem
	for i := 0; i < 7; i++ {
		seed = append(seed, messyItem(fmt.Sprintf("Strain %d", i), "strains"))
	}
	clean := models.DirectoryItem{Title: "Clean", Description: "d", Category: "Seeds", Tags: []string{"auto"}}
	clean, _ = StandardizeItem(clean)
	seed = append(seed, clean)

	store := newMemStore(seed...)
	s := NewStandardizer(store, StandardizeOptions{BatchSize: 3}, zap.NewNop())
	ctx := context.Background()

	first, err := s.Run(ctx, StandardizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 8, first.Scanned)
	assert.Equal(t, 7, first.Updated)
	assert.Equal(t, 1, first.Unchanged)
	assert.Zero(t, first.Failed)

	second, err := s.Run(ctx, StandardizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 8, second.Scanned)
	assert.Zero(t, second.Updated)
	assert.Equal(t, 8, second.Unchanged)

	for _, it := range store.all() {
		assert.Contains(t, []string{"Genetics", "Seeds"}, it.Category)
	}
}

func TestStandardizerDryRunWritesNothing(t *testing.T) {
	store := newMemStore(messyItem("Gelato", "genetics"))
	s := NewStandardizer(store, StandardizeOptions{}, zap.NewNop())

	report, err := s.Run(context.Background(), StandardizeOptions{DryRun: true})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 1, report.Updated)
	require.Len(t, report.Changes, 1)
	assert.Contains(t, report.Changes[0].Fields, models.ColCategory)
	assert.Zero(t, store.updateCalls)
	assert.Equal(t, "genetics", store.all()[0].Category)
}

func TestStandardizerCategoryFilter(t *testing.T) {
	store := newMemStore(messyItem("Gelato", "genetics"), messyItem("Bong", "accessories"))
	s := NewStandardizer(store, StandardizeOptions{}, zap.NewNop())

	report, err := s.Run(context.Background(), StandardizeOptions{Category: "Accessories"})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, "genetics", store.byTitle("Gelato")[0].Category)
	assert.Equal(t, "Accessories", store.byTitle("Bong")[0].Category)
}

func TestStandardizerPausesBetweenBatches(t *testing.T) {
	const pause = 60 * time.Millisecond
	store := newMemStore(messyItem("A", "genetics"), messyItem("B", "genetics"), messyItem("C", "genetics"))
	s := NewStandardizer(store, StandardizeOptions{BatchSize: 1, Pause: pause}, zap.NewNop())

	// drei volle Seiten, danach eine leere: drei Pausen
	start := time.Now()
	report, err := s.Run(context.Background(), StandardizeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, report.Scanned)
	assert.GreaterOrEqual(t, time.Since(start), 3*pause)

	start = time.Now()
	_, err = s.Run(context.Background(), StandardizeOptions{Pause: -1})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*pause)
}
