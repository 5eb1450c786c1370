package services

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canna-directory/models"
)

func TestImportSkipsExactDuplicateInBatch(t *testing.T) {
	store := newMemStore()
	im := newTestImporter(t, store)
	rep := &recordingReporter{}

	res, err := im.ImportItems(context.Background(), []models.DirectoryItem{
		strain("Blue Dream", ""),
		strain("Blue Dream", ""),
	}, ImportOptions{DuplicateMode: models.ModeSkip, Reporter: rep})
	require.NoError(t, err)

	assert.Equal(t, 1, res.Counts.Inserted)
	assert.Equal(t, 1, res.Counts.Skipped)
	assert.Equal(t, 1, res.Counts.Duplicates)
	assert.Equal(t, 2, res.Counts.Total())
	assert.Len(t, res.Success, 1)
	assert.Len(t, res.Duplicates, 1)
	assert.Empty(t, res.Errors)
	assert.Len(t, store.all(), 1)
	assert.ElementsMatch(t, []models.Outcome{models.OutcomeInserted, models.OutcomeSkipped}, rep.outcomes)
	assert.Equal(t, [][2]int{{2, 2}}, rep.progress)
}

func TestImportEveryItemReachesOneOutcome(t *testing.T) {
	store := newMemStore(strain("Gelato", "Cookies"))
	im := newTestImporter(t, store)

	var items []models.DirectoryItem
	for i := 0; i < 60; i++ {
		items = append(items, strain(fmt.Sprintf("Strain %d", i), ""))
	}
	items = append(items,
		strain("Gelato", "Cookies"),
		strain("Strain 3", ""),
		models.DirectoryItem{Title: "No Category"},
	)

	rep := &recordingReporter{}
	res, err := im.ImportItems(context.Background(), items, ImportOptions{DuplicateMode: models.ModeMerge, BatchSize: 25, Reporter: rep})
	require.NoError(t, err)

	assert.Equal(t, len(items), res.Counts.Total())
	assert.Equal(t, 60, res.Counts.Inserted)
	assert.Equal(t, 2, res.Counts.Merged)
	assert.Equal(t, 1, res.Counts.Errors)
	assert.Equal(t, 2, res.Counts.Duplicates)
	assert.Len(t, res.Success, 62)
	assert.Equal(t, [][2]int{{25, 63}, {50, 63}, {63, 63}}, rep.progress)
	assert.Len(t, store.all(), 61)
}

func TestImportReplaceAndVariantModes(t *testing.T) {
	existing := strain("Blue Dream", "")
	existing.Description = "old"

	t.Run("replace", func(t *testing.T) {
		store := newMemStore(existing)
		im := newTestImporter(t, store)
		incoming := strain("Blue Dream", "")
		incoming.Description = "new"

		res, err := im.ImportItems(context.Background(), []models.DirectoryItem{incoming}, ImportOptions{DuplicateMode: models.ModeReplace})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Counts.Replaced)
		require.Len(t, store.all(), 1)
		assert.Equal(t, "new", store.all()[0].Description)
	})

	t.Run("variant", func(t *testing.T) {
		store := newMemStore(existing)
		im := newTestImporter(t, store)

		res, err := im.ImportItems(context.Background(), []models.DirectoryItem{strain("Blue Dream", "")}, ImportOptions{DuplicateMode: models.ModeVariant, VariantInfo: "Pheno 2"})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Counts.Variants)
		assert.Len(t, store.byTitle("Blue Dream (Pheno 2)"), 1)
		assert.Len(t, store.all(), 2)
	})
}

func TestImportFallsBackToSingleInserts(t *testing.T) {
	store := newMemStore()
	store.bulkErr = errBackend
	store.insertErr = func(it models.DirectoryItem) error {
		if it.Title == "Broken" {
			return errBackend
		}
		return nil
	}
	im := newTestImporter(t, store)

	res, err := im.ImportItems(context.Background(), []models.DirectoryItem{
		strain("Good", ""), strain("Broken", ""), strain("Also Good", ""),
	}, ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, 2, res.Counts.Inserted)
	assert.Equal(t, 1, res.Counts.Errors)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "Broken", res.Errors[0].Item.Title)
	assert.Equal(t, errBackend.Error(), res.Errors[0].Message)
}

func TestImportContinuesWhenDuplicateCheckFails(t *testing.T) {
	store := newMemStore(strain("Blue Dream", ""))
	store.selectErr = errBackend
	im := newTestImporter(t, store)

	res, err := im.ImportItems(context.Background(), []models.DirectoryItem{strain("Blue Dream", "")}, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.Inserted)
	assert.Equal(t, 0, res.Counts.Duplicates)
}

func TestImportFatalErrors(t *testing.T) {
	im := newTestImporter(t, newMemStore())
	ctx := context.Background()

	_, err := im.ImportItems(ctx, nil, ImportOptions{})
	assert.ErrorIs(t, err, ErrNoData)

	_, err = im.ImportRows(ctx, nil, models.MappingConfig{}, ImportOptions{})
	assert.ErrorIs(t, err, ErrNoData)

	_, err = im.ImportRows(ctx, []models.RawRow{{"name": "x"}}, models.MappingConfig{Category: "Genetics"}, ImportOptions{})
	assert.ErrorIs(t, err, ErrNoTitleMapping)

	_, err = im.ImportItems(ctx, []models.DirectoryItem{strain("x", "")}, ImportOptions{DuplicateMode: "overwrite"})
	assert.Error(t, err)
}

func TestImportRowsReportsMissingColumns(t *testing.T) {
	store := newMemStore()
	im := newTestImporter(t, store)
	cfg := models.MappingFromTargets(map[string]string{
		"title":                    "name",
		"description":              "desc",
		"additionalFields.breeder": "Breeder",
	}, "Genetics")

	res, err := im.ImportRows(context.Background(), []models.RawRow{
		{"name": "Blue Dream", "desc": "Relaxing hybrid"},
		{"name": "Gelato"},
	}, cfg, ImportOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Breeder"}, res.MissingColumns)
	assert.Equal(t, 2, res.Counts.Inserted)
	got := store.byTitle("Gelato")
	require.Len(t, got, 1)
	assert.Equal(t, "", got[0].AdditionalFields["breeder"])
	assert.Equal(t, "No description provided for item 2", got[0].Description)
}

func TestImportCancelledContextStillReturnsResult(t *testing.T) {
	im := newTestImporter(t, newMemStore())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := im.ImportItems(ctx, []models.DirectoryItem{strain("A", ""), strain("B", "")}, ImportOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Counts.Errors)
	assert.Empty(t, res.Success)
}

func TestImportResolvesInBatchDuplicatesAgainstFirstOccurrence(t *testing.T) {
	first := strain("Blue Dream", "")
	first.Tags = []string{"hybrid"}
	second := strain("blue dream", "")
	second.Category = "genetics"
	second.Description = "a much longer description"
	second.Tags = []string{"sativa"}

	t.Run("merge differing case", func(t *testing.T) {
		store := newMemStore()
		im := newTestImporter(t, store)

		res, err := im.ImportItems(context.Background(), []models.DirectoryItem{first, second}, ImportOptions{DuplicateMode: models.ModeMerge})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Counts.Inserted)
		assert.Equal(t, 1, res.Counts.Merged)
		assert.Equal(t, 1, res.Counts.Duplicates)
		assert.Empty(t, res.Errors)

		all := store.all()
		require.Len(t, all, 1)
		assert.Equal(t, "Blue Dream", all[0].Title)
		assert.Equal(t, "a much longer description", all[0].Description)
		assert.ElementsMatch(t, []string{"hybrid", "sativa"}, all[0].Tags)
	})

	t.Run("replace differing case", func(t *testing.T) {
		store := newMemStore()
		im := newTestImporter(t, store)

		res, err := im.ImportItems(context.Background(), []models.DirectoryItem{first, second}, ImportOptions{DuplicateMode: models.ModeReplace})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Counts.Inserted)
		assert.Equal(t, 1, res.Counts.Replaced)
		assert.Empty(t, res.Errors)

		all := store.all()
		require.Len(t, all, 1)
		assert.Equal(t, "blue dream", all[0].Title)
		assert.Equal(t, []string{"sativa"}, all[0].Tags)
	})

	t.Run("same breeder different subcategory", func(t *testing.T) {
		a := strain("Gelato", "Cookies")
		a.Subcategory = "Hybrid"
		b := strain("Gelato", "Cookies")
		b.Subcategory = "Indica"
		b.Tags = []string{"sweet"}

		store := newMemStore()
		im := newTestImporter(t, store)
		res, err := im.ImportItems(context.Background(), []models.DirectoryItem{a, b}, ImportOptions{DuplicateMode: models.ModeMerge})
		require.NoError(t, err)
		assert.Equal(t, 1, res.Counts.Merged)
		assert.Empty(t, res.Errors)

		all := store.all()
		require.Len(t, all, 1)
		assert.Equal(t, "Hybrid", all[0].Subcategory)
		assert.Equal(t, []string{"sweet"}, all[0].Tags)
	})
}

func TestImportInBatchVariantPointsAtFirstOccurrence(t *testing.T) {
	store := newMemStore()
	im := newTestImporter(t, store)

	dup := strain("OG KUSH", "")
	res, err := im.ImportItems(context.Background(), []models.DirectoryItem{strain("OG Kush", ""), dup}, ImportOptions{DuplicateMode: models.ModeVariant, VariantInfo: "Pheno 2"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Counts.Variants)

	primary := store.byTitle("OG Kush")
	require.Len(t, primary, 1)
	variants := store.byTitle("OG KUSH (Pheno 2)")
	require.Len(t, variants, 1)
	assert.Equal(t, primary[0].ID, variants[0].MetaData["variantOf"])
}
