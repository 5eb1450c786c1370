package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"canna-directory/models"
	"canna-directory/storage"
)

func TestWriteSnapshot(t *testing.T) {
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, storage.Migrate(db))

	store := storage.NewGormClient(db, zap.NewNop())
	ctx := context.Background()
	// mehr als eine Seite
	total := pageSize + 3
	items := make([]models.DirectoryItem, total)
	for i := range items {
		items[i] = models.DirectoryItem{Title: fmt.Sprintf("Strain %d", i), Description: "x", Category: "Genetics"}
	}
	_, err = store.BulkInsert(ctx, items, storage.BulkInsertOptions{})
	require.NoError(t, err)

	var buf bytes.Buffer
	count, err := writeSnapshot(ctx, store, &buf)
	require.NoError(t, err)
	assert.Equal(t, total, count)

	gz, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	var decoded []models.DirectoryItem
	require.NoError(t, json.NewDecoder(gz).Decode(&decoded))
	assert.Len(t, decoded, total)

	seen := map[string]bool{}
	for _, it := range decoded {
		seen[it.ID] = true
	}
	assert.Len(t, seen, total)
}

func TestWriteSnapshotEmpty(t *testing.T) {
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))

	var buf bytes.Buffer
	count, err := writeSnapshot(context.Background(), storage.NewGormClient(db, zap.NewNop()), &buf)
	require.NoError(t, err)
	assert.Zero(t, count)

	gz, err := gzip.NewReader(&buf)
	require.NoError(t, err)
	var decoded []models.DirectoryItem
	require.NoError(t, json.NewDecoder(gz).Decode(&decoded))
	assert.Empty(t, decoded)
}
