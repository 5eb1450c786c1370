package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"canna-directory/config"
	"canna-directory/models"
)

// undefined_column
const pgUndefinedColumn = "42703"

// systemColumns werden bei jeder Projektion mitgeschrieben, weil die Persistenzschicht sie vergibt.
var systemColumns = []string{models.ColID, models.ColCreatedAt, models.ColUpdatedAt}

// OpenPostgres baut die GORM-Verbindung zur Verzeichnis-Datenbank auf.
func OpenPostgres(cfg *config.Config) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
}

// Migrate legt die Tabelle directory_items an bzw. aktualisiert sie.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.DirectoryItem{})
}

// GormClient implementiert Client über GORM.
type GormClient struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewGormClient erstellt einen neuen GormClient.
func NewGormClient(db *gorm.DB, logger *zap.Logger) *GormClient {
	return &GormClient{DB: db, Logger: logger}
}

func (c *GormClient) Select(ctx context.Context, opts SelectOptions) ([]models.DirectoryItem, error) {
	query := c.DB.WithContext(ctx).Model(&models.DirectoryItem{})
	if len(opts.Columns) > 0 {
		query = query.Select(opts.Columns)
	}
	if len(opts.Filters) > 0 {
		query = query.Where(opts.Filters)
	}
	if opts.OrderBy != "" {
		query = query.Order(opts.OrderBy)
	}
	if opts.Single {
		query = query.Limit(1)
	} else if opts.Limit > 0 {
		query = query.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		query = query.Offset(opts.Offset)
	}

	var items []models.DirectoryItem
	if err := query.Find(&items).Error; err != nil {
		return nil, fmt.Errorf("select directory items: %w", err)
	}
	if opts.Single && len(items) == 0 {
		return nil, ErrNotFound
	}
	for i := range items {
		items[i].EnsureDefaults()
	}
	return items, nil
}

func (c *GormClient) Insert(ctx context.Context, item *models.DirectoryItem, opts InsertOptions) error {
	item.EnsureDefaults()
	tx := c.DB.WithContext(ctx)
	if len(opts.Columns) > 0 {
		tx = tx.Select(withSystemColumns(opts.Columns))
	}
	if err := tx.Create(item).Error; err != nil {
		return classify(err)
	}
	return nil
}

func (c *GormClient) Update(ctx context.Context, id string, item *models.DirectoryItem, columns []string) (*models.DirectoryItem, error) {
	if len(columns) == 0 {
		columns = models.ContentColumns
	}
	item.EnsureDefaults()
	item.UpdatedAt = c.DB.NowFunc()
	cols := append(append([]string{}, columns...), models.ColUpdatedAt)
	res := c.DB.WithContext(ctx).
		Model(&models.DirectoryItem{}).
		Where("id = ?", id).
		Select(cols).
		Updates(item)
	if res.Error != nil {
		return nil, classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	items, err := c.Select(ctx, SelectOptions{Filters: map[string]any{models.ColID: id}, Single: true})
	if err != nil {
		return nil, err
	}
	return &items[0], nil
}

func (c *GormClient) Delete(ctx context.Context, id string) error {
	res := c.DB.WithContext(ctx).Where("id = ?", id).Delete(&models.DirectoryItem{})
	if res.Error != nil {
		return fmt.Errorf("delete directory item %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// BulkInsert schreibt alle Einträge in einem Statement. Lehnt die Datenbank eine Spalte ab,
// wird genau einmal mit opts.FallbackColumns wiederholt.
func (c *GormClient) BulkInsert(ctx context.Context, items []models.DirectoryItem, opts BulkInsertOptions) ([]models.DirectoryItem, error) {
	if len(items) == 0 {
		return items, nil
	}
	for i := range items {
		items[i].EnsureDefaults()
	}

	err := c.create(ctx, items, opts.Columns)
	if err == nil {
		return items, nil
	}
	if !errors.Is(err, ErrUnknownColumn) || len(opts.FallbackColumns) == 0 {
		return nil, err
	}

	c.Logger.Warn("Bulk insert rejected a column, retrying with fallback projection",
		zap.Strings("fallback_columns", opts.FallbackColumns),
		zap.Error(err))
	if err := c.create(ctx, items, opts.FallbackColumns); err != nil {
		return nil, err
	}
	return items, nil
}

func (c *GormClient) create(ctx context.Context, items []models.DirectoryItem, columns []string) error {
	tx := c.DB.WithContext(ctx)
	if len(columns) > 0 {
		tx = tx.Select(withSystemColumns(columns))
	}
	if err := tx.Create(&items).Error; err != nil {
		return classify(err)
	}
	return nil
}

func withSystemColumns(columns []string) []string {
	out := append([]string{}, systemColumns...)
	for _, col := range columns {
		if col == models.ColID || col == models.ColCreatedAt || col == models.ColUpdatedAt {
			continue
		}
		out = append(out, col)
	}
	return out
}

// classify erkennt Schema-Drift (PostgreSQL 42703, SQLite "no column named").
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUndefinedColumn {
		return fmt.Errorf("%w: %s", ErrUnknownColumn, pgErr.Message)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "no column named") ||
		(strings.Contains(msg, "column") && strings.Contains(msg, "does not exist")) {
		return fmt.Errorf("%w: %v", ErrUnknownColumn, err)
	}
	return err
}
