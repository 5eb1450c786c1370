package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"canna-directory/config"
	"canna-directory/models"
	"canna-directory/providers"
	"canna-directory/providers/classifier"
	"canna-directory/services"
	"canna-directory/storage"
)

// maxUploadSize begrenzt Import-Dateien auf 32 MiB.
const maxUploadSize = 32 << 20

// app bündelt die Services, die die HTTP-Routen benötigen.
type app struct {
	cfg          *config.Config
	store        storage.Client
	mapper       *services.SchemaMapper
	importer     *services.Importer
	review       *services.ReviewService
	standardizer *services.Standardizer
	archive      *storage.Archive
	log          *zap.Logger
}

func newApp(cfg *config.Config, store storage.Client, cls providers.Classifier, archive *storage.Archive, logging *zap.Logger) *app {
	detector := services.NewDuplicateDetector(store, cfg.DuplicateCheckTimeout, cfg.DuplicateCheckLimit, logging)
	resolver := services.NewResolver(store, detector, logging)
	importer := services.NewImporter(store, detector, resolver, services.NewRowTransformer(logging), services.ImportOptions{
		DuplicateMode:   models.DuplicateMode(cfg.DefaultDuplicateMode),
		BatchSize:       cfg.ImportBatchSize,
		FallbackColumns: cfg.FallbackColumns,
		Reporter:        services.NewLogReporter(logging),
	}, logging)

	standardizer := services.NewStandardizer(store, services.StandardizeOptions{
		BatchSize: cfg.StandardizeBatchSize,
		Pause:     cfg.StandardizePause,
	}, logging)

	return &app{
		cfg:          cfg,
		store:        store,
		mapper:       services.NewSchemaMapper(cls, services.KnownCategories(), logging),
		importer:     importer,
		review:       services.NewReviewService(store, logging),
		standardizer: standardizer,
		archive:      archive,
		log:          logging,
	}
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := storage.OpenPostgres(cfg)
	if err != nil {
		logging.Fatal("Failed to connect to directory database", zap.Error(err))
	}
	logging.Info("Successfully connected to directory database.")

	logging.Info("Running database auto-migration...")
	if err := storage.Migrate(db); err != nil {
		logging.Fatal("Auto-migration failed", zap.Error(err))
	}

	var cls providers.Classifier
	if client := classifier.NewClient(cfg, logging); client != nil {
		cls = client
		logging.Info("Mapping classifier enabled", zap.String("url", cfg.ClassifierURL))
	}

	archive, err := storage.NewArchive(context.Background(), cfg)
	if err != nil {
		logging.Fatal("S3 client creation failed", zap.Error(err))
	}
	if archive == nil {
		logging.Info("S3 archive disabled")
	}

	a := newApp(cfg, storage.NewGormClient(db, logging), cls, archive, logging)
	router := buildRouter(a)

	// Nächtliche Standardisierung
	if cfg.StandardizeCron != "" {
		cronScheduler := cron.New()
		_, err := cronScheduler.AddFunc(cfg.StandardizeCron, func() {
			logging.Info("Running scheduled standardization...")
			report, err := a.standardizer.Run(context.Background(), services.StandardizeOptions{})
			if err != nil {
				logging.Error("Scheduled standardization failed", zap.Error(err))
				return
			}
			logging.Info("Scheduled standardization completed",
				zap.Int("scanned", report.Scanned), zap.Int("updated", report.Updated), zap.Int("failed", report.Failed))
		})
		if err != nil {
			logging.Fatal("Invalid STANDARDIZE_CRON", zap.String("spec", cfg.StandardizeCron), zap.Error(err))
		}
		cronScheduler.Start()
		defer cronScheduler.Stop()
	}

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       60 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

func buildRouter(a *app) *gin.Engine {
	router := gin.Default()
	router.MaxMultipartMemory = maxUploadSize
	router.Use(apiKeyAuthMiddleware(a.cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	setupItemRoutes(router, a)
	setupImportRoutes(router, a)
	setupDuplicateRoutes(router, a)
	setupStandardizeRoutes(router, a)
	return router
}

// itemPatch enthält nur die Felder, die ein PATCH setzen darf.
type itemPatch struct {
	Title            *string        `json:"title"`
	Description      *string        `json:"description"`
	Category         *string        `json:"category"`
	Subcategory      *string        `json:"subcategory"`
	Tags             []string       `json:"tags"`
	ImageURL         *string        `json:"imageUrl"`
	ThumbnailURL     *string        `json:"thumbnailUrl"`
	JSONLD           map[string]any `json:"jsonLd"`
	MetaData         map[string]any `json:"metaData"`
	AdditionalFields map[string]any `json:"additionalFields"`
}

func (p itemPatch) apply(item *models.DirectoryItem) []string {
	var cols []string
	setString := func(dst *string, v *string, col string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
			cols = append(cols, col)
		}
	}
	setString(&item.Title, p.Title, models.ColTitle)
	setString(&item.Description, p.Description, models.ColDescription)
	setString(&item.Category, p.Category, models.ColCategory)
	setString(&item.Subcategory, p.Subcategory, models.ColSubcategory)
	setString(&item.ImageURL, p.ImageURL, models.ColImageURL)
	setString(&item.ThumbnailURL, p.ThumbnailURL, models.ColThumbnailURL)
	if p.Tags != nil {
		item.Tags = services.ParseTags(p.Tags)
		cols = append(cols, models.ColTags)
	}
	if p.JSONLD != nil {
		item.JSONLD = p.JSONLD
		cols = append(cols, models.ColJSONLD)
	}
	if p.MetaData != nil {
		item.MetaData = p.MetaData
		cols = append(cols, models.ColMetaData)
	}
	if p.AdditionalFields != nil {
		item.AdditionalFields = p.AdditionalFields
		cols = append(cols, models.ColAdditionalFields)
	}
	return cols
}

func validateRequired(item models.DirectoryItem) error {
	var missing []string
	if strings.TrimSpace(item.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(item.Description) == "" {
		missing = append(missing, "description")
	}
	if strings.TrimSpace(item.Category) == "" {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

func setupItemRoutes(router *gin.Engine, a *app) {
	rg := router.Group("/items")

	rg.GET("", func(c *gin.Context) {
		filters := map[string]any{}
		if v := c.Query("category"); v != "" {
			filters[models.ColCategory] = v
		}
		if v := c.Query("subcategory"); v != "" {
			filters[models.ColSubcategory] = v
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		offset, _ := strconv.Atoi(c.Query("offset"))

		items, err := a.store.Select(c.Request.Context(), storage.SelectOptions{
			Filters: filters,
			OrderBy: models.ColCreatedAt,
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			a.log.Error("Listing directory items failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		if items == nil {
			items = []models.DirectoryItem{}
		}
		c.JSON(http.StatusOK, items)
	})

	rg.POST("", func(c *gin.Context) {
		var item models.DirectoryItem
		if err := c.ShouldBindJSON(&item); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		item.ID = ""
		item.Title = strings.TrimSpace(item.Title)
		item.Description = strings.TrimSpace(item.Description)
		item.Category = strings.TrimSpace(item.Category)
		if err := validateRequired(item); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		services.EnsureJSONLD(&item, a.cfg.DefaultSchemaType)
		if err := a.store.Insert(c.Request.Context(), &item, storage.InsertOptions{}); err != nil {
			a.log.Error("Creating directory item failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create item"})
			return
		}
		c.JSON(http.StatusCreated, item)
	})

	rg.GET("/:id", func(c *gin.Context) {
		items, err := a.store.Select(c.Request.Context(), storage.SelectOptions{
			Filters: map[string]any{models.ColID: c.Param("id")},
			Single:  true,
		})
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
			return
		}
		if err != nil {
			a.log.Error("Loading directory item failed", zap.String("id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, items[0])
	})

	rg.PATCH("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var patch itemPatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		items, err := a.store.Select(c.Request.Context(), storage.SelectOptions{
			Filters: map[string]any{models.ColID: id},
			Single:  true,
		})
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
			return
		}
		if err != nil {
			a.log.Error("DB error checking for item on PATCH", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		item := items[0]
		cols := patch.apply(&item)
		if len(cols) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "no updatable fields provided"})
			return
		}
		if err := validateRequired(item); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updated, err := a.store.Update(c.Request.Context(), id, &item, cols)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
			return
		}
		if err != nil {
			a.log.Error("DB error updating item", zap.String("id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update item"})
			return
		}
		c.JSON(http.StatusOK, updated)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		err := a.store.Delete(c.Request.Context(), c.Param("id"))
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
			return
		}
		if err != nil {
			a.log.Error("Deleting directory item failed", zap.String("id", c.Param("id")), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.Status(http.StatusNoContent)
	})

	rg.POST("/bulk-delete", func(c *gin.Context) {
		var req struct {
			IDs []string `json:"ids" binding:"required,min=1"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ids required"})
			return
		}
		deleted, failed := a.review.DeleteMany(c.Request.Context(), req.IDs)
		c.JSON(http.StatusOK, gin.H{"deleted": deleted, "errors": failed})
	})
}

// importStatus bildet fatale Importfehler auf 400 ab, alles andere auf 500.
func importStatus(err error) int {
	switch {
	case errors.Is(err, services.ErrNoData),
		errors.Is(err, services.ErrNoTitleMapping),
		errors.Is(err, services.ErrClassifierUnavailable),
		errors.Is(err, services.ErrInvalidMode):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func (a *app) importFailed(c *gin.Context, err error) {
	status := importStatus(err)
	if status == http.StatusInternalServerError {
		a.log.Error("Import failed", zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// readUpload liest und parst die hochgeladene Datei. Mit keep wird sie zusätzlich
// im S3-Archiv abgelegt, sofern konfiguriert.
func (a *app) readUpload(c *gin.Context, keep bool) (*services.ParsedFile, string, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, "", errors.New("file is required")
	}
	if fh.Size > maxUploadSize {
		return nil, "", fmt.Errorf("file exceeds %d bytes", maxUploadSize)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, "", err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", err
	}

	parsed, err := services.ParseFile(fh.Filename, bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}

	link := ""
	if keep && a.archive != nil {
		key := fmt.Sprintf("imports/%s-%s", time.Now().UTC().Format("2006-01-02T15-04-05Z"), filepath.Base(fh.Filename))
		if link, err = a.archive.Upload(c.Request.Context(), key, data); err != nil {
			a.log.Warn("Archiving import file failed", zap.String("file", fh.Filename), zap.Error(err))
			link = ""
		}
	}
	return parsed, link, nil
}

func formImportOptions(c *gin.Context) services.ImportOptions {
	batch, _ := strconv.Atoi(c.PostForm("batchSize"))
	return services.ImportOptions{
		DuplicateMode: models.DuplicateMode(c.PostForm("duplicateHandlingMode")),
		BatchSize:     batch,
		VariantInfo:   c.PostForm("variantInfo"),
	}
}

func setupImportRoutes(router *gin.Engine, a *app) {
	rg := router.Group("/import")

	// Bereits transformierte Einträge
	rg.POST("/items", func(c *gin.Context) {
		var req struct {
			Items   []models.DirectoryItem `json:"items"`
			Options services.ImportOptions  `json:"options"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		res, err := a.importer.ImportItems(c.Request.Context(), req.Items, req.Options)
		if err != nil {
			a.importFailed(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	// Rohzeilen mit Mapping
	rg.POST("/rows", func(c *gin.Context) {
		var req struct {
			Rows    []models.RawRow        `json:"rows"`
			Mapping models.MappingConfig   `json:"mapping"`
			Options services.ImportOptions `json:"options"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if req.Mapping.SchemaType == "" {
			req.Mapping.SchemaType = a.cfg.DefaultSchemaType
		}
		res, err := a.importer.ImportRows(c.Request.Context(), req.Rows, req.Mapping, req.Options)
		if err != nil {
			a.importFailed(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	})

	// CSV/XLSX-Upload; ohne Mapping-Feld wird ein Vorschlag verwendet
	rg.POST("/upload", func(c *gin.Context) {
		parsed, link, err := a.readUpload(c, true)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var mapping models.MappingConfig
		if raw := c.PostForm("mapping"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mapping"})
				return
			}
			if c.PostForm("category") != "" {
				mapping.Category = c.PostForm("category")
			}
		} else {
			proposal, err := a.mapper.Suggest(c.Request.Context(), parsed.Headers, parsed.Rows)
			if err != nil {
				a.importFailed(c, err)
				return
			}
			mapping = proposal.Config(c.PostForm("category"))
		}
		if mapping.SchemaType == "" {
			mapping.SchemaType = a.cfg.DefaultSchemaType
		}

		res, err := a.importer.ImportRows(c.Request.Context(), parsed.Rows, mapping, formImportOptions(c))
		if err != nil {
			a.importFailed(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"result": res, "archive": link, "mapping": mapping})
	})

	// Mapping-Vorschlag für bereits geparste Zeilen
	rg.POST("/suggest", func(c *gin.Context) {
		var req struct {
			Headers []string        `json:"headers"`
			Rows    []models.RawRow `json:"rows"`
			Mode    string          `json:"mode"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		var (
			proposal *services.MappingProposal
			err      error
		)
		switch req.Mode {
		case "heuristic":
			proposal, err = a.mapper.SuggestHeuristic(req.Headers, req.Rows)
		case "assisted":
			proposal, err = a.mapper.SuggestAssisted(c.Request.Context(), req.Headers, req.Rows)
		default:
			proposal, err = a.mapper.Suggest(c.Request.Context(), req.Headers, req.Rows)
		}
		if err != nil {
			a.importFailed(c, err)
			return
		}
		c.JSON(http.StatusOK, proposal)
	})

	// Datei parsen und Vorschlag liefern, ohne zu importieren
	rg.POST("/preview", func(c *gin.Context) {
		parsed, _, err := a.readUpload(c, false)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		proposal, err := a.mapper.Suggest(c.Request.Context(), parsed.Headers, parsed.Rows)
		if err != nil {
			a.importFailed(c, err)
			return
		}
		sample := parsed.Rows
		if len(sample) > 5 {
			sample = sample[:5]
		}
		c.JSON(http.StatusOK, gin.H{
			"headers":    parsed.Headers,
			"rowCount":   len(parsed.Rows),
			"sampleRows": sample,
			"proposal":   proposal,
		})
	})
}

func setupDuplicateRoutes(router *gin.Engine, a *app) {
	rg := router.Group("/duplicates")

	rg.GET("/fuzzy", func(c *gin.Context) {
		threshold := a.cfg.FuzzyThreshold
		if v := c.Query("threshold"); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threshold"})
				return
			}
			threshold = parsed
		}
		groups, err := a.review.FindGroups(c.Request.Context(), c.Query("category"), threshold)
		if err != nil {
			if errors.Is(err, services.ErrInvalidThreshold) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			a.log.Error("Fuzzy duplicate search failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"groups": groups, "threshold": threshold})
	})

	rg.POST("/resolve", func(c *gin.Context) {
		var group models.DuplicateGroup
		if err := c.ShouldBindJSON(&group); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		summary, err := a.review.ResolveGroup(c.Request.Context(), group)
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "primary record not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

func setupStandardizeRoutes(router *gin.Engine, a *app) {
	router.POST("/standardize/run", func(c *gin.Context) {
		var opts services.StandardizeOptions
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&opts); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}

		if opts.DryRun {
			// schreibt nichts, die Last-Pause entfällt
			opts.Pause = -1
			report, err := a.standardizer.Run(c.Request.Context(), opts)
			if errors.Is(err, services.ErrStandardizeRunning) {
				c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
				return
			}
			if err != nil {
				a.log.Error("Standardization dry run failed", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusOK, report)
			return
		}

		go func() {
			report, err := a.standardizer.Run(context.Background(), opts)
			if err != nil {
				a.log.Error("Standardization run failed", zap.Error(err))
				return
			}
			a.log.Info("Standardization run completed",
				zap.Int("scanned", report.Scanned), zap.Int("updated", report.Updated), zap.Int("failed", report.Failed))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Standardization triggered."})
	})
}
