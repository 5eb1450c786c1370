package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Import-Pipeline
	ImportBatchSize       int           `envconfig:"IMPORT_BATCH_SIZE" default:"50"`
	DuplicateCheckTimeout time.Duration `envconfig:"DUPLICATE_CHECK_TIMEOUT" default:"5s"`
	DuplicateCheckLimit   int           `envconfig:"DUPLICATE_CHECK_LIMIT" default:"50"`
	DefaultDuplicateMode  string        `envconfig:"DEFAULT_DUPLICATE_MODE" default:"skip"`
	DefaultSchemaType     string        `envconfig:"DEFAULT_SCHEMA_TYPE" default:"Thing"`
	// Spalten, mit denen ein Bulk-Insert wiederholt wird, wenn das Schema eine Spalte nicht kennt
	FallbackColumns []string `envconfig:"FALLBACK_COLUMNS" default:"title,description,category,subcategory,tags,jsonld,metadata"`

	FuzzyThreshold float64 `envconfig:"FUZZY_THRESHOLD" default:"0.85"`

	// Standardisierung; leerer Cron-Ausdruck deaktiviert den nächtlichen Lauf
	StandardizeCron      string        `envconfig:"STANDARDIZE_CRON" default:"0 3 * * *"`
	StandardizeBatchSize int           `envconfig:"STANDARDIZE_BATCH_SIZE" default:"50"`
	StandardizePause     time.Duration `envconfig:"STANDARDIZE_PAUSE" default:"1s"`

	// KI-Klassifizierung für Mapping-Vorschläge (optional)
	ClassifierURL     string        `envconfig:"CLASSIFIER_URL"`
	ClassifierAPIKey  string        `envconfig:"CLASSIFIER_API_KEY"`
	ClassifierTimeout time.Duration `envconfig:"CLASSIFIER_TIMEOUT" default:"30s"`

	// S3-Archiv für Import-Dateien und Snapshots (optional)
	S3Key        string `envconfig:"S3_KEY"`
	S3Secret     string `envconfig:"S3_SECRET"`
	S3URL        string `envconfig:"S3_URL"`
	S3Region     string `envconfig:"S3_REGION" default:"us-east-1"`
	S3Bucket     string `envconfig:"S3_BUCKET"`
	SnapshotKeep int    `envconfig:"SNAPSHOT_KEEP" default:"4"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// S3Enabled meldet, ob genug S3-Parameter gesetzt sind, um das Archiv zu nutzen.
func (c *Config) S3Enabled() bool {
	return c.S3URL != "" && c.S3Bucket != "" && c.S3Key != "" && c.S3Secret != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
