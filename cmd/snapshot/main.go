package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"go.uber.org/zap"

	"canna-directory/config"
	"canna-directory/models"
	"canna-directory/storage"
)

// snapshotPrefix ist der Schlüsselpräfix im Bucket; Rotation betrifft nur diesen Präfix.
const snapshotPrefix = "snapshots/"

const pageSize = 500

func main() {
	log.Println("Starte Snapshot-Prozess...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Fehler beim Laden der Konfiguration: %v", err)
	}
	if !cfg.S3Enabled() {
		log.Fatal("S3 ist nicht konfiguriert (S3_URL, S3_BUCKET, S3_KEY, S3_SECRET)")
	}

	ctx := context.Background()
	db, err := storage.OpenPostgres(cfg)
	if err != nil {
		log.Fatalf("Fehler beim Verbinden mit der Datenbank: %v", err)
	}
	store := storage.NewGormClient(db, zap.NewNop())

	// 1. Alle Einträge als gzip-JSON exportieren
	var buf bytes.Buffer
	count, err := writeSnapshot(ctx, store, &buf)
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des Snapshots: %v", err)
	}

	// 2. Nach S3 hochladen
	archive, err := storage.NewArchive(ctx, cfg)
	if err != nil {
		log.Fatalf("Fehler beim Erstellen des S3-Clients: %v", err)
	}
	key := fmt.Sprintf("%sdirectory-%s.json.gz", snapshotPrefix, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
	link, err := archive.Upload(ctx, key, buf.Bytes())
	if err != nil {
		log.Fatalf("Fehler beim Hochladen nach S3: %v", err)
	}
	log.Printf("Snapshot mit %d Einträgen hochgeladen: %s", count, link)

	// 3. Alte Snapshots rotieren
	deleted, err := archive.Rotate(ctx, snapshotPrefix, cfg.SnapshotKeep)
	if err != nil {
		log.Fatalf("Fehler bei der Rotation alter Snapshots: %v", err)
	}
	log.Printf("%d alte Snapshots gelöscht, %d behalten.", deleted, cfg.SnapshotKeep)

	log.Println("Snapshot-Prozess erfolgreich abgeschlossen.")
}

// writeSnapshot schreibt alle Einträge seitenweise als gzip-komprimiertes JSON-Array nach w.
func writeSnapshot(ctx context.Context, store storage.Client, w io.Writer) (int, error) {
	gz := gzip.NewWriter(w)
	enc := json.NewEncoder(gz)

	if _, err := io.WriteString(gz, "["); err != nil {
		return 0, err
	}
	count := 0
	for offset := 0; ; offset += pageSize {
		page, err := store.Select(ctx, storage.SelectOptions{
			OrderBy: models.ColID,
			Limit:   pageSize,
			Offset:  offset,
		})
		if err != nil {
			return count, fmt.Errorf("select offset %d: %w", offset, err)
		}
		for _, item := range page {
			if count > 0 {
				if _, err := io.WriteString(gz, ","); err != nil {
					return count, err
				}
			}
			if err := enc.Encode(item); err != nil {
				return count, err
			}
			count++
		}
		if len(page) < pageSize {
			break
		}
	}
	if _, err := io.WriteString(gz, "]"); err != nil {
		return count, err
	}
	return count, gz.Close()
}
