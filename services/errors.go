package services

import (
	"errors"

	"canna-directory/models"
)

var (
	// ErrNoData wird geliefert, wenn weder Zeilen noch Einträge übergeben wurden.
	ErrNoData = errors.New("no data provided")
	// ErrNoTitleMapping: keine Spalte ist auf title gemappt.
	ErrNoTitleMapping = models.ErrNoTitleMapping
	// ErrNoMatch: der Zieleintrag für replace/merge ist zwischen Prüfung und Auflösung verschwunden.
	ErrNoMatch = errors.New("no matching directory item found")
	// ErrClassifierUnavailable: kein Klassifizierer konfiguriert.
	ErrClassifierUnavailable = errors.New("mapping classifier unavailable")
	ErrInvalidMode           = errors.New("invalid duplicate handling mode")
	ErrInvalidThreshold      = errors.New("threshold must be in (0, 1]")
)
