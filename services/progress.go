package services

import (
	"go.uber.org/zap"

	"canna-directory/models"
)

// Reporter empfängt alle Fortschritts- und Schrittmeldungen eines langen Laufs.
type Reporter interface {
	Step(msg string, fields ...zap.Field)
	Progress(processed, total int)
	Outcome(o models.Outcome)
}

// LogReporter leitet Schritte an zap und Ergebnisse an Prometheus weiter.
type LogReporter struct {
	Logger     *zap.Logger
	OnProgress func(processed, total int)
}

// NewLogReporter erstellt einen Reporter, der nach logger schreibt.
func NewLogReporter(logger *zap.Logger) *LogReporter {
	return &LogReporter{Logger: logger}
}

func (r *LogReporter) Step(msg string, fields ...zap.Field) {
	r.Logger.Info(msg, fields...)
}

func (r *LogReporter) Progress(processed, total int) {
	r.Logger.Debug("Import-Fortschritt", zap.Int("processed", processed), zap.Int("total", total))
	if r.OnProgress != nil {
		r.OnProgress(processed, total)
	}
}

func (r *LogReporter) Outcome(o models.Outcome) {
	importOutcomes.WithLabelValues(string(o)).Inc()
}

type nopReporter struct{}

func (nopReporter) Step(string, ...zap.Field) {}
func (nopReporter) Progress(int, int)         {}
func (nopReporter) Outcome(models.Outcome)    {}
