package services

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	ligatures = strings.NewReplacer(
		"ﬁ", "fi",
		"ﬂ", "fl",
		"ﬀ", "ff",
		"ﬃ", "ffi",
		"ﬄ", "ffl",
		"ﬆ", "st",
	)
	// Tabs, Formfeeds und geschützte Leerzeichen aus Tabellenkalkulationen
	spaceRE        = regexp.MustCompile("[\t\f\v\u00a0]+")
	multiSpaceRE   = regexp.MustCompile(` {2,}`)
	multiNewlineRE = regexp.MustCompile(`\n{3,}`)
)

// CleanText normalisiert Freitext: Ligaturen auflösen, NFC, Leerraum zusammenfassen,
// höchstens eine Leerzeile in Folge. Die Funktion ist idempotent.
func CleanText(s string) string {
	s = ligatures.Replace(s)
	s, _, _ = transform.String(transform.Chain(norm.NFC), s)

	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRE.ReplaceAllString(s, " ")
	s = multiSpaceRE.ReplaceAllString(s, " ")

	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRightFunc(lines[i], unicode.IsSpace)
	}
	s = strings.Join(lines, "\n")
	s = multiNewlineRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// CleanLine wie CleanText, aber einzeilig (für Titel).
func CleanLine(s string) string {
	return strings.Join(strings.Fields(CleanText(s)), " ")
}
