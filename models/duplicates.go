package models

// DuplicateMode legt fest, wie ein erkanntes Duplikat beim Import behandelt wird.
type DuplicateMode string

const (
	ModeSkip    DuplicateMode = "skip"
	ModeReplace DuplicateMode = "replace"
	ModeMerge   DuplicateMode = "merge"
	ModeVariant DuplicateMode = "variant"
)

// Valid meldet, ob der Modus bekannt ist.
func (m DuplicateMode) Valid() bool {
	switch m {
	case ModeSkip, ModeReplace, ModeMerge, ModeVariant:
		return true
	}
	return false
}

// Outcome ist das Endergebnis eines Eintrags im Import.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeReplaced Outcome = "replaced"
	OutcomeMerged   Outcome = "merged"
	OutcomeVariant  Outcome = "variant-created"
	OutcomeError    Outcome = "error"
)

// GroupAction ist die Aktion, die auf eine Duplikatgruppe angewendet wird.
type GroupAction string

const (
	ActionMerge   GroupAction = "merge"
	ActionVariant GroupAction = "variant"
	ActionDelete  GroupAction = "delete"
	ActionKeep    GroupAction = "keep"
)

// DuplicateGroup fasst einen Primäreintrag und seine möglichen Duplikate zusammen.
// Gruppen werden pro Prüfsitzung gebaut und nie selbst gespeichert.
type DuplicateGroup struct {
	PrimaryRecord      DirectoryItem   `json:"primaryRecord"`
	Duplicates         []DirectoryItem `json:"duplicates"`
	SelectedDuplicates []string        `json:"selectedDuplicates"`
	Action             GroupAction     `json:"action"`
	Similarity         float64         `json:"similarity"`
}
