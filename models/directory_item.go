package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Spaltennamen der Tabelle directory_items.
const (
	ColID               = "id"
	ColTitle            = "title"
	ColDescription      = "description"
	ColCategory         = "category"
	ColSubcategory      = "subcategory"
	ColTags             = "tags"
	ColImageURL         = "imageurl"
	ColThumbnailURL     = "thumbnailurl"
	ColJSONLD           = "jsonld"
	ColMetaData         = "metadata"
	ColAdditionalFields = "additionalfields"
	ColCreatedAt        = "createdat"
	ColUpdatedAt        = "updatedat"
)

// ContentColumns sind alle Spalten, die ein Aufrufer schreiben darf (ohne ID und Zeitstempel).
var ContentColumns = []string{
	ColTitle, ColDescription, ColCategory, ColSubcategory, ColTags,
	ColImageURL, ColThumbnailURL, ColJSONLD, ColMetaData, ColAdditionalFields,
}

// BreederSourceKeys sind die Synonyme in additionalFields für Züchter/Herkunft.
var BreederSourceKeys = []string{"breeder", "source", "breedBy", "producedBy"}

// DirectoryItem ist ein einzelner Verzeichniseintrag.
type DirectoryItem struct {
	ID               string            `json:"id" gorm:"column:id;primaryKey;type:varchar(36)"`
	Title            string            `json:"title" gorm:"column:title;not null;index:idx_directory_items_title_category"`
	Description      string            `json:"description" gorm:"column:description;type:text"`
	Category         string            `json:"category" gorm:"column:category;index:idx_directory_items_title_category"`
	Subcategory      string            `json:"subcategory,omitempty" gorm:"column:subcategory"`
	Tags             []string          `json:"tags" gorm:"column:tags;serializer:json;type:text"`
	ImageURL         string            `json:"imageUrl,omitempty" gorm:"column:imageurl"`
	ThumbnailURL     string            `json:"thumbnailUrl,omitempty" gorm:"column:thumbnailurl"`
	JSONLD           datatypes.JSONMap `json:"jsonLd" gorm:"column:jsonld"`
	MetaData         datatypes.JSONMap `json:"metaData" gorm:"column:metadata"`
	AdditionalFields datatypes.JSONMap `json:"additionalFields" gorm:"column:additionalfields"`
	CreatedAt        time.Time         `json:"createdAt" gorm:"column:createdat"`
	UpdatedAt        time.Time         `json:"updatedAt" gorm:"column:updatedat"`
}

// TableName gibt explizit den Tabellennamen an.
func (DirectoryItem) TableName() string {
	return "directory_items"
}

// BeforeCreate vergibt die ID, falls die Persistenzschicht noch keine gesetzt hat.
func (i *DirectoryItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}

// EnsureDefaults ersetzt nil-Maps und nil-Tags durch leere Werte.
func (i *DirectoryItem) EnsureDefaults() {
	if i.Tags == nil {
		i.Tags = []string{}
	}
	if i.JSONLD == nil {
		i.JSONLD = datatypes.JSONMap{}
	}
	if i.MetaData == nil {
		i.MetaData = datatypes.JSONMap{}
	}
	if i.AdditionalFields == nil {
		i.AdditionalFields = datatypes.JSONMap{}
	}
}

// BreederSource liefert den ersten nicht-leeren Züchter/Herkunft-Wert aus additionalFields.
func (i *DirectoryItem) BreederSource() string {
	for _, key := range BreederSourceKeys {
		v, ok := i.AdditionalFields[key]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return ""
}

// Clone erstellt eine Kopie mit eigenen Maps und eigener Tag-Liste.
// Verschachtelte Werte werden geteilt und dürfen nicht in-place verändert werden.
func (i DirectoryItem) Clone() DirectoryItem {
	out := i
	out.Tags = append([]string{}, i.Tags...)
	out.JSONLD = cloneMap(i.JSONLD)
	out.MetaData = cloneMap(i.MetaData)
	out.AdditionalFields = cloneMap(i.AdditionalFields)
	return out
}

func cloneMap(m datatypes.JSONMap) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
