package models

import (
	"strings"
	"time"

	"github.com/seren-social/seren/internal/algorithms"
	"github.com/seren-social/seren/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// ObjectType is the content type of a federated object. Tombstone is
// terminal: a deleted object keeps its row and id but loses its content.
type ObjectType string

const (
	TypeNote      ObjectType = "Note"
	TypeArticle   ObjectType = "Article"
	TypeQuestion  ObjectType = "Question"
	TypeTombstone ObjectType = "Tombstone"
)

func (ObjectType) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql", "postgres":
		return "enum('Note', 'Article', 'Question', 'Tombstone')"
	case "sqlite":
		return "TEXT"
	default:
		return ""
	}
}

// An Attachment is a media document referenced by an object.
type Attachment struct {
	Type      string `json:"type"`
	MediaType string `json:"mediaType"`
	URL       string `json:"url"`
	Name      string `json:"name,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Blurhash  string `json:"blurhash,omitempty"`
}

// A Tag is a mention, hashtag or emoji reference carried by an object.
type Tag struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Href string `json:"href,omitempty"`
	Icon struct {
		Type      string `json:"type,omitempty"`
		MediaType string `json:"mediaType,omitempty"`
		URL       string `json:"url,omitempty"`
	} `json:"icon,omitempty"`
}

// An Object is a federated content item.
type Object struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Type      ObjectType `gorm:"not null"`
	// ASID is the globally unique protocol id of the object.
	ASID         string   `gorm:"column:as_id;size:255;not null;uniqueIndex"`
	AttributedTo string   `gorm:"size:255"`
	Content      string   `gorm:"type:text"`
	Summary      string   `gorm:"type:text"`
	To           []string `gorm:"column:ap_to;serializer:json"`
	CC           []string `gorm:"column:ap_cc;serializer:json"`
	InReplyTo    *string  `gorm:"size:255"`
	// ConversationID groups an object with the thread it belongs to.
	// Replies inherit it from their parent; a new thread mints its own.
	ConversationID snowflake.ID `gorm:"index"`
	Sensitive      bool         `gorm:"not null;default:false"`
	Attachments    []Attachment `gorm:"serializer:json"`
	Tags           []Tag        `gorm:"serializer:json"`
	// Hashtags caches the lower-cased hashtag names from Tags for
	// timeline filtering.
	Hashtags []string       `gorm:"serializer:json"`
	Metadata map[string]any `gorm:"serializer:json"`
}

// BeforeSave derives the hashtag cache and conversation id.
func (o *Object) BeforeSave(tx *gorm.DB) error {
	o.Hashtags = algorithms.Map(
		algorithms.Filter(o.Tags, func(t Tag) bool { return t.Type == "Hashtag" }),
		func(t Tag) string { return strings.ToLower(strings.TrimPrefix(t.Name, "#")) },
	)
	if o.ConversationID == 0 {
		if o.InReplyTo != nil {
			var parent []Object
			if err := tx.Where("as_id = ?", *o.InReplyTo).Find(&parent).Error; err != nil {
				return err
			}
			if len(parent) > 0 {
				o.ConversationID = parent[0].ConversationID
			}
		}
		if o.ConversationID == 0 {
			o.ConversationID = o.ID
		}
	}
	return nil
}

// IsReply reports whether the object replies to another object.
func (o *Object) IsReply() bool {
	return o.InReplyTo != nil && *o.InReplyTo != ""
}

type Objects struct {
	db *gorm.DB
}

func NewObjects(db *gorm.DB) *Objects {
	return &Objects{db: db}
}

// Save persists the object, updating the existing row when one with the
// same as_id already exists.
func (o *Objects) Save(obj *Object) error {
	return o.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "as_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"updated_at", "type", "attributed_to", "content", "summary",
			"ap_to", "ap_cc", "in_reply_to", "sensitive", "attachments",
			"tags", "hashtags", "metadata",
		}),
	}).Create(obj).Error
}

// FindByASID returns the object with the given protocol id.
func (o *Objects) FindByASID(asID string) (*Object, error) {
	var obj []Object
	if err := o.db.Where("as_id = ?", asID).Find(&obj).Error; err != nil {
		return nil, err
	}
	if len(obj) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &obj[0], nil
}

func (o *Objects) FindByID(id snowflake.ID) (*Object, error) {
	var obj Object
	return &obj, o.db.Take(&obj, id).Error
}

// Tombstone transitions the object to its terminal deleted state. The
// row survives so foreign keys keep resolving, but the content is gone.
func (o *Objects) Tombstone(obj *Object) error {
	return o.db.Model(obj).Updates(map[string]any{
		"type":        TypeTombstone,
		"content":     "",
		"summary":     "",
		"attachments": nil,
		"tags":        nil,
		"hashtags":    nil,
		"metadata":    nil,
		"sensitive":   false,
	}).Error
}
