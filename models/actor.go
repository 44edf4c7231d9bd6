package models

import (
	"fmt"
	"time"

	"github.com/seren-social/seren/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// staleAge is how old a remote actor's record may grow before it must
// be re-fetched from its home instance.
const staleAge = 7 * 24 * time.Hour

type ActorType string

func (ActorType) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql", "postgres":
		return "enum('Person', 'Application', 'Service', 'Group', 'Organization', 'Tombstone')"
	case "sqlite":
		return "TEXT"
	default:
		return ""
	}
}

// An Actor is a federated account, local or remote. Local-only secrets
// live on the associated Account, never here.
type Actor struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
	// CheckedAt is when the record was last confirmed against the
	// actor's home instance.
	CheckedAt time.Time
	Type      ActorType `gorm:"default:'Person';not null"`
	// ASID is the globally unique protocol id of the actor.
	ASID           string `gorm:"column:as_id;size:255;not null;uniqueIndex"`
	Name           string `gorm:"size:64;uniqueIndex:idx_actor_name_domain;not null"`
	Domain         string `gorm:"size:64;uniqueIndex:idx_actor_name_domain;not null"`
	DisplayName    string `gorm:"size:128"`
	Summary        string `gorm:"type:text"`
	InboxURL       string `gorm:"size:255"`
	OutboxURL      string `gorm:"size:255"`
	FollowersURL   string `gorm:"size:255"`
	FollowingURL   string `gorm:"size:255"`
	SharedInboxURL string `gorm:"size:255"`
	PublicKey      []byte
	AvatarURL      string `gorm:"size:255"`
	HeaderURL      string `gorm:"size:255"`
	Discoverable   bool   `gorm:"not null;default:true"`
	Local          bool   `gorm:"not null;default:false"`
}

// IsStale reports whether the record is too old to be trusted without a
// remote refresh. Local actors are never stale.
func (a *Actor) IsStale() bool {
	if a.Local {
		return false
	}
	return time.Since(a.UpdatedAt) > staleAge
}

// Inbox returns the actor's shared inbox URL if it has one, otherwise
// its personal inbox URL.
func (a *Actor) Inbox() string {
	if a.SharedInboxURL != "" {
		return a.SharedInboxURL
	}
	return a.InboxURL
}

// PublicKeyID returns the id the actor's key is published under.
func (a *Actor) PublicKeyID() string {
	return a.ASID + "#main-key"
}

func (a *Actor) Acct() string {
	return fmt.Sprintf("%s@%s", a.Name, a.Domain)
}

// AfterSave records the actor's home instance as a federation peer.
func (a *Actor) AfterSave(tx *gorm.DB) error {
	if a.Local {
		return nil
	}
	peer := &Instance{
		ID:             snowflake.Now(),
		Domain:         a.Domain,
		SharedInboxURL: a.SharedInboxURL,
		LastSeenAt:     time.Now(),
	}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "domain"}},
		DoUpdates: clause.AssignmentColumns([]string{"shared_inbox_url", "last_seen_at"}),
	}).Create(peer).Error
}

type Actors struct {
	db *gorm.DB
}

func NewActors(db *gorm.DB) *Actors {
	return &Actors{db: db}
}

// Find finds an actor by its name and domain.
func (a *Actors) Find(name, domain string) (*Actor, error) {
	var actor Actor
	return &actor, a.db.Where("name = ? AND domain = ?", name, domain).Take(&actor).Error
}

// FindByASID returns an actor by its protocol id if it exists locally.
func (a *Actors) FindByASID(asID string) (*Actor, error) {
	var actor []Actor
	if err := a.db.Where("as_id = ?", asID).Find(&actor).Error; err != nil {
		return nil, err
	}
	if len(actor) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &actor[0], nil
}

// Save persists the actor, updating the existing row when one with the
// same as_id already exists. CheckedAt is refreshed on every save.
func (a *Actors) Save(actor *Actor) error {
	actor.CheckedAt = time.Now()
	if actor.UpdatedAt.IsZero() {
		actor.UpdatedAt = time.Now()
	}
	return a.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "as_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"updated_at", "checked_at", "type", "name", "domain",
			"display_name", "summary", "inbox_url", "outbox_url",
			"followers_url", "following_url", "shared_inbox_url",
			"public_key", "avatar_url", "header_url", "discoverable",
		}),
	}).Create(actor).Error
}

// Tombstone clears the actor's personal content but preserves the row
// so foreign keys keep resolving. Local actors are never tombstoned by
// federation.
func (a *Actors) Tombstone(actor *Actor) error {
	if actor.Local {
		return fmt.Errorf("Actors.Tombstone: refusing to tombstone local actor %s", actor.ASID)
	}
	return a.db.Model(actor).Updates(map[string]any{
		"type":         "Tombstone",
		"display_name": "",
		"summary":      "",
		"avatar_url":   "",
		"header_url":   "",
		"public_key":   nil,
		"discoverable": false,
	}).Error
}
