package models

import (
	"time"

	"github.com/seren-social/seren/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// activeAge is how long an instance may go uncontacted before Public
// fan-out stops targeting it.
const activeAge = 14 * 24 * time.Hour

// An Instance is one remote federation partner.
type Instance struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Domain    string `gorm:"size:64;not null;uniqueIndex"`
	// SharedInboxURL is the instance-wide delivery endpoint, when the
	// instance advertises one.
	SharedInboxURL string `gorm:"size:255"`
	Blocked        bool   `gorm:"not null;default:false"`
	// LastSeenAt is the last time any actor from this instance was
	// saved or any delivery to it succeeded.
	LastSeenAt time.Time
}

type Instances struct {
	db *gorm.DB
}

func NewInstances(db *gorm.DB) *Instances {
	return &Instances{db: db}
}

// FindByDomain finds an instance by domain.
func (i *Instances) FindByDomain(domain string) (*Instance, error) {
	var instance Instance
	return &instance, i.db.Where("domain = ?", domain).Take(&instance).Error
}

// Save persists the instance, updating the existing row for the domain.
func (i *Instances) Save(instance *Instance) error {
	return i.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "domain"}},
		DoUpdates: clause.AssignmentColumns([]string{"updated_at", "shared_inbox_url", "last_seen_at"}),
	}).Create(instance).Error
}

// Touch refreshes the last-contacted timestamp for the domain.
func (i *Instances) Touch(domain string) error {
	return i.db.Model(&Instance{}).Where("domain = ?", domain).
		Update("last_seen_at", time.Now()).Error
}

// Block marks the domain blocked. Blocked instances are skipped by
// fan-out and refused by the retriever.
func (i *Instances) Block(domain string) error {
	return i.db.Model(&Instance{}).Where("domain = ?", domain).Update("blocked", true).Error
}

// ActiveSharedInboxes returns the shared inbox URL of every non-blocked
// instance contacted within the activity window. Instances unseen for
// longer are presumed dead and skipped.
func (i *Instances) ActiveSharedInboxes() ([]string, error) {
	var instances []Instance
	cutoff := time.Now().Add(-activeAge)
	err := i.db.
		Where("blocked = ? AND shared_inbox_url <> '' AND last_seen_at > ?", false, cutoff).
		Find(&instances).Error
	if err != nil {
		return nil, err
	}
	inboxes := make([]string, 0, len(instances))
	for _, inst := range instances {
		inboxes = append(inboxes, inst.SharedInboxURL)
	}
	return inboxes, nil
}

// A Blocklist is the in-process view of blocked domains. It is built
// once at startup and consulted before every outbound fetch or
// delivery.
type Blocklist struct {
	domains map[string]bool
}

// NewBlocklist loads the blocked domains from the store.
func NewBlocklist(db *gorm.DB) (*Blocklist, error) {
	var instances []Instance
	if err := db.Where("blocked = ?", true).Find(&instances).Error; err != nil {
		return nil, err
	}
	domains := make(map[string]bool, len(instances))
	for _, i := range instances {
		domains[i.Domain] = true
	}
	return &Blocklist{domains: domains}, nil
}

// Blocked reports whether the domain is blocked.
func (b *Blocklist) Blocked(domain string) bool {
	if b == nil {
		return false
	}
	return b.domains[domain]
}
