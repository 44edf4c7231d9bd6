package models

import (
	"errors"
	"time"

	"github.com/seren-social/seren/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// ActivityKind is the closed enumeration of protocol activity types.
type ActivityKind string

const (
	KindCreate   ActivityKind = "Create"
	KindUpdate   ActivityKind = "Update"
	KindDelete   ActivityKind = "Delete"
	KindFollow   ActivityKind = "Follow"
	KindAccept   ActivityKind = "Accept"
	KindReject   ActivityKind = "Reject"
	KindLike     ActivityKind = "Like"
	KindAnnounce ActivityKind = "Announce"
	KindUndo     ActivityKind = "Undo"
	KindMove     ActivityKind = "Move"
	KindAdd      ActivityKind = "Add"
	KindRemove   ActivityKind = "Remove"
	KindBlock    ActivityKind = "Block"
)

// Kinds lists every activity kind the engine understands.
var Kinds = []ActivityKind{
	KindCreate, KindUpdate, KindDelete, KindFollow, KindAccept,
	KindReject, KindLike, KindAnnounce, KindUndo, KindMove,
	KindAdd, KindRemove, KindBlock,
}

// ParseKind maps a wire type discriminant onto an ActivityKind.
func ParseKind(s string) (ActivityKind, bool) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

func (ActivityKind) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "mysql", "postgres":
		return "enum('Create', 'Update', 'Delete', 'Follow', 'Accept', 'Reject', 'Like', 'Announce', 'Undo', 'Move', 'Add', 'Remove', 'Block')"
	case "sqlite":
		return "TEXT"
	default:
		return ""
	}
}

// A DeliveryOutcome records one fan-out pass for an activity: the
// per-inbox results of a single send attempt.
type DeliveryOutcome struct {
	Time    time.Time        `json:"time"`
	Results []DeliveryResult `json:"results"`
}

// A DeliveryResult records the outcome of one signed POST to one inbox.
type DeliveryResult struct {
	Inbox      string `json:"inbox"`
	StatusCode int    `json:"status_code"`
	Request    string `json:"request,omitempty"`
	Response   string `json:"response,omitempty"`
	Error      string `json:"error,omitempty"`
}

// An Activity is a recorded protocol action. Once committed it is
// immutable except to flip Revoked, append to Log, or backfill the
// resolved actor and target keys.
type Activity struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	Kind      ActivityKind `gorm:"not null"`
	UUID      string       `gorm:"size:36;not null"`
	// Actor is the protocol id of the actor that issued the activity.
	Actor string `gorm:"size:255;not null"`
	// ActorID is the resolved local key for Actor, if known at write time.
	ActorID *snowflake.ID
	// APID is the globally unique protocol id of the activity itself.
	APID string `gorm:"column:ap_id;size:255;not null;uniqueIndex"`
	// To and CC are stored under ap_to/ap_cc to stay clear of SQL
	// reserved words.
	To []string `gorm:"column:ap_to;serializer:json"`
	CC []string `gorm:"column:ap_cc;serializer:json"`
	// Revoked is monotonic: once set it is never cleared.
	Revoked bool `gorm:"not null;default:false"`
	// At most one of the Target*ID keys is populated, matching the
	// protocol semantics of Kind.
	TargetActivityID *snowflake.ID
	TargetObjectID   *snowflake.ID
	TargetActorID    *snowflake.ID
	TargetAPID       *string `gorm:"column:target_ap_id;size:255;index"`
	Reply            bool    `gorm:"not null;default:false"`
	// Log is the append-only delivery history.
	Log []DeliveryOutcome `gorm:"serializer:json"`
	// Raw is the original wire payload.
	Raw map[string]any `gorm:"serializer:json"`
}

// TargetCount returns how many of the local target keys are populated.
func (a *Activity) TargetCount() int {
	n := 0
	for _, id := range []*snowflake.ID{a.TargetActivityID, a.TargetObjectID, a.TargetActorID} {
		if id != nil {
			n++
		}
	}
	return n
}

// Addresses returns the union of the activity's to and cc address sets.
func (a *Activity) Addresses() []string {
	return append(append([]string{}, a.To...), a.CC...)
}

type Activities struct {
	db *gorm.DB
}

func NewActivities(db *gorm.DB) *Activities {
	return &Activities{db: db}
}

// Save persists the activity, updating the existing row when one with
// the same ap_id already exists. Re-submitting the same ap_id is
// therefore effectively-once.
func (a *Activities) Save(activity *Activity) error {
	return a.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "ap_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"updated_at", "actor_id", "ap_to", "ap_cc",
			"target_activity_id", "target_object_id", "target_actor_id",
			"target_ap_id", "reply", "raw",
		}),
	}).Create(activity).Error
}

// FindByAPID returns the activity with the given protocol id.
func (a *Activities) FindByAPID(apID string) (*Activity, error) {
	var activity []Activity
	if err := a.db.Where("ap_id = ?", apID).Find(&activity).Error; err != nil {
		return nil, err
	}
	if len(activity) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &activity[0], nil
}

// FindByUUID returns the activity with the given server-minted uuid.
func (a *Activities) FindByUUID(uuid string) (*Activity, error) {
	var activity Activity
	return &activity, a.db.Where("uuid = ?", uuid).Take(&activity).Error
}

func (a *Activities) FindByID(id snowflake.ID) (*Activity, error) {
	var activity Activity
	return &activity, a.db.Take(&activity, id).Error
}

// FindByKindActorTarget locates an unrevoked activity by its kind, the
// protocol id of its issuer and the protocol id of its target. Used to
// resolve the antecedent of Undo and Delete.
func (a *Activities) FindByKindActorTarget(kind ActivityKind, actor, targetAPID string) (*Activity, error) {
	var activity []Activity
	err := a.db.
		Where("kind = ? AND actor = ? AND target_ap_id = ? AND revoked = ?", kind, actor, targetAPID, false).
		Find(&activity).Error
	if err != nil {
		return nil, err
	}
	if len(activity) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &activity[0], nil
}

// Revoke sets the revoked flag on the activity with the given protocol
// id. Revocation is monotonic; revoking an already revoked activity is
// a no-op.
func (a *Activities) Revoke(apID string) error {
	return a.db.Model(&Activity{}).
		Where("ap_id = ? AND revoked = ?", apID, false).
		Update("revoked", true).Error
}

// AppendLog appends one delivery outcome to the activity's log. The
// existing history is preserved across repeated send attempts.
func (a *Activities) AppendLog(id snowflake.ID, outcome DeliveryOutcome) error {
	return a.db.Transaction(func(tx *gorm.DB) error {
		var activity Activity
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Take(&activity, id).Error; err != nil {
			return err
		}
		activity.Log = append(activity.Log, outcome)
		// a struct update runs the field's json serializer; a bare
		// column update would hand the slice straight to the driver
		return tx.Model(&activity).Select("log").Updates(&activity).Error
	})
}

// LinkActor backfills the resolved actor key on activities recorded
// before the actor had a local row.
func (a *Activities) LinkActor(actor *Actor) error {
	return a.db.Model(&Activity{}).
		Where("actor = ? AND actor_id IS NULL", actor.ASID).
		Update("actor_id", actor.ID).Error
}

// PurgeByActor removes every activity issued by the given actor id.
// This is the administrative escape hatch; federation never deletes
// activity rows.
func (a *Activities) PurgeByActor(actorAPID string) (int64, error) {
	res := a.db.Where("actor = ?", actorAPID).Delete(&Activity{})
	return res.RowsAffected, res.Error
}

// PurgeByDomain removes every activity issued by any actor on the
// given domain.
func (a *Activities) PurgeByDomain(domain string) (int64, error) {
	if domain == "" {
		return 0, errors.New("Activities.PurgeByDomain: domain is empty")
	}
	res := a.db.Where("actor LIKE ?", "https://"+domain+"/%").Delete(&Activity{})
	return res.RowsAffected, res.Error
}
