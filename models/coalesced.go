package models

import (
	"errors"
	"strings"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/seren-social/seren/internal/algorithms"
	"github.com/seren-social/seren/internal/snowflake"
	"gorm.io/gorm"
)

// A CoalescedActivity is the wide row produced by the resolver's joined
// query: an activity's own columns interleaved with the same columns
// for its target activity, plus flattened object and actor columns. It
// is a transient read-model artifact; always Split back into
// independent entities before any business logic touches it.
type CoalescedActivity struct {
	// activity columns
	ID               snowflake.ID
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Kind             ActivityKind
	UUID             string
	Actor            string
	ActorID          *snowflake.ID
	APID             string  `gorm:"column:ap_id"`
	To               *string `gorm:"column:ap_to"`
	CC               *string `gorm:"column:ap_cc"`
	Revoked          bool
	TargetActivityID *snowflake.ID
	TargetObjectID   *snowflake.ID
	TargetActorID    *snowflake.ID
	TargetAPID       *string `gorm:"column:target_ap_id"`
	Reply            bool
	Raw              *string

	// target activity columns (one level deep, never recursive)
	TID         *snowflake.ID `gorm:"column:t_id"`
	TCreatedAt  *time.Time    `gorm:"column:t_created_at"`
	TKind       *ActivityKind `gorm:"column:t_kind"`
	TUUID       *string       `gorm:"column:t_uuid"`
	TActor      *string       `gorm:"column:t_actor"`
	TAPID       *string       `gorm:"column:t_ap_id"`
	TTo         *string       `gorm:"column:t_to"`
	TCC         *string       `gorm:"column:t_cc"`
	TRevoked    *bool         `gorm:"column:t_revoked"`
	TTargetAPID *string       `gorm:"column:t_target_ap_id"`

	// object columns
	OID             *snowflake.ID `gorm:"column:o_id"`
	OCreatedAt      *time.Time    `gorm:"column:o_created_at"`
	OUpdatedAt      *time.Time    `gorm:"column:o_updated_at"`
	OType           *ObjectType   `gorm:"column:o_type"`
	OASID           *string       `gorm:"column:o_as_id"`
	OAttributedTo   *string       `gorm:"column:o_attributed_to"`
	OContent        *string       `gorm:"column:o_content"`
	OSummary        *string       `gorm:"column:o_summary"`
	OTo             *string       `gorm:"column:o_to"`
	OCC             *string       `gorm:"column:o_cc"`
	OInReplyTo      *string       `gorm:"column:o_in_reply_to"`
	OConversationID *snowflake.ID `gorm:"column:o_conversation_id"`
	OSensitive      *bool         `gorm:"column:o_sensitive"`
	OAttachments    *string       `gorm:"column:o_attachments"`
	OTags           *string       `gorm:"column:o_tags"`
	OHashtags       *string       `gorm:"column:o_hashtags"`

	// actor columns
	AID             *snowflake.ID `gorm:"column:a_id"`
	AUpdatedAt      *time.Time    `gorm:"column:a_updated_at"`
	AType           *ActorType    `gorm:"column:a_type"`
	AASID           *string       `gorm:"column:a_as_id"`
	AName           *string       `gorm:"column:a_name"`
	ADomain         *string       `gorm:"column:a_domain"`
	ADisplayName    *string       `gorm:"column:a_display_name"`
	AInboxURL       *string       `gorm:"column:a_inbox_url"`
	ASharedInboxURL *string       `gorm:"column:a_shared_inbox_url"`
	AFollowersURL   *string       `gorm:"column:a_followers_url"`
	AAvatarURL      *string       `gorm:"column:a_avatar_url"`
	ALocal          *bool         `gorm:"column:a_local"`

	// ViewerLiked is a per-viewer annotation, populated only when the
	// query ran with a viewer.
	ViewerLiked bool `gorm:"column:viewer_liked"`
}

// coalescedColumns is the wide projection. It must stay in lockstep
// with CoalescedActivity and Split; the golden-row test guards the
// pairing.
const coalescedColumns = `activities.id, activities.created_at, activities.updated_at,
activities.kind, activities.uuid, activities.actor, activities.actor_id,
activities.ap_id, activities.ap_to, activities.ap_cc, activities.revoked,
activities.target_activity_id, activities.target_object_id, activities.target_actor_id,
activities.target_ap_id, activities.reply, activities.raw,
t.id AS t_id, t.created_at AS t_created_at, t.kind AS t_kind, t.uuid AS t_uuid,
t.actor AS t_actor, t.ap_id AS t_ap_id, t.ap_to AS t_to, t.ap_cc AS t_cc,
t.revoked AS t_revoked, t.target_ap_id AS t_target_ap_id,
o.id AS o_id, o.created_at AS o_created_at, o.updated_at AS o_updated_at,
o.type AS o_type, o.as_id AS o_as_id, o.attributed_to AS o_attributed_to,
o.content AS o_content, o.summary AS o_summary, o.ap_to AS o_to, o.ap_cc AS o_cc,
o.in_reply_to AS o_in_reply_to, o.conversation_id AS o_conversation_id,
o.sensitive AS o_sensitive, o.attachments AS o_attachments, o.tags AS o_tags,
o.hashtags AS o_hashtags,
a.id AS a_id, a.updated_at AS a_updated_at, a.type AS a_type, a.as_id AS a_as_id,
a.name AS a_name, a.domain AS a_domain, a.display_name AS a_display_name,
a.inbox_url AS a_inbox_url, a.shared_inbox_url AS a_shared_inbox_url,
a.followers_url AS a_followers_url, a.avatar_url AS a_avatar_url, a.local AS a_local`

// Split reconstructs the wide row into independent entities: the
// activity itself, and its target activity, object and actor when the
// respective joins matched.
func (ca *CoalescedActivity) Split() (Activity, *Activity, *Object, *Actor) {
	activity := Activity{
		ID:               ca.ID,
		CreatedAt:        ca.CreatedAt,
		UpdatedAt:        ca.UpdatedAt,
		Kind:             ca.Kind,
		UUID:             ca.UUID,
		Actor:            ca.Actor,
		ActorID:          ca.ActorID,
		APID:             ca.APID,
		To:               unmarshalStrings(ca.To),
		CC:               unmarshalStrings(ca.CC),
		Revoked:          ca.Revoked,
		TargetActivityID: ca.TargetActivityID,
		TargetObjectID:   ca.TargetObjectID,
		TargetActorID:    ca.TargetActorID,
		TargetAPID:       ca.TargetAPID,
		Reply:            ca.Reply,
	}
	if ca.Raw != nil {
		var raw map[string]any
		if err := json.Unmarshal([]byte(*ca.Raw), &raw); err == nil {
			activity.Raw = raw
		}
	}

	var target *Activity
	if ca.TID != nil {
		target = &Activity{
			ID:         *ca.TID,
			Kind:       derefOr(ca.TKind, ActivityKind("")),
			UUID:       derefOr(ca.TUUID, ""),
			Actor:      derefOr(ca.TActor, ""),
			APID:       derefOr(ca.TAPID, ""),
			To:         unmarshalStrings(ca.TTo),
			CC:         unmarshalStrings(ca.TCC),
			Revoked:    derefOr(ca.TRevoked, false),
			TargetAPID: ca.TTargetAPID,
		}
		if ca.TCreatedAt != nil {
			target.CreatedAt = *ca.TCreatedAt
		}
	}

	var object *Object
	if ca.OID != nil {
		object = &Object{
			ID:           *ca.OID,
			Type:         derefOr(ca.OType, ObjectType("")),
			ASID:         derefOr(ca.OASID, ""),
			AttributedTo: derefOr(ca.OAttributedTo, ""),
			Content:      derefOr(ca.OContent, ""),
			Summary:      derefOr(ca.OSummary, ""),
			To:           unmarshalStrings(ca.OTo),
			CC:           unmarshalStrings(ca.OCC),
			InReplyTo:    ca.OInReplyTo,
			Sensitive:    derefOr(ca.OSensitive, false),
			Hashtags:     unmarshalStrings(ca.OHashtags),
		}
		if ca.OCreatedAt != nil {
			object.CreatedAt = *ca.OCreatedAt
		}
		if ca.OUpdatedAt != nil {
			object.UpdatedAt = *ca.OUpdatedAt
		}
		if ca.OConversationID != nil {
			object.ConversationID = *ca.OConversationID
		}
		if ca.OAttachments != nil {
			json.Unmarshal([]byte(*ca.OAttachments), &object.Attachments)
		}
		if ca.OTags != nil {
			json.Unmarshal([]byte(*ca.OTags), &object.Tags)
		}
	}

	var actor *Actor
	if ca.AID != nil {
		actor = &Actor{
			ID:             *ca.AID,
			Type:           derefOr(ca.AType, ActorType("")),
			ASID:           derefOr(ca.AASID, ""),
			Name:           derefOr(ca.AName, ""),
			Domain:         derefOr(ca.ADomain, ""),
			DisplayName:    derefOr(ca.ADisplayName, ""),
			InboxURL:       derefOr(ca.AInboxURL, ""),
			SharedInboxURL: derefOr(ca.ASharedInboxURL, ""),
			FollowersURL:   derefOr(ca.AFollowersURL, ""),
			AvatarURL:      derefOr(ca.AAvatarURL, ""),
			Local:          derefOr(ca.ALocal, false),
		}
		if ca.AUpdatedAt != nil {
			actor.UpdatedAt = *ca.AUpdatedAt
		}
	}

	return activity, target, object, actor
}

func unmarshalStrings(s *string) []string {
	if s == nil || *s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(*s), &out); err != nil {
		return nil
	}
	return out
}

func derefOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// TimelineView selects the address-matching strategy for a timeline
// query.
type TimelineView string

const (
	ViewHome   TimelineView = "home"
	ViewLocal  TimelineView = "local"
	ViewGlobal TimelineView = "global"
	ViewDirect TimelineView = "direct"
)

// PublicAddress is the well-known ActivityPub address meaning
// "everyone".
const PublicAddress = "https://www.w3.org/ns/activitystreams#Public"

// A TimelineFilter selects and pages a timeline. MaxTS and MinTS are
// microsecond epoch cursors: MaxTS selects the strictly-older page in
// descending order; MinTS (including zero, the bootstrap case) selects
// the strictly-newer page in ascending order.
type TimelineFilter struct {
	View          TimelineView `schema:"view"`
	Hashtags      []string     `schema:"hashtag"`
	ExcludedWords []string     `schema:"exclude"`
	Username      string       `schema:"username"`
	ObjectTypes   []string     `schema:"type"`
	MaxTS         *int64       `schema:"max"`
	MinTS         *int64       `schema:"min"`
	Limit         int          `schema:"limit"`

	// Viewer personalizes the result (home address set, muted words,
	// viewer_liked annotation). Never decoded from the request.
	Viewer *Actor `schema:"-"`
}

// CoalescedActivities builds the wide, single-round-trip joined queries
// and splits each result row back into independent entities.
type CoalescedActivities struct {
	db *gorm.DB
}

func NewCoalescedActivities(db *gorm.DB) *CoalescedActivities {
	return &CoalescedActivities{db: db}
}

func (c *CoalescedActivities) base(viewer *Actor) *gorm.DB {
	cols := coalescedColumns
	var args []any
	if viewer != nil {
		cols += `,
EXISTS (SELECT 1 FROM activities liked
	WHERE liked.kind = 'Like' AND liked.actor = ?
	AND liked.target_ap_id = o.as_id AND liked.revoked = ?) AS viewer_liked`
		args = append(args, viewer.ASID, false)
	}
	return c.db.Table("activities").
		Select(cols, args...).
		Joins("LEFT JOIN activities t ON t.id = activities.target_activity_id").
		Joins("LEFT JOIN objects o ON o.id = activities.target_object_id").
		Joins("LEFT JOIN actors a ON a.id = activities.target_actor_id")
}

// FindByAPID resolves a single activity by its protocol id.
func (c *CoalescedActivities) FindByAPID(apID string) (*CoalescedActivity, error) {
	return c.one(c.base(nil).Where("activities.ap_id = ?", apID))
}

// FindByUUID resolves a single activity by its server-minted uuid.
func (c *CoalescedActivities) FindByUUID(uuid string) (*CoalescedActivity, error) {
	return c.one(c.base(nil).Where("activities.uuid = ?", uuid))
}

// FindByID resolves a single activity by its numeric id.
func (c *CoalescedActivities) FindByID(id snowflake.ID) (*CoalescedActivity, error) {
	return c.one(c.base(nil).Where("activities.id = ?", id))
}

func (c *CoalescedActivities) one(query *gorm.DB) (*CoalescedActivity, error) {
	var rows []CoalescedActivity
	if err := query.Limit(1).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &rows[0], nil
}

// Thread returns every activity in the conversation, ascending by
// creation time. A conversation that yields no rows is an empty
// sequence, not an error. Passing a viewer personalizes the rows.
func (c *CoalescedActivities) Thread(conversationID snowflake.ID, viewer *Actor) ([]CoalescedActivity, error) {
	var rows []CoalescedActivity
	err := c.base(viewer).
		Where("o.conversation_id = ?", conversationID).
		Order("activities.created_at asc").
		Scan(&rows).Error
	return rows, err
}

// Timeline returns one page of activities matching the filter.
func (c *CoalescedActivities) Timeline(filter *TimelineFilter) ([]CoalescedActivity, error) {
	query := c.base(filter.Viewer).
		Where("activities.revoked = ?", false).
		Where("activities.kind IN ?", []ActivityKind{KindCreate, KindAnnounce})

	query, err := c.applyView(query, filter)
	if err != nil {
		return nil, err
	}
	if filter.Username != "" {
		query = query.Where("activities.actor_id IN (SELECT id FROM actors WHERE name = ?)", filter.Username)
	}
	if len(filter.ObjectTypes) > 0 {
		query = query.Where("o.type IN ?", filter.ObjectTypes)
	}
	for _, tag := range algorithms.Uniq(filter.Hashtags) {
		query = query.Where("o.hashtags LIKE ?", `%"`+strings.ToLower(tag)+`"%`)
	}
	for _, word := range c.excludedWords(filter) {
		query = query.Where("(o.content IS NULL OR o.content NOT LIKE ?)", "%"+word+"%")
	}

	limit := filter.Limit
	switch {
	case limit <= 0:
		limit = 20
	case limit > 40:
		limit = 40
	}
	query = query.Limit(limit)

	// max set selects the strictly-older page, newest first. min set,
	// including the min == 0 bootstrap, selects the strictly-newer
	// page, oldest first.
	switch {
	case filter.MaxTS != nil:
		query = query.
			Where("activities.created_at < ?", time.UnixMicro(*filter.MaxTS)).
			Order("activities.created_at desc")
	case filter.MinTS != nil:
		query = query.
			Where("activities.created_at > ?", time.UnixMicro(*filter.MinTS)).
			Order("activities.created_at asc")
	default:
		query = query.Order("activities.created_at desc")
	}

	var rows []CoalescedActivity
	return rows, query.Scan(&rows).Error
}

// Outbox returns the page of activities issued by the named local
// actor. The username is mandatory.
func (c *CoalescedActivities) Outbox(username string, filter *TimelineFilter) ([]CoalescedActivity, error) {
	if username == "" {
		return nil, errors.New("CoalescedActivities.Outbox: username is required")
	}
	if filter == nil {
		filter = &TimelineFilter{}
	}
	scoped := *filter
	scoped.Username = username
	scoped.View = ViewLocal
	return c.Timeline(&scoped)
}

func (c *CoalescedActivities) applyView(query *gorm.DB, filter *TimelineFilter) (*gorm.DB, error) {
	switch filter.View {
	case ViewHome:
		if filter.Viewer == nil {
			return nil, errors.New("CoalescedActivities.Timeline: home view requires a viewer")
		}
		leaders, err := NewFollows(c.db).LeaderAPIDs(filter.Viewer.ASID)
		if err != nil {
			return nil, err
		}
		addresses := algorithms.Uniq(append([]string{filter.Viewer.ASID}, leaders...))
		var conds []string
		var args []any
		for _, addr := range addresses {
			conds = append(conds, "activities.ap_to LIKE ? OR activities.ap_cc LIKE ?")
			pattern := `%"` + addr + `"%`
			args = append(args, pattern, pattern)
		}
		return query.Where("("+strings.Join(conds, " OR ")+")", args...), nil
	case ViewLocal:
		return query.Where("activities.actor_id IN (SELECT id FROM actors WHERE local = ?)", true), nil
	default:
		// global, direct and unspecified fall through to the Public
		// address match.
		pattern := `%"` + PublicAddress + `"%`
		return query.Where("(activities.ap_to LIKE ? OR activities.ap_cc LIKE ?)", pattern, pattern), nil
	}
}

// excludedWords merges the viewer's muted terms with any filter
// supplied words, deduplicated.
func (c *CoalescedActivities) excludedWords(filter *TimelineFilter) []string {
	words := append([]string{}, filter.ExcludedWords...)
	if filter.Viewer != nil {
		account, err := NewAccounts(c.db).AccountForActor(filter.Viewer)
		if err == nil {
			muted, err := NewAccounts(c.db).MutedWords(account)
			if err == nil {
				words = append(words, muted...)
			}
		}
	}
	return algorithms.Uniq(algorithms.Filter(words, func(w string) bool { return w != "" }))
}

// SplitAll splits a sequence of wide rows.
func SplitAll(rows []CoalescedActivity) []Activity {
	return algorithms.Map(rows, func(ca CoalescedActivity) Activity {
		activity, _, _, _ := ca.Split()
		return activity
	})
}
