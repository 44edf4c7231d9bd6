package activitypub

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/seren-social/seren/internal/algorithms"
	"github.com/seren-social/seren/internal/snowflake"
	"github.com/seren-social/seren/models"
)

// A Payload is the parsed form of one wire activity, before its target
// has been resolved.
type Payload struct {
	Kind   models.ActivityKind
	APID   string
	Actor  string
	To, CC []string
	// Published is the wire timestamp, zero when absent.
	Published time.Time
	// Object is the raw object field: a bare id string or an embedded
	// object.
	Object any
	Raw    map[string]any
}

// ObjectID returns the protocol id of the payload's object, whether it
// arrived as a bare id or embedded.
func (p *Payload) ObjectID() string {
	return idFromAny(p.Object)
}

// ParsePayload extracts the fields common to every activity kind.
func ParsePayload(raw map[string]any) (*Payload, error) {
	kind, ok := models.ParseKind(stringFromAny(raw["type"]))
	if !ok {
		return nil, fmt.Errorf("unknown activity type %q", stringFromAny(raw["type"]))
	}
	actor := idFromAny(raw["actor"])
	if actor == "" {
		return nil, fmt.Errorf("%s activity missing actor", kind)
	}
	return &Payload{
		Kind:      kind,
		APID:      stringFromAny(raw["id"]),
		Actor:     actor,
		To:        stringsFromAny(raw["to"]),
		CC:        stringsFromAny(raw["cc"]),
		Published: timeFromAnyOrZero(raw["published"]),
		Object:    raw["object"],
		Raw:       raw,
	}, nil
}

// A Target is the resolved local entity an activity acts on. A nil
// Target means the entity is not known locally; kinds with strict shape
// rules reject that.
type Target interface {
	applyTo(*models.Activity)
}

// TargetObject links an activity to a content object.
type TargetObject struct{ *models.Object }

func (t TargetObject) applyTo(a *models.Activity) {
	a.TargetObjectID = &t.Object.ID
	a.TargetAPID = &t.Object.ASID
	a.Reply = t.Object.IsReply()
}

// TargetActivity links an activity to an earlier activity.
type TargetActivity struct{ *models.Activity }

func (t TargetActivity) applyTo(a *models.Activity) {
	a.TargetActivityID = &t.Activity.ID
	a.TargetAPID = &t.Activity.APID
}

// TargetActor links an activity to an actor.
type TargetActor struct{ *models.Actor }

func (t TargetActor) applyTo(a *models.Activity) {
	a.TargetActorID = &t.Actor.ID
	a.TargetAPID = &t.Actor.ASID
}

// NewActivity builds the storable activity for the payload, enforcing
// the per-kind target shape rules. The domain is used to mint an ap id
// when the payload arrived without one.
func NewActivity(domain string, p *Payload, target Target) (*models.Activity, error) {
	if err := checkShape(p, target); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	apID := p.APID
	if apID == "" {
		apID = fmt.Sprintf("https://%s/activities/%s", domain, id)
	}

	published := p.Published
	if published.IsZero() {
		published = time.Now()
	}

	activity := &models.Activity{
		ID:        snowflake.TimeToID(published),
		CreatedAt: published,
		Kind:      p.Kind,
		UUID:      id,
		Actor:     p.Actor,
		APID:      apID,
		To:        p.To,
		CC:        p.CC,
		Raw:       p.Raw,
	}
	if target != nil {
		target.applyTo(activity)
	}
	if activity.TargetAPID == nil {
		if objectID := p.ObjectID(); objectID != "" {
			activity.TargetAPID = &objectID
		}
	}

	return activity, nil
}

func checkShape(p *Payload, target Target) error {
	switch p.Kind {
	case models.KindAccept, models.KindReject:
		ta, ok := target.(TargetActivity)
		if !ok {
			return fmt.Errorf("%s: target must be Follow", p.Kind)
		}
		if ta.Activity.Kind != models.KindFollow {
			return fmt.Errorf("%s: target must be Follow, not %s", p.Kind, ta.Activity.Kind)
		}
	case models.KindUndo:
		ta, ok := target.(TargetActivity)
		if !ok {
			return fmt.Errorf("Undo: antecedent activity not found")
		}
		switch ta.Activity.Kind {
		case models.KindFollow, models.KindLike, models.KindAnnounce:
		default:
			return fmt.Errorf("Undo: cannot undo %s", ta.Activity.Kind)
		}
	case models.KindCreate, models.KindUpdate:
		if p.ObjectID() == "" {
			if _, ok := p.Object.(map[string]any); !ok {
				return fmt.Errorf("%s activity missing object", p.Kind)
			}
		}
	case models.KindLike, models.KindAnnounce, models.KindDelete,
		models.KindFollow, models.KindBlock, models.KindMove,
		models.KindAdd, models.KindRemove:
		if p.ObjectID() == "" {
			return fmt.Errorf("%s activity missing object", p.Kind)
		}
	}
	return nil
}

// updatableTypes are the embedded object types an Update may carry.
var updatableTypes = []string{
	"Note", "Article", "Question", "Person", "Service", "Collection",
}

// linkTarget resolves the payload's object against the local store.
// Absence of a local row is tolerated for kinds whose shape rules
// allow it; NewActivity decides.
func (e *Env) linkTarget(p *Payload) (Target, error) {
	switch p.Kind {
	case models.KindAccept, models.KindReject, models.KindUndo:
		return e.linkActivity(p)
	case models.KindCreate, models.KindUpdate:
		return e.linkEmbedded(p)
	case models.KindLike, models.KindAnnounce:
		if obj, err := models.NewObjects(e.DB).FindByASID(p.ObjectID()); err == nil {
			return TargetObject{obj}, nil
		}
		if activity, err := models.NewActivities(e.DB).FindByAPID(p.ObjectID()); err == nil {
			return TargetActivity{activity}, nil
		}
		return nil, nil
	case models.KindFollow, models.KindBlock, models.KindMove:
		if actor, err := models.NewActors(e.DB).FindByASID(p.ObjectID()); err == nil {
			return TargetActor{actor}, nil
		}
		return nil, nil
	case models.KindDelete:
		if obj, err := models.NewObjects(e.DB).FindByASID(p.ObjectID()); err == nil {
			return TargetObject{obj}, nil
		}
		if actor, err := models.NewActors(e.DB).FindByASID(p.ObjectID()); err == nil {
			return TargetActor{actor}, nil
		}
		return nil, nil
	default:
		// Add and Remove carry the bare id only
		return nil, nil
	}
}

// linkActivity resolves Accept, Reject and Undo to their antecedent
// activity. The embedded form is tried first, then the bare id, then
// the (kind, actor, target) triple for Undos that reference the
// original by content rather than id.
func (e *Env) linkActivity(p *Payload) (Target, error) {
	activities := models.NewActivities(e.DB)
	if id := p.ObjectID(); id != "" {
		if activity, err := activities.FindByAPID(id); err == nil {
			return TargetActivity{activity}, nil
		}
	}
	if obj, ok := p.Object.(map[string]any); ok {
		kind, _ := models.ParseKind(stringFromAny(obj["type"]))
		actor := idFromAny(obj["actor"])
		targetAPID := idFromAny(obj["object"])
		if kind != "" && actor != "" && targetAPID != "" {
			if activity, err := activities.FindByKindActorTarget(kind, actor, targetAPID); err == nil {
				return TargetActivity{activity}, nil
			}
		}
	}
	return nil, nil
}

// linkEmbedded materialises the embedded object of a Create or Update.
func (e *Env) linkEmbedded(p *Payload) (Target, error) {
	obj, ok := p.Object.(map[string]any)
	if !ok {
		// a bare id: resolve it if we have it
		if stored, err := models.NewObjects(e.DB).FindByASID(p.ObjectID()); err == nil {
			return TargetObject{stored}, nil
		}
		return nil, nil
	}

	typ := stringFromAny(obj["type"])
	if p.Kind == models.KindUpdate && !contains(updatableTypes, typ) {
		return nil, fmt.Errorf("Update: cannot update a %q", typ)
	}

	switch typ {
	case "Note", "Article", "Question":
		return TargetObject{objectFromMap(obj)}, nil
	case "Person", "Service":
		actor, err := actorFromMap(obj)
		if err != nil {
			return nil, err
		}
		return TargetActor{actor}, nil
	default:
		// Collections and the rest carry the id only
		return nil, nil
	}
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

// objectFromMap converts an embedded wire object into its storable
// form. The caller persists it.
func objectFromMap(obj map[string]any) *models.Object {
	published := timeFromAnyOrZero(obj["published"])
	if published.IsZero() {
		published = time.Now()
	}
	var inReplyTo *string
	if s := stringFromAny(obj["inReplyTo"]); s != "" {
		inReplyTo = &s
	}
	return &models.Object{
		ID:           snowflake.TimeToID(published),
		CreatedAt:    published,
		Type:         models.ObjectType(stringFromAny(obj["type"])),
		ASID:         stringFromAny(obj["id"]),
		AttributedTo: idFromAny(obj["attributedTo"]),
		Content:      stringFromAny(obj["content"]),
		Summary:      stringFromAny(obj["summary"]),
		To:           stringsFromAny(obj["to"]),
		CC:           stringsFromAny(obj["cc"]),
		InReplyTo:    inReplyTo,
		Sensitive:    boolFromAny(obj["sensitive"]),
		Attachments:  attachmentsFromAny(anyToSlice(obj["attachment"])),
		Tags:         tagsFromAny(anyToSlice(obj["tag"])),
	}
}

func attachmentsFromAny(attachments []any) []models.Attachment {
	return algorithms.Map(
		algorithms.Map(attachments, mapFromAny),
		func(m map[string]any) models.Attachment {
			return models.Attachment{
				Type:      stringFromAny(m["type"]),
				MediaType: stringFromAny(m["mediaType"]),
				URL:       stringFromAny(m["url"]),
				Name:      stringFromAny(m["name"]),
				Width:     intFromAny(m["width"]),
				Height:    intFromAny(m["height"]),
				Blurhash:  stringFromAny(m["blurhash"]),
			}
		})
}

func tagsFromAny(tags []any) []models.Tag {
	return algorithms.Map(
		algorithms.Map(tags, mapFromAny),
		func(m map[string]any) models.Tag {
			tag := models.Tag{
				Type: stringFromAny(m["type"]),
				Name: stringFromAny(m["name"]),
				Href: stringFromAny(m["href"]),
			}
			icon := mapFromAny(m["icon"])
			tag.Icon.Type = stringFromAny(icon["type"])
			tag.Icon.MediaType = stringFromAny(icon["mediaType"])
			tag.Icon.URL = stringFromAny(icon["url"])
			return tag
		})
}

func intFromAny(v any) int {
	switch v := v.(type) {
	case int:
		return v
	case float64:
		// shakes fist at json number type
		return int(v)
	}
	return 0
}

// actorFromMap converts a wire actor document into its storable form.
func actorFromMap(obj map[string]any) (*models.Actor, error) {
	asID := stringFromAny(obj["id"])
	u, err := url.Parse(asID)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("actor document has invalid id %q", asID)
	}
	name := stringFromAny(obj["preferredUsername"])
	if name == "" {
		name = strings.TrimPrefix(u.Path, "/users/")
	}
	published := timeFromAnyOrZero(obj["published"])
	if published.IsZero() {
		published = time.Now()
	}
	endpoints := mapFromAny(obj["endpoints"])
	return &models.Actor{
		ID:             snowflake.TimeToID(published),
		UpdatedAt:      time.Now(),
		Type:           models.ActorType(stringFromAny(obj["type"])),
		ASID:           asID,
		Name:           name,
		Domain:         u.Host,
		DisplayName:    stringFromAny(obj["name"]),
		Summary:        stringFromAny(obj["summary"]),
		InboxURL:       stringFromAny(obj["inbox"]),
		OutboxURL:      stringFromAny(obj["outbox"]),
		FollowersURL:   stringFromAny(obj["followers"]),
		FollowingURL:   stringFromAny(obj["following"]),
		SharedInboxURL: stringFromAny(endpoints["sharedInbox"]),
		PublicKey:      []byte(stringFromAny(mapFromAny(obj["publicKey"])["publicKeyPem"])),
		AvatarURL:      stringFromAny(mapFromAny(obj["icon"])["url"]),
		HeaderURL:      stringFromAny(mapFromAny(obj["image"])["url"]),
		Discoverable:   boolFromAny(obj["discoverable"]),
	}, nil
}

// linkActor resolves the payload actor to a local row; absence is
// tolerated and left for a later LinkActor backfill.
func (e *Env) linkActor(activity *models.Activity) {
	if actor, err := models.NewActors(e.DB).FindByASID(activity.Actor); err == nil {
		activity.ActorID = &actor.ID
	}
}
