package activitypub

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/go-json-experiment/json"
	"github.com/seren-social/seren/internal/httpsig"
	"github.com/seren-social/seren/internal/httpx"
	"github.com/seren-social/seren/internal/snowflake"
	"github.com/seren-social/seren/models"
	"gorm.io/gorm"
)

// Inbox drives the inbound half of the protocol state machine: parse,
// link, persist, side effects. Payloads that cannot be dispatched are
// recorded as Unprocessable; nothing is silently dropped.
type Inbox struct {
	env *Env
}

func NewInbox(env *Env) *Inbox {
	return &Inbox{env: env}
}

// Process runs one inbound payload through the state machine.
func (i *Inbox) Process(raw []byte) error {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return i.unprocessable(raw, fmt.Errorf("malformed payload: %w", err))
	}
	payload, err := ParsePayload(body)
	if err != nil {
		return i.unprocessable(raw, err)
	}

	if u, err := url.Parse(payload.Actor); err == nil && i.env.Blocklist.Blocked(u.Host) {
		return i.unprocessable(raw, fmt.Errorf("actor domain %s is blocked", u.Host))
	}

	target, err := i.env.linkTarget(payload)
	if err != nil {
		return i.unprocessable(raw, err)
	}
	activity, err := NewActivity(i.env.Domain, payload, target)
	if err != nil {
		return i.unprocessable(raw, err)
	}
	i.env.linkActor(activity)

	if err := i.dispatch(activity, target); err != nil {
		return i.unprocessable(raw, err)
	}

	if i.env.Mux != nil {
		i.env.Mux.Publish(string(activity.Kind), activity.APID)
	}
	return nil
}

// dispatch persists the activity and applies its side effects. The
// switch is exhaustive over the activity grammar; ParsePayload already
// rejected everything else.
func (i *Inbox) dispatch(activity *models.Activity, target Target) error {
	db := i.env.DB
	activities := models.NewActivities(db)

	switch activity.Kind {
	case models.KindCreate, models.KindUpdate:
		if obj, ok := target.(TargetObject); ok {
			if err := models.NewObjects(db).Save(obj.Object); err != nil {
				return err
			}
			activity.TargetObjectID = &obj.Object.ID
		}
		if actor, ok := target.(TargetActor); ok {
			if err := models.NewActors(db).Save(actor.Actor); err != nil {
				return err
			}
		}
		return activities.Save(activity)

	case models.KindDelete:
		// ownership is checked before anything is committed; a refused
		// Delete must leave only a sink entry behind
		if err := i.tombstone(activity, target); err != nil {
			return err
		}
		return activities.Save(activity)

	case models.KindFollow:
		if err := activities.Save(activity); err != nil {
			return err
		}
		follow := &models.Follow{
			ID:                 snowflake.Now(),
			FollowerAPID:       activity.Actor,
			LeaderAPID:         deref(activity.TargetAPID),
			FollowerID:         activity.ActorID,
			LeaderID:           activity.TargetActorID,
			FollowActivityAPID: activity.APID,
		}
		return models.NewFollows(db).Save(follow)

	case models.KindAccept:
		if err := activities.Save(activity); err != nil {
			return err
		}
		followAPID := target.(TargetActivity).Activity.APID
		return models.NewFollows(db).Accept(followAPID, activity.APID)

	case models.KindReject:
		if err := activities.Save(activity); err != nil {
			return err
		}
		followAPID := target.(TargetActivity).Activity.APID
		return models.NewFollows(db).Reject(followAPID)

	case models.KindLike, models.KindAnnounce, models.KindMove,
		models.KindAdd, models.KindRemove, models.KindBlock:
		return activities.Save(activity)

	case models.KindUndo:
		if err := activities.Save(activity); err != nil {
			return err
		}
		antecedent := target.(TargetActivity).Activity
		if antecedent.Kind == models.KindFollow {
			if err := models.NewFollows(db).Undo(antecedent.APID); err != nil {
				return err
			}
		}
		return activities.Revoke(antecedent.APID)

	default:
		return fmt.Errorf("unhandled activity kind %s", activity.Kind)
	}
}

// tombstone applies a Delete to its target: objects and remote actors
// lose their content but keep their row, and the activities that
// produced them are revoked.
func (i *Inbox) tombstone(activity *models.Activity, target Target) error {
	db := i.env.DB
	switch target := target.(type) {
	case TargetObject:
		if target.Object.AttributedTo != activity.Actor {
			return fmt.Errorf("Delete: %s does not own %s", activity.Actor, target.Object.ASID)
		}
		if err := models.NewObjects(db).Tombstone(target.Object); err != nil {
			return err
		}
		// the Create that carried the object no longer stands
		var creates []models.Activity
		err := db.Where("kind = ? AND target_object_id = ?", models.KindCreate, target.Object.ID).
			Find(&creates).Error
		if err != nil {
			return err
		}
		for _, create := range creates {
			if err := models.NewActivities(db).Revoke(create.APID); err != nil {
				return err
			}
		}
		return nil
	case TargetActor:
		if target.Actor.ASID != activity.Actor {
			return fmt.Errorf("Delete: %s cannot delete actor %s", activity.Actor, target.Actor.ASID)
		}
		return models.NewActors(db).Tombstone(target.Actor)
	default:
		// deleting something we never stored is a no-op
		return nil
	}
}

func (i *Inbox) unprocessable(raw []byte, reason error) error {
	if err := models.NewUnprocessables(i.env.DB).Create(raw, reason); err != nil {
		i.env.Log().Error("unprocessable sink", "err", err)
	}
	return reason
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// InboxCreate is the HTTP boundary of the inbound state machine. The
// signature is verified against the claimed actor's published key
// before the payload reaches Process.
func InboxCreate(env *Env, w http.ResponseWriter, r *http.Request) error {
	if err := httpsig.Verify(r, env.GetKey); err != nil {
		return httpx.Error(http.StatusUnauthorized, err)
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return httpx.Error(http.StatusRequestEntityTooLarge, err)
	}
	if err := NewInbox(env).Process(raw); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return httpx.Error(http.StatusNotFound, err)
		}
		return httpx.Error(http.StatusBadRequest, err)
	}
	w.WriteHeader(http.StatusAccepted)
	return nil
}
