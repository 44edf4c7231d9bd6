package activitypub

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/seren-social/seren/internal/algorithms"
	"github.com/seren-social/seren/internal/httpx"
	"github.com/seren-social/seren/internal/to"
	"github.com/seren-social/seren/models"
)

// Outbox drives the outbound half of the state machine: a local
// account submits an activity, the factory shapes it, it is persisted
// and then handed to the delivery engine.
type Outbox struct {
	env *Env
}

func NewOutbox(env *Env) *Outbox {
	return &Outbox{env: env}
}

// Submit builds, persists and delivers one locally authored activity.
// The submitting account's actor overrides whatever actor the body
// claims.
func (o *Outbox) Submit(ctx context.Context, signAs *models.Account, body map[string]any) (*models.Activity, error) {
	body["actor"] = signAs.Actor.ASID
	// an embedded object authored here needs an id of its own
	if obj, ok := body["object"].(map[string]any); ok {
		if stringFromAny(obj["id"]) == "" {
			obj["id"] = fmt.Sprintf("https://%s/objects/%s", o.env.Domain, uuid.NewString())
		}
		if stringFromAny(obj["attributedTo"]) == "" {
			obj["attributedTo"] = signAs.Actor.ASID
		}
	}
	payload, err := ParsePayload(body)
	if err != nil {
		return nil, err
	}

	target, err := o.env.linkTarget(payload)
	if err != nil {
		return nil, err
	}
	activity, err := NewActivity(o.env.Domain, payload, target)
	if err != nil {
		return nil, err
	}
	activity.ActorID = &signAs.Actor.ID

	// the stored payload is what gets delivered, so reflect the minted
	// id before persisting
	body["id"] = activity.APID
	activity.Raw = body

	inbox := NewInbox(o.env)
	if err := inbox.dispatch(activity, target); err != nil {
		return nil, err
	}
	if o.env.Mux != nil {
		o.env.Mux.Publish(string(activity.Kind), activity.APID)
	}

	if err := NewDeliverer(o.env, signAs).Deliver(ctx, activity); err != nil {
		return nil, err
	}
	return activity, nil
}

// OutboxCreate accepts a locally authored activity over HTTP.
func OutboxCreate(env *Env, w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	actor, err := models.NewActors(env.DB).Find(name, env.Domain)
	if err != nil {
		return httpx.Error(http.StatusNotFound, err)
	}
	account, err := models.NewAccounts(env.DB).AccountForActor(actor)
	if err != nil {
		return httpx.Error(http.StatusNotFound, err)
	}

	var body map[string]any
	if err := json.UnmarshalFull(r.Body, &body); err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	activity, err := NewOutbox(env).Submit(r.Context(), account, body)
	if err != nil {
		return httpx.Error(http.StatusUnprocessableEntity, err)
	}
	w.Header().Set("Location", activity.APID)
	w.WriteHeader(http.StatusCreated)
	return nil
}

// OutboxIndex serves the actor's outbox collection. Pages are selected
// with the min/max cursor parameters.
func OutboxIndex(env *Env, w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	var filter models.TimelineFilter
	if err := httpx.Params(r, &filter); err != nil {
		return err
	}
	rows, err := models.NewCoalescedActivities(env.DB).Outbox(name, &filter)
	if err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	return to.JSON(w, map[string]any{
		"@context":     "https://www.w3.org/ns/activitystreams",
		"id":           fmt.Sprintf("https://%s/users/%s/outbox", env.Domain, name),
		"type":         "OrderedCollection",
		"totalItems":   len(rows),
		"orderedItems": algorithms.Map(rows, rowToItem),
	})
}

func rowToItem(row models.CoalescedActivity) map[string]any {
	activity, _, object, _ := row.Split()
	item := map[string]any{
		"id":        activity.APID,
		"type":      string(activity.Kind),
		"actor":     activity.Actor,
		"published": activity.CreatedAt.UTC().Format(time.RFC3339),
		"to":        activity.To,
		"cc":        activity.CC,
	}
	switch {
	case object != nil:
		item["object"] = objectToMap(object)
	case activity.TargetAPID != nil:
		item["object"] = *activity.TargetAPID
	}
	return item
}

func objectToMap(obj *models.Object) map[string]any {
	m := map[string]any{
		"id":           obj.ASID,
		"type":         string(obj.Type),
		"attributedTo": obj.AttributedTo,
		"content":      obj.Content,
		"published":    obj.CreatedAt.UTC().Format(time.RFC3339),
		"to":           obj.To,
		"cc":           obj.CC,
	}
	if obj.Summary != "" {
		m["summary"] = obj.Summary
	}
	if obj.InReplyTo != nil {
		m["inReplyTo"] = *obj.InReplyTo
	}
	if obj.Sensitive {
		m["sensitive"] = true
	}
	if len(obj.Attachments) > 0 {
		m["attachment"] = obj.Attachments
	}
	return m
}
