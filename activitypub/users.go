package activitypub

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/seren-social/seren/internal/httpx"
	"github.com/seren-social/seren/internal/to"
	"github.com/seren-social/seren/internal/webfinger"
	"github.com/seren-social/seren/models"
)

// UsersShow serves a local actor's document.
func UsersShow(env *Env, w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	actor, err := models.NewActors(env.DB).Find(name, env.Domain)
	if err != nil {
		return httpx.Error(http.StatusNotFound, err)
	}
	w.Header().Set("Content-Type", "application/activity+json")
	return to.JSON(w, map[string]any{
		"@context": []any{
			"https://www.w3.org/ns/activitystreams",
			"https://w3id.org/security/v1",
		},
		"id":                actor.ASID,
		"type":              string(actor.Type),
		"preferredUsername": actor.Name,
		"name":              actor.DisplayName,
		"summary":           actor.Summary,
		"inbox":             actor.InboxURL,
		"outbox":            actor.OutboxURL,
		"followers":         actor.FollowersURL,
		"following":         actor.FollowingURL,
		"discoverable":      actor.Discoverable,
		"endpoints": map[string]any{
			"sharedInbox": actor.SharedInboxURL,
		},
		"publicKey": map[string]any{
			"id":           actor.PublicKeyID(),
			"owner":        actor.ASID,
			"publicKeyPem": string(actor.PublicKey),
		},
	})
}

// WebfingerShow resolves an acct: resource to a local actor.
func WebfingerShow(env *Env, w http.ResponseWriter, r *http.Request) error {
	acct, err := webfinger.Parse(r.URL.Query().Get("resource"))
	if err != nil {
		return httpx.Error(http.StatusBadRequest, err)
	}
	if acct.Host != env.Domain {
		return httpx.Error(http.StatusNotFound, fmt.Errorf("unknown host %q", acct.Host))
	}
	actor, err := models.NewActors(env.DB).Find(acct.User, acct.Host)
	if err != nil {
		return httpx.Error(http.StatusNotFound, err)
	}
	w.Header().Set("Content-Type", "application/jrd+json")
	return to.JSON(w, webfinger.Webfinger{
		Subject: acct.String(),
		Aliases: []string{actor.ASID},
		Links: []webfinger.Link{
			{
				Rel:  "self",
				Type: "application/activity+json",
				Href: actor.ASID,
			},
			{
				Rel:      "http://ostatus.org/schema/1.0/subscribe",
				Template: fmt.Sprintf("https://%s/authorize_interaction?uri={uri}", env.Domain),
			},
		},
	})
}

// FollowersIndex serves the follower collection of a local actor.
func FollowersIndex(env *Env, w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	actor, err := models.NewActors(env.DB).Find(name, env.Domain)
	if err != nil {
		return httpx.Error(http.StatusNotFound, err)
	}
	followers, err := models.NewFollows(env.DB).Followers(actor.ASID)
	if err != nil {
		return err
	}
	return to.JSON(w, map[string]any{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         actor.FollowersURL,
		"type":       "OrderedCollection",
		"totalItems": len(followers),
	})
}

// FollowingIndex serves the following collection of a local actor.
func FollowingIndex(env *Env, w http.ResponseWriter, r *http.Request) error {
	name := chi.URLParam(r, "name")
	actor, err := models.NewActors(env.DB).Find(name, env.Domain)
	if err != nil {
		return httpx.Error(http.StatusNotFound, err)
	}
	leaders, err := models.NewFollows(env.DB).Leaders(actor.ASID)
	if err != nil {
		return err
	}
	return to.JSON(w, map[string]any{
		"@context":   "https://www.w3.org/ns/activitystreams",
		"id":         actor.FollowingURL,
		"type":       "OrderedCollection",
		"totalItems": len(leaders),
	})
}
