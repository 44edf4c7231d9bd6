// Package activitypub implements the federation engine: parsing inbound
// activities, minting outbound ones, dispatching their side effects and
// delivering them to remote inboxes.
package activitypub

import (
	"context"
	stdcrypto "crypto"
	"time"

	"github.com/seren-social/seren/internal/crypto"
	"github.com/seren-social/seren/internal/httpsig"
	"github.com/seren-social/seren/media"
	"github.com/seren-social/seren/models"
)

// Env carries the engine's collaborators.
type Env struct {
	*models.Env
	// Media caches remote assets referenced by fetched documents. Nil
	// disables caching.
	Media *media.Downloader
}

// GetKey resolves the public key a signed inbound request claims to be
// signed with, fetching the owning actor if it is not known locally.
func (e *Env) GetKey(keyID string) (stdcrypto.PublicKey, error) {
	uri := httpsig.TrimKeyID(keyID)
	retriever, err := e.Retriever()
	if err != nil {
		return nil, err
	}
	actor, err := retriever.Actor(context.Background(), uri)
	if err != nil {
		return nil, err
	}
	return crypto.ParseRSAPublicKey(actor.PublicKey)
}

func boolFromAny(v any) bool {
	b, _ := v.(bool)
	return b
}

func stringFromAny(v any) string {
	s, _ := v.(string)
	return s
}

func mapFromAny(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func anyToSlice(v any) []any {
	switch v := v.(type) {
	case []any:
		return v
	default:
		return nil
	}
}

// stringsFromAny normalises an address field that may be a single
// string or a list of strings.
func stringsFromAny(v any) []string {
	switch v := v.(type) {
	case string:
		return []string{v}
	case []any:
		var out []string
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// idFromAny extracts the protocol id from a field that may be a bare
// id string or an embedded object.
func idFromAny(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case map[string]any:
		return stringFromAny(v["id"])
	default:
		return ""
	}
}

func timeFromAnyOrZero(v any) time.Time {
	switch v := v.(type) {
	case string:
		t, _ := time.Parse(time.RFC3339, v)
		return t
	case time.Time:
		return v
	default:
		return time.Time{}
	}
}
