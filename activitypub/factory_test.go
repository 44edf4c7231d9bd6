package activitypub

import (
	"strings"
	"testing"
	"time"

	"github.com/seren-social/seren/internal/snowflake"
	"github.com/seren-social/seren/models"
	"github.com/stretchr/testify/require"
)

func TestParsePayload(t *testing.T) {
	t.Run("single and multiple addresses both parse", func(t *testing.T) {
		require := require.New(t)

		p, err := ParsePayload(map[string]any{
			"type":  "Create",
			"actor": "https://remote.example/users/bob",
			"to":    models.PublicAddress,
			"cc":    []any{"https://remote.example/users/bob/followers", "https://example.com/users/alice"},
		})
		require.NoError(err)
		require.Equal([]string{models.PublicAddress}, p.To)
		require.Len(p.CC, 2)
	})

	t.Run("an embedded actor object parses to its id", func(t *testing.T) {
		require := require.New(t)

		p, err := ParsePayload(map[string]any{
			"type":  "Like",
			"actor": map[string]any{"id": "https://remote.example/users/bob"},
			"object": map[string]any{
				"id": "https://example.com/objects/1",
			},
		})
		require.NoError(err)
		require.Equal("https://remote.example/users/bob", p.Actor)
		require.Equal("https://example.com/objects/1", p.ObjectID())
	})

	t.Run("a missing actor is rejected", func(t *testing.T) {
		_, err := ParsePayload(map[string]any{"type": "Create"})
		require.ErrorContains(t, err, "missing actor")
	})

	t.Run("an unknown type is rejected", func(t *testing.T) {
		_, err := ParsePayload(map[string]any{"type": "Shout", "actor": "https://x.example/u/a"})
		require.ErrorContains(t, err, "unknown activity type")
	})
}

func TestNewActivity(t *testing.T) {
	bob := "https://remote.example/users/bob"

	t.Run("a missing ap id is minted from the uuid", func(t *testing.T) {
		require := require.New(t)

		p := &Payload{
			Kind:   models.KindLike,
			Actor:  bob,
			Object: "https://example.com/objects/1",
		}
		activity, err := NewActivity("example.com", p, nil)
		require.NoError(err)
		require.True(strings.HasPrefix(activity.APID, "https://example.com/activities/"))
		require.Equal(activity.APID, "https://example.com/activities/"+activity.UUID)
	})

	t.Run("the wire published timestamp seeds the id", func(t *testing.T) {
		require := require.New(t)

		published := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
		p := &Payload{
			Kind:      models.KindLike,
			APID:      "https://remote.example/activities/1",
			Actor:     bob,
			Published: published,
			Object:    "https://example.com/objects/1",
		}
		activity, err := NewActivity("example.com", p, nil)
		require.NoError(err)
		require.WithinDuration(published, activity.ID.ToTime(), time.Second)
	})

	t.Run("Accept without a Follow target is rejected", func(t *testing.T) {
		require := require.New(t)

		p := &Payload{Kind: models.KindAccept, Actor: bob, Object: "https://x.example/activities/1"}
		_, err := NewActivity("example.com", p, nil)
		require.ErrorContains(err, "target must be Follow")

		like := &models.Activity{ID: snowflake.Now(), Kind: models.KindLike, APID: "https://x.example/activities/1"}
		_, err = NewActivity("example.com", p, TargetActivity{like})
		require.ErrorContains(err, "target must be Follow")
	})

	t.Run("Undo records the antecedent's id as its target", func(t *testing.T) {
		require := require.New(t)

		noteID := "https://remote.example/objects/7"
		like := &models.Activity{
			ID:         snowflake.Now(),
			Kind:       models.KindLike,
			APID:       "https://remote.example/activities/like-1",
			TargetAPID: &noteID,
		}
		p := &Payload{Kind: models.KindUndo, Actor: bob, Object: like.APID}
		activity, err := NewActivity("example.com", p, TargetActivity{like})
		require.NoError(err)
		require.NotNil(activity.TargetAPID)
		require.Equal(like.APID, *activity.TargetAPID)
		require.NotNil(activity.TargetActivityID)
		require.Equal(like.ID, *activity.TargetActivityID)
	})

	t.Run("a reply object marks the activity as a reply", func(t *testing.T) {
		require := require.New(t)

		parent := "https://remote.example/objects/1"
		obj := &models.Object{
			ID:        snowflake.Now(),
			Type:      models.TypeNote,
			ASID:      "https://remote.example/objects/2",
			InReplyTo: &parent,
		}
		p := &Payload{Kind: models.KindCreate, Actor: bob, Object: obj.ASID}
		activity, err := NewActivity("example.com", p, TargetObject{obj})
		require.NoError(err)
		require.True(activity.Reply)
	})

	t.Run("Like without an object is rejected", func(t *testing.T) {
		p := &Payload{Kind: models.KindLike, Actor: bob}
		_, err := NewActivity("example.com", p, nil)
		require.ErrorContains(t, err, "missing object")
	})
}

func TestLinkEmbedded(t *testing.T) {
	db := setupTestDB(t)

	t.Run("Update of an unsupported type is rejected", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env := testEnv(t, tx)

		p := &Payload{
			Kind:  models.KindUpdate,
			Actor: "https://remote.example/users/bob",
			Object: map[string]any{
				"id":   "https://remote.example/objects/1",
				"type": "Video",
			},
		}
		_, err := env.linkTarget(p)
		require.ErrorContains(err, "cannot update")
	})

	t.Run("an embedded Person becomes an actor target", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env := testEnv(t, tx)

		p := &Payload{
			Kind:  models.KindUpdate,
			Actor: "https://remote.example/users/bob",
			Object: map[string]any{
				"id":                "https://remote.example/users/bob",
				"type":              "Person",
				"preferredUsername": "bob",
				"name":              "Robert",
				"inbox":             "https://remote.example/users/bob/inbox",
			},
		}
		target, err := env.linkTarget(p)
		require.NoError(err)
		actor, ok := target.(TargetActor)
		require.True(ok)
		require.Equal("bob", actor.Actor.Name)
		require.Equal("remote.example", actor.Actor.Domain)
		require.Equal("Robert", actor.Actor.DisplayName)
	})

	t.Run("an embedded note carries its tags and attachments", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		env := testEnv(t, tx)

		p := &Payload{
			Kind:  models.KindCreate,
			Actor: "https://remote.example/users/bob",
			Object: map[string]any{
				"id":           "https://remote.example/objects/1",
				"type":         "Note",
				"attributedTo": "https://remote.example/users/bob",
				"content":      "with extras",
				"sensitive":    true,
				"attachment": []any{
					map[string]any{
						"type":      "Document",
						"mediaType": "image/png",
						"url":       "https://remote.example/media/1.png",
						"width":     640.0,
						"height":    480.0,
					},
				},
				"tag": []any{
					map[string]any{"type": "Hashtag", "name": "#golang"},
				},
			},
		}
		target, err := env.linkTarget(p)
		require.NoError(err)
		obj, ok := target.(TargetObject)
		require.True(ok)
		require.True(obj.Object.Sensitive)
		require.Len(obj.Object.Attachments, 1)
		require.Equal(640, obj.Object.Attachments[0].Width)
		require.Len(obj.Object.Tags, 1)
		require.Equal("#golang", obj.Object.Tags[0].Name)
	})
}
