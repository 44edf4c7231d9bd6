package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestObjects(t *testing.T) {
	db := setupTestDB(t)

	t.Run("BeforeSave caches lower-cased hashtags", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "example.com")
		obj := MockObject(t, tx, alice, "ship it",
			WithTags(
				Tag{Type: "Hashtag", Name: "#GoLang"},
				Tag{Type: "Mention", Name: "@bob", Href: "https://remote.example/users/bob"},
			))

		got, err := NewObjects(tx).FindByID(obj.ID)
		require.NoError(err)
		require.Equal([]string{"golang"}, got.Hashtags)
	})

	t.Run("replies inherit the parent conversation", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "example.com")
		root := MockObject(t, tx, alice, "first post")
		reply := MockObject(t, tx, alice, "replying", WithInReplyTo(root))

		require.Equal(root.ID, root.ConversationID, "a new thread mints its own id")
		require.Equal(root.ConversationID, reply.ConversationID)
		require.True(reply.IsReply())
		require.False(root.IsReply())
	})

	t.Run("a reply to an unknown parent starts its own thread", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "example.com")
		missing := "https://remote.example/objects/404"
		orphan := MockObject(t, tx, alice, "into the void", func(o *Object) {
			o.InReplyTo = &missing
		})
		require.Equal(orphan.ID, orphan.ConversationID)
	})

	t.Run("Save is idempotent on as_id", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "example.com")
		obj := MockObject(t, tx, alice, "v1")

		updated := *obj
		updated.Content = "v2"
		require.NoError(NewObjects(tx).Save(&updated))

		var count int64
		require.NoError(tx.Model(&Object{}).Where("as_id = ?", obj.ASID).Count(&count).Error)
		require.Equal(int64(1), count)

		got, err := NewObjects(tx).FindByASID(obj.ASID)
		require.NoError(err)
		require.Equal("v2", got.Content)
		require.Equal(obj.ID, got.ID)
	})

	t.Run("Tombstone clears content but keeps the row", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "example.com")
		obj := MockObject(t, tx, alice, "delete me",
			WithTags(Tag{Type: "Hashtag", Name: "#gone"}))

		require.NoError(NewObjects(tx).Tombstone(obj))

		got, err := NewObjects(tx).FindByID(obj.ID)
		require.NoError(err)
		require.Equal(TypeTombstone, got.Type)
		require.Empty(got.Content)
		require.Empty(got.Hashtags)
		require.Equal(obj.ASID, got.ASID, "the protocol id survives deletion")
	})
}
