package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestActors(t *testing.T) {
	db := setupTestDB(t)

	t.Run("IsStale after the staleness window", func(t *testing.T) {
		require := require.New(t)

		fresh := &Actor{UpdatedAt: time.Now().Add(-3 * 24 * time.Hour)}
		require.False(fresh.IsStale())

		stale := &Actor{UpdatedAt: time.Now().Add(-10 * 24 * time.Hour)}
		require.True(stale.IsStale())

		local := &Actor{UpdatedAt: time.Now().Add(-10 * 24 * time.Hour), Local: true}
		require.False(local.IsStale(), "local actors are never stale")
	})

	t.Run("Inbox prefers the shared inbox", func(t *testing.T) {
		require := require.New(t)

		actor := &Actor{InboxURL: "https://remote.example/users/bob/inbox"}
		require.Equal("https://remote.example/users/bob/inbox", actor.Inbox())

		actor.SharedInboxURL = "https://remote.example/inbox"
		require.Equal("https://remote.example/inbox", actor.Inbox())
	})

	t.Run("saving a remote actor records its instance", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		MockActor(t, tx, "bob", "remote.example",
			WithSharedInbox("https://remote.example/inbox"))

		instance, err := NewInstances(tx).FindByDomain("remote.example")
		require.NoError(err)
		require.Equal("https://remote.example/inbox", instance.SharedInboxURL)
	})

	t.Run("Save refreshes an existing row by as_id", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		bob := MockActor(t, tx, "bob", "remote.example")

		refetched := *bob
		refetched.DisplayName = "Robert"
		refetched.UpdatedAt = time.Now()
		require.NoError(NewActors(tx).Save(&refetched))

		got, err := NewActors(tx).FindByASID(bob.ASID)
		require.NoError(err)
		require.Equal(bob.ID, got.ID)
		require.Equal("Robert", got.DisplayName)
		require.False(got.CheckedAt.IsZero())
	})

	t.Run("Tombstone refuses local actors", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "example.com", AsLocal())
		require.Error(NewActors(tx).Tombstone(alice))

		bob := MockActor(t, tx, "bob", "remote.example")
		require.NoError(NewActors(tx).Tombstone(bob))

		got, err := NewActors(tx).FindByASID(bob.ASID)
		require.NoError(err)
		require.Equal(ActorType("Tombstone"), got.Type)
		require.Empty(got.DisplayName)
		require.Nil(got.PublicKey)
	})
}
