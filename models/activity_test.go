package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/seren-social/seren/internal/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestActivities(t *testing.T) {
	db := setupTestDB(t)

	t.Run("Save is idempotent on ap_id", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "example.com")
		first := &Activity{
			ID:    snowflake.Now(),
			Kind:  KindCreate,
			UUID:  uuid.NewString(),
			Actor: alice.ASID,
			APID:  "https://example.com/activities/1",
			To:    []string{PublicAddress},
		}
		require.NoError(NewActivities(tx).Save(first))

		// a replayed payload carries the same ap_id but may fill in
		// details the first pass lacked
		second := &Activity{
			ID:      snowflake.Now(),
			Kind:    KindCreate,
			UUID:    uuid.NewString(),
			Actor:   alice.ASID,
			ActorID: &alice.ID,
			APID:    "https://example.com/activities/1",
			To:      []string{PublicAddress},
		}
		require.NoError(NewActivities(tx).Save(second))

		var count int64
		require.NoError(tx.Model(&Activity{}).Where("ap_id = ?", first.APID).Count(&count).Error)
		require.Equal(int64(1), count)

		got, err := NewActivities(tx).FindByAPID(first.APID)
		require.NoError(err)
		require.Equal(first.ID, got.ID, "the original row survives a replay")
		require.NotNil(got.ActorID)
		require.Equal(alice.ID, *got.ActorID)
	})

	t.Run("Revoke is monotonic", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "example.com")
		activity := MockActivity(t, tx, KindLike, alice)

		require.NoError(NewActivities(tx).Revoke(activity.APID))
		got, err := NewActivities(tx).FindByAPID(activity.APID)
		require.NoError(err)
		require.True(got.Revoked)

		// revoking again changes nothing
		require.NoError(NewActivities(tx).Revoke(activity.APID))
		got, err = NewActivities(tx).FindByAPID(activity.APID)
		require.NoError(err)
		require.True(got.Revoked)
	})

	t.Run("AppendLog preserves history", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "example.com")
		activity := MockActivity(t, tx, KindCreate, alice)

		activities := NewActivities(tx)
		require.NoError(activities.AppendLog(activity.ID, DeliveryOutcome{
			Time:    time.Now(),
			Results: []DeliveryResult{{Inbox: "https://remote.example/inbox", StatusCode: 202}},
		}))
		require.NoError(activities.AppendLog(activity.ID, DeliveryOutcome{
			Time:    time.Now(),
			Results: []DeliveryResult{{Inbox: "https://remote.example/inbox", StatusCode: 500, Error: "server error"}},
		}))

		got, err := activities.FindByID(activity.ID)
		require.NoError(err)
		require.Len(got.Log, 2)
		require.Equal(202, got.Log[0].Results[0].StatusCode)
		require.Equal(500, got.Log[1].Results[0].StatusCode)
	})

	t.Run("LinkActor backfills unresolved rows", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		// an activity arrives before its actor is known
		orphan := &Activity{
			ID:    snowflake.Now(),
			Kind:  KindCreate,
			UUID:  uuid.NewString(),
			Actor: "https://remote.example/users/bob",
			APID:  "https://remote.example/activities/9",
		}
		require.NoError(NewActivities(tx).Save(orphan))

		bob := MockActor(t, tx, "bob", "remote.example")
		require.NoError(NewActivities(tx).LinkActor(bob))

		got, err := NewActivities(tx).FindByAPID(orphan.APID)
		require.NoError(err)
		require.NotNil(got.ActorID)
		require.Equal(bob.ID, *got.ActorID)
	})

	t.Run("FindByKindActorTarget skips revoked rows", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		alice := MockActor(t, tx, "alice", "example.com")
		bob := MockActor(t, tx, "bob", "remote.example")
		obj := MockObject(t, tx, bob, "hello")
		like := MockActivity(t, tx, KindLike, alice, WithTargetObject(obj))

		activities := NewActivities(tx)
		got, err := activities.FindByKindActorTarget(KindLike, alice.ASID, obj.ASID)
		require.NoError(err)
		require.Equal(like.ID, got.ID)

		require.NoError(activities.Revoke(like.APID))
		_, err = activities.FindByKindActorTarget(KindLike, alice.ASID, obj.ASID)
		require.ErrorIs(err, gorm.ErrRecordNotFound)
	})

	t.Run("PurgeByDomain requires a domain", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		_, err := NewActivities(tx).PurgeByDomain("")
		require.Error(err)
	})
}
