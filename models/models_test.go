package models

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/seren-social/seren/internal/crypto"
	"github.com/seren-social/seren/internal/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// WithActorType sets the type of an actor.
func WithActorType(t ActorType) func(*Actor) {
	return func(a *Actor) {
		a.Type = t
	}
}

// AsLocal marks the actor as belonging to this instance.
func AsLocal() func(*Actor) {
	return func(a *Actor) {
		a.Local = true
	}
}

// WithSharedInbox sets the actor's shared inbox URL.
func WithSharedInbox(url string) func(*Actor) {
	return func(a *Actor) {
		a.SharedInboxURL = url
	}
}

// MockActor creates a new actor in the database.
func MockActor(t *testing.T, tx *gorm.DB, name, domain string, opts ...func(*Actor)) *Actor {
	t.Helper()
	require := require.New(t)

	kp, err := crypto.GenerateRSAKeypair()
	require.NoError(err)

	actor := &Actor{
		ID:           snowflake.Now(),
		UpdatedAt:    time.Now(),
		Type:         "Person",
		ASID:         fmt.Sprintf("https://%s/users/%s", domain, name),
		Name:         name,
		Domain:       domain,
		DisplayName:  name,
		InboxURL:     fmt.Sprintf("https://%s/users/%s/inbox", domain, name),
		FollowersURL: fmt.Sprintf("https://%s/users/%s/followers", domain, name),
		PublicKey:    kp.PublicKey,
	}
	for _, opt := range opts {
		opt(actor)
	}
	require.NoError(tx.Create(actor).Error)
	return actor
}

// WithInReplyTo makes the object a reply to the given object.
func WithInReplyTo(parent *Object) func(*Object) {
	return func(o *Object) {
		o.InReplyTo = &parent.ASID
	}
}

// WithTags sets the object's tags.
func WithTags(tags ...Tag) func(*Object) {
	return func(o *Object) {
		o.Tags = tags
	}
}

// MockObject creates a new object attributed to the given actor.
func MockObject(t *testing.T, tx *gorm.DB, actor *Actor, content string, opts ...func(*Object)) *Object {
	t.Helper()
	require := require.New(t)

	id := snowflake.Now()
	obj := &Object{
		ID:           id,
		Type:         TypeNote,
		ASID:         fmt.Sprintf("https://%s/objects/%d", actor.Domain, id),
		AttributedTo: actor.ASID,
		Content:      content,
		To:           []string{PublicAddress},
		CC:           []string{actor.FollowersURL},
	}
	for _, opt := range opts {
		opt(obj)
	}
	require.NoError(tx.Create(obj).Error)
	return obj
}

// WithCreatedAt pins the activity's creation time.
func WithCreatedAt(ts time.Time) func(*Activity) {
	return func(a *Activity) {
		a.ID = snowflake.TimeToID(ts)
		a.CreatedAt = ts
	}
}

// WithTargetObject links the activity to a stored object.
func WithTargetObject(obj *Object) func(*Activity) {
	return func(a *Activity) {
		a.TargetObjectID = &obj.ID
		a.TargetAPID = &obj.ASID
	}
}

// WithAddresses sets the activity's to and cc address sets.
func WithAddresses(to, cc []string) func(*Activity) {
	return func(a *Activity) {
		a.To, a.CC = to, cc
	}
}

// MockActivity creates a new activity issued by the given actor.
func MockActivity(t *testing.T, tx *gorm.DB, kind ActivityKind, actor *Actor, opts ...func(*Activity)) *Activity {
	t.Helper()
	require := require.New(t)

	id := snowflake.Now()
	activity := &Activity{
		ID:      id,
		Kind:    kind,
		UUID:    uuid.NewString(),
		Actor:   actor.ASID,
		ActorID: &actor.ID,
		APID:    fmt.Sprintf("https://%s/activities/%d", actor.Domain, id),
		To:      []string{PublicAddress},
	}
	for _, opt := range opts {
		opt(activity)
	}
	require.NoError(tx.Create(activity).Error)
	return activity
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require := require.New(t)
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	require.NoError(err)

	require.NoError(AutoMigrate(db))

	// enable foreign key constraints
	require.NoError(db.Exec("PRAGMA foreign_keys = ON").Error)

	return db
}
