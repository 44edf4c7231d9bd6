package activitypub

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/seren-social/seren/internal/crypto"
	"github.com/seren-social/seren/internal/snowflake"
	"github.com/seren-social/seren/internal/streaming"
	"github.com/seren-social/seren/models"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	require := require.New(t)
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	require.NoError(err)
	require.NoError(models.AutoMigrate(db))
	require.NoError(db.Exec("PRAGMA foreign_keys = ON").Error)
	return db
}

func testEnv(t *testing.T, tx *gorm.DB) *Env {
	t.Helper()
	blocklist, err := models.NewBlocklist(tx)
	require.NoError(t, err)
	return &Env{
		Env: &models.Env{
			DB:        tx,
			Logger:    slog.New(slog.NewTextHandler(io.Discard)),
			Mux:       &streaming.Mux{},
			Blocklist: blocklist,
			Domain:    "example.com",
		},
	}
}

func mockActor(t *testing.T, tx *gorm.DB, name, domain string, local bool) *models.Actor {
	t.Helper()
	require := require.New(t)

	kp, err := crypto.GenerateRSAKeypair()
	require.NoError(err)

	actor := &models.Actor{
		ID:           snowflake.Now(),
		UpdatedAt:    time.Now(),
		Type:         "Person",
		ASID:         fmt.Sprintf("https://%s/users/%s", domain, name),
		Name:         name,
		Domain:       domain,
		InboxURL:     fmt.Sprintf("https://%s/users/%s/inbox", domain, name),
		FollowersURL: fmt.Sprintf("https://%s/users/%s/followers", domain, name),
		PublicKey:    kp.PublicKey,
		Local:        local,
	}
	require.NoError(tx.Create(actor).Error)
	return actor
}

func mockAccount(t *testing.T, tx *gorm.DB, name, domain string) *models.Account {
	t.Helper()
	require := require.New(t)

	account, err := models.NewAccounts(tx).Create(domain, name, name+"@"+domain, "p4ssword")
	require.NoError(err)
	return account
}

func noteFor(actor *models.Actor, content string) map[string]any {
	id := snowflake.Now()
	return map[string]any{
		"id":           fmt.Sprintf("https://%s/objects/%d", actor.Domain, id),
		"type":         "Note",
		"attributedTo": actor.ASID,
		"content":      content,
		"published":    time.Now().Format(time.RFC3339),
		"to":           []any{models.PublicAddress},
	}
}

func activityFor(actor *models.Actor, kind string, object any) map[string]any {
	id := snowflake.Now()
	return map[string]any{
		"@context":  "https://www.w3.org/ns/activitystreams",
		"id":        fmt.Sprintf("https://%s/activities/%d", actor.Domain, id),
		"type":      kind,
		"actor":     actor.ASID,
		"object":    object,
		"published": time.Now().Format(time.RFC3339),
		"to":        []any{models.PublicAddress},
	}
}
