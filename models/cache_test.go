package models

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/seren-social/seren/internal/snowflake"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func mockCacheItem(t *testing.T, tx *gorm.DB, root, url string) *CacheItem {
	t.Helper()
	require := require.New(t)

	name := uuid.NewString()
	require.NoError(os.WriteFile(filepath.Join(root, name), []byte("media"), 0o644))
	item := &CacheItem{
		ID:        snowflake.Now(),
		UUID:      name,
		URL:       url,
		Path:      &name,
		MediaType: "image/png",
	}
	require.NoError(NewCaches(tx).Save(item))
	return item
}

func TestCaches(t *testing.T) {
	db := setupTestDB(t)

	t.Run("Save collapses racing writers onto one row", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()

		pending := &CacheItem{
			ID:   snowflake.Now(),
			UUID: uuid.NewString(),
			URL:  "https://remote.example/media/1.png",
		}
		require.NoError(NewCaches(tx).Save(pending))
		require.False(pending.Downloaded())

		path := "ab/cd.png"
		done := &CacheItem{
			ID:        snowflake.Now(),
			UUID:      uuid.NewString(),
			URL:       "https://remote.example/media/1.png",
			Path:      &path,
			MediaType: "image/png",
			Width:     640,
			Height:    480,
		}
		require.NoError(NewCaches(tx).Save(done))

		var count int64
		require.NoError(tx.Model(&CacheItem{}).Where("url = ?", pending.URL).Count(&count).Error)
		require.Equal(int64(1), count)

		got, err := NewCaches(tx).FindByURL(pending.URL)
		require.NoError(err)
		require.Equal(pending.ID, got.ID)
		require.True(got.Downloaded())
		require.Equal(640, got.Width)
	})

	t.Run("PruneOlderThan removes file and row", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		root := t.TempDir()

		old := mockCacheItem(t, tx, root, "https://remote.example/media/old.png")
		require.NoError(tx.Model(old).Update("created_at", time.Now().Add(-60*24*time.Hour)).Error)
		fresh := mockCacheItem(t, tx, root, "https://remote.example/media/fresh.png")

		pruned, err := NewCaches(tx).PruneOlderThan(root, time.Now().Add(-30*24*time.Hour), t.Logf)
		require.NoError(err)
		require.Equal(int64(1), pruned)

		_, err = os.Stat(filepath.Join(root, *old.Path))
		require.ErrorIs(err, os.ErrNotExist)
		_, err = NewCaches(tx).FindByURL(old.URL)
		require.ErrorIs(err, gorm.ErrRecordNotFound)

		_, err = NewCaches(tx).FindByURL(fresh.URL)
		require.NoError(err)
	})

	t.Run("prune tolerates a file that is already gone", func(t *testing.T) {
		require := require.New(t)
		tx := db.Begin()
		defer tx.Rollback()
		root := t.TempDir()

		item := mockCacheItem(t, tx, root, "https://banned.example/media/1.png")
		require.NoError(os.Remove(filepath.Join(root, *item.Path)))

		pruned, err := NewCaches(tx).PruneByDomain(root, "banned.example", t.Logf)
		require.NoError(err)
		require.Equal(int64(1), pruned)
	})
}
