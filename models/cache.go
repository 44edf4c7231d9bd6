package models

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/seren-social/seren/internal/snowflake"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// A CacheItem records one fetched remote media asset. It is created
// pending (Path nil) and completed once the download lands on disk.
type CacheItem struct {
	ID        snowflake.ID `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time
	UpdatedAt time.Time
	UUID      string `gorm:"size:36;not null"`
	URL       string `gorm:"size:255;not null;uniqueIndex"`
	// Path is the path of the downloaded file relative to the cache
	// root, nil until the download succeeds.
	Path      *string `gorm:"size:255"`
	MediaType string  `gorm:"size:64"`
	Width     int     `gorm:"not null;default:0"`
	Height    int     `gorm:"not null;default:0"`
}

// Downloaded reports whether the asset has landed on disk.
func (c *CacheItem) Downloaded() bool {
	return c.Path != nil && *c.Path != ""
}

type Caches struct {
	db *gorm.DB
}

func NewCaches(db *gorm.DB) *Caches {
	return &Caches{db: db}
}

// FindByURL returns the cache item for the given remote URL.
func (c *Caches) FindByURL(url string) (*CacheItem, error) {
	var item []CacheItem
	if err := c.db.Where("url = ?", url).Find(&item).Error; err != nil {
		return nil, err
	}
	if len(item) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	return &item[0], nil
}

// Save persists the cache item; racing writers for the same URL
// collapse onto one row.
func (c *Caches) Save(item *CacheItem) error {
	return c.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"updated_at", "path", "media_type", "width", "height",
		}),
	}).Create(item).Error
}

// PruneOlderThan removes cache items created before the cutoff. The
// on-disk file is deleted first, tolerating files that are already
// gone; a row whose file deletion fails outright is reported but the
// pass continues.
func (c *Caches) PruneOlderThan(root string, cutoff time.Time, logf func(string, ...any)) (int64, error) {
	return c.prune(root, c.db.Where("created_at < ?", cutoff), logf)
}

// PruneByDomain removes cache items whose source URL belongs to the
// given domain.
func (c *Caches) PruneByDomain(root, domain string, logf func(string, ...any)) (int64, error) {
	return c.prune(root, c.db.Where("url LIKE ?", "https://"+domain+"/%"), logf)
}

func (c *Caches) prune(root string, query *gorm.DB, logf func(string, ...any)) (int64, error) {
	var items []CacheItem
	if err := query.Find(&items).Error; err != nil {
		return 0, err
	}
	var pruned int64
	for _, item := range items {
		if item.Path != nil && *item.Path != "" {
			err := os.Remove(filepath.Join(root, *item.Path))
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				if logf != nil {
					logf("cache prune: remove %s: %v", *item.Path, err)
				}
				continue
			}
		}
		if err := c.db.Delete(&CacheItem{}, item.ID).Error; err != nil {
			// the file is gone either way; log and move on
			if logf != nil {
				logf("cache prune: delete row %d: %v", item.ID, err)
			}
			continue
		}
		pruned++
	}
	return pruned, nil
}
