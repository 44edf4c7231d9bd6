package main

import (
	"fmt"
	"time"

	"github.com/seren-social/seren/models"
	"gorm.io/gorm"
)

type HousekeepingCmd struct {
	MediaRoot string `help:"directory for cached media" default:"/var/cache/seren/media"`
	MediaAge  int    `help:"days after which cached media is pruned" default:"30"`
}

func (c *HousekeepingCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	if err := configureDB(db); err != nil {
		return err
	}

	cutoff := time.Now().Add(-time.Duration(c.MediaAge) * 24 * time.Hour)
	pruned, err := models.NewCaches(db).PruneOlderThan(c.MediaRoot, cutoff, func(format string, args ...any) {
		fmt.Printf(format+"\n", args...)
	})
	if err != nil {
		return err
	}
	fmt.Println("pruned", pruned, "cached media files")

	return db.Transaction(func(tx *gorm.DB) error {
		// follows whose follower or leader no longer resolves are noise
		res := tx.Exec(`
			DELETE FROM follows
			WHERE follower_id IS NOT NULL AND follower_id NOT IN (SELECT id FROM actors)
		`)
		if res.Error != nil {
			return res.Error
		}
		fmt.Println("deleted", res.RowsAffected, "follows with missing followers")

		res = tx.Exec(`
			DELETE FROM follows
			WHERE leader_id IS NOT NULL AND leader_id NOT IN (SELECT id FROM actors)
		`)
		if res.Error != nil {
			return res.Error
		}
		fmt.Println("deleted", res.RowsAffected, "follows with missing leaders")

		// tombstoned remote actors with no surviving activities
		res = tx.Exec(`
			DELETE FROM actors
			WHERE type = 'Tombstone' AND local = FALSE
			AND id NOT IN (SELECT actor_id FROM activities WHERE actor_id IS NOT NULL)
		`)
		if res.Error != nil {
			return res.Error
		}
		fmt.Println("deleted", res.RowsAffected, "tombstoned actors")

		return nil
	})
}
