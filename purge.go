package main

import (
	"fmt"
	"strings"

	"github.com/seren-social/seren/models"
	"gorm.io/gorm"
)

type PurgeCmd struct {
	Actor     string `help:"protocol id of the actor to purge" xor:"target" required:""`
	Domain    string `help:"domain to purge" xor:"target"`
	MediaRoot string `help:"directory for cached media" default:"/var/cache/seren/media"`
}

func (c *PurgeCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	if err := configureDB(db); err != nil {
		return err
	}

	activities := models.NewActivities(db)
	caches := models.NewCaches(db)

	switch {
	case c.Domain != "":
		purged, err := activities.PurgeByDomain(c.Domain)
		if err != nil {
			return err
		}
		fmt.Println("purged", purged, "activities from", c.Domain)
		pruned, err := caches.PruneByDomain(c.MediaRoot, c.Domain, nil)
		if err != nil {
			return err
		}
		fmt.Println("pruned", pruned, "cached media files from", c.Domain)
		return nil
	case strings.HasPrefix(c.Actor, "https://"):
		purged, err := activities.PurgeByActor(c.Actor)
		if err != nil {
			return err
		}
		fmt.Println("purged", purged, "activities by", c.Actor)
		return nil
	default:
		return fmt.Errorf("actor must be a protocol id, got %q", c.Actor)
	}
}
