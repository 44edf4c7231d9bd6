package main

import (
	"fmt"

	"github.com/seren-social/seren/internal/snowflake"
	"github.com/seren-social/seren/models"
	"gorm.io/gorm"
)

type BlockCmd struct {
	Domain string `arg:"" help:"domain to block"`
}

func (c *BlockCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	if err := configureDB(db); err != nil {
		return err
	}

	instances := models.NewInstances(db)
	if _, err := instances.FindByDomain(c.Domain); err != nil {
		if err := db.Create(&models.Instance{
			ID:     snowflake.Now(),
			Domain: c.Domain,
		}).Error; err != nil {
			return err
		}
	}
	if err := instances.Block(c.Domain); err != nil {
		return err
	}
	fmt.Println("blocked", c.Domain)
	return nil
}
