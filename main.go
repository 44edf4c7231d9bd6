package main

import (
	"github.com/alecthomas/kong"
	"gorm.io/gorm"
)

type Context struct {
	Debug bool

	gorm.Config
	Dialector gorm.Dialector
}

var cli struct {
	Debug bool   `help:"Enable debug mode."`
	DSN   string `required:"" help:"data source name"`

	Serve         ServeCmd         `cmd:"" help:"Serve the federation endpoints."`
	AutoMigrate   AutoMigrateCmd   `cmd:"" help:"Create or update the database schema."`
	CreateAccount CreateAccountCmd `cmd:"" help:"Create a local account."`
	Follow        FollowCmd        `cmd:"" help:"Follow a remote actor."`
	Block         BlockCmd         `cmd:"" help:"Block a remote domain."`
	Purge         PurgeCmd         `cmd:"" help:"Purge activities and media by actor or domain."`
	Housekeeping  HousekeepingCmd  `cmd:"" help:"Prune aged cache items and orphaned rows."`
}

func main() {
	ctx := kong.Parse(&cli)
	err := ctx.Run(&Context{
		Debug:     cli.Debug,
		Dialector: newDialector(cli.DSN),
	})
	ctx.FatalIfErrorf(err)
}
