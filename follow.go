package main

import (
	"context"
	"os"

	"github.com/seren-social/seren/activitypub"
	"github.com/seren-social/seren/internal/streaming"
	"github.com/seren-social/seren/internal/webfinger"
	"github.com/seren-social/seren/models"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

type FollowCmd struct {
	Acct   string `required:"" help:"acct of the remote actor to follow, e.g. user@remote.example"`
	Actor  string `required:"" help:"name of the local actor to follow with"`
	Domain string `required:"" help:"domain name of this instance"`
}

func (f *FollowCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	if err := configureDB(db); err != nil {
		return err
	}

	actor, err := models.NewActors(db).Find(f.Actor, f.Domain)
	if err != nil {
		return err
	}
	account, err := models.NewAccounts(db).AccountForActor(actor)
	if err != nil {
		return err
	}

	acct, err := webfinger.Parse(f.Acct)
	if err != nil {
		return err
	}
	wf, err := acct.Fetch(context.Background())
	if err != nil {
		return err
	}
	object, err := wf.ActivityPub()
	if err != nil {
		return err
	}

	blocklist, err := models.NewBlocklist(db)
	if err != nil {
		return err
	}
	env := &activitypub.Env{
		Env: &models.Env{
			DB:        db,
			Logger:    slog.New(slog.NewTextHandler(os.Stderr)),
			Mux:       &streaming.Mux{},
			Blocklist: blocklist,
			Domain:    f.Domain,
		},
	}
	_, err = activitypub.NewOutbox(env).Submit(context.Background(), account, map[string]any{
		"@context": "https://www.w3.org/ns/activitystreams",
		"type":     "Follow",
		"object":   object,
		"to":       []any{object},
	})
	return err
}
