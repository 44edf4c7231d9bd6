package main

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/seren-social/seren/activitypub"
	"github.com/seren-social/seren/internal/httpx"
	"github.com/seren-social/seren/internal/streaming"
	"github.com/seren-social/seren/media"
	"github.com/seren-social/seren/models"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

type ServeCmd struct {
	Addr      string `help:"address to listen" default:"127.0.0.1:9999"`
	Domain    string `required:"" help:"domain name of this instance"`
	MediaRoot string `help:"directory for cached media" default:"/var/cache/seren/media"`
}

func (s *ServeCmd) Run(ctx *Context) error {
	db, err := gorm.Open(ctx.Dialector, &ctx.Config)
	if err != nil {
		return err
	}
	if err := configureDB(db); err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if ctx.Debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.HandlerOptions{Level: logLevel}.NewJSONHandler(os.Stderr))

	blocklist, err := models.NewBlocklist(db)
	if err != nil {
		return err
	}
	env := &activitypub.Env{
		Env: &models.Env{
			DB:        db,
			Logger:    logger,
			Mux:       &streaming.Mux{},
			Blocklist: blocklist,
			Domain:    s.Domain,
		},
		Media: media.NewDownloader(db, s.MediaRoot, nil, logger),
	}
	envFn := func(r *http.Request) *activitypub.Env { return env }
	modelsEnvFn := func(r *http.Request) *models.Env { return env.Env }

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/inbox", httpx.HandlerFunc(envFn, activitypub.InboxCreate))
	r.Route("/users/{name}", func(r chi.Router) {
		r.Get("/", httpx.HandlerFunc(envFn, activitypub.UsersShow))
		r.Post("/inbox", httpx.HandlerFunc(envFn, activitypub.InboxCreate))
		r.Get("/outbox", httpx.HandlerFunc(envFn, activitypub.OutboxIndex))
		r.Post("/outbox", httpx.HandlerFunc(envFn, activitypub.OutboxCreate))
		r.Get("/followers", httpx.HandlerFunc(envFn, activitypub.FollowersIndex))
		r.Get("/following", httpx.HandlerFunc(envFn, activitypub.FollowingIndex))
	})
	r.Get("/media/{uuid}", httpx.HandlerFunc(modelsEnvFn, func(env *models.Env, w http.ResponseWriter, r *http.Request) error {
		return media.Show(env, s.MediaRoot, w, r)
	}))
	r.Get("/.well-known/webfinger", httpx.HandlerFunc(envFn, activitypub.WebfingerShow))

	logger.Info("listening", "addr", s.Addr, "domain", s.Domain)
	return http.ListenAndServe(s.Addr, r)
}
