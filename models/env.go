package models

import (
	"github.com/seren-social/seren/internal/streaming"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

// Env carries the process-wide collaborators. It is constructed once at
// startup and passed explicitly into every component that needs it.
type Env struct {
	// DB is the database connection.
	DB *gorm.DB
	// Logger is the structured logger.
	Logger *slog.Logger
	// Mux is the server-wide event channel. Committed changes are
	// published here for out-of-band consumers.
	Mux *streaming.Mux
	// Blocklist holds the blocked federation domains.
	Blocklist *Blocklist
	// Domain is the domain name of this instance.
	Domain string
}

func (e *Env) Log() *slog.Logger {
	return e.Logger
}
