package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/vodstream/vod-backend/api/responses"
	"github.com/vodstream/vod-backend/pkg/config"
	pkgerrors "github.com/vodstream/vod-backend/pkg/errors"
	"github.com/vodstream/vod-backend/pkg/logger"
)

const readinessTimeout = 2 * time.Second

// Pinger is satisfied by the db and redis clients.
type Pinger interface {
	Ping(context.Context) error
}

func HealthLive(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-VOD-Env", cfg.App.Env)
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	}
}

// HealthReady reports ready only when every named dependency answers a ping.
func HealthReady(cfg *config.Config, deps map[string]Pinger, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-VOD-Env", cfg.App.Env)

		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		checks := make(map[string]string, len(deps))
		var failed error
		for name, dep := range deps {
			if dep == nil {
				checks[name] = "missing"
				failed = pkgerrors.New(pkgerrors.CodeDependency, name+" not configured")
				continue
			}
			if err := dep.Ping(ctx); err != nil {
				checks[name] = "down"
				failed = pkgerrors.Wrap(pkgerrors.CodeDependency, err, name+" unavailable")
				continue
			}
			checks[name] = "up"
		}
		if failed != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.As(failed).WithDetails(checks))
			return
		}
		responses.WriteSuccess(w, map[string]any{"status": "ready", "checks": checks})
	}
}
