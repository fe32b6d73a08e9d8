// Package server assembles the HTTP router: validation, rate limits,
// sessions and the public and admin handlers.
package server

import (
	"fmt"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/tomochart/guestlist/internal/admin"
	"github.com/tomochart/guestlist/internal/api"
	"github.com/tomochart/guestlist/internal/auth"
	"github.com/tomochart/guestlist/internal/middleware"
	"github.com/tomochart/guestlist/internal/store"
)

type Options struct {
	PageSize            int
	SecureCookie        bool
	RateLimitRPS        float64
	RateLimitBurst      int
	LoginRateLimitRPS   float64
	LoginRateLimitBurst int
}

func NewRouter(s *store.RemoteStore, a *auth.Authenticator, opts Options) (*gin.Engine, error) {
	swagger, err := api.GetSwagger()
	if err != nil {
		return nil, err
	}

	validator, err := middleware.NewOpenAPIValidator(swagger, a)
	if err != nil {
		return nil, fmt.Errorf("creating openapi validator: %w", err)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	r.Use(middleware.NewRateLimiter("api", rate.Limit(opts.RateLimitRPS), opts.RateLimitBurst))
	r.Use(validator)

	handler := api.NewHandler(s, a, api.HandlerOptions{PageSize: opts.PageSize, SecureCookie: opts.SecureCookie})
	api.RegisterHandlers(r, handler, api.Options{
		Session: middleware.RequireSession(a, auth.RoleKiosk),
		Login: []gin.HandlerFunc{
			middleware.NewRateLimiter("login", rate.Limit(opts.LoginRateLimitRPS), opts.LoginRateLimitBurst),
		},
	})

	admin.RegisterHandlers(r, admin.NewHandler(s), middleware.RequireSession(a, auth.RoleAdmin))
	return r, nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.WithFields(log.Fields{
			"method": c.Request.Method,
			"path":   c.FullPath(),
			"status": c.Writer.Status(),
		}).Debug("request served")
	}
}
