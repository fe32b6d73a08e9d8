package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/tomochart/guestlist/internal/alias"
	"github.com/tomochart/guestlist/internal/auth"
	"github.com/tomochart/guestlist/internal/config"
	"github.com/tomochart/guestlist/internal/remote"
	"github.com/tomochart/guestlist/internal/seed"
	"github.com/tomochart/guestlist/internal/server"
	"github.com/tomochart/guestlist/internal/store"
)

func main() {
	log.SetFormatter(&log.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if err := cfg.ValidateServer(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.WithError(err).Fatal("invalid log level")
	}
	log.SetLevel(level)

	gin.SetMode(cfg.GinMode)

	aliases, err := alias.LoadFile(cfg.FieldAliasesFile)
	if err != nil {
		log.WithError(err).Fatal("failed to load field aliases")
	}
	if err := aliases.Validate(); err != nil {
		log.WithError(err).Fatal("invalid field aliases")
	}

	gateway := remote.NewClient(remote.Config{
		BaseURL:           cfg.RemoteBaseURL,
		BaseID:            cfg.RemoteBaseID,
		Table:             cfg.RemoteTable,
		APIKey:            cfg.RemoteAPIKey,
		Timeout:           cfg.RemoteTimeout,
		RequestsPerSecond: cfg.RemoteRPS,
	})
	guests := store.NewRemoteStore(gateway, aliases)
	guests.SetSummaryTTL(cfg.SummaryCacheTTL)

	seedCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	err = seed.LoadFromFile(seedCtx, cfg.SeedFile, guests)
	cancel()
	if err != nil {
		log.WithError(err).Fatal("failed to seed data")
	}

	authenticator, err := auth.New(auth.Config{
		AdminPIN: cfg.AdminPIN,
		KioskPIN: cfg.KioskPIN,
		Secret:   cfg.SessionSecret,
		TTL:      cfg.SessionTTL,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to create authenticator")
	}

	r, err := server.NewRouter(guests, authenticator, server.Options{
		PageSize:            cfg.PageSize,
		SecureCookie:        cfg.SecureCookie,
		RateLimitRPS:        cfg.RateLimitRPS,
		RateLimitBurst:      cfg.RateLimitBurst,
		LoginRateLimitRPS:   cfg.LoginRateLimitRPS,
		LoginRateLimitBurst: cfg.LoginRateLimitBurst,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to build router")
	}

	srv := &http.Server{
		Handler:           r,
		Addr:              net.JoinHostPort("0.0.0.0", cfg.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.WithField("signal", fmt.Sprintf("%v", sig)).Info("shutting down server")

	ctx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server shutdown error")
	}
}
